package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/iti/qnsolve"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("qnsolve", pflag.ContinueOnError)
	addConfigFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), testFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Empty(t, cfg.Model)
	assert.False(t, cfg.Metrics)
}

func TestLoadConfigLayers(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "qnsolve.yaml")
	doc := `
model: from-file.yaml
algorithm: RECAL
metrics: true
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(doc), 0o644))
	t.Setenv("QNSOLVE_LOG_LEVEL", "error")
	t.Setenv("QNSOLVE_ALGORITHM", "CONVOLUTION")

	cfg, err := loadConfig(viper.New(), testFlags(t, "--config", cfgFile, "-a", "TREE_MVA"))
	require.NoError(t, err)
	// flags win over the environment, which wins over the file
	assert.Equal(t, "TREE_MVA", cfg.Algorithm)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "from-file.yaml", cfg.Model)
	assert.True(t, cfg.Metrics)

	_, err = loadConfig(viper.New(), testFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func writeRepairman(t *testing.T) string {
	t.Helper()
	mf := qnsolve.CreateModelFrame("repairman")
	mf.AddStation("server", qnsolve.QueueStation, 1)
	mf.AddStation("think", qnsolve.DelayStation, 1)
	mf.AddClosedClass("users", 3)
	require.NoError(t, mf.SetService("server", "users", 0.5, 1))
	require.NoError(t, mf.SetService("think", "users", 2, 1))
	md := mf.Transform()
	md.Algorithm = "MVA"
	filename := filepath.Join(t.TempDir(), "repairman.yaml")
	require.NoError(t, md.WriteToFile(filename))
	return filename
}

func TestSolveCommand(t *testing.T) {
	model := writeRepairman(t)
	output := filepath.Join(t.TempDir(), "solved.json")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"solve", "-f", model, "-o", output, "--no-color", "--metrics"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "server")
	assert.Contains(t, out.String(), "qnsolve_solves_total")

	md, err := qnsolve.LoadModelDesc(output)
	require.NoError(t, err)
	require.NotNil(t, md.Result)
	assert.Equal(t, "MVA", md.Result.Algorithm)
	assert.InDelta(t, 3.0, md.Result.QueueLength[0][0]+md.Result.QueueLength[1][0], 1e-9)
}

func TestWhatIfCommand(t *testing.T) {
	model := writeRepairman(t)
	output := filepath.Join(t.TempDir(), "sweep.yaml")
	trace := filepath.Join(t.TempDir(), "trace.yaml")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"whatif", "-f", model, "-o", output, "--trace", trace, "--no-color",
		"-d", "customers", "--class", "users", "--values", "1,2,4"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "COMPLETED")

	tm, err := qnsolve.ReadTraceManager(trace, true, nil)
	require.NoError(t, err)
	assert.Len(t, tm.Traces, 3)

	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"solve", "--no-color"})
	assert.Error(t, root.Execute())
}

func TestPathCommand(t *testing.T) {
	mf := qnsolve.CreateModelFrame("routed")
	cd := mf.AddClosedClass("jobs", 2)
	for _, name := range []string{"cpu", "disk1", "disk2"} {
		mf.AddStation(name, qnsolve.QueueStation, 1)
		require.NoError(t, mf.SetService(name, "jobs", 0.1, 1))
	}
	cd.RefStation = "cpu"
	cd.Routing = [][]float64{
		{0, 0.7, 0.3},
		{1, 0, 0},
		{1, 0, 0},
	}
	md := mf.Transform()
	md.Algorithm = "MVA"
	model := filepath.Join(t.TempDir(), "routed.json")
	require.NoError(t, md.WriteToFile(model))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"path", "-f", model, "--no-color", "--class", "jobs", "--from", "disk2", "--to", "disk1"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "disk2,cpu,disk1 probability 0.7")

	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"path", "-f", model, "--no-color", "--class", "jobs", "--from", "cpu", "--to", "tape"})
	assert.Error(t, root.Execute())
}
