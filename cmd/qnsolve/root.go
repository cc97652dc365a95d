package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/iti/qnsolve"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries what the subcommands share once the configuration is loaded
type app struct {
	cfg     *cliConfig
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *qnsolve.Metrics
	trace   *qnsolve.TraceManager
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "qnsolve",
		Short: "qnsolve solves analytical queueing network models",
		Long: `qnsolve computes mean performance measures of product-form queueing networks
with open, closed and mixed customer classes, and re-solves a model over a sweep
of arrival rates, populations, demands or population mixes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd)
		},
	}
	addConfigFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(newSolveCmd(a), newWhatIfCmd(a), newPathCmd(a), newAlgorithmsCmd())
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(viper.New(), cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	color.NoColor = color.NoColor || cfg.NoColor

	a.log, err = qnsolve.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	qnsolve.SetLogger(a.log)

	if cfg.Metrics {
		a.reg = prometheus.NewRegistry()
		if a.metrics, err = qnsolve.NewMetrics(a.reg); err != nil {
			return err
		}
	}
	if cfg.Trace != "" {
		a.trace = qnsolve.CreateTraceManager(cfg.Model, true)
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command) error {
	if a.reg != nil {
		if err := printMetrics(cmd.OutOrStdout(), a.reg); err != nil {
			return err
		}
	}
	if a.trace != nil {
		if err := a.trace.WriteToFile(a.cfg.Trace); err != nil {
			return err
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return nil
}

// options turns the shared configuration into solve options
func (a *app) options() []qnsolve.SolveOption {
	opts := []qnsolve.SolveOption{}
	if a.metrics != nil {
		opts = append(opts, qnsolve.WithMetrics(a.metrics))
	}
	if a.trace != nil {
		opts = append(opts, qnsolve.WithTrace(a.trace))
	}
	return opts
}

// loadModel reads the model named by --file, applying --algorithm when given
func (a *app) loadModel() (*qnsolve.ModelDesc, error) {
	if a.cfg.Model == "" {
		return nil, fmt.Errorf("a model file must be given with -f or --file")
	}
	md, err := qnsolve.LoadModelDesc(a.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", a.cfg.Model, err)
	}
	if a.cfg.Algorithm != "" {
		md.Algorithm = a.cfg.Algorithm
	}
	return md, nil
}

func newAlgorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "Lists the solution algorithms and the model features each supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printAlgorithms(cmd.OutOrStdout())
			return nil
		},
	}
}
