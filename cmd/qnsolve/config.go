package main

import (
	"strings"

	"github.com/iti/qnsolve"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cliConfig gathers the settings shared by every subcommand.  Values come from flags,
// then QNSOLVE_ environment variables, then the config file, then defaults.
type cliConfig struct {
	Model     string               `mapstructure:"model"`
	Algorithm string               `mapstructure:"algorithm"`
	Trace     string               `mapstructure:"trace"`
	Output    string               `mapstructure:"output"`
	Metrics   bool                 `mapstructure:"metrics"`
	NoColor   bool                 `mapstructure:"no-color"`
	Log       qnsolve.LoggerConfig `mapstructure:"log"`
}

// flagKeys maps persistent flag names onto configuration keys
var flagKeys = map[string]string{
	"file":       "model",
	"algorithm":  "algorithm",
	"trace":      "trace",
	"output":     "output",
	"metrics":    "metrics",
	"no-color":   "no-color",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-dev":    "log.development",
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "configuration file (yaml, json or toml)")
	flags.StringP("file", "f", "", "model description file (.yaml, .yml or .json)")
	flags.StringP("algorithm", "a", "", "override the algorithm named in the model")
	flags.String("trace", "", "write a trace of completed solves to this file")
	flags.StringP("output", "o", "", "write results to this file")
	flags.Bool("metrics", false, "print solver metrics after the run")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log encoding: json or console")
	flags.Bool("log-dev", false, "use the development logger configuration")
}

// loadConfig layers the configuration sources named on cliConfig
func loadConfig(v *viper.Viper, flags *pflag.FlagSet) (*cliConfig, error) {
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetEnvPrefix("QNSOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if fl := flags.Lookup(name); fl != nil {
			if err := v.BindPFlag(key, fl); err != nil {
				return nil, err
			}
		}
	}

	if cfgFile, _ := flags.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &cliConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
