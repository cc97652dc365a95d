package main

import (
	"github.com/iti/qnsolve"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "solve",
		Short: "Solves the model once and prints its performance measures",
		Long: `The solve command loads the model named by --file, solves it with the
algorithm the model names (or --algorithm), and prints per-station and per-class
throughput, queue length, residence time and utilization.  With --output the model,
result included, is written back to file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := a.loadModel()
			if err != nil {
				return err
			}
			if err := qnsolve.Solve(md, a.options()...); err != nil {
				return err
			}
			a.log.Debug("model solved", zap.String("model", md.Name), zap.Int("iterations", md.Result.Iterations))
			printResult(cmd.OutOrStdout(), md, md.Result)
			if a.cfg.Output != "" {
				return md.WriteToFile(a.cfg.Output)
			}
			return nil
		},
	}
}
