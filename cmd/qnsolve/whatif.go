package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/iti/qnsolve"
	"github.com/spf13/cobra"
)

func newWhatIfCmd(a *app) *cobra.Command {
	var (
		dimension string
		class     string
		station   string
		values    []float64
	)
	cmd := &cobra.Command{
		Use:   "whatif",
		Short: "Re-solves the model once per value of a swept parameter",
		Long: `The whatif command sweeps one model input over a list of values and solves the
model at each.  The dimension is one of ARRIVAL, CUSTOMERS, DEMANDS or MIX.  With
--class or --station the values are absolute for that target; without them they
multiply every applicable base value.  DEMANDS values are absolute demands at the
--station, for every class it serves or for --class alone; without --station they
multiply the demands of every station, of --class alone when given.  For MIX the values are the fraction of the
closed population given to --class.  An interrupt stops the sweep between steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := a.loadModel()
			if err != nil {
				return err
			}
			dim, err := qnsolve.ParseDimension(dimension)
			if err != nil {
				return err
			}
			spec := qnsolve.SweepSpec{Dimension: dim, Class: -1, Station: -1, Values: values}
			if class != "" {
				if spec.Class = md.ClassIndex(class); spec.Class < 0 {
					return fmt.Errorf("model %s has no class %s", md.Name, class)
				}
			}
			if station != "" {
				if spec.Station = md.StationIndex(station); spec.Station < 0 {
					return fmt.Errorf("model %s has no station %s", md.Name, station)
				}
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			opts := append(a.options(), qnsolve.WithIterationCallback(func(idx int, res *qnsolve.ResultDesc) {
				printStep(out, idx, values[idx], res)
			}))
			ctrl := qnsolve.NewController(md, opts...)
			sr, err := ctrl.Run(ctx, spec)
			if sr != nil {
				printSweepState(out, sr)
			}
			if err != nil {
				return err
			}
			if a.cfg.Output != "" {
				return sr.WriteToFile(a.cfg.Output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dimension, "dimension", "d", "ARRIVAL", "swept input: ARRIVAL, CUSTOMERS, DEMANDS or MIX")
	cmd.Flags().StringVar(&class, "class", "", "name of the class the sweep targets")
	cmd.Flags().StringVar(&station, "station", "", "name of the station a DEMANDS sweep targets")
	cmd.Flags().Float64SliceVar(&values, "values", nil, "comma-separated swept values")
	_ = cmd.MarkFlagRequired("values")
	return cmd
}
