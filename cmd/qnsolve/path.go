package main

import (
	"github.com/iti/qnsolve"
	"github.com/spf13/cobra"
)

func newPathCmd(a *app) *cobra.Command {
	var class, from, to string
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Prints the most likely route of a class between two stations",
		Long: `The path command reads the routing matrix of --class in the model named by --file
and prints the most probable sequence of stations leading from --from to --to,
with the probability of following it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := a.loadModel()
			if err != nil {
				return err
			}
			names, prob, err := qnsolve.MostLikelyPath(md, class, from, to)
			if err != nil {
				return err
			}
			printPath(cmd.OutOrStdout(), class, names, prob)
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "name of the routed class")
	cmd.Flags().StringVar(&from, "from", "", "station the route starts at")
	cmd.Flags().StringVar(&to, "to", "", "station the route ends at")
	for _, name := range []string{"class", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
