package main

import (
	"github.com/spf13/cobra"

	"github.com/cellsim/cellsim/pkg/plot"
	"github.com/cellsim/cellsim/pkg/solution"
	"github.com/cellsim/cellsim/pkg/version"
)

func NewPlotCommand() *cobra.Command {
	var output string
	var vars []string
	var compareVar string

	cmd := &cobra.Command{
		Use:     "plot solution.json [more.json ...]",
		Short:   "Plot saved solutions",
		GroupID: gSimulation,
		Long: `Plot saved solutions.

With one solution file, writes one trace per selected variable. With
several files, overlays them on a single plot of --compare for
side-by-side runs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				sol, err := solution.LoadFile(args[0])
				if err != nil {
					return err
				}
				return plot.Traces(sol, vars, output)
			}

			sols := make([]*solution.Solution, 0, len(args))
			for _, path := range args {
				sol, err := solution.LoadFile(path)
				if err != nil {
					return err
				}
				sols = append(sols, sol)
			}
			return plot.Compare(sols, compareVar, output)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "plot.png", "output image file (PNG or SVG)")
	flags.StringSliceVarP(&vars, "variables", "v", []string{plot.VarVoltage}, "variables to plot")
	flags.StringVar(&compareVar, "compare", plot.VarVoltage, "variable to overlay when plotting several solutions")

	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}
