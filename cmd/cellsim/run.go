package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cellsim/cellsim/pkg/drivecycle"
)

func NewRunCommand() *cobra.Command {
	f := &simFlags{}
	var cyclePath string
	var scale float64

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a drive cycle against a cell model",
		GroupID: gSimulation,
		Long: `Run a drive cycle against a cell model.

The cycle is a CSV file with two columns: time [s] and current [A].
Positive current discharges the cell. The run stops at the end of the
cycle or when the cell voltage leaves its operating window.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cyclePath == "" {
				return errors.New("--cycle is required")
			}

			cycle, err := drivecycle.Load(cyclePath)
			if err != nil {
				return err
			}
			if scale != 1 {
				cycle = cycle.Scale(scale)
			}

			sim, err := buildSimulation(f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sol, err := sim.RunDriveCycle(ctx, cycle)
			if err != nil {
				return err
			}

			return finishRun(sol, f)
		},
	}

	addSimFlags(cmd, f)
	cmd.Flags().StringVarP(&cyclePath, "cycle", "c", "", "drive cycle CSV file")
	cmd.Flags().Float64Var(&scale, "scale", 1, "scale factor applied to the cycle currents")

	return cmd
}
