package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cellsim/cellsim/pkg/experiment"
	"github.com/cellsim/cellsim/pkg/simulation"
)

func NewExperimentCommand() *cobra.Command {
	f := &simFlags{}

	cmd := &cobra.Command{
		Use:     "experiment \"step\" [\"step\" ...]",
		Short:   "Run a cycling experiment described in plain text",
		GroupID: gSimulation,
		Long: `Run a cycling experiment described in plain text.

Each argument is one step, for example:

  cellsim experiment \
    "Discharge at 1C until 3.0 V" \
    "Rest for 10 minutes" \
    "Charge at 0.5C until 4.1 V" \
    "Hold at 4.1 V until C/50"

Steps run in order; the solution carries one annotation per step.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := experiment.Parse(args)
			if err != nil {
				return err
			}

			sim, err := buildSimulation(f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sol, err := sim.RunExperiment(ctx, exp)
			if err != nil {
				// A safety cutoff mid-protocol still yields a usable partial
				// solution; report it and keep the output.
				if sol != nil && errors.Is(err, simulation.ErrVoltageLimit) {
					if ferr := finishRun(sol, f); ferr != nil {
						return ferr
					}
				}
				return err
			}

			return finishRun(sol, f)
		},
	}

	addSimFlags(cmd, f)

	return cmd
}
