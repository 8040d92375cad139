package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cellsim/cellsim/pkg/client"
	"github.com/cellsim/cellsim/pkg/drivecycle"
	"github.com/cellsim/cellsim/pkg/events"
	"github.com/cellsim/cellsim/pkg/types"
)

var apiClient *client.Client

func api() *client.Client {
	if apiClient == nil {
		apiClient = client.NewClient(serverAddr)
	}
	return apiClient
}

func coloredState(state string) string {
	switch state {
	case types.StateSucceeded:
		return color.GreenString(state)
	case types.StateFailed:
		return color.RedString(state)
	case types.StateRunning:
		return color.CyanString(state)
	case types.StateCanceled:
		return color.YellowString(state)
	default:
		return state
	}
}

func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Short:   "Manage simulation jobs on a cellsim server",
		GroupID: gServer,
	}

	cmd.AddCommand(
		newJobsListCommand(),
		newJobsGetCommand(),
		newJobsSubmitCommand(),
		newJobsDeleteCommand(),
		newJobsWatchCommand(),
	)

	return cmd
}

func newJobsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := api().ListJobs()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				cmd.Println("no jobs")
				return nil
			}
			for _, j := range jobs {
				cmd.Printf("%s  %-10s  submitted %s\n",
					j.ID, coloredState(j.State), j.SubmittedAt.Format("15:04:05"))
			}
			return nil
		},
	}
}

func newJobsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := api().GetJob(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("id:        %s\n", j.ID)
			cmd.Printf("state:     %s\n", coloredState(j.State))
			if j.Error != "" {
				cmd.Printf("error:     %s\n", j.Error)
			}
			cmd.Printf("submitted: %s\n", j.SubmittedAt)
			if !j.StartedAt.IsZero() {
				cmd.Printf("started:   %s\n", j.StartedAt)
			}
			if !j.FinishedAt.IsZero() {
				cmd.Printf("finished:  %s\n", j.FinishedAt)
			}
			return nil
		},
	}
}

func newJobsSubmitCommand() *cobra.Command {
	f := &simFlags{}
	var cyclePath string
	var steps []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to the server",
		Long: `Submit a job to the server.

Give either --cycle with a drive cycle CSV or one or more --step
arguments with experiment steps. With --wait, block until the job
finishes and fetch its solution.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (cyclePath == "") == (len(steps) == 0) {
				return errors.New("give exactly one of --cycle and --step")
			}

			spec := types.JobSpec{
				Model:        f.model,
				ParameterSet: f.params,
				InitialSOC:   &f.soc,
				Experiment:   steps,
			}
			if cyclePath != "" {
				cycle, err := drivecycle.Load(cyclePath)
				if err != nil {
					return err
				}
				spec.DriveCycle = cycle
			}

			j, err := api().SubmitJob(spec)
			if err != nil {
				return err
			}
			cmd.Printf("submitted %s\n", j.ID)

			if !wait && f.output == "" {
				return nil
			}
			return waitAndFetch(cmd, j.ID, f.output)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.model, "model", "m", "spm", "cell model (spm, thevenin)")
	flags.StringVarP(&f.params, "params", "p", "", "parameter set name (server-side default if empty)")
	flags.Float64Var(&f.soc, "soc", 1.0, "initial state of charge")
	flags.StringVarP(&cyclePath, "cycle", "c", "", "drive cycle CSV file")
	flags.StringArrayVar(&steps, "step", nil, "experiment step (repeatable)")
	flags.BoolVar(&wait, "wait", false, "wait for the job to finish")
	flags.StringVarP(&f.output, "output", "o", "", "write the finished solution to this file (implies --wait)")

	return cmd
}

func waitAndFetch(cmd *cobra.Command, id, output string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j, err := watchJob(ctx, id)
	if err != nil {
		return err
	}
	cmd.Printf("job %s %s\n", id, coloredState(j.State))
	if j.State != types.StateSucceeded {
		return fmt.Errorf("job finished in state %s: %s", j.State, j.Error)
	}

	if output != "" {
		sol, err := api().GetJobSolution(id)
		if err != nil {
			return err
		}
		if err := sol.SaveFile(output); err != nil {
			return err
		}
		logrus.Infof("solution written to %s", output)
	}
	return nil
}

// watchJob follows the event stream until the job reaches a terminal
// state, then returns the final job.
func watchJob(ctx context.Context, id string) (*types.Job, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	evCh := api().SubscribeEvents(ctx)

	// The job may already be done by the time we subscribe.
	j, err := api().GetJob(id)
	if err != nil {
		return nil, err
	}
	if types.TerminalState(j.State) {
		return j, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-evCh:
			if !ok {
				// Stream dropped; fall back to a final poll.
				return api().GetJob(id)
			}
			if ev.Name != events.JobPhase {
				continue
			}
			payload, err := events.DecodeAs[events.JobPhaseEvent](ev)
			if err != nil {
				logrus.WithError(err).Error("failed to decode job.phase event")
				continue
			}
			if payload.JobID == id && types.TerminalState(payload.To) {
				return api().GetJob(id)
			}
		}
	}
}

func newJobsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Cancel a live job or remove a finished one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := api().DeleteJob(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s %s\n", args[0], action)
			return nil
		},
	}
}

func newJobsWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream job lifecycle events from the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			evCh := api().SubscribeEvents(ctx)
			for ev := range evCh {
				switch ev.Name {
				case events.JobPhase:
					p, err := events.DecodeAs[events.JobPhaseEvent](ev)
					if err != nil {
						logrus.WithError(err).Error("failed to decode job.phase event")
						continue
					}
					cmd.Printf("%s  %s -> %s  %s\n", p.JobID, p.From, coloredState(p.To), p.Message)
				case events.JobProgress:
					p, err := events.DecodeAs[events.JobProgressEvent](ev)
					if err != nil {
						continue
					}
					cmd.Printf("%s  step %d (%s) t=%.0fs\n", p.JobID, p.Step, p.StepText, p.Time)
				}
			}
			return nil
		},
	}
}
