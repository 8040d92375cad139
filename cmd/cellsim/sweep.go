package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/cellsim/cellsim/pkg/battery"
	"github.com/cellsim/cellsim/pkg/config"
	"github.com/cellsim/cellsim/pkg/drivecycle"
	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/simulation"
	"github.com/cellsim/cellsim/pkg/solution"
)

type sweepResult struct {
	value float64
	sol   *solution.Solution
	err   error
}

// applySweepParam sets one named scalar on a copy of the parameter set.
func applySweepParam(p *parameters.Parameters, name string, v float64) error {
	switch name {
	case "capacity":
		p.CapacityAh = v
	case "r0":
		p.R0 = v
	case "series-resistance":
		p.SeriesResistance = v
	case "ambient-temp":
		p.AmbientTemp = v
	case "heat-transfer":
		p.HeatTransfer = v
	default:
		return fmt.Errorf("unknown sweep parameter %q (capacity, r0, series-resistance, ambient-temp, heat-transfer)", name)
	}
	return p.Validate()
}

func NewSweepCommand() *cobra.Command {
	f := &simFlags{}
	var cyclePath, param, valuesArg string
	var workers int

	cmd := &cobra.Command{
		Use:     "sweep",
		Short:   "Run the same drive cycle across a range of parameter values",
		GroupID: gSimulation,
		Long: `Run the same drive cycle across a range of parameter values.

Runs execute in parallel on a worker pool. Each run's solution can be
written next to --output with the value appended to the file name.

Example:

  cellsim sweep --cycle us06.csv --param capacity --values 4.0,4.5,5.0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cyclePath == "" {
				return errors.New("--cycle is required")
			}
			if param == "" || valuesArg == "" {
				return errors.New("--param and --values are required")
			}

			var values []float64
			for _, s := range strings.Split(valuesArg, ",") {
				v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return fmt.Errorf("bad sweep value %q: %v", s, err)
				}
				values = append(values, v)
			}

			cycle, err := drivecycle.Load(cyclePath)
			if err != nil {
				return err
			}
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			base, err := loadParameters(f.params, conf)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if workers < 1 {
				workers = conf.PoolSize()
			}
			pool, err := ants.NewPool(workers)
			if err != nil {
				return err
			}
			defer pool.Release()

			results := make([]sweepResult, len(values))
			var wg sync.WaitGroup
			for i, v := range values {
				i, v := i, v
				wg.Add(1)
				err := pool.Submit(func() {
					defer wg.Done()
					results[i] = runSweepCase(ctx, f, conf, base, cycle, param, v)
				})
				if err != nil {
					wg.Done()
					results[i] = sweepResult{value: v, err: err}
				}
			}
			wg.Wait()

			return printSweepResults(cmd, param, results, f)
		},
	}

	addSimFlags(cmd, f)
	cmd.Flags().StringVarP(&cyclePath, "cycle", "c", "", "drive cycle CSV file")
	cmd.Flags().StringVar(&param, "param", "", "parameter to sweep (capacity, r0, series-resistance, ambient-temp, heat-transfer)")
	cmd.Flags().StringVar(&valuesArg, "values", "", "comma-separated values to sweep over")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel workers (default: pool size from config)")

	return cmd
}

func runSweepCase(ctx context.Context, f *simFlags, conf config.Config, base *parameters.Parameters, cycle *drivecycle.Cycle, param string, v float64) sweepResult {
	p := *base
	if err := applySweepParam(&p, param, v); err != nil {
		return sweepResult{value: v, err: err}
	}

	model, err := battery.New(f.model)
	if err != nil {
		return sweepResult{value: v, err: err}
	}
	sim, err := simulation.New(model, &p,
		simulation.WithSolverOptions(solverOptionsFromConfig(conf)),
		simulation.WithInitialSOC(f.soc),
	)
	if err != nil {
		return sweepResult{value: v, err: err}
	}

	sol, err := sim.RunDriveCycle(ctx, cycle)
	return sweepResult{value: v, sol: sol, err: err}
}

func printSweepResults(cmd *cobra.Command, param string, results []sweepResult, f *simFlags) error {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			cmd.Printf("%s=%g  %s %v\n", param, r.value, color.RedString("error:"), r.err)
			continue
		}
		last := r.sol.Last()
		status := color.GreenString(r.sol.Termination)
		if r.sol.Termination == simulation.TermVoltageLimit {
			status = color.YellowString(r.sol.Termination)
		}
		cmd.Printf("%s=%-8g %s  finalV=%.3f V  finalSOC=%.3f  peakT=%.1f K\n",
			param, r.value, status, last.Voltage, last.SOC, maxTemperature(r.sol))

		if f.output != "" {
			path := insertValueSuffix(f.output, r.value)
			if err := r.sol.SaveFile(path); err != nil {
				return err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sweep cases failed", failed, len(results))
	}
	return nil
}

func maxTemperature(sol *solution.Solution) float64 {
	max := 0.0
	for _, t := range sol.Temperature {
		if t > max {
			max = t
		}
	}
	return max
}

// insertValueSuffix turns out.json into out-4.5.json.
func insertValueSuffix(path string, v float64) string {
	dot := strings.LastIndex(path, ".")
	suffix := fmt.Sprintf("-%g", v)
	if dot < 0 {
		return path + suffix
	}
	return path[:dot] + suffix + path[dot:]
}
