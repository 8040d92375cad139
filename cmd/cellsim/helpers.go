package main

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cellsim/cellsim/pkg/battery"
	"github.com/cellsim/cellsim/pkg/config"
	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/plot"
	"github.com/cellsim/cellsim/pkg/simulation"
	"github.com/cellsim/cellsim/pkg/solution"
	"github.com/cellsim/cellsim/pkg/solver"
)

// simFlags are shared by run, experiment and sweep.
type simFlags struct {
	model    string
	params   string
	soc      float64
	from     string
	output   string
	plotOut  string
	plotVars []string
}

func addSimFlags(cmd *cobra.Command, f *simFlags) {
	flags := cmd.Flags()
	flags.StringVarP(&f.model, "model", "m", "spm", "cell model (spm, thevenin)")
	flags.StringVarP(&f.params, "params", "p", "", "parameter set name or JSON file (default from config)")
	flags.Float64Var(&f.soc, "soc", 1.0, "initial state of charge")
	flags.StringVar(&f.from, "from", "", "solution file to re-initialize the cell from")
	flags.StringVarP(&f.output, "output", "o", "", "write the solution to this JSON file")
	flags.StringVar(&f.plotOut, "plot", "", "write a plot of the run to this PNG/SVG file")
	flags.StringSliceVarP(&f.plotVars, "variables", "v", []string{plot.VarVoltage}, "variables to plot (voltage, current, soc, temperature)")
}

// loadParameters resolves the --params flag: a path to a JSON file wins,
// then a builtin set name, then the configured default.
func loadParameters(name string, conf config.Config) (*parameters.Parameters, error) {
	if name == "" {
		name = conf.DefaultParameterSet()
	}
	if strings.HasSuffix(name, ".json") {
		return parameters.LoadFile(name)
	}
	return parameters.Get(name)
}

func solverOptionsFromConfig(conf config.Config) solver.Options {
	o := solver.DefaultOptions()
	o.RTol = conf.SolverRTol()
	o.ATol = conf.SolverATol()
	o.MaxStep = conf.SolverMaxStep()
	return o
}

// buildSimulation assembles a simulation from the shared flags, applying
// --from after construction so it can cross models.
func buildSimulation(f *simFlags) (*simulation.Simulation, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, err
	}

	model, err := battery.New(f.model)
	if err != nil {
		return nil, err
	}
	params, err := loadParameters(f.params, conf)
	if err != nil {
		return nil, err
	}

	sim, err := simulation.New(model, params,
		simulation.WithSolverOptions(solverOptionsFromConfig(conf)),
		simulation.WithInitialSOC(f.soc),
	)
	if err != nil {
		return nil, err
	}

	if f.from != "" {
		prior, err := solution.LoadFile(f.from)
		if err != nil {
			return nil, err
		}
		if err := sim.StartFrom(prior); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"from": f.from,
			"soc":  prior.Last().SOC,
		}).Info("re-initialized from prior solution")
	}

	return sim, nil
}

// finishRun writes the solution and plot the shared flags ask for.
func finishRun(sol *solution.Solution, f *simFlags) error {
	logrus.WithFields(logrus.Fields{
		"samples":     sol.Len(),
		"termination": sol.Termination,
		"finalV":      sol.Last().Voltage,
		"finalSOC":    sol.Last().SOC,
	}).Info("run finished")

	if f.output != "" {
		if err := sol.SaveFile(f.output); err != nil {
			return err
		}
		logrus.Infof("solution written to %s", f.output)
	}
	if f.plotOut != "" {
		if err := plot.Traces(sol, f.plotVars, f.plotOut); err != nil {
			return err
		}
		logrus.Infof("plot written to %s", f.plotOut)
	}
	return nil
}
