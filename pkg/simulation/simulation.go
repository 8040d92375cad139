// Package simulation ties a cell model, a parameter set and the solver
// together, and runs drive cycles, experiments and constant-current
// protocols to produce solutions.
package simulation

import (
	"context"
	"errors"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/cellsim/cellsim/pkg/battery"
	"github.com/cellsim/cellsim/pkg/drivecycle"
	"github.com/cellsim/cellsim/pkg/experiment"
	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/solution"
	"github.com/cellsim/cellsim/pkg/solver"
)

var (
	// ErrVoltageLimit is returned when an experiment step trips the cell's
	// safety voltage limits instead of its own termination.
	ErrVoltageLimit = errors.New("cell voltage limit reached")

	// ErrStepStalled is returned when an experiment step reaches the
	// per-step time cap without any of its terminations firing.
	ErrStepStalled = errors.New("experiment step did not terminate")
)

// maxStepTime caps experiment steps that carry no duration of their own.
const maxStepTime = 48 * 3600.0

// Termination reasons recorded on solutions.
const (
	TermFinalTime     = "final time reached"
	TermCycleComplete = "drive cycle completed"
	TermVoltageCutoff = "voltage cutoff"
	TermCurrentCutoff = "current cutoff"
	TermVoltageLimit  = "voltage limit"
	TermHoldFailed    = "hold voltage unreachable"
)

// Simulation runs one model with one parameter set.
type Simulation struct {
	model    battery.Model
	params   *parameters.Parameters
	opts     solver.Options
	y0       []float64
	stepHook func(index int, step experiment.Step, t float64)
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithSolverOptions overrides the solver defaults.
func WithSolverOptions(o solver.Options) Option {
	return func(s *Simulation) { s.opts = o }
}

// WithInitialSOC sets the starting state of charge (default 1.0).
func WithInitialSOC(soc float64) Option {
	return func(s *Simulation) { s.y0 = s.model.Initial(s.params, soc) }
}

// WithStepHook registers a callback invoked as each experiment step
// begins.
func WithStepHook(fn func(index int, step experiment.Step, t float64)) Option {
	return func(s *Simulation) { s.stepHook = fn }
}

// New builds a simulation starting from a fully charged rest state.
func New(m battery.Model, p *parameters.Parameters, opts ...Option) (*Simulation, error) {
	if m == nil {
		return nil, pkgerrors.New("model is nil")
	}
	if p == nil {
		return nil, pkgerrors.New("parameters are nil")
	}
	if err := p.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid parameters")
	}
	s := &Simulation{
		model:  m,
		params: p,
		opts:   solver.DefaultOptions(),
	}
	s.y0 = m.Initial(p, 1.0)
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Model returns the model under simulation.
func (s *Simulation) Model() battery.Model { return s.model }

// Parameters returns the parameter set in use.
func (s *Simulation) Parameters() *parameters.Parameters { return s.params }

// StartFromSOC resets the initial condition to a rest state at the given
// state of charge.
func (s *Simulation) StartFromSOC(soc float64) error {
	if soc < 0 || soc > 1 {
		return pkgerrors.Errorf("state of charge must be in [0, 1], got %g", soc)
	}
	s.y0 = s.model.Initial(s.params, soc)
	return nil
}

// StartFrom re-initializes the simulation's initial state from a prior
// solution. A solution from the same model hands over its full final state;
// a solution from a different model is mapped through its final state of
// charge and temperature, assuming the cell has relaxed to rest.
func (s *Simulation) StartFrom(sol *solution.Solution) error {
	if sol == nil || sol.Len() == 0 {
		return pkgerrors.New("cannot re-initialize from an empty solution")
	}
	_, final := sol.Final()
	if sol.Model == s.model.Name() && len(final) == s.model.StateLen() {
		s.y0 = append([]float64(nil), final...)
		return nil
	}

	last := sol.Last()
	if last.SOC < -1e-9 || last.SOC > 1+1e-9 {
		return pkgerrors.Errorf("solution final state of charge %g is not physical", last.SOC)
	}
	s.y0 = s.model.Initial(s.params, clamp01(last.SOC))
	// Models keep the lumped temperature as their last state.
	s.y0[len(s.y0)-1] = last.Temperature
	return nil
}

// currentFunc computes the applied current from time and state. Positive
// current discharges the cell.
type currentFunc func(t float64, y []float64) float64

type system struct {
	m   battery.Model
	p   *parameters.Parameters
	cur currentFunc
}

func (sy *system) Len() int { return sy.m.StateLen() }

func (sy *system) Derivatives(t float64, y, dydt []float64) {
	sy.m.Derivatives(t, y, sy.cur(t, y), sy.p, dydt)
}

// RunDriveCycle integrates the model against a drive cycle. The run ends
// when the cycle does or when the cell hits a voltage limit, whichever
// comes first.
func (s *Simulation) RunDriveCycle(ctx context.Context, cycle *drivecycle.Cycle) (*solution.Solution, error) {
	interp, err := cycle.Interpolant()
	if err != nil {
		return nil, err
	}
	cur := func(t float64, _ []float64) float64 { return interp(t) }

	events := []solver.Event{
		s.voltageEvent(cur, s.params.VMin, false),
		s.voltageEvent(cur, s.params.VMax, true),
	}

	started := time.Now()
	t0 := cycle.Times[0]
	tEnd := cycle.Times[len(cycle.Times)-1]
	res, err := solver.Integrate(ctx, &system{m: s.model, p: s.params, cur: cur}, s.y0, t0, tEnd, events, s.opts)
	sol := s.buildSolution(res, cur)
	sol.SolveDuration = time.Since(started)
	if err != nil {
		return sol, pkgerrors.Wrap(err, "drive cycle solve failed")
	}
	if res.Event >= 0 {
		sol.Termination = TermVoltageLimit
	} else {
		sol.Termination = TermCycleComplete
	}
	return sol, nil
}

// RunConstantCurrent integrates at a fixed current until tMax or a voltage
// limit.
func (s *Simulation) RunConstantCurrent(ctx context.Context, current, tMax float64) (*solution.Solution, error) {
	cur := func(_ float64, _ []float64) float64 { return current }
	events := []solver.Event{
		s.voltageEvent(cur, s.params.VMin, false),
		s.voltageEvent(cur, s.params.VMax, true),
	}

	started := time.Now()
	res, err := solver.Integrate(ctx, &system{m: s.model, p: s.params, cur: cur}, s.y0, 0, tMax, events, s.opts)
	sol := s.buildSolution(res, cur)
	sol.SolveDuration = time.Since(started)
	if err != nil {
		return sol, pkgerrors.Wrap(err, "constant current solve failed")
	}
	if res.Event >= 0 {
		sol.Termination = TermVoltageLimit
	} else {
		sol.Termination = TermFinalTime
	}
	return sol, nil
}

// voltageEvent builds an event that fires when the terminal voltage crosses
// the limit: from above for a lower limit, from below for an upper one.
func (s *Simulation) voltageEvent(cur currentFunc, limit float64, upper bool) solver.Event {
	return func(t float64, y []float64) float64 {
		v := s.model.Outputs(y, cur(t, y), s.params).Voltage
		if upper {
			return limit - v
		}
		return v - limit
	}
}

func (s *Simulation) buildSolution(res *solver.Result, cur currentFunc) *solution.Solution {
	sol := &solution.Solution{
		Model:        s.model.Name(),
		ParameterSet: s.params.Name,
		Times:        res.Times,
		States:       res.States,
		Voltage:      make([]float64, len(res.Times)),
		Current:      make([]float64, len(res.Times)),
		SOC:          make([]float64, len(res.Times)),
		Temperature:  make([]float64, len(res.Times)),
	}
	for i, t := range res.Times {
		out := s.model.Outputs(res.States[i], cur(t, res.States[i]), s.params)
		sol.Voltage[i] = out.Voltage
		sol.Current[i] = out.Current
		sol.SOC[i] = out.SOC
		sol.Temperature[i] = out.Temperature
	}
	return sol
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
