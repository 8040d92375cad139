package simulation

import (
	"context"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/cellsim/cellsim/pkg/experiment"
	"github.com/cellsim/cellsim/pkg/solution"
	"github.com/cellsim/cellsim/pkg/solver"
)

// RunExperiment executes the steps of an experiment in sequence, carrying
// the cell state from one step into the next. The returned solution
// concatenates the per-step trajectories with step annotations.
func (s *Simulation) RunExperiment(ctx context.Context, exp *experiment.Experiment) (*solution.Solution, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	full := &solution.Solution{
		Model:        s.model.Name(),
		ParameterSet: s.params.Name,
	}
	y := append([]float64(nil), s.y0...)
	t := 0.0

	for i, step := range exp.Steps {
		if s.stepHook != nil {
			s.stepHook(i, step, t)
		}
		stepSol, yEnd, tEnd, err := s.runStep(ctx, step, y, t)
		if stepSol != nil {
			stepSol.Steps = []solution.StepAnnotation{{
				Index:     i,
				Label:     step.String(),
				StartTime: t,
				EndTime:   tEnd,
			}}
			full.Append(stepSol)
		}
		if err != nil {
			full.SolveDuration = time.Since(started)
			return full, pkgerrors.Wrapf(err, "step %d (%q)", i+1, step.Text)
		}
		y, t = yEnd, tEnd
	}

	full.SolveDuration = time.Since(started)
	return full, nil
}

// runStep integrates a single experiment step from state y at time t0.
func (s *Simulation) runStep(ctx context.Context, step experiment.Step, y []float64, t0 float64) (*solution.Solution, []float64, float64, error) {
	var cur currentFunc
	var hold *holdController
	switch step.Mode {
	case experiment.Rest:
		cur = func(_ float64, _ []float64) float64 { return 0 }
	case experiment.ConstantCurrent:
		i := step.Current
		if step.UseCRate {
			i = s.params.CurrentFromCRate(step.CRate)
		}
		cur = func(_ float64, _ []float64) float64 { return i }
	case experiment.ConstantVoltage:
		hold = &holdController{sim: s, vHold: step.HoldVoltage}
		cur = hold.current
	default:
		return nil, nil, t0, pkgerrors.Errorf("unknown step mode %q", step.Mode)
	}

	tEnd := t0 + maxStepTime
	if step.Duration > 0 {
		tEnd = t0 + step.Duration
	}

	// Step terminations first, safety limits last, so the fired event
	// index tells them apart.
	var events []solver.Event
	nTerm := 0
	if step.VoltageCutoff > 0 && step.Mode == experiment.ConstantCurrent {
		upper := cur(t0, y) < 0 // charging approaches the cutoff from below
		events = append(events, s.voltageEvent(cur, step.VoltageCutoff, upper))
		nTerm++
	}
	cutoff := step.CurrentCutoff
	if step.CRateCutoff > 0 {
		cutoff = s.params.CurrentFromCRate(step.CRateCutoff)
	}
	if cutoff > 0 && step.Mode == experiment.ConstantVoltage {
		events = append(events, func(t float64, y []float64) float64 {
			return math.Abs(cur(t, y)) - cutoff
		})
		nTerm++
	}
	events = append(events,
		s.voltageEvent(cur, s.params.VMin, false),
		s.voltageEvent(cur, s.params.VMax, true),
	)
	if hold != nil {
		events = append(events, hold.failed)
	}

	res, err := solver.Integrate(ctx, &system{m: s.model, p: s.params, cur: cur}, y, t0, tEnd, events, s.opts)
	sol := s.buildSolution(res, cur)
	tFinal, yFinal := res.Final()
	if err != nil {
		return sol, yFinal, tFinal, err
	}
	if hold != nil && hold.err != nil {
		sol.Termination = TermHoldFailed
		return sol, yFinal, tFinal, pkgerrors.Wrapf(hold.err, "holding %g V", step.HoldVoltage)
	}

	switch {
	case res.Event < 0:
		if step.Duration > 0 {
			sol.Termination = TermFinalTime
			return sol, yFinal, tFinal, nil
		}
		return sol, yFinal, tFinal, ErrStepStalled
	case res.Event < nTerm:
		if step.Mode == experiment.ConstantVoltage {
			sol.Termination = TermCurrentCutoff
		} else {
			sol.Termination = TermVoltageCutoff
		}
		return sol, yFinal, tFinal, nil
	default:
		sol.Termination = TermVoltageLimit
		return sol, yFinal, tFinal, ErrVoltageLimit
	}
}

// holdController keeps the terminal voltage at vHold by solving
// V(y, I) = vHold at every evaluation, seeding each solve with the
// previous solution. A solve failure is sticky: the controller keeps
// returning the last good current and its failed event terminates the
// step so runStep can surface the error.
type holdController struct {
	sim   *Simulation
	vHold float64
	guess float64
	err   error
}

func (h *holdController) current(_ float64, y []float64) float64 {
	if h.err != nil {
		return h.guess
	}
	i, err := h.sim.solveHoldCurrent(y, h.vHold, h.guess)
	if err != nil {
		h.err = err
		return h.guess
	}
	h.guess = i
	return i
}

// failed is an event function that goes non-positive once the hold solve
// has failed, stopping the integration.
func (h *holdController) failed(_ float64, _ []float64) float64 {
	if h.err != nil {
		return -1
	}
	return 1
}

// solveHoldCurrent finds the current at which the model's terminal voltage
// equals vHold for the given state: damped Newton with a numerical
// derivative, falling back to bisection on an expanding bracket. Terminal
// voltage decreases monotonically with discharge current in both models.
func (s *Simulation) solveHoldCurrent(y []float64, vHold, guess float64) (float64, error) {
	f := func(i float64) float64 {
		return s.model.Outputs(y, i, s.params).Voltage - vHold
	}

	i := guess
	for iter := 0; iter < 50; iter++ {
		fi := f(i)
		if math.Abs(fi) < 1e-10 {
			return i, nil
		}
		h := 1e-6 * math.Max(1, math.Abs(i))
		d := (f(i+h) - f(i-h)) / (2 * h)
		if d == 0 || math.IsNaN(d) {
			break
		}
		step := fi / d
		// Damp oversized Newton steps; the models are smooth but asinh
		// kinetics flatten far from the solution.
		limit := 10 * s.params.CapacityAh
		if math.Abs(step) > limit {
			step = math.Copysign(limit, step)
		}
		next := i - step
		if math.Abs(next-i) < 1e-12*math.Max(1, math.Abs(i)) {
			return next, nil
		}
		i = next
	}

	// Bisection fallback. f is decreasing in current: positive at strong
	// charge, negative at strong discharge.
	lo, hi := -s.params.CapacityAh, s.params.CapacityAh
	for iter := 0; f(lo) < 0 || f(hi) > 0; iter++ {
		if iter > 20 {
			return 0, pkgerrors.Errorf("cannot bracket hold current for %g V", vHold)
		}
		lo *= 2
		hi *= 2
	}
	for iter := 0; iter < 200 && hi-lo > 1e-12*math.Max(1, math.Abs(hi)); iter++ {
		mid := (lo + hi) / 2
		if f(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, nil
}
