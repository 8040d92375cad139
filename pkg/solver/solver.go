// Package solver integrates ODE systems with an adaptive embedded
// Runge-Kutta method (Cash-Karp 4(5)) and locates termination events by
// bisection.
package solver

import (
	"context"
	"errors"
	"math"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrMaxRejects is returned when the controller rejects too many
	// consecutive steps without making progress.
	ErrMaxRejects = errors.New("too many consecutive rejected steps")

	// ErrStepUnderflow is returned when the required step size falls
	// below Options.MinStep.
	ErrStepUnderflow = errors.New("step size underflow")
)

// System is an ODE system. Derivatives must write d(y)/dt into dydt.
type System interface {
	Len() int
	Derivatives(t float64, y, dydt []float64)
}

// Event is a scalar function of the state. Integration stops when an event
// value crosses from positive to non-positive; the crossing is refined by
// bisection on the interpolated state.
type Event func(t float64, y []float64) float64

// Options controls the adaptive step-size loop.
type Options struct {
	RTol        float64 // relative tolerance
	ATol        float64 // absolute tolerance
	InitialStep float64 // first attempted step, seconds
	MinStep     float64 // smallest allowed step, seconds
	MaxStep     float64 // largest allowed step, seconds
	MaxRejects  int     // consecutive rejections before aborting
}

// DefaultOptions are suitable for the cell models in this repository.
func DefaultOptions() Options {
	return Options{
		RTol:        1e-6,
		ATol:        1e-8,
		InitialStep: 0.1,
		MinStep:     1e-10,
		MaxStep:     10,
		MaxRejects:  50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RTol <= 0 {
		o.RTol = d.RTol
	}
	if o.ATol <= 0 {
		o.ATol = d.ATol
	}
	if o.InitialStep <= 0 {
		o.InitialStep = d.InitialStep
	}
	if o.MinStep <= 0 {
		o.MinStep = d.MinStep
	}
	if o.MaxStep <= 0 {
		o.MaxStep = d.MaxStep
	}
	if o.MaxRejects <= 0 {
		o.MaxRejects = d.MaxRejects
	}
	return o
}

// Result holds the trajectory of one integration.
type Result struct {
	Times  []float64
	States [][]float64

	// Event is the index of the event that terminated the integration,
	// or -1 if the end time was reached.
	Event int
}

// Final returns the last recorded state.
func (r *Result) Final() (float64, []float64) {
	n := len(r.Times)
	return r.Times[n-1], r.States[n-1]
}

// Cash-Karp tableau.
var (
	ckC = [6]float64{0, 1.0 / 5, 3.0 / 10, 3.0 / 5, 1, 7.0 / 8}
	ckA = [6][5]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{3.0 / 10, -9.0 / 10, 6.0 / 5},
		{-11.0 / 54, 5.0 / 2, -70.0 / 27, 35.0 / 27},
		{1631.0 / 55296, 175.0 / 512, 575.0 / 13824, 44275.0 / 110592, 253.0 / 4096},
	}
	// 5th order weights.
	ckB5 = [6]float64{37.0 / 378, 0, 250.0 / 621, 125.0 / 594, 0, 512.0 / 1771}
	// 4th order weights (embedded).
	ckB4 = [6]float64{2825.0 / 27648, 0, 18575.0 / 48384, 13525.0 / 55296, 277.0 / 14336, 1.0 / 4}
)

// Integrate advances sys from (t0, y0) to tEnd, or until an event fires.
// The returned result always contains at least the initial sample; on error
// it holds the trajectory up to the failure.
func Integrate(ctx context.Context, sys System, y0 []float64, t0, tEnd float64, events []Event, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	n := sys.Len()
	if len(y0) != n {
		return nil, pkgerrors.Errorf("initial state has %d entries, system has %d", len(y0), n)
	}

	res := &Result{Event: -1}
	y := append([]float64(nil), y0...)
	t := t0
	res.record(t, y)

	// An event already active at t0 terminates immediately.
	if idx := activeEvent(events, t, y); idx >= 0 {
		res.Event = idx
		return res, nil
	}
	if t >= tEnd {
		return res, nil
	}

	k := make([][]float64, 6)
	for i := range k {
		k[i] = make([]float64, n)
	}
	ytmp := make([]float64, n)
	y5 := make([]float64, n)
	yerr := make([]float64, n)

	h := math.Min(opts.InitialStep, tEnd-t)
	rejects := 0
	goodSteps := 0

	for t < tEnd {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if h < opts.MinStep {
			return res, pkgerrors.Wrapf(ErrStepUnderflow, "at t=%g", t)
		}
		if h > opts.MaxStep {
			h = opts.MaxStep
		}
		if t+h > tEnd {
			h = tEnd - t
		}

		// Stage evaluations.
		sys.Derivatives(t, y, k[0])
		for s := 1; s < 6; s++ {
			for i := 0; i < n; i++ {
				sum := 0.0
				for j := 0; j < s; j++ {
					sum += ckA[s][j] * k[j][i]
				}
				ytmp[i] = y[i] + h*sum
			}
			sys.Derivatives(t+ckC[s]*h, ytmp, k[s])
		}
		for i := 0; i < n; i++ {
			sum5, sum4 := 0.0, 0.0
			for s := 0; s < 6; s++ {
				sum5 += ckB5[s] * k[s][i]
				sum4 += ckB4[s] * k[s][i]
			}
			y5[i] = y[i] + h*sum5
			yerr[i] = h * (sum5 - sum4)
		}

		// Weighted RMS error norm.
		norm := 0.0
		for i := 0; i < n; i++ {
			sc := opts.ATol + opts.RTol*math.Max(math.Abs(y[i]), math.Abs(y5[i]))
			e := yerr[i] / sc
			norm += e * e
		}
		norm = math.Sqrt(norm / float64(n))

		if norm > 1 {
			// Reject: shrink and retry.
			rejects++
			goodSteps = 0
			if rejects > opts.MaxRejects {
				return res, pkgerrors.Wrapf(ErrMaxRejects, "at t=%g", t)
			}
			h *= math.Max(0.1, 0.9*math.Pow(norm, -0.25))
			continue
		}

		// Accept.
		rejects = 0
		goodSteps++
		tNew := t + h

		if idx := activeEvent(events, tNew, y5); idx >= 0 {
			te, ye := refineEvent(events[idx], t, y, tNew, y5)
			res.record(te, ye)
			res.Event = idx
			return res, nil
		}

		t = tNew
		copy(y, y5)
		res.record(t, y)

		// Step-size growth: standard PI-free controller, with an extra
		// push after a run of accepted steps.
		grow := 0.9 * math.Pow(math.Max(norm, 1e-10), -0.2)
		grow = math.Min(grow, 5)
		if goodSteps > 10 {
			grow = math.Max(grow, 1.2)
		}
		h = math.Min(h*grow, opts.MaxStep)
	}

	return res, nil
}

func (r *Result) record(t float64, y []float64) {
	r.Times = append(r.Times, t)
	r.States = append(r.States, append([]float64(nil), y...))
}

func activeEvent(events []Event, t float64, y []float64) int {
	for i, ev := range events {
		if ev(t, y) <= 0 {
			return i
		}
	}
	return -1
}

// refineEvent bisects the crossing of ev between (t0, y0) where it is
// positive and (t1, y1) where it is non-positive, interpolating the state
// linearly. Accepted steps are small enough for linear interpolation to
// place the event within tolerance.
func refineEvent(ev Event, t0 float64, y0 []float64, t1 float64, y1 []float64) (float64, []float64) {
	n := len(y0)
	ym := make([]float64, n)
	lo, hi := t0, t1
	for iter := 0; iter < 60 && hi-lo > 1e-9*(1+math.Abs(hi)); iter++ {
		mid := (lo + hi) / 2
		w := (mid - t0) / (t1 - t0)
		for i := 0; i < n; i++ {
			ym[i] = y0[i] + w*(y1[i]-y0[i])
		}
		if ev(mid, ym) <= 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	w := (hi - t0) / (t1 - t0)
	for i := 0; i < n; i++ {
		ym[i] = y0[i] + w*(y1[i]-y0[i])
	}
	return hi, ym
}
