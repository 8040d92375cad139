// Package experiment parses declarative operating protocols, e.g.
//
//	"Charge at 0.3C until 4.1 V"
//	"Hold at 4.1 V until 50 mA"
//	"Rest for 10 minutes"
//	"Discharge at 2.5 A for 30 minutes or until 3.0 V"
//
// into step sequences a simulation can execute.
package experiment

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Mode is the control mode of a step.
type Mode string

const (
	// ConstantCurrent applies a fixed current (or C-rate).
	ConstantCurrent Mode = "CC"
	// ConstantVoltage holds the terminal voltage.
	ConstantVoltage Mode = "CV"
	// Rest applies zero current.
	Rest Mode = "rest"
)

// Step is a single operating condition with its terminations. Exactly one of
// Current/CRate is meaningful for CC steps (CRate takes effect when
// UseCRate is set); HoldVoltage is meaningful for CV steps.
type Step struct {
	Text string `json:"text"` // original step string
	Mode Mode   `json:"mode"`

	// Drive values. Current is signed: positive discharges.
	Current  float64 `json:"current,omitempty"`
	CRate    float64 `json:"cRate,omitempty"`
	UseCRate bool    `json:"useCRate,omitempty"`

	HoldVoltage float64 `json:"holdVoltage,omitempty"`

	// Terminations. Zero means "not set". A step ends at whichever fires
	// first; at least one must be set.
	Duration      float64 `json:"duration,omitempty"`      // seconds
	VoltageCutoff float64 `json:"voltageCutoff,omitempty"` // V
	CurrentCutoff float64 `json:"currentCutoff,omitempty"` // A, magnitude
	CRateCutoff   float64 `json:"cRateCutoff,omitempty"`   // C-rate, magnitude
}

// Experiment is an ordered sequence of steps.
type Experiment struct {
	Steps []Step `json:"steps"`
}

// String reproduces the step in canonical form.
func (s Step) String() string {
	switch s.Mode {
	case Rest:
		return fmt.Sprintf("Rest for %s", formatDuration(s.Duration))
	case ConstantVoltage:
		term := ""
		switch {
		case s.CRateCutoff > 0:
			term = fmt.Sprintf(" until C/%g", 1/s.CRateCutoff)
		case s.CurrentCutoff > 0:
			term = fmt.Sprintf(" until %g A", s.CurrentCutoff)
		case s.Duration > 0:
			term = fmt.Sprintf(" for %s", formatDuration(s.Duration))
		}
		return fmt.Sprintf("Hold at %g V%s", s.HoldVoltage, term)
	default:
		verb := "Discharge"
		mag, unit := s.Current, "A"
		if s.UseCRate {
			mag, unit = s.CRate, "C"
		}
		if mag < 0 {
			verb = "Charge"
			mag = -mag
		}
		var b strings.Builder
		if unit == "C" {
			fmt.Fprintf(&b, "%s at %g%s", verb, mag, unit)
		} else {
			fmt.Fprintf(&b, "%s at %g %s", verb, mag, unit)
		}
		if s.Duration > 0 {
			fmt.Fprintf(&b, " for %s", formatDuration(s.Duration))
		}
		if s.VoltageCutoff > 0 {
			if s.Duration > 0 {
				b.WriteString(" or")
			}
			fmt.Fprintf(&b, " until %g V", s.VoltageCutoff)
		}
		return b.String()
	}
}

func formatDuration(seconds float64) string {
	switch {
	case seconds >= 3600 && seconds == float64(int(seconds/3600))*3600:
		return fmt.Sprintf("%g hours", seconds/3600)
	case seconds >= 60 && seconds == float64(int(seconds/60))*60:
		return fmt.Sprintf("%g minutes", seconds/60)
	default:
		return fmt.Sprintf("%g seconds", seconds)
	}
}

// Validate checks every step has a usable termination.
func (e *Experiment) Validate() error {
	if len(e.Steps) == 0 {
		return pkgerrors.New("experiment has no steps")
	}
	for i, s := range e.Steps {
		if s.Duration <= 0 && s.VoltageCutoff <= 0 && s.CurrentCutoff <= 0 && s.CRateCutoff <= 0 {
			return pkgerrors.Errorf("step %d (%q) has no termination", i+1, s.Text)
		}
		if s.Mode == ConstantVoltage && s.HoldVoltage <= 0 {
			return pkgerrors.Errorf("step %d (%q) holds a non-positive voltage", i+1, s.Text)
		}
	}
	return nil
}
