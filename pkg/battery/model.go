// Package battery implements the cell models. Each model exposes its state
// as an ODE system driven by the applied current; positive current
// discharges the cell.
package battery

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/cellsim/cellsim/pkg/parameters"
)

// Physical constants.
const (
	faradayConst = 96485.33212 // C/mol
	gasConst     = 8.31446     // J/(mol K)
)

// Outputs are the observable quantities derived from a model state.
type Outputs struct {
	Voltage       float64 `json:"voltage"`       // V, terminal
	Current       float64 `json:"current"`       // A, positive discharging
	SOC           float64 `json:"soc"`           // 0..1
	Temperature   float64 `json:"temperature"`   // K
	OCV           float64 `json:"ocv"`           // V, open-circuit at current state
	Overpotential float64 `json:"overpotential"` // V, total drop OCV - V
}

// Model is a cell model expressed as an ODE system. Implementations must
// not retain the slices passed to them.
type Model interface {
	// Name identifies the model ("thevenin", "spm").
	Name() string

	// StateLen is the number of ODE states.
	StateLen() int

	// StateLabels names each state, index-aligned with the state vector.
	StateLabels() []string

	// Initial returns the rest state at the given state of charge.
	Initial(p *parameters.Parameters, soc float64) []float64

	// Derivatives evaluates the right-hand side into dydt.
	Derivatives(t float64, y []float64, current float64, p *parameters.Parameters, dydt []float64)

	// Outputs derives the observables from a state and applied current.
	Outputs(y []float64, current float64, p *parameters.Parameters) Outputs

	// SOC extracts the state of charge from a state vector. It is the
	// quantity preserved when re-initializing one model from another.
	SOC(y []float64, p *parameters.Parameters) float64
}

// New returns a model by name.
func New(name string) (Model, error) {
	switch name {
	case "", "spm":
		return NewSingleParticle(defaultShells), nil
	case "thevenin", "ecm":
		return NewThevenin(), nil
	default:
		return nil, pkgerrors.Errorf("unknown model %q (available: spm, thevenin)", name)
	}
}
