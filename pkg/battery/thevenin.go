package battery

import (
	"github.com/cellsim/cellsim/pkg/parameters"
)

// Thevenin is the reduced-order equivalent-circuit model: a series
// resistance, two RC branches and a lumped thermal state. It is cheap to
// integrate and accurate enough for drive-cycle energy accounting.
type Thevenin struct{}

// NewThevenin returns the equivalent-circuit model.
func NewThevenin() *Thevenin { return &Thevenin{} }

// State layout: [soc, vRC1, vRC2, temperature].
const (
	thvSOC = iota
	thvV1
	thvV2
	thvTemp
	thvStateLen
)

func (m *Thevenin) Name() string  { return "thevenin" }
func (m *Thevenin) StateLen() int { return thvStateLen }

func (m *Thevenin) StateLabels() []string {
	return []string{"soc", "v_rc1", "v_rc2", "temperature"}
}

func (m *Thevenin) Initial(p *parameters.Parameters, soc float64) []float64 {
	y := make([]float64, thvStateLen)
	y[thvSOC] = soc
	y[thvTemp] = p.AmbientTemp
	return y
}

func (m *Thevenin) Derivatives(_ float64, y []float64, current float64, p *parameters.Parameters, dydt []float64) {
	dydt[thvSOC] = -current / (3600 * p.CapacityAh)
	dydt[thvV1] = -y[thvV1]/(p.R1*p.C1) + current/p.C1
	dydt[thvV2] = -y[thvV2]/(p.R2*p.C2) + current/p.C2

	// Lumped thermal balance: joule heat in R0 and both RC branches
	// against convective loss to ambient.
	heat := current*current*p.R0 +
		y[thvV1]*y[thvV1]/p.R1 +
		y[thvV2]*y[thvV2]/p.R2
	dydt[thvTemp] = (heat - p.HeatTransfer*(y[thvTemp]-p.AmbientTemp)) / p.HeatCapacity
}

func (m *Thevenin) Outputs(y []float64, current float64, p *parameters.Parameters) Outputs {
	ocv := p.OCV.Eval(y[thvSOC])
	v := ocv - current*p.R0 - y[thvV1] - y[thvV2]
	return Outputs{
		Voltage:       v,
		Current:       current,
		SOC:           y[thvSOC],
		Temperature:   y[thvTemp],
		OCV:           ocv,
		Overpotential: ocv - v,
	}
}

func (m *Thevenin) SOC(y []float64, _ *parameters.Parameters) float64 {
	return y[thvSOC]
}
