// Package parameters holds cell parameter sets: capacities, resistances,
// open-circuit potential tables and thermal constants consumed by the models.
package parameters

import (
	"encoding/json"
	"io"
	"os"
	"sort"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// Table is a monotone lookup table evaluated by piecewise-linear
// interpolation. X must be strictly increasing.
type Table struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// Eval interpolates the table at x, clamping outside the table range.
func (t Table) Eval(x float64) float64 {
	if len(t.X) == 0 {
		return 0
	}
	if x <= t.X[0] {
		return t.Y[0]
	}
	if x >= t.X[len(t.X)-1] {
		return t.Y[len(t.Y)-1]
	}
	var pl interp.PiecewiseLinear
	// Fit never fails for strictly increasing X of matching length, which
	// Validate enforces before a table is used.
	_ = pl.Fit(t.X, t.Y)
	return pl.Predict(x)
}

func (t Table) validate(name string) error {
	if len(t.X) < 2 {
		return pkgerrors.Errorf("table %s needs at least 2 points, got %d", name, len(t.X))
	}
	if len(t.X) != len(t.Y) {
		return pkgerrors.Errorf("table %s has %d x values but %d y values", name, len(t.X), len(t.Y))
	}
	if !sort.Float64sAreSorted(t.X) {
		return pkgerrors.Errorf("table %s x values must be increasing", name)
	}
	for i := 1; i < len(t.X); i++ {
		if t.X[i] == t.X[i-1] {
			return pkgerrors.Errorf("table %s has duplicate x value %g", name, t.X[i])
		}
	}
	return nil
}

// Parameters describes a single cell. Electrical values are in SI units
// except capacity (Ah). Temperatures are in kelvin.
type Parameters struct {
	Name string `json:"name"`

	// CapacityAh is the nominal cell capacity between the voltage limits.
	CapacityAh float64 `json:"capacityAh"`

	// Voltage limits. Integration terminates when the terminal voltage
	// leaves [VMin, VMax].
	VMin float64 `json:"vMin"`
	VMax float64 `json:"vMax"`

	// Equivalent-circuit (Thevenin) values.
	R0 float64 `json:"r0"`
	R1 float64 `json:"r1"`
	C1 float64 `json:"c1"`
	R2 float64 `json:"r2"`
	C2 float64 `json:"c2"`

	// OCV is the full-cell open-circuit voltage as a function of state of
	// charge in [0, 1].
	OCV Table `json:"ocv"`

	// Single-particle values. Diffusion times are tau = R^2/D for each
	// particle. Exchange currents are at reference stoichiometry 0.5.
	DiffusionTimeNeg   float64 `json:"diffusionTimeNeg"`
	DiffusionTimePos   float64 `json:"diffusionTimePos"`
	ExchangeCurrentNeg float64 `json:"exchangeCurrentNeg"`
	ExchangeCurrentPos float64 `json:"exchangeCurrentPos"`
	SeriesResistance   float64 `json:"seriesResistance"`

	// Stoichiometry windows. At 100% SOC the negative particle sits at
	// StoichMaxNeg and the positive particle at StoichMinPos.
	StoichMinNeg float64 `json:"stoichMinNeg"`
	StoichMaxNeg float64 `json:"stoichMaxNeg"`
	StoichMinPos float64 `json:"stoichMinPos"`
	StoichMaxPos float64 `json:"stoichMaxPos"`

	// OCPNeg and OCPPos are the electrode open-circuit potentials against
	// lithium as functions of stoichiometry.
	OCPNeg Table `json:"ocpNeg"`
	OCPPos Table `json:"ocpPos"`

	// Entropic coefficients dU/dT (V/K), used for reversible heat.
	DUdTNeg float64 `json:"dUdTNeg"`
	DUdTPos float64 `json:"dUdTPos"`

	// Lumped thermal values.
	HeatCapacity float64 `json:"heatCapacity"` // J/K
	HeatTransfer float64 `json:"heatTransfer"` // W/K
	AmbientTemp  float64 `json:"ambientTemp"`  // K
}

// Validate checks the parameter set for values the models cannot work with.
func (p *Parameters) Validate() error {
	if p.CapacityAh <= 0 {
		return pkgerrors.Errorf("capacity must be positive, got %g Ah", p.CapacityAh)
	}
	if p.VMin >= p.VMax {
		return pkgerrors.Errorf("voltage limits must satisfy vMin < vMax, got [%g, %g]", p.VMin, p.VMax)
	}
	if p.R0 <= 0 {
		return pkgerrors.Errorf("series resistance r0 must be positive, got %g", p.R0)
	}
	if p.DiffusionTimeNeg <= 0 || p.DiffusionTimePos <= 0 {
		return pkgerrors.New("particle diffusion times must be positive")
	}
	if p.ExchangeCurrentNeg <= 0 || p.ExchangeCurrentPos <= 0 {
		return pkgerrors.New("exchange currents must be positive")
	}
	if p.StoichMinNeg >= p.StoichMaxNeg || p.StoichMinPos >= p.StoichMaxPos {
		return pkgerrors.New("stoichiometry windows must be non-empty")
	}
	if p.HeatCapacity <= 0 || p.HeatTransfer < 0 {
		return pkgerrors.New("thermal parameters must be positive")
	}
	if p.AmbientTemp <= 0 {
		return pkgerrors.Errorf("ambient temperature must be in kelvin, got %g", p.AmbientTemp)
	}
	for _, tb := range []struct {
		name string
		t    Table
	}{
		{"ocv", p.OCV},
		{"ocpNeg", p.OCPNeg},
		{"ocpPos", p.OCPPos},
	} {
		if err := tb.t.validate(tb.name); err != nil {
			return err
		}
	}
	return nil
}

// CurrentFromCRate converts a C-rate to amperes for this cell.
func (p *Parameters) CurrentFromCRate(c float64) float64 {
	return c * p.CapacityAh
}

// LoadFile reads a parameter set from a JSON file.
func LoadFile(path string) (*Parameters, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open parameter file %s", path)
	}
	defer fp.Close()
	return Load(fp)
}

// Load reads a parameter set from JSON.
func Load(r io.Reader) (*Parameters, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read parameter set")
	}
	p := &Parameters{}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal parameter set")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveFile writes the parameter set to a JSON file.
func (p *Parameters) SaveFile(path string) error {
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer fp.Close()

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode parameter set to %s", path)
	}
	return nil
}
