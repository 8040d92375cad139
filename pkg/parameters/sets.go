package parameters

import (
	pkgerrors "github.com/pkg/errors"
)

// fullCellOCV tabulates the full-cell open-circuit voltage over state of
// charge from the electrode potentials, so the equivalent-circuit and
// single-particle models agree at rest.
func fullCellOCV(p *Parameters) Table {
	const n = 41
	t := Table{X: make([]float64, n), Y: make([]float64, n)}
	for i := 0; i < n; i++ {
		soc := float64(i) / float64(n-1)
		xn := p.StoichMinNeg + soc*(p.StoichMaxNeg-p.StoichMinNeg)
		xp := p.StoichMaxPos - soc*(p.StoichMaxPos-p.StoichMinPos)
		t.X[i] = soc
		t.Y[i] = p.OCPPos.Eval(xp) - p.OCPNeg.Eval(xn)
	}
	return t
}

// NMC returns the default parameter set: a 5 Ah graphite/NMC cell with
// electrode potentials tabulated from typical half-cell data.
func NMC() *Parameters {
	p := &Parameters{
		Name:       "nmc-graphite-5ah",
		CapacityAh: 5.0,
		VMin:       3.0,
		VMax:       4.2,

		R0: 0.012,
		R1: 0.015,
		C1: 2000,
		R2: 0.010,
		C2: 40000,

		DiffusionTimeNeg:   2500,
		DiffusionTimePos:   900,
		ExchangeCurrentNeg: 12.0,
		ExchangeCurrentPos: 15.0,
		SeriesResistance:   0.014,

		StoichMinNeg: 0.03,
		StoichMaxNeg: 0.90,
		StoichMinPos: 0.28,
		StoichMaxPos: 0.92,

		OCPNeg: Table{
			X: []float64{0.00, 0.02, 0.05, 0.10, 0.15, 0.20, 0.30, 0.40, 0.50, 0.60, 0.70, 0.80, 0.90, 1.00},
			Y: []float64{1.20, 0.55, 0.32, 0.22, 0.18, 0.15, 0.128, 0.120, 0.115, 0.110, 0.100, 0.092, 0.087, 0.084},
		},
		OCPPos: Table{
			X: []float64{0.25, 0.30, 0.40, 0.50, 0.60, 0.70, 0.80, 0.90, 0.95, 1.00},
			Y: []float64{4.32, 4.24, 4.08, 3.96, 3.87, 3.80, 3.73, 3.64, 3.56, 3.42},
		},

		DUdTNeg: 1.0e-4,
		DUdTPos: -5.0e-5,

		HeatCapacity: 75.0,
		HeatTransfer: 0.6,
		AmbientTemp:  298.15,
	}
	p.OCV = fullCellOCV(p)
	return p
}

// LFP returns a 2.5 Ah graphite/LFP cell. The flat OCV plateau makes it a
// useful stress case for voltage-based terminations.
func LFP() *Parameters {
	p := &Parameters{
		Name:       "lfp-graphite-2.5ah",
		CapacityAh: 2.5,
		VMin:       2.5,
		VMax:       3.65,

		R0: 0.018,
		R1: 0.022,
		C1: 1500,
		R2: 0.014,
		C2: 30000,

		DiffusionTimeNeg:   2500,
		DiffusionTimePos:   1400,
		ExchangeCurrentNeg: 8.0,
		ExchangeCurrentPos: 6.0,
		SeriesResistance:   0.020,

		StoichMinNeg: 0.02,
		StoichMaxNeg: 0.85,
		StoichMinPos: 0.02,
		StoichMaxPos: 0.95,

		OCPNeg: Table{
			X: []float64{0.00, 0.02, 0.05, 0.10, 0.15, 0.20, 0.30, 0.40, 0.50, 0.60, 0.70, 0.80, 0.90, 1.00},
			Y: []float64{1.20, 0.55, 0.32, 0.22, 0.18, 0.15, 0.128, 0.120, 0.115, 0.110, 0.100, 0.092, 0.087, 0.084},
		},
		OCPPos: Table{
			X: []float64{0.00, 0.05, 0.10, 0.30, 0.50, 0.70, 0.90, 0.95, 1.00},
			Y: []float64{3.75, 3.48, 3.435, 3.425, 3.420, 3.415, 3.405, 3.38, 3.10},
		},

		DUdTNeg: 1.0e-4,
		DUdTPos: -2.0e-5,

		HeatCapacity: 45.0,
		HeatTransfer: 0.4,
		AmbientTemp:  298.15,
	}
	p.OCV = fullCellOCV(p)
	return p
}

var builtins = map[string]func() *Parameters{
	"nmc-graphite-5ah":   NMC,
	"lfp-graphite-2.5ah": LFP,
}

// DefaultSet is the parameter set used when none is named.
const DefaultSet = "nmc-graphite-5ah"

// Get returns a builtin parameter set by name.
func Get(name string) (*Parameters, error) {
	if name == "" {
		name = DefaultSet
	}
	f, ok := builtins[name]
	if !ok {
		return nil, pkgerrors.Errorf("unknown parameter set %q (builtin sets: %v)", name, Builtin())
	}
	return f(), nil
}

// Builtin lists the names of the builtin parameter sets.
func Builtin() []string {
	return []string{"nmc-graphite-5ah", "lfp-graphite-2.5ah"}
}
