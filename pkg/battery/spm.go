package battery

import (
	"fmt"
	"math"

	"github.com/cellsim/cellsim/pkg/parameters"
)

const defaultShells = 10

// SingleParticle is the detailed model: one representative particle per
// electrode with finite-volume spherical diffusion, Butler-Volmer kinetics
// and a lumped thermal balance. Solid-phase concentration gradients give it
// the voltage relaxation behaviour the equivalent-circuit model lacks.
type SingleParticle struct {
	shells int

	// Finite-volume geometry on the normalized particle radius, shared by
	// both electrodes. faceArea[f] is r^2 at face f; shellVol[i] is the
	// volume of shell i (both omitting the common 4*pi factor).
	faceArea []float64
	shellVol []float64
}

// NewSingleParticle returns a single-particle model with the given number of
// radial shells per electrode. Fewer than 3 shells falls back to the default.
func NewSingleParticle(shells int) *SingleParticle {
	if shells < 3 {
		shells = defaultShells
	}
	m := &SingleParticle{
		shells:   shells,
		faceArea: make([]float64, shells+1),
		shellVol: make([]float64, shells),
	}
	dr := 1.0 / float64(shells)
	for f := 0; f <= shells; f++ {
		r := float64(f) * dr
		m.faceArea[f] = r * r
	}
	for i := 0; i < shells; i++ {
		r0 := float64(i) * dr
		r1 := float64(i+1) * dr
		m.shellVol[i] = (r1*r1*r1 - r0*r0*r0) / 3
	}
	return m
}

// State layout: shells stoichiometries of the negative particle, then the
// positive particle, then the lumped temperature.
func (m *SingleParticle) Name() string  { return "spm" }
func (m *SingleParticle) StateLen() int { return 2*m.shells + 1 }

func (m *SingleParticle) StateLabels() []string {
	labels := make([]string, 0, m.StateLen())
	for i := 0; i < m.shells; i++ {
		labels = append(labels, fmt.Sprintf("x_neg_%d", i))
	}
	for i := 0; i < m.shells; i++ {
		labels = append(labels, fmt.Sprintf("x_pos_%d", i))
	}
	return append(labels, "temperature")
}

func (m *SingleParticle) Initial(p *parameters.Parameters, soc float64) []float64 {
	y := make([]float64, m.StateLen())
	xn := p.StoichMinNeg + soc*(p.StoichMaxNeg-p.StoichMinNeg)
	xp := p.StoichMaxPos - soc*(p.StoichMaxPos-p.StoichMinPos)
	for i := 0; i < m.shells; i++ {
		y[i] = xn
		y[m.shells+i] = xp
	}
	y[2*m.shells] = p.AmbientTemp
	return y
}

// diffuse adds the spherical diffusion terms for one particle to dydt.
// x and dx are the shell slices for that particle; rate is the change of the
// volume-averaged stoichiometry imposed by the applied current.
func (m *SingleParticle) diffuse(x, dx []float64, tau, rate float64) {
	dr := 1.0 / float64(m.shells)
	for i := 0; i < m.shells-1; i++ {
		// Diffusive exchange across the face between shells i and i+1.
		g := m.faceArea[i+1] * (x[i+1] - x[i]) / (dr * tau)
		dx[i] += g / m.shellVol[i]
		dx[i+1] -= g / m.shellVol[i+1]
	}
	// Intercalation flux enters through the outer surface. The total
	// particle volume is 1/3 in the normalized geometry.
	dx[m.shells-1] += rate / 3 / m.shellVol[m.shells-1]
}

// surfaceStoich extrapolates from the outermost shell center to the particle
// surface using the imposed surface flux.
func (m *SingleParticle) surfaceStoich(x []float64, tau, rate float64) float64 {
	dr := 1.0 / float64(m.shells)
	// Flux per unit area at the surface (face area is 1 at r=1).
	q := rate / 3
	xs := x[m.shells-1] + q*tau*dr/2
	return clamp(xs, 1e-6, 1-1e-6)
}

// stoichRates returns the rate of change of the volume-averaged
// stoichiometry in each particle for the applied current.
func stoichRates(current float64, p *parameters.Parameters) (rateNeg, ratePos float64) {
	perAh := current / (3600 * p.CapacityAh)
	rateNeg = -(p.StoichMaxNeg - p.StoichMinNeg) * perAh
	ratePos = (p.StoichMaxPos - p.StoichMinPos) * perAh
	return
}

func (m *SingleParticle) Derivatives(_ float64, y []float64, current float64, p *parameters.Parameters, dydt []float64) {
	for i := range dydt {
		dydt[i] = 0
	}
	xn := y[:m.shells]
	xp := y[m.shells : 2*m.shells]
	temp := y[2*m.shells]

	rateNeg, ratePos := stoichRates(current, p)
	m.diffuse(xn, dydt[:m.shells], p.DiffusionTimeNeg, rateNeg)
	m.diffuse(xp, dydt[m.shells:2*m.shells], p.DiffusionTimePos, ratePos)

	// Lumped thermal balance. Heat sources follow the usual split:
	// ohmic, reaction (irreversible) and entropic (reversible).
	etaN := m.overpotential(current, p.ExchangeCurrentNeg, m.surfaceStoich(xn, p.DiffusionTimeNeg, rateNeg), temp)
	etaP := m.overpotential(current, p.ExchangeCurrentPos, m.surfaceStoich(xp, p.DiffusionTimePos, ratePos), temp)
	qOhm := current * current * p.SeriesResistance
	qRxn := current * (etaN + etaP)
	qRev := current * temp * (p.DUdTPos - p.DUdTNeg)
	dydt[2*m.shells] = (qOhm + qRxn + qRev - p.HeatTransfer*(temp-p.AmbientTemp)) / p.HeatCapacity
}

// overpotential inverts Butler-Volmer kinetics for a symmetric reaction.
// The exchange current scales with surface stoichiometry, normalized so the
// parameter value is attained at x=0.5.
func (m *SingleParticle) overpotential(current, exchange, xSurf, temp float64) float64 {
	j0 := 2 * exchange * math.Sqrt(xSurf*(1-xSurf))
	return 2 * gasConst * temp / faradayConst * math.Asinh(current/(2*j0))
}

func (m *SingleParticle) Outputs(y []float64, current float64, p *parameters.Parameters) Outputs {
	xn := y[:m.shells]
	xp := y[m.shells : 2*m.shells]
	temp := y[2*m.shells]

	rateNeg, ratePos := stoichRates(current, p)
	xnSurf := m.surfaceStoich(xn, p.DiffusionTimeNeg, rateNeg)
	xpSurf := m.surfaceStoich(xp, p.DiffusionTimePos, ratePos)

	etaN := m.overpotential(current, p.ExchangeCurrentNeg, xnSurf, temp)
	etaP := m.overpotential(current, p.ExchangeCurrentPos, xpSurf, temp)

	ocv := p.OCPPos.Eval(xpSurf) - p.OCPNeg.Eval(xnSurf)
	v := ocv - etaN - etaP - current*p.SeriesResistance
	return Outputs{
		Voltage:       v,
		Current:       current,
		SOC:           m.SOC(y, p),
		Temperature:   temp,
		OCV:           ocv,
		Overpotential: ocv - v,
	}
}

func (m *SingleParticle) SOC(y []float64, p *parameters.Parameters) float64 {
	// Volume-averaged negative stoichiometry mapped through its window.
	var sum float64
	for i := 0; i < m.shells; i++ {
		sum += y[i] * m.shellVol[i]
	}
	avg := sum / (1.0 / 3)
	return (avg - p.StoichMinNeg) / (p.StoichMaxNeg - p.StoichMinNeg)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
