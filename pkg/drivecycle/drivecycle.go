// Package drivecycle loads current-demand time series from CSV files and
// turns them into interpolants that drive a simulation.
package drivecycle

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// Cycle is a drive cycle: current demand sampled over time. Times are in
// seconds and must be strictly increasing; currents are in amperes with
// positive values discharging the cell.
type Cycle struct {
	Name     string    `json:"name,omitempty"`
	Times    []float64 `json:"times"`
	Currents []float64 `json:"currents"`
}

// Load reads a drive cycle from a CSV file with two numeric columns:
// time [s], current [A]. A single non-numeric header row is tolerated.
func Load(path string) (*Cycle, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open drive cycle %s", path)
	}
	defer fp.Close()

	c, err := Parse(fp)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to parse drive cycle %s", path)
	}
	c.Name = path
	return c, nil
}

// Parse reads a drive cycle from CSV data.
func Parse(r io.Reader) (*Cycle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	c := &Cycle{}
	row := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to read csv")
		}
		row++
		if len(rec) < 2 {
			return nil, pkgerrors.Errorf("row %d: need 2 columns (time, current), got %d", row, len(rec))
		}
		t, terr := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		i, ierr := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if terr != nil || ierr != nil {
			// Tolerate one header row.
			if row == 1 {
				continue
			}
			return nil, pkgerrors.Errorf("row %d: non-numeric values %q, %q", row, rec[0], rec[1])
		}
		c.Times = append(c.Times, t)
		c.Currents = append(c.Currents, i)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the cycle can be interpolated.
func (c *Cycle) Validate() error {
	if len(c.Times) < 2 {
		return pkgerrors.Errorf("drive cycle needs at least 2 samples, got %d", len(c.Times))
	}
	if len(c.Times) != len(c.Currents) {
		return pkgerrors.Errorf("drive cycle has %d times but %d currents", len(c.Times), len(c.Currents))
	}
	for i := 1; i < len(c.Times); i++ {
		if c.Times[i] <= c.Times[i-1] {
			return pkgerrors.Errorf("drive cycle times must be strictly increasing (sample %d: %g after %g)",
				i, c.Times[i], c.Times[i-1])
		}
	}
	return nil
}

// Duration returns the time span covered by the cycle in seconds.
func (c *Cycle) Duration() float64 {
	if len(c.Times) == 0 {
		return 0
	}
	return c.Times[len(c.Times)-1] - c.Times[0]
}

// MaxCurrent returns the largest current magnitude in the cycle.
func (c *Cycle) MaxCurrent() float64 {
	max := 0.0
	for _, i := range c.Currents {
		if i < 0 {
			i = -i
		}
		if i > max {
			max = i
		}
	}
	return max
}

// Scale multiplies every current by k, returning a new cycle. Useful for
// adapting a cycle recorded for one pack size to another.
func (c *Cycle) Scale(k float64) *Cycle {
	out := &Cycle{
		Name:     c.Name,
		Times:    append([]float64(nil), c.Times...),
		Currents: make([]float64, len(c.Currents)),
	}
	for i, v := range c.Currents {
		out.Currents[i] = v * k
	}
	return out
}

// Interpolant returns a piecewise-linear current function over the cycle,
// clamped to the first/last sample outside the recorded range.
func (c *Cycle) Interpolant() (func(t float64) float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(c.Times, c.Currents); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to fit drive cycle interpolant")
	}
	t0, t1 := c.Times[0], c.Times[len(c.Times)-1]
	i0, i1 := c.Currents[0], c.Currents[len(c.Currents)-1]
	return func(t float64) float64 {
		switch {
		case t <= t0:
			return i0
		case t >= t1:
			return i1
		default:
			return pl.Predict(t)
		}
	}, nil
}
