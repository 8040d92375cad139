// Package plot renders solution traces to image files using gonum/plot.
package plot

import (
	"image/color"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/cellsim/cellsim/pkg/solution"
)

// Variables that can be plotted.
const (
	VarVoltage     = "voltage"
	VarCurrent     = "current"
	VarSOC         = "soc"
	VarTemperature = "temperature"
)

var palette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
}

func trace(sol *solution.Solution, v string) ([]float64, string, error) {
	switch v {
	case VarVoltage:
		return sol.Voltage, "Voltage [V]", nil
	case VarCurrent:
		return sol.Current, "Current [A]", nil
	case VarSOC:
		return sol.SOC, "State of charge", nil
	case VarTemperature:
		return sol.Temperature, "Temperature [K]", nil
	default:
		return nil, "", pkgerrors.Errorf("unknown variable %q (available: voltage, current, soc, temperature)", v)
	}
}

func xys(times, values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(times))
	for i := range times {
		pts[i].X = times[i]
		pts[i].Y = values[i]
	}
	return pts
}

// Traces plots the requested variables of one solution against time. With a
// single variable the file is written at path; with several, each variable
// gets its own file with the variable name inserted before the extension.
func Traces(sol *solution.Solution, vars []string, path string) error {
	if len(vars) == 0 {
		vars = []string{VarVoltage}
	}
	if err := sol.Validate(); err != nil {
		return err
	}
	multi := len(vars) > 1
	for _, v := range vars {
		out := path
		if multi {
			out = insertSuffix(path, "-"+v)
		}
		if err := writeSingle(sol, v, out); err != nil {
			return err
		}
	}
	return nil
}

func writeSingleTitle(sol *solution.Solution) string {
	if sol.Model == "" {
		return "cellsim solution"
	}
	return sol.Model + " / " + sol.ParameterSet
}

func writeSingle(sol *solution.Solution, v, path string) error {
	values, label, err := trace(sol, v)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = writeSingleTitle(sol)
	p.X.Label.Text = "Time [s]"
	p.Y.Label.Text = label

	l, err := plotter.NewLine(xys(sol.Times, values))
	if err != nil {
		return pkgerrors.Wrap(err, "failed to build line")
	}
	l.Color = palette[0]
	l.LineStyle.Width = vg.Points(1.5)
	p.Add(l)
	p.Add(plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return pkgerrors.Wrapf(err, "failed to save plot to %s", path)
	}
	return nil
}

// Compare overlays one variable from several solutions, for checking that
// two runs agree (e.g. discharges re-initialized from different models).
func Compare(sols []*solution.Solution, v, path string) error {
	if len(sols) == 0 {
		return pkgerrors.New("no solutions to plot")
	}
	_, label, err := trace(sols[0], v)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = label + " comparison"
	p.X.Label.Text = "Time [s]"
	p.Y.Label.Text = label
	p.Add(plotter.NewGrid())

	for i, sol := range sols {
		if err := sol.Validate(); err != nil {
			return err
		}
		values, _, err := trace(sol, v)
		if err != nil {
			return err
		}
		l, err := plotter.NewLine(xys(sol.Times, values))
		if err != nil {
			return pkgerrors.Wrap(err, "failed to build line")
		}
		l.Color = palette[i%len(palette)]
		l.LineStyle.Width = vg.Points(1.5)
		p.Add(l)
		name := sol.Model
		if name == "" {
			name = "solution"
		}
		p.Legend.Add(name, l)
	}
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return pkgerrors.Wrapf(err, "failed to save plot to %s", path)
	}
	return nil
}

func insertSuffix(path, suffix string) string {
	if i := strings.LastIndex(path, "."); i > 0 {
		return path[:i] + suffix + path[i:]
	}
	return path + suffix
}
