package plot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cellsim/cellsim/pkg/solution"
)

func sampleSolution() *solution.Solution {
	return &solution.Solution{
		Model:        "thevenin",
		ParameterSet: "nmc-graphite-5ah",
		Times:        []float64{0, 1, 2, 3},
		States:       [][]float64{{1}, {0.9}, {0.8}, {0.7}},
		Voltage:      []float64{4.1, 4.0, 3.9, 3.8},
		Current:      []float64{5, 5, 5, 5},
		SOC:          []float64{1, 0.9, 0.8, 0.7},
		Temperature:  []float64{298, 298.5, 299, 299.5},
	}
}

func TestTracesWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	if err := Traces(sampleSolution(), []string{VarVoltage}, path); err != nil {
		t.Fatalf("Traces failed: %v", err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Errorf("expected non-empty plot file, err=%v", err)
	}
}

func TestTracesMultipleVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	if err := Traces(sampleSolution(), []string{VarVoltage, VarSOC}, path); err != nil {
		t.Fatalf("Traces failed: %v", err)
	}
	for _, want := range []string{"out-voltage.png", "out-soc.png"} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Errorf("missing plot %s: %v", want, err)
		}
	}
}

func TestTracesUnknownVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	if err := Traces(sampleSolution(), []string{"entropy"}, path); err == nil {
		t.Fatal("expected error for unknown variable")
	}
}

func TestCompareOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmp.svg")
	a, b := sampleSolution(), sampleSolution()
	b.Model = "spm"
	if err := Compare([]*solution.Solution{a, b}, VarVoltage, path); err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Errorf("expected non-empty plot file, err=%v", err)
	}
}

func TestCompareEmpty(t *testing.T) {
	if err := Compare(nil, VarVoltage, "x.png"); err == nil {
		t.Fatal("expected error for empty solution list")
	}
}
