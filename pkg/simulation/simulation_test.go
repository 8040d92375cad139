package simulation

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/cellsim/cellsim/pkg/battery"
	"github.com/cellsim/cellsim/pkg/drivecycle"
	"github.com/cellsim/cellsim/pkg/experiment"
	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/solution"
)

func newSim(t *testing.T, modelName string, opts ...Option) *Simulation {
	t.Helper()
	m, err := battery.New(modelName)
	if err != nil {
		t.Fatalf("battery.New(%q) failed: %v", modelName, err)
	}
	s, err := New(m, parameters.NMC(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestConstantCurrentDischarge(t *testing.T) {
	for _, model := range []string{"thevenin", "spm"} {
		t.Run(model, func(t *testing.T) {
			s := newSim(t, model)
			sol, err := s.RunConstantCurrent(context.Background(), s.Parameters().CurrentFromCRate(1), 2*3600)
			if err != nil {
				t.Fatalf("RunConstantCurrent failed: %v", err)
			}
			if sol.Termination != TermVoltageLimit {
				t.Errorf("Termination = %q, want %q", sol.Termination, TermVoltageLimit)
			}
			tf, _ := sol.Final()
			// A 1C discharge from full must last most of an hour but
			// not the full two hours.
			if tf < 0.5*3600 || tf >= 2*3600 {
				t.Errorf("discharge lasted %g s", tf)
			}
			last := sol.Last()
			if math.Abs(last.Voltage-s.Parameters().VMin) > 1e-3 {
				t.Errorf("final voltage %g, want cutoff %g", last.Voltage, s.Parameters().VMin)
			}
			if last.SOC > 0.3 {
				t.Errorf("final SOC %g, expected a mostly drained cell", last.SOC)
			}
			// Voltage must never exceed the rest voltage at full charge.
			for i, v := range sol.Voltage {
				if v > s.Parameters().VMax+1e-9 {
					t.Fatalf("sample %d: voltage %g above VMax", i, v)
				}
			}
		})
	}
}

func TestDriveCycleCompletes(t *testing.T) {
	cycle := &drivecycle.Cycle{
		Times:    []float64{0, 60, 120, 180, 240},
		Currents: []float64{2, 5, -1, 3, 0},
	}
	for _, model := range []string{"thevenin", "spm"} {
		t.Run(model, func(t *testing.T) {
			s := newSim(t, model, WithInitialSOC(0.8))
			sol, err := s.RunDriveCycle(context.Background(), cycle)
			if err != nil {
				t.Fatalf("RunDriveCycle failed: %v", err)
			}
			if sol.Termination != TermCycleComplete {
				t.Errorf("Termination = %q, want %q", sol.Termination, TermCycleComplete)
			}
			tf, _ := sol.Final()
			if math.Abs(tf-240) > 1e-9 {
				t.Errorf("final time = %g, want 240", tf)
			}
			if got := sol.Last().SOC; got >= 0.8 {
				t.Errorf("SOC did not decrease under a net-discharge cycle: %g", got)
			}
		})
	}
}

func TestDriveCycleHitsVoltageLimit(t *testing.T) {
	// A cruelly large current drains the cell long before the cycle ends.
	cycle := &drivecycle.Cycle{
		Times:    []float64{0, 7200},
		Currents: []float64{50, 50},
	}
	s := newSim(t, "thevenin", WithInitialSOC(0.3))
	sol, err := s.RunDriveCycle(context.Background(), cycle)
	if err != nil {
		t.Fatalf("RunDriveCycle failed: %v", err)
	}
	if sol.Termination != TermVoltageLimit {
		t.Errorf("Termination = %q, want %q", sol.Termination, TermVoltageLimit)
	}
	if tf, _ := sol.Final(); tf >= 7200 {
		t.Errorf("expected early termination, got %g s", tf)
	}
}

func TestVoltageLimitActiveAtStart(t *testing.T) {
	// Fully drained cell cannot push 30 A without dropping below VMin at
	// t=0: the solution holds exactly the initial sample.
	cycle := &drivecycle.Cycle{
		Times:    []float64{0, 100},
		Currents: []float64{30, 30},
	}
	s := newSim(t, "thevenin", WithInitialSOC(0.0))
	sol, err := s.RunDriveCycle(context.Background(), cycle)
	if err != nil {
		t.Fatalf("RunDriveCycle failed: %v", err)
	}
	if sol.Len() != 1 {
		t.Errorf("Len() = %d, want 1", sol.Len())
	}
	if sol.Termination != TermVoltageLimit {
		t.Errorf("Termination = %q, want %q", sol.Termination, TermVoltageLimit)
	}
}

func TestRunExperimentCCCV(t *testing.T) {
	exp, err := experiment.Parse([]string{
		"Charge at 1C until 4.1 V",
		"Hold at 4.1 V until 250 mA",
		"Rest for 10 minutes",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for _, model := range []string{"thevenin", "spm"} {
		t.Run(model, func(t *testing.T) {
			s := newSim(t, model, WithInitialSOC(0.2))
			sol, err := s.RunExperiment(context.Background(), exp)
			if err != nil {
				t.Fatalf("RunExperiment failed: %v", err)
			}
			if len(sol.Steps) != 3 {
				t.Fatalf("got %d step annotations, want 3", len(sol.Steps))
			}
			last := sol.Last()
			if last.SOC <= 0.2 {
				t.Errorf("charge did not raise SOC: %g", last.SOC)
			}
			if math.Abs(last.Current) > 1e-6 {
				t.Errorf("cell not at rest after rest step: I = %g", last.Current)
			}
			// After the CV phase and a rest, the cell should sit near
			// the hold voltage.
			if math.Abs(last.Voltage-4.1) > 0.05 {
				t.Errorf("final rest voltage %g, want about 4.1", last.Voltage)
			}
			// Step annotations must tile the full time span.
			if sol.Steps[0].StartTime != 0 {
				t.Errorf("first step starts at %g", sol.Steps[0].StartTime)
			}
			for i := 1; i < len(sol.Steps); i++ {
				if sol.Steps[i].StartTime != sol.Steps[i-1].EndTime {
					t.Errorf("step %d does not start where step %d ends", i, i-1)
				}
			}
		})
	}
}

func TestExperimentRestPreservesSOC(t *testing.T) {
	exp, err := experiment.Parse([]string{"Rest for 30 minutes"})
	if err != nil {
		t.Fatal(err)
	}
	s := newSim(t, "spm", WithInitialSOC(0.6))
	sol, err := s.RunExperiment(context.Background(), exp)
	if err != nil {
		t.Fatalf("RunExperiment failed: %v", err)
	}
	if got := sol.Last().SOC; math.Abs(got-0.6) > 1e-6 {
		t.Errorf("SOC drifted during rest: %g", got)
	}
}

func TestExperimentTripsVoltageLimit(t *testing.T) {
	// A timed deep discharge runs into VMin before its duration elapses.
	exp, err := experiment.Parse([]string{"Discharge at 2C for 5 hours"})
	if err != nil {
		t.Fatal(err)
	}
	s := newSim(t, "thevenin")
	sol, err := s.RunExperiment(context.Background(), exp)
	if !errors.Is(err, ErrVoltageLimit) {
		t.Fatalf("expected ErrVoltageLimit, got %v", err)
	}
	if sol == nil || sol.Len() == 0 {
		t.Fatal("expected a partial solution")
	}
	if sol.Termination != TermVoltageLimit {
		t.Errorf("Termination = %q", sol.Termination)
	}
}

// stiffCell reports a terminal voltage that ignores the applied current,
// so no current can pull it to a hold voltage away from 3.7 V.
type stiffCell struct{}

func (stiffCell) Name() string          { return "stiff" }
func (stiffCell) StateLen() int         { return 2 }
func (stiffCell) StateLabels() []string { return []string{"soc", "temperature"} }
func (stiffCell) Initial(p *parameters.Parameters, soc float64) []float64 {
	return []float64{soc, p.AmbientTemp}
}
func (stiffCell) Derivatives(_ float64, _ []float64, current float64, p *parameters.Parameters, dydt []float64) {
	dydt[0] = -current / (3600 * p.CapacityAh)
	dydt[1] = 0
}
func (stiffCell) Outputs(y []float64, current float64, _ *parameters.Parameters) battery.Outputs {
	return battery.Outputs{Voltage: 3.7, OCV: 3.7, Current: current, SOC: y[0], Temperature: y[1]}
}
func (stiffCell) SOC(y []float64, _ *parameters.Parameters) float64 { return y[0] }

func TestHoldUnreachableFailsStep(t *testing.T) {
	exp, err := experiment.Parse([]string{"Hold at 4.1 V until C/50"})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(stiffCell{}, parameters.NMC())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sol, err := s.RunExperiment(context.Background(), exp)
	if err == nil {
		t.Fatal("expected an error for an unreachable hold voltage")
	}
	if !strings.Contains(err.Error(), "cannot bracket") {
		t.Errorf("error does not surface the bracket failure: %v", err)
	}
	if sol == nil {
		t.Fatal("expected a partial solution")
	}
	if sol.Termination != TermHoldFailed {
		t.Errorf("Termination = %q, want %q", sol.Termination, TermHoldFailed)
	}
}

func TestStartFromSameModelCopiesState(t *testing.T) {
	s := newSim(t, "thevenin", WithInitialSOC(0.9))
	sol, err := s.RunConstantCurrent(context.Background(), 5, 600)
	if err != nil {
		t.Fatalf("RunConstantCurrent failed: %v", err)
	}
	_, final := sol.Final()

	s2 := newSim(t, "thevenin")
	if err := s2.StartFrom(sol); err != nil {
		t.Fatalf("StartFrom failed: %v", err)
	}
	for i := range final {
		if s2.y0[i] != final[i] {
			t.Errorf("state %d: got %g, want %g", i, s2.y0[i], final[i])
		}
	}
}

func TestStartFromEmptySolution(t *testing.T) {
	s := newSim(t, "thevenin")
	if err := s.StartFrom(&solution.Solution{}); err == nil {
		t.Fatal("expected error for empty solution")
	}
}

func TestStartFromSOCValidates(t *testing.T) {
	s := newSim(t, "thevenin")
	if err := s.StartFromSOC(1.5); err == nil {
		t.Fatal("expected error for SOC above 1")
	}
	if err := s.StartFromSOC(0.5); err != nil {
		t.Fatalf("StartFromSOC(0.5) failed: %v", err)
	}
}

// TestReinitializedDischargeMatches charges a detailed and a reduced model
// to the same charged state, hands both solutions to fresh discharge
// simulations, and checks the discharge trajectories agree.
func TestReinitializedDischargeMatches(t *testing.T) {
	charge, err := experiment.Parse([]string{
		"Charge at 1C until 4.1 V",
		"Hold at 4.1 V until C/50",
		"Rest for 30 minutes",
	})
	if err != nil {
		t.Fatal(err)
	}

	detailed := newSim(t, "spm", WithInitialSOC(0.3))
	solDetailed, err := detailed.RunExperiment(context.Background(), charge)
	if err != nil {
		t.Fatalf("detailed charge failed: %v", err)
	}
	reduced := newSim(t, "thevenin", WithInitialSOC(0.3))
	solReduced, err := reduced.RunExperiment(context.Background(), charge)
	if err != nil {
		t.Fatalf("reduced charge failed: %v", err)
	}

	// Both protocols must end at essentially the same state of charge.
	if d := math.Abs(solDetailed.Last().SOC - solReduced.Last().SOC); d > 0.02 {
		t.Fatalf("charged SOC differs by %g between models", d)
	}

	cycle := &drivecycle.Cycle{
		Times:    []float64{0, 300, 600, 900, 1200},
		Currents: []float64{5, 2, 8, 1, 4},
	}
	run := func(from *solution.Solution) *solution.Solution {
		s := newSim(t, "thevenin")
		if err := s.StartFrom(from); err != nil {
			t.Fatalf("StartFrom failed: %v", err)
		}
		sol, err := s.RunDriveCycle(context.Background(), cycle)
		if err != nil {
			t.Fatalf("RunDriveCycle failed: %v", err)
		}
		return sol
	}
	a := run(solDetailed)
	b := run(solReduced)

	for _, tm := range []float64{0, 100, 400, 800, 1200} {
		sa, err := a.At(tm)
		if err != nil {
			t.Fatal(err)
		}
		sb, err := b.At(tm)
		if err != nil {
			t.Fatal(err)
		}
		if d := math.Abs(sa.Voltage - sb.Voltage); d > 0.03 {
			t.Errorf("t=%g: voltages differ by %g V", tm, d)
		}
		if d := math.Abs(sa.SOC - sb.SOC); d > 0.02 {
			t.Errorf("t=%g: SOC differs by %g", tm, d)
		}
	}
}

func TestContextCancellationReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newSim(t, "spm")
	sol, err := s.RunConstantCurrent(ctx, 5, 3600)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sol == nil || sol.Len() == 0 {
		t.Error("expected at least the initial sample")
	}
}
