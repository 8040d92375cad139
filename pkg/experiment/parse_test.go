package experiment

import (
	"math"
	"strings"
	"testing"
)

func TestParseStep(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Step
		wantErr bool
	}{
		{
			name: "discharge at C-rate for duration",
			text: "Discharge at 1C for 1 hour",
			want: Step{Mode: ConstantCurrent, UseCRate: true, CRate: 1, Duration: 3600},
		},
		{
			name: "charge at fractional C-rate until voltage",
			text: "Charge at C/2 until 4.1 V",
			want: Step{Mode: ConstantCurrent, UseCRate: true, CRate: -0.5, VoltageCutoff: 4.1},
		},
		{
			name: "charge at decimal C-rate",
			text: "charge at 0.3C until 4.2V",
			want: Step{Mode: ConstantCurrent, UseCRate: true, CRate: -0.3, VoltageCutoff: 4.2},
		},
		{
			name: "discharge in amperes with both terminations",
			text: "Discharge at 2.5 A for 30 minutes or until 3.0 V",
			want: Step{Mode: ConstantCurrent, Current: 2.5, Duration: 1800, VoltageCutoff: 3.0},
		},
		{
			name: "charge in milliamperes",
			text: "Charge at 500 mA for 10 minutes",
			want: Step{Mode: ConstantCurrent, Current: -0.5, Duration: 600},
		},
		{
			name: "hold until current",
			text: "Hold at 4.1 V until 50 mA",
			want: Step{Mode: ConstantVoltage, HoldVoltage: 4.1, CurrentCutoff: 0.05},
		},
		{
			name: "hold until C-rate",
			text: "Hold at 4.1V until C/50",
			want: Step{Mode: ConstantVoltage, HoldVoltage: 4.1, CRateCutoff: 0.02},
		},
		{
			name: "hold for duration",
			text: "Hold at 3.65 V for 20 minutes",
			want: Step{Mode: ConstantVoltage, HoldVoltage: 3.65, Duration: 1200},
		},
		{
			name: "rest",
			text: "Rest for 10 minutes",
			want: Step{Mode: Rest, Duration: 600},
		},
		{
			name: "rest in hours",
			text: "rest for 1.5 hours",
			want: Step{Mode: Rest, Duration: 5400},
		},
		{name: "unknown verb", text: "Levitate at 1C", wantErr: true},
		{name: "missing at", text: "Discharge 1C for 1 hour", wantErr: true},
		{name: "rest without duration", text: "Rest", wantErr: true},
		{name: "hold without value", text: "Hold at until 50 mA", wantErr: true},
		{name: "voltage as rate", text: "Discharge at 3.0 V for 1 hour", wantErr: true},
		{name: "bad duration unit", text: "Rest for 10 fortnights", wantErr: true},
		{name: "trailing garbage", text: "Rest for 10 minutes quickly", wantErr: true},
		{name: "empty", text: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStep(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error parsing %q, got %+v", tt.text, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStep(%q) failed: %v", tt.text, err)
			}
			if got.Mode != tt.want.Mode {
				t.Errorf("Mode = %q, want %q", got.Mode, tt.want.Mode)
			}
			if got.UseCRate != tt.want.UseCRate {
				t.Errorf("UseCRate = %t, want %t", got.UseCRate, tt.want.UseCRate)
			}
			approx := func(name string, got, want float64) {
				if math.Abs(got-want) > 1e-12 {
					t.Errorf("%s = %g, want %g", name, got, want)
				}
			}
			approx("Current", got.Current, tt.want.Current)
			approx("CRate", got.CRate, tt.want.CRate)
			approx("HoldVoltage", got.HoldVoltage, tt.want.HoldVoltage)
			approx("Duration", got.Duration, tt.want.Duration)
			approx("VoltageCutoff", got.VoltageCutoff, tt.want.VoltageCutoff)
			approx("CurrentCutoff", got.CurrentCutoff, tt.want.CurrentCutoff)
			approx("CRateCutoff", got.CRateCutoff, tt.want.CRateCutoff)
		})
	}
}

func TestParseExperiment(t *testing.T) {
	e, err := Parse([]string{
		"Charge at 0.3C until 4.1 V",
		"Hold at 4.1 V until 50 mA",
		"Rest for 10 minutes",
		"Discharge at 1C until 3.0 V",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(e.Steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(e.Steps))
	}
	if e.Steps[0].Mode != ConstantCurrent || e.Steps[1].Mode != ConstantVoltage ||
		e.Steps[2].Mode != Rest || e.Steps[3].Mode != ConstantCurrent {
		t.Errorf("unexpected step modes: %+v", e.Steps)
	}
}

func TestParseEmptyExperiment(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("expected error for empty experiment")
	}
}

func TestParseReportsStepIndex(t *testing.T) {
	_, err := Parse([]string{"Rest for 1 minute", "Explode at 1C"})
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "step 2"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err.Error(), want)
	}
}

func TestStepStringCanonical(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"discharge at 1c for 1 hour", "Discharge at 1C for 1 hours"},
		{"charge at c/2 until 4.1v", "Charge at 0.5C until 4.1 V"},
		{"hold at 4.1 v until c/50", "Hold at 4.1 V until C/50"},
		{"rest for 10 minutes", "Rest for 10 minutes"},
	}
	for _, tt := range tests {
		s, err := ParseStep(tt.text)
		if err != nil {
			t.Fatalf("ParseStep(%q) failed: %v", tt.text, err)
		}
		if got := s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
