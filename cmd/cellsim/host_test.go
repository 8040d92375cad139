package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/distatus/battery"
	"github.com/spf13/cobra"
)

func TestPredictRuntimeDischargingPack(t *testing.T) {
	bat := &battery.Battery{
		State:      battery.Discharging,
		Current:    30000, // mWh
		Full:       60000,
		Voltage:    11.4,
		ChargeRate: 20000, // mW
	}
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	if err := predictRuntime(cmd, bat); err != nil {
		t.Fatalf("predictRuntime failed: %v", err)
	}
	if !strings.Contains(buf.String(), "predicted time to empty") {
		t.Errorf("missing prediction line in output: %q", buf.String())
	}
}

func TestPredictRuntimeRejectsUnknownPack(t *testing.T) {
	if err := predictRuntime(&cobra.Command{}, &battery.Battery{}); err == nil {
		t.Fatal("expected an error for a pack reporting no voltage")
	}
}
