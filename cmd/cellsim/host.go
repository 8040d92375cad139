package main

import (
	"context"
	"fmt"
	"time"

	"github.com/distatus/battery"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	batmodel "github.com/cellsim/cellsim/pkg/battery"
	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/simulation"
)

func NewHostCommand() *cobra.Command {
	var predict bool

	cmd := &cobra.Command{
		Use:     "host",
		Short:   "Read the host machine's battery",
		GroupID: gSimulation,
		Long: `Read the host machine's battery.

With --predict, builds an equivalent-circuit cell scaled to the host
pack, seeds it with the pack's current charge, and simulates the
present load to estimate time to empty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			batteries, err := battery.GetAll()
			if err != nil {
				return fmt.Errorf("failed to read host battery: %w", err)
			}
			if len(batteries) == 0 {
				return fmt.Errorf("no batteries found")
			}

			for i, bat := range batteries {
				soc := 0.0
				if bat.Full > 0 {
					soc = bat.Current / bat.Full
				}
				state := "idle"
				switch bat.State {
				case battery.Charging:
					state = color.GreenString("charging")
				case battery.Discharging:
					state = color.YellowString("discharging")
				case battery.Full:
					state = "full"
				case battery.Empty:
					state = color.RedString("empty")
				}
				cmd.Printf("battery %d: %s  charge %.0f%%  %.1f Wh of %.1f Wh  load %.1f W\n",
					i, state, soc*100, bat.Current/1000, bat.Full/1000, bat.ChargeRate/1000)

				if predict {
					if err := predictRuntime(cmd, bat); err != nil {
						return err
					}
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&predict, "predict", false, "simulate the current load to estimate time to empty")

	return cmd
}

// predictRuntime scales the default cell to the host pack and discharges
// it at the pack's present load.
func predictRuntime(cmd *cobra.Command, bat *battery.Battery) error {
	if bat.Voltage <= 0 || bat.Full <= 0 {
		return fmt.Errorf("host battery reports no voltage or capacity; cannot predict")
	}

	soc := bat.Current / bat.Full
	if soc <= 0 {
		cmd.Println("  pack is empty; nothing to predict")
		return nil
	}

	// Treat the pack as one big cell with the pack's energy at its own
	// nominal voltage.
	p := parameters.NMC()
	p.Name = "host-pack"
	p.CapacityAh = bat.Full / 1000 / bat.Voltage
	scale := p.CapacityAh / 5.0
	// Resistances shrink as capacity grows, like paralleling cells.
	p.R0 /= scale
	p.R1 /= scale
	p.R2 /= scale
	p.C1 *= scale
	p.C2 *= scale
	if err := p.Validate(); err != nil {
		return err
	}

	loadW := bat.ChargeRate / 1000
	if bat.State != battery.Discharging || loadW <= 0 {
		// Not discharging right now; assume a five-hour-rate load.
		loadW = -1
	}
	var current float64
	if loadW > 0 {
		current = loadW / bat.Voltage
	} else {
		current = p.CapacityAh / 5
		logrus.Info("pack is not discharging; assuming a C/5 load")
	}

	sim, err := simulation.New(batmodel.NewThevenin(), p,
		simulation.WithInitialSOC(clamp01(soc)),
	)
	if err != nil {
		return err
	}

	sol, err := sim.RunConstantCurrent(context.Background(), current, 72*3600)
	if err != nil {
		return err
	}

	tEmpty, _ := sol.Final()
	cmd.Printf("  predicted time to empty at %.2f A: %s (terminated on %s)\n",
		current, time.Duration(tEmpty*float64(time.Second)).Round(time.Minute), sol.Termination)
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
