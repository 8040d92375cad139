package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cellsim/cellsim/pkg/client"
)

var (
	logLevel   = "info"
	configPath = defaultConfigPath()
	serverAddr = "127.0.0.1:9277"
)

var (
	gSimulation   = "Simulation:"
	gServer       = "Server:"
	commandGroups = []string{
		gSimulation,
		gServer,
	}
)

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/cellsim/config.json"
	}
	return "cellsim.json"
}

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrServerNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: cellsim server is not running")
		fmt.Fprintln(os.Stderr, "Start one with 'cellsim serve', or point --server at a running instance")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cellsim",
		Short: "cellsim simulates lithium-ion cells under drive cycles and cycling experiments",
		Long: `cellsim simulates lithium-ion cells under drive cycles and cycling experiments.

It ships a single-particle model and a Thevenin equivalent-circuit model,
an experiment language ("Charge at 1C until 4.1 V"), drive-cycle playback
from CSV, plotting, and a job server for batch runs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&serverAddr, "server", serverAddr, "cellsim server address")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewRunCommand(),
		NewExperimentCommand(),
		NewSweepCommand(),
		NewPlotCommand(),
		NewServeCommand(),
		NewJobsCommand(),
		NewHostCommand(),
		NewVersionCommand(),
	)

	return cmd
}
