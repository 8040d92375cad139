package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cellsim/cellsim/pkg/server"
	"github.com/cellsim/cellsim/pkg/version"
)

func NewServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the cellsim job server in the foreground",
		GroupID: gServer,
		Long: `Run the cellsim job server in the foreground.

The server accepts simulation jobs over HTTP, runs them on a worker
pool, and streams job lifecycle events as SSE on /events. Send SIGHUP
to reload the config file.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("cellsim server starting")
			return server.Run(configPath, listenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default from config)")

	return cmd
}
