package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/pkg/config"
	"github.com/cellsim/cellsim/pkg/events"
	"github.com/cellsim/cellsim/pkg/types"
)

// Server runs simulation jobs over HTTP.
type Server struct {
	conf config.Config
	jobs *jobStore
	pool *ants.Pool
	hub  *events.EventHub
}

// New builds a server around an existing config.
func New(conf config.Config) (*Server, error) {
	pool, err := ants.NewPool(conf.PoolSize(), ants.WithNonblocking(false))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create worker pool")
	}
	return &Server{
		conf: conf,
		jobs: newJobStore(conf.JobHistoryLimit()),
		pool: pool,
		hub:  events.NewEventHub(),
	}, nil
}

// Close releases the worker pool.
func (s *Server) Close() {
	s.pool.Release()
}

// Handler returns the HTTP handler serving the job API.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/version", s.getVersion)
	router.GET("/parameter-sets", s.getParameterSets)
	router.GET("/config", s.getConfig)
	router.PUT("/config/solver", s.setSolverConfig)
	router.POST("/jobs", s.postJob)
	router.GET("/jobs", s.listJobs)
	router.GET("/jobs/:id", s.getJob)
	router.GET("/jobs/:id/solution", s.getJobSolution)
	router.DELETE("/jobs/:id", s.deleteJob)
	router.GET("/events", s.getEvents)

	return router
}

// Run serves the job API until SIGINT or SIGTERM. listenAddr overrides the
// configured address when non-empty.
func Run(configPath string, listenAddr string) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	s, err := New(conf)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Handler: s.setupRoutes(),
	}

	if listenAddr == "" {
		listenAddr = conf.ListenAddr()
	}
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", listenAddr)
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	// Cancel jobs that are still in flight so workers exit promptly.
	for _, j := range s.jobs.list() {
		if !types.TerminalState(j.State) && j.cancel != nil {
			j.cancel()
		}
	}

	logrus.Info("exiting")
	return nil
}
