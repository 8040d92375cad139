package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/pkg/config"
	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/types"
	"github.com/cellsim/cellsim/pkg/version"
)

func (s *Server) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func (s *Server) getParameterSets(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, parameters.Builtin())
}

func (s *Server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

// solverConfig is the body of PUT /config/solver.
type solverConfig struct {
	RTol    *float64 `json:"rtol,omitempty"`
	ATol    *float64 `json:"atol,omitempty"`
	MaxStep *float64 `json:"maxStep,omitempty"`
}

func (s *Server) setSolverConfig(c *gin.Context) {
	var sc solverConfig
	if err := c.BindJSON(&sc); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	for name, v := range map[string]*float64{"rtol": sc.RTol, "atol": sc.ATol, "maxStep": sc.MaxStep} {
		if v != nil && *v <= 0 {
			err := fmt.Errorf("%s must be positive, got %g", name, *v)
			c.IndentedJSON(http.StatusBadRequest, err.Error())
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
	}

	if sc.RTol != nil {
		s.conf.SetSolverRTol(*sc.RTol)
	}
	if sc.ATol != nil {
		s.conf.SetSolverATol(*sc.ATol)
	}
	if sc.MaxStep != nil {
		s.conf.SetSolverMaxStep(*sc.MaxStep)
	}
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set solver config: rtol=%g atol=%g maxStep=%g",
		s.conf.SolverRTol(), s.conf.SolverATol(), s.conf.SolverMaxStep())

	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *Server) postJob(c *gin.Context) {
	var spec types.JobSpec
	if err := c.BindJSON(&spec); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	job, err := s.submit(spec)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	logrus.WithField("job", job.ID).Info("job submitted")

	snap, _ := s.jobs.snapshot(job.ID)
	c.IndentedJSON(http.StatusCreated, snap)
}

func (s *Server) listJobs(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.jobs.snapshotAll())
}

func (s *Server) getJob(c *gin.Context) {
	snap, ok := s.jobs.snapshot(c.Param("id"))
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "job not found")
		return
	}
	c.IndentedJSON(http.StatusOK, snap)
}

func (s *Server) getJobSolution(c *gin.Context) {
	id := c.Param("id")
	snap, ok := s.jobs.snapshot(id)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "job not found")
		return
	}

	sol, ok := s.jobs.solutionOf(id)
	if !ok {
		msg := fmt.Sprintf("job is %s and has no solution yet", snap.State)
		c.IndentedJSON(http.StatusConflict, msg)
		return
	}

	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	if err := sol.Save(c.Writer); err != nil {
		logrus.Errorf("failed to write solution: %v", err)
	}
}

func (s *Server) deleteJob(c *gin.Context) {
	id := c.Param("id")
	action, ok := s.cancelJob(id)
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "job not found")
		return
	}
	logrus.WithField("job", id).Infof("job %s", action)
	c.IndentedJSON(http.StatusOK, action)
}

// getEvents streams job lifecycle events as SSE until the client goes away.
func (s *Server) getEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
