package client_test

import (
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cellsim/cellsim/pkg/client"
	"github.com/cellsim/cellsim/pkg/config"
	"github.com/cellsim/cellsim/pkg/server"
	"github.com/cellsim/cellsim/pkg/types"
)

func newTestPair(t *testing.T) *client.Client {
	t.Helper()
	conf, err := config.NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	s, err := server.New(conf)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(s.Close)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return client.NewClient(ts.URL)
}

func TestGetVersionAndParameterSets(t *testing.T) {
	c := newTestPair(t)

	if _, err := c.GetVersion(); err != nil {
		t.Errorf("GetVersion: %v", err)
	}

	sets, err := c.GetParameterSets()
	if err != nil {
		t.Fatalf("GetParameterSets: %v", err)
	}
	if len(sets) == 0 {
		t.Error("no parameter sets returned")
	}
}

func TestJobRoundTrip(t *testing.T) {
	c := newTestPair(t)

	j, err := c.SubmitJob(types.JobSpec{
		Model:      "thevenin",
		Experiment: []string{"Rest for 5 seconds"},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		got, err := c.GetJob(j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.State == types.StateSucceeded {
			break
		}
		if types.TerminalState(got.State) {
			t.Fatalf("job reached %q: %s", got.State, got.Error)
		}
		if time.Now().After(deadline) {
			t.Fatal("job never finished")
		}
		time.Sleep(50 * time.Millisecond)
	}

	sol, err := c.GetJobSolution(j.ID)
	if err != nil {
		t.Fatalf("GetJobSolution: %v", err)
	}
	if sol.Len() == 0 {
		t.Error("empty solution")
	}

	jobs, err := c.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != j.ID {
		t.Errorf("ListJobs = %+v", jobs)
	}

	action, err := c.DeleteJob(j.ID)
	if err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if action != "deleted" {
		t.Errorf("DeleteJob action = %q, want deleted", action)
	}
}

func TestNotFoundSentinel(t *testing.T) {
	c := newTestPair(t)
	_, err := c.GetJob("nope")
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
	// The sentinel survives wrapping.
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("error %v does not wrap ErrNotFound", err)
	}
}

func TestServerNotRunning(t *testing.T) {
	// Nothing listens on this port.
	c := client.NewClient("127.0.0.1:1")
	if _, err := c.GetVersion(); err == nil {
		t.Error("expected error against a dead server")
	}
}

func TestSetSolverConfigRoundTrip(t *testing.T) {
	c := newTestPair(t)

	rtol := 1e-5
	if _, err := c.SetSolverConfig(types.SolverSpec{RTol: &rtol}); err != nil {
		t.Fatalf("SetSolverConfig: %v", err)
	}

	conf, err := c.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if conf.SolverRTol == nil || *conf.SolverRTol != rtol {
		t.Errorf("SolverRTol = %+v, want %g", conf.SolverRTol, rtol)
	}
}
