package types

import (
	"time"

	"github.com/cellsim/cellsim/pkg/drivecycle"
)

// Job lifecycle states.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCanceled  = "canceled"
)

// TerminalState reports whether a job in this state can still change.
func TerminalState(s string) bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// SolverSpec overrides individual solver tolerances for one job.
type SolverSpec struct {
	RTol    *float64 `json:"rtol,omitempty"`
	ATol    *float64 `json:"atol,omitempty"`
	MaxStep *float64 `json:"maxStep,omitempty"`
}

// JobSpec describes one simulation job. Exactly one of Experiment and
// DriveCycle must be set.
// This struct is shared between the server and client packages.
type JobSpec struct {
	Model        string            `json:"model,omitempty"`
	ParameterSet string            `json:"parameterSet,omitempty"`
	InitialSOC   *float64          `json:"initialSOC,omitempty"`
	Experiment   []string          `json:"experiment,omitempty"`
	DriveCycle   *drivecycle.Cycle `json:"driveCycle,omitempty"`
	Solver       *SolverSpec       `json:"solver,omitempty"`
}

// Job is the wire view of a queued or finished simulation run. The
// solution is served by its own endpoint.
type Job struct {
	ID          string    `json:"id"`
	Spec        JobSpec   `json:"spec"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}
