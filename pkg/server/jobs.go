package server

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/pkg/battery"
	"github.com/cellsim/cellsim/pkg/events"
	"github.com/cellsim/cellsim/pkg/experiment"
	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/simulation"
	"github.com/cellsim/cellsim/pkg/solution"
	"github.com/cellsim/cellsim/pkg/solver"
	"github.com/cellsim/cellsim/pkg/types"
)

func validateSpec(s *types.JobSpec) error {
	hasExp := len(s.Experiment) > 0
	hasCycle := s.DriveCycle != nil
	if hasExp == hasCycle {
		return pkgerrors.New("job must carry exactly one of experiment and driveCycle")
	}
	if hasExp {
		if _, err := experiment.Parse(s.Experiment); err != nil {
			return err
		}
	}
	if hasCycle {
		if err := s.DriveCycle.Validate(); err != nil {
			return err
		}
	}
	if s.InitialSOC != nil && (*s.InitialSOC < 0 || *s.InitialSOC > 1) {
		return pkgerrors.Errorf("initialSOC must be in [0, 1], got %g", *s.InitialSOC)
	}
	if _, err := battery.New(s.Model); err != nil {
		return err
	}
	if s.ParameterSet != "" {
		if _, err := parameters.Get(s.ParameterSet); err != nil {
			return err
		}
	}
	return nil
}

// job is a stored job: the wire view plus the run's solution and its
// cancel handle.
type job struct {
	types.Job

	solution *solution.Solution
	cancel   context.CancelFunc
}

// jobStore is an in-memory job registry with a bounded history. Oldest
// terminal jobs are evicted first; live jobs are never evicted.
type jobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*job
	order []string // submission order
	limit int
}

func newJobStore(limit int) *jobStore {
	if limit < 1 {
		limit = 1
	}
	return &jobStore{
		jobs:  make(map[string]*job),
		limit: limit,
	}
}

func (st *jobStore) add(j *job) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.jobs[j.ID] = j
	st.order = append(st.order, j.ID)
	st.evictLocked()
}

func (st *jobStore) evictLocked() {
	for len(st.order) > st.limit {
		evicted := false
		for i, id := range st.order {
			if types.TerminalState(st.jobs[id].State) {
				delete(st.jobs, id)
				st.order = append(st.order[:i], st.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			// Everything left is live; keep them all.
			return
		}
	}
}

func (st *jobStore) get(id string) (*job, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	j, ok := st.jobs[id]
	return j, ok
}

func (st *jobStore) list() []*job {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*job, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.jobs[id])
	}
	return out
}

// snapshot copies the wire view under the lock so handlers can marshal
// without racing the runner.
func (st *jobStore) snapshot(id string) (types.Job, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	j, ok := st.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return j.Job, true
}

func (st *jobStore) snapshotAll() []types.Job {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]types.Job, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.jobs[id].Job)
	}
	return out
}

func (st *jobStore) solutionOf(id string) (*solution.Solution, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	j, ok := st.jobs[id]
	if !ok || j.solution == nil {
		return nil, false
	}
	return j.solution, true
}

// transition moves a job between states, rejecting changes out of a
// terminal state, and publishes the job.phase event.
func (st *jobStore) transition(hub *events.EventHub, id, to, message string) bool {
	st.mu.Lock()
	j, ok := st.jobs[id]
	if !ok || types.TerminalState(j.State) {
		st.mu.Unlock()
		return false
	}
	from := j.State
	j.State = to
	switch to {
	case types.StateRunning:
		j.StartedAt = time.Now()
	case types.StateSucceeded, types.StateFailed, types.StateCanceled:
		j.FinishedAt = time.Now()
	}
	if to == types.StateFailed {
		j.Error = message
	}
	st.mu.Unlock()

	hub.Publish(events.JobPhase, events.JobPhaseEvent{
		JobID:   id,
		From:    from,
		To:      to,
		Message: message,
		Ts:      time.Now().Unix(),
	})
	return true
}

// submit registers a job and schedules it on the worker pool.
func (s *Server) submit(spec types.JobSpec) (*job, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to generate job id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		Job: types.Job{
			ID:          id.String(),
			Spec:        spec,
			State:       types.StateQueued,
			SubmittedAt: time.Now(),
		},
		cancel: cancel,
	}
	s.jobs.add(j)

	if err := s.pool.Submit(func() { s.runJob(ctx, j.ID, spec) }); err != nil {
		s.jobs.transition(s.hub, j.ID, types.StateFailed, err.Error())
		cancel()
		return nil, pkgerrors.Wrap(err, "failed to schedule job")
	}
	return j, nil
}

func (s *Server) runJob(ctx context.Context, id string, spec types.JobSpec) {
	if !s.jobs.transition(s.hub, id, types.StateRunning, "") {
		// Canceled while still queued.
		return
	}
	logrus.WithField("job", id).Info("job started")

	sol, err := s.execute(ctx, id, spec)

	// Keep whatever partial solution the run produced.
	if sol != nil {
		s.jobs.mu.Lock()
		if j, ok := s.jobs.jobs[id]; ok {
			j.solution = sol
		}
		s.jobs.mu.Unlock()
	}

	switch {
	case err == nil:
		s.jobs.transition(s.hub, id, types.StateSucceeded, "")
		logrus.WithField("job", id).Info("job succeeded")
	case pkgerrors.Is(err, context.Canceled):
		s.jobs.transition(s.hub, id, types.StateCanceled, "canceled")
		logrus.WithField("job", id).Info("job canceled")
	default:
		s.jobs.transition(s.hub, id, types.StateFailed, err.Error())
		logrus.WithField("job", id).WithError(err).Error("job failed")
	}
}

func (s *Server) execute(ctx context.Context, id string, spec types.JobSpec) (*solution.Solution, error) {
	model, err := battery.New(spec.Model)
	if err != nil {
		return nil, err
	}

	setName := spec.ParameterSet
	if setName == "" {
		setName = s.conf.DefaultParameterSet()
	}
	params, err := parameters.Get(setName)
	if err != nil {
		return nil, err
	}

	opts := []simulation.Option{
		simulation.WithSolverOptions(s.solverOptions(spec.Solver)),
		simulation.WithStepHook(func(index int, step experiment.Step, t float64) {
			s.hub.Publish(events.JobProgress, events.JobProgressEvent{
				JobID:    id,
				Step:     index,
				StepText: step.String(),
				Time:     t,
				Ts:       time.Now().Unix(),
			})
		}),
	}
	if spec.InitialSOC != nil {
		opts = append(opts, simulation.WithInitialSOC(*spec.InitialSOC))
	}
	sim, err := simulation.New(model, params, opts...)
	if err != nil {
		return nil, err
	}

	if spec.DriveCycle != nil {
		return sim.RunDriveCycle(ctx, spec.DriveCycle)
	}
	exp, err := experiment.Parse(spec.Experiment)
	if err != nil {
		return nil, err
	}
	return sim.RunExperiment(ctx, exp)
}

// solverOptions starts from the configured defaults and applies the
// per-job overrides.
func (s *Server) solverOptions(spec *types.SolverSpec) solver.Options {
	o := solver.DefaultOptions()
	o.RTol = s.conf.SolverRTol()
	o.ATol = s.conf.SolverATol()
	o.MaxStep = s.conf.SolverMaxStep()
	if spec == nil {
		return o
	}
	if spec.RTol != nil {
		o.RTol = *spec.RTol
	}
	if spec.ATol != nil {
		o.ATol = *spec.ATol
	}
	if spec.MaxStep != nil {
		o.MaxStep = *spec.MaxStep
	}
	return o
}

// cancelJob cancels a queued or running job. Deleting a terminal job
// removes it from the store instead.
func (s *Server) cancelJob(id string) (string, bool) {
	j, ok := s.jobs.get(id)
	if !ok {
		return "", false
	}

	s.jobs.mu.Lock()
	state := j.State
	if state == types.StateQueued {
		// The pool may never run it; mark canceled here.
		j.State = types.StateCanceled
		j.FinishedAt = time.Now()
	}
	s.jobs.mu.Unlock()

	switch state {
	case types.StateQueued:
		if j.cancel != nil {
			j.cancel()
		}
		s.hub.Publish(events.JobPhase, events.JobPhaseEvent{
			JobID: id, From: types.StateQueued, To: types.StateCanceled, Ts: time.Now().Unix(),
		})
		return "canceled", true
	case types.StateRunning:
		if j.cancel != nil {
			j.cancel()
		}
		return "canceling", true
	default:
		s.jobs.mu.Lock()
		delete(s.jobs.jobs, id)
		for i, jid := range s.jobs.order {
			if jid == id {
				s.jobs.order = append(s.jobs.order[:i], s.jobs.order[i+1:]...)
				break
			}
		}
		s.jobs.mu.Unlock()
		return "deleted", true
	}
}
