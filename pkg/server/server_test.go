package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cellsim/cellsim/pkg/config"
	"github.com/cellsim/cellsim/pkg/drivecycle"
	"github.com/cellsim/cellsim/pkg/solution"
	"github.com/cellsim/cellsim/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	conf, err := config.NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	s, err := New(conf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, s.setupRoutes()
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitForState(t *testing.T, router *gin.Engine, id string, want string) types.Job {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, router, http.MethodGet, "/jobs/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET /jobs/%s = %d: %s", id, w.Code, w.Body.String())
		}
		var j types.Job
		if err := json.Unmarshal(w.Body.Bytes(), &j); err != nil {
			t.Fatalf("unmarshal job: %v", err)
		}
		if j.State == want {
			return j
		}
		if types.TerminalState(j.State) {
			t.Fatalf("job reached %q (error %q), want %q", j.State, j.Error, want)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s never reached state %q", id, want)
	return types.Job{}
}

func TestVersionAndParameterSets(t *testing.T) {
	_, router := newTestServer(t)

	if w := doJSON(t, router, http.MethodGet, "/version", ""); w.Code != http.StatusOK {
		t.Errorf("GET /version = %d", w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/parameter-sets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /parameter-sets = %d", w.Code)
	}
	var sets []string
	if err := json.Unmarshal(w.Body.Bytes(), &sets); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	found := false
	for _, s := range sets {
		if s == "nmc-graphite-5ah" {
			found = true
		}
	}
	if !found {
		t.Errorf("parameter sets %v do not include the default", sets)
	}
}

func TestJobLifecycle(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/jobs",
		`{"model":"thevenin","experiment":["Rest for 5 seconds"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /jobs = %d: %s", w.Code, w.Body.String())
	}
	var j types.Job
	if err := json.Unmarshal(w.Body.Bytes(), &j); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if j.ID == "" {
		t.Fatalf("job has no id: %+v", j)
	}

	done := waitForState(t, router, j.ID, types.StateSucceeded)
	if done.Error != "" {
		t.Errorf("succeeded job carries error %q", done.Error)
	}

	w = doJSON(t, router, http.MethodGet, "/jobs/"+j.ID+"/solution", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET solution = %d: %s", w.Code, w.Body.String())
	}
	sol, err := solution.Load(w.Body)
	if err != nil {
		t.Fatalf("Load solution: %v", err)
	}
	if sol.Len() == 0 || sol.Model != "thevenin" {
		t.Errorf("solution = model %q with %d samples", sol.Model, sol.Len())
	}

	// Terminal jobs are removed by DELETE.
	w = doJSON(t, router, http.MethodDelete, "/jobs/"+j.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE = %d: %s", w.Code, w.Body.String())
	}
	if w = doJSON(t, router, http.MethodGet, "/jobs/"+j.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", w.Code)
	}
}

func TestDriveCycleJob(t *testing.T) {
	_, router := newTestServer(t)

	spec := types.JobSpec{
		Model: "thevenin",
		DriveCycle: &drivecycle.Cycle{
			Name:     "pulse",
			Times:    []float64{0, 5, 10},
			Currents: []float64{1, 2, 0},
		},
	}
	b, _ := json.Marshal(spec)
	w := doJSON(t, router, http.MethodPost, "/jobs", string(b))
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /jobs = %d: %s", w.Code, w.Body.String())
	}
	var j types.Job
	if err := json.Unmarshal(w.Body.Bytes(), &j); err != nil {
		t.Fatal(err)
	}
	waitForState(t, router, j.ID, types.StateSucceeded)
}

func TestPostJobRejectsBadSpecs(t *testing.T) {
	_, router := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"neither experiment nor cycle", `{"model":"thevenin"}`},
		{"both experiment and cycle", `{"experiment":["Rest for 1 min"],"driveCycle":{"times":[0,1],"currents":[0,0]}}`},
		{"bad experiment", `{"experiment":["Frobnicate at 1C"]}`},
		{"unknown model", `{"model":"p4d","experiment":["Rest for 1 min"]}`},
		{"unknown parameter set", `{"parameterSet":"unobtainium","experiment":["Rest for 1 min"]}`},
		{"soc out of range", `{"initialSOC":1.5,"experiment":["Rest for 1 min"]}`},
		{"decreasing cycle times", `{"driveCycle":{"times":[0,2,1],"currents":[0,0,0]}}`},
		{"not json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := doJSON(t, router, http.MethodPost, "/jobs", tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("POST = %d, want 400 (%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetUnknownJob(t *testing.T) {
	_, router := newTestServer(t)
	if w := doJSON(t, router, http.MethodGet, "/jobs/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodDelete, "/jobs/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("DELETE = %d, want 404", w.Code)
	}
}

func TestSolutionBeforeCompletion(t *testing.T) {
	s, router := newTestServer(t)

	// A queued job with no solution yet.
	s.jobs.add(&job{Job: types.Job{ID: "manual", State: types.StateQueued, SubmittedAt: time.Now()}})

	w := doJSON(t, router, http.MethodGet, "/jobs/manual/solution", "")
	if w.Code != http.StatusConflict {
		t.Errorf("GET solution = %d, want 409", w.Code)
	}
}

func TestSetSolverConfig(t *testing.T) {
	s, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPut, "/config/solver", `{"rtol":1e-4,"maxStep":5}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("PUT /config/solver = %d: %s", w.Code, w.Body.String())
	}
	if got := s.conf.SolverRTol(); got != 1e-4 {
		t.Errorf("SolverRTol = %g, want 1e-4", got)
	}
	if got := s.conf.SolverMaxStep(); got != 5 {
		t.Errorf("SolverMaxStep = %g, want 5", got)
	}
	// Untouched field keeps its default.
	if got := s.conf.SolverATol(); got != 1e-8 {
		t.Errorf("SolverATol = %g, want 1e-8", got)
	}

	if w := doJSON(t, router, http.MethodPut, "/config/solver", `{"rtol":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("PUT negative rtol = %d, want 400", w.Code)
	}
}

func TestJobStoreEviction(t *testing.T) {
	st := newJobStore(2)
	st.add(&job{Job: types.Job{ID: "a", State: types.StateSucceeded}})
	st.add(&job{Job: types.Job{ID: "b", State: types.StateRunning}})
	st.add(&job{Job: types.Job{ID: "c", State: types.StateQueued}})

	if _, ok := st.get("a"); ok {
		t.Error("oldest terminal job not evicted")
	}
	if _, ok := st.get("b"); !ok {
		t.Error("live job evicted")
	}
	if _, ok := st.get("c"); !ok {
		t.Error("new job missing")
	}

	// All live: nothing to evict even over the cap.
	st.add(&job{Job: types.Job{ID: "d", State: types.StateRunning}})
	if got := len(st.list()); got != 3 {
		t.Errorf("store holds %d jobs, want 3 (live jobs never evicted)", got)
	}
}

func TestTransitionTerminalImmutable(t *testing.T) {
	s, _ := newTestServer(t)
	st := s.jobs
	st.add(&job{Job: types.Job{ID: "x", State: types.StateQueued}})

	if !st.transition(s.hub, "x", types.StateRunning, "") {
		t.Fatal("queued -> running rejected")
	}
	if !st.transition(s.hub, "x", types.StateFailed, "boom") {
		t.Fatal("running -> failed rejected")
	}
	if st.transition(s.hub, "x", types.StateSucceeded, "") {
		t.Error("terminal state was overwritten")
	}
	j, _ := st.snapshot("x")
	if j.State != types.StateFailed || j.Error != "boom" {
		t.Errorf("job = %q/%q, want failed/boom", j.State, j.Error)
	}
}
