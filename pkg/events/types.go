package events

import "encoding/json"

// Event name constants
const (
	JobPhase    = "job.phase"
	JobProgress = "job.progress"
)

// Event is a generic SSE event from the server.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// JobPhaseEvent is the typed payload for job.phase. It is emitted every
// time a job moves between lifecycle states (queued, running, succeeded,
// failed, canceled).
type JobPhaseEvent struct {
	JobID   string `json:"jobId"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// JobProgressEvent is the typed payload for job.progress. Step counts the
// experiment step the run is currently in; for drive-cycle jobs it is 0.
type JobProgressEvent struct {
	JobID    string  `json:"jobId"`
	Step     int     `json:"step"`
	StepText string  `json:"stepText,omitempty"`
	Time     float64 `json:"time"`
	Ts       int64   `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.JobPhaseEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
