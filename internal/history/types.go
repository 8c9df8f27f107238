package history

import "time"

// Outcome is the terminal state of a deploy run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
)

// CommandEntry is one external command executed during a run.
type CommandEntry struct {
	Phase    string        `json:"phase"`
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
}

// Entry is the persisted summary of one webhook delivery.
type Entry struct {
	ID         string         `json:"id"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Event      string         `json:"event,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Stage      string         `json:"stage"`
	Reason     string         `json:"reason,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Commands   []CommandEntry `json:"commands,omitempty"`
}

// Duration is the wall time the run took.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
