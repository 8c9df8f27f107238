package pipeline

import (
	"time"

	"github.com/mattjoyce/githubdeploy/internal/history"
)

// Stage is the last point a run reached.
type Stage string

const (
	StageStart               Stage = "Start"
	StageConfigLoaded        Stage = "ConfigLoaded"
	StageAuthenticated       Stage = "Authenticated"
	StagePreScriptsDone      Stage = "PreScriptsDone"
	StageExcludeMaterialized Stage = "ExcludeMaterialized"
	StageDeployScriptDone    Stage = "DeployScriptDone"
	StagePostScriptsDone     Stage = "PostScriptsDone"
	StageCleanedUp           Stage = "CleanedUp"
	StageEnd                 Stage = "End"
)

// Reason is the machine readable cause of an aborted run.
type Reason string

const (
	ReasonConfig    Reason = "config_error"
	ReasonLock      Reason = "lock_error"
	ReasonExclude   Reason = "exclude_error"
	ReasonExecution Reason = "execution_error"
	ReasonPanic     Reason = "panic"
)

// Command phases.
const (
	PhasePre    = "pre"
	PhaseDeploy = "deploy"
	PhasePost   = "post"
)

// CommandResult is one external command the run executed.
type CommandResult struct {
	Phase    string
	Command  string
	ExitCode int
	Duration time.Duration
}

// Result describes one finished run.
type Result struct {
	RunID      string
	DeliveryID string
	Event      string
	Stage      Stage
	Outcome    history.Outcome
	Reason     Reason
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
	Commands   []CommandResult
}

// Succeeded reports whether every step ran.
func (r Result) Succeeded() bool { return r.Outcome == history.OutcomeSucceeded }

// Entry converts r into its history record.
func (r Result) Entry() history.Entry {
	e := history.Entry{
		ID:         r.RunID,
		DeliveryID: r.DeliveryID,
		Event:      r.Event,
		Outcome:    r.Outcome,
		Stage:      string(r.Stage),
		Reason:     string(r.Reason),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Err != nil {
		e.LastError = r.Err.Error()
	}
	for _, c := range r.Commands {
		e.Commands = append(e.Commands, history.CommandEntry{
			Phase:    c.Phase,
			Command:  c.Command,
			ExitCode: c.ExitCode,
			Duration: c.Duration,
		})
	}
	return e
}
