package pipeline

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/githubdeploy/internal/config"
	"github.com/mattjoyce/githubdeploy/internal/history"
	"github.com/mattjoyce/githubdeploy/internal/runner"
)

//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/mattjoyce/githubdeploy/internal/pipeline ConfigLoader,CommandRunner,RunnerFactory,Locker,Recorder

// ConfigLoader loads the deployment manifest for every run.
type ConfigLoader interface {
	Load(path string) (*config.Config, error)
}

// CommandRunner executes external commands; see runner.Runner.
type CommandRunner interface {
	RunShell(ctx context.Context, command string) (runner.Status, error)
	Run(ctx context.Context, argv []string) (runner.Status, error)
}

// RunnerFactory builds the CommandRunner for one run. logPath is where
// command output is appended; empty discards it.
type RunnerFactory interface {
	NewRunner(cfg *config.Config, logPath string, logger *slog.Logger) CommandRunner
}

// Releaser is a held lock.
type Releaser interface {
	Release() error
}

// Locker serializes runs.
type Locker interface {
	Acquire(ctx context.Context, path string) (Releaser, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}
