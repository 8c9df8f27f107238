package pipeline

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/githubdeploy/internal/config"
	"github.com/mattjoyce/githubdeploy/internal/lock"
	"github.com/mattjoyce/githubdeploy/internal/runner"
)

// FileConfigLoader reads the manifest from disk with config.Load.
type FileConfigLoader struct{}

func (FileConfigLoader) Load(path string) (*config.Config, error) {
	return config.Load(path)
}

// ProcessRunnerFactory builds runner.Runner instances from the manifest.
type ProcessRunnerFactory struct{}

func (ProcessRunnerFactory) NewRunner(cfg *config.Config, logPath string, logger *slog.Logger) CommandRunner {
	return runner.New(cfg.BashPath, logPath, cfg.CommandTimeoutDur, logger)
}

// FileLocker takes the flock(2) run lock.
type FileLocker struct{}

func (FileLocker) Acquire(ctx context.Context, path string) (Releaser, error) {
	l, err := lock.AcquireRunLock(ctx, path)
	if err != nil {
		return nil, err
	}
	return l, nil
}
