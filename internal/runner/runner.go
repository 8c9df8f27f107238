// Package runner executes the external commands of a deploy.
//
// Commands are started from an argument vector, never from an interpolated
// string, so configuration values reach the child process unaltered. Both
// output streams are appended to the deploy log file. Only the exit status is
// reported back: a non-zero exit is a result, not an error.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
)

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const terminationGracePeriod = 5 * time.Second

// ErrTimeout is returned when a command outlives its timeout and is killed.
var ErrTimeout = errors.New("command timed out")

// ExecError reports a command that could not be started at all.
type ExecError struct {
	Command string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("cannot execute %s: %v", e.Command, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Status is the outcome of a command that ran.
type Status struct {
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited with status 0.
func (s Status) Success() bool { return s.ExitCode == 0 }

// Runner starts commands with their output appended to a log file.
type Runner struct {
	shell   string
	logPath string
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger
}

// New creates a Runner. shell runs the commands given to RunShell. An empty
// logPath discards command output. A zero timeout disables the time limit.
func New(shell, logPath string, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		shell:   shell,
		logPath: logPath,
		timeout: timeout,
		grace:   terminationGracePeriod,
		logger:  logger,
	}
}

// RunShell runs command as-is through the configured shell ("<shell> -c command").
func (r *Runner) RunShell(ctx context.Context, command string) (Status, error) {
	return r.Run(ctx, []string{r.shell, "-c", command})
}

// Run executes argv[0] with the remaining elements as its arguments and waits
// for it to exit, be killed on timeout, or be killed because ctx ended.
func (r *Runner) Run(ctx context.Context, argv []string) (Status, error) {
	if len(argv) == 0 || argv[0] == "" {
		return Status{}, &ExecError{Command: Quote(argv), Err: errors.New("empty command")}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	// Own process group so a timeout also reaches grandchildren of the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if r.logPath != "" {
		out, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return Status{}, &ExecError{Command: Quote(argv), Err: fmt.Errorf("open output log: %w", err)}
		}
		defer out.Close()
		cmd.Stdout = out
		cmd.Stderr = out
	}

	r.logger.Debug("starting command", "command", Quote(argv), "timeout", r.timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Status{}, &ExecError{Command: Quote(argv), Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-waitErr:
		status := Status{Duration: time.Since(start)}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return status, fmt.Errorf("wait for process: %w", err)
			}
			status.ExitCode = exitErr.ExitCode()
		}
		return status, nil

	case <-timeoutC:
		r.logger.Warn("command timed out, sending SIGTERM", "command", Quote(argv), "timeout", r.timeout)
		r.terminate(cmd, waitErr)
		return Status{ExitCode: -1, Duration: time.Since(start)}, ErrTimeout

	case <-ctx.Done():
		r.logger.Warn("command cancelled, sending SIGTERM", "command", Quote(argv))
		r.terminate(cmd, waitErr)
		return Status{ExitCode: -1, Duration: time.Since(start)}, ctx.Err()
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after the grace period.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		r.logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		r.logger.Info("command exited after SIGTERM")
	case <-grace.C:
		r.logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil {
			r.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr // Wait for process to die
	}
}

// Quote renders argv as a shell command line with every element escaped
// individually. It is used for logs only; commands never pass through it.
func Quote(argv []string) string {
	return shellquote.Join(argv...)
}
