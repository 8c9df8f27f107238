// Package deploylog is the human-readable, append-only deploy log.
//
// It is separate from the process log in internal/log: operators read this
// file to find out why a delivery did or did not deploy, and external
// commands append their own output to it.
package deploylog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const rule = "---------------------------------------"

// Sink appends lines to the deploy log. A Sink with an empty path discards
// everything. Write failures never reach the caller.
type Sink struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	reported bool
}

// Open returns a Sink for path. It never fails: an empty path yields a
// discarding sink and unwritable paths are only noticed on Append.
func Open(path string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{path: path, logger: logger}
}

// Path returns the file the sink appends to, or "" when it discards.
func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Append writes text followed by a newline. It is a no-op for a discarding sink.
func (s *Sink) Append(text string) {
	if s == nil || s.path == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendLine(s.path, text); err != nil && !s.reported {
		// Only the first failure is reported to keep the process log readable.
		s.reported = true
		s.logger.Debug("deploy log write failed", "path", s.path, "error", err)
	}
}

// Appendf formats according to a format specifier and appends the result.
func (s *Sink) Appendf(format string, args ...any) {
	s.Append(fmt.Sprintf(format, args...))
}

func appendLine(path, text string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open deploy log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(text + "\n"); err != nil {
		return fmt.Errorf("write deploy log: %w", err)
	}
	return nil
}

// Banner builds the dashed section marker written at the start and end of a run.
func Banner(title string, t time.Time) string {
	return strings.Join([]string{
		rule,
		fmt.Sprintf("%s %s", title, t.Format(time.RFC1123Z)),
		rule,
	}, "\n")
}
