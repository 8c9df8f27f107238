// Package exclude materializes the list of path patterns the deploy script
// must skip, as a transient file owned by a single run.
package exclude

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrLineBreak rejects a pattern that would split into several exclude lines.
var ErrLineBreak = errors.New("exclude pattern contains a line break")

// Builder owns the exclude file of one run.
type Builder struct {
	path string

	mu      sync.Mutex
	created bool
}

// New returns a Builder whose file lives in dir and is named after runID,
// so concurrent runs never share a file.
func New(dir, runID string) *Builder {
	return &Builder{
		path: filepath.Join(dir, fmt.Sprintf("excludeFiles-%s.tmp", runID)),
	}
}

// Path is where the file is (or would be) written.
func (b *Builder) Path() string { return b.path }

// Materialize writes one pattern per line, in order, each terminated by a
// newline. With no patterns nothing is created and the returned path is "".
// A pattern containing a line break fails with ErrLineBreak before anything
// is written.
func (b *Builder) Materialize(patterns []string) (string, error) {
	if len(patterns) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for i, p := range patterns {
		if strings.ContainsAny(p, "\r\n") {
			return "", fmt.Errorf("%w: pattern %d", ErrLineBreak, i)
		}
		sb.WriteString(p)
		sb.WriteByte('\n')
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return "", fmt.Errorf("create exclude directory: %w", err)
	}
	// O_EXCL: a leftover file with this run's name means something else owns it.
	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create exclude file: %w", err)
	}
	b.created = true

	if _, err := f.WriteString(sb.String()); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write exclude file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close exclude file: %w", err)
	}

	return b.path, nil
}

// Dispose removes the file if this Builder created it and it still exists.
// It is safe to call any number of times.
func (b *Builder) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.created {
		return nil
	}
	b.created = false

	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove exclude file: %w", err)
	}
	return nil
}
