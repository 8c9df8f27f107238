// Package doctor checks that a loaded deployment manifest can actually run
// on this host: the interpreter and script exist, directories are usable and
// the webhook settings are sane.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/githubdeploy/internal/config"
)

// minSecretLength is the shortest payloadSecret accepted without a warning.
const minSecretLength = 16

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a manifest against the local host.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateExecutables(r)
	d.validateDirectories(r)
	d.validateCommands(r)
	d.validateExcludePatterns(r)
	d.warnWeakSecret(r)
	d.warnEventTypes(r)
	d.warnUnresolvedEnvVars(r)
	d.warnTimeouts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateExecutables checks the interpreter and deploy script.
func (d *Doctor) validateExecutables(r *Result) {
	info, err := os.Stat(d.cfg.BashPath)
	switch {
	case err != nil:
		d.addError(r, "executables", "bashPath", fmt.Sprintf("interpreter %q not found", d.cfg.BashPath))
	case info.IsDir() || info.Mode().Perm()&0o111 == 0:
		d.addError(r, "executables", "bashPath", fmt.Sprintf("interpreter %q is not executable", d.cfg.BashPath))
	}

	info, err = os.Stat(d.cfg.DeployScript)
	switch {
	case err != nil:
		d.addError(r, "executables", "deployScript", fmt.Sprintf("deploy script %q not found", d.cfg.DeployScript))
	case info.IsDir():
		d.addError(r, "executables", "deployScript", fmt.Sprintf("deploy script %q is a directory", d.cfg.DeployScript))
	}

	if _, err := os.Stat(d.cfg.GitPath); err != nil {
		d.addWarning(r, "executables", "gitPath", fmt.Sprintf("git %q not found on this host", d.cfg.GitPath))
	}
}

// validateDirectories checks the paths handed to the deploy script and the
// directories githubdeploy writes into.
func (d *Doctor) validateDirectories(r *Result) {
	for _, p := range []struct{ field, path string }{
		{"htdocsPath", d.cfg.HtdocsPath},
		{"mergerPath", d.cfg.MergerPath},
	} {
		if _, err := os.Stat(p.path); err != nil {
			d.addWarning(r, "directories", p.field, fmt.Sprintf("%q does not exist yet", p.path))
		}
	}

	info, err := os.Stat(d.cfg.WorkDir)
	if err != nil || !info.IsDir() {
		d.addError(r, "directories", "workDir", fmt.Sprintf("work directory %q is not a directory", d.cfg.WorkDir))
	}

	if d.cfg.LogPath == "" {
		d.addWarning(r, "directories", "logPath", "logPath is empty; deploy decisions and script output are discarded")
	}
}

func (d *Doctor) validateCommands(r *Result) {
	for _, phase := range []struct {
		field string
		cmds  []string
	}{
		{"preDeploy", d.cfg.PreDeploy},
		{"postDeploy", d.cfg.PostDeploy},
	} {
		for i, c := range phase.cmds {
			if strings.TrimSpace(c) == "" {
				d.addError(r, "commands", fmt.Sprintf("%s[%d]", phase.field, i), "command is empty")
			}
		}
	}
}

// validateExcludePatterns rejects patterns that would corrupt the
// one-pattern-per-line exclude file.
func (d *Doctor) validateExcludePatterns(r *Result) {
	for i, p := range d.cfg.ExcludeFiles {
		field := fmt.Sprintf("excludeFiles[%d]", i)
		if p == "" {
			d.addError(r, "exclude", field, "pattern is empty")
			continue
		}
		if strings.ContainsAny(p, "\r\n") {
			d.addError(r, "exclude", field, "pattern contains a line break")
		}
	}
}

func (d *Doctor) warnWeakSecret(r *Result) {
	if len(d.cfg.PayloadSecret) < minSecretLength {
		d.addWarning(r, "webhook", "payloadSecret",
			fmt.Sprintf("secret is shorter than %d characters", minSecretLength))
	}
}

func (d *Doctor) warnEventTypes(r *Result) {
	for i, ev := range d.cfg.EventTypes {
		if ev != "push" {
			d.addWarning(r, "webhook", fmt.Sprintf("eventTypes[%d]", i),
				fmt.Sprintf("event %q carries no branch ref; its deliveries are rejected as wrong branch", ev))
		}
	}
}

// warnUnresolvedEnvVars warns about ${VAR} references left after loading.
func (d *Doctor) warnUnresolvedEnvVars(r *Result) {
	fields := []struct{ name, value string }{
		{"gitPath", d.cfg.GitPath},
		{"bashPath", d.cfg.BashPath},
		{"htdocsPath", d.cfg.HtdocsPath},
		{"mergerPath", d.cfg.MergerPath},
		{"deployScript", d.cfg.DeployScript},
		{"deployBranch", d.cfg.DeployBranch},
		{"htdocsBranch", d.cfg.HtdocsBranch},
		{"logPath", d.cfg.LogPath},
	}
	for _, f := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(f.value, -1) {
			d.addWarning(r, "env_vars", f.name, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

func (d *Doctor) warnTimeouts(r *Result) {
	if d.cfg.CommandTimeoutDur == 0 {
		d.addWarning(r, "timeouts", "commandTimeout", "commandTimeout is 0; a hung script blocks every later delivery")
	}
	if d.cfg.DeployTrace && d.cfg.LogPath != "" {
		d.addWarning(r, "logging", "deployTrace",
			fmt.Sprintf("deployTrace writes every expanded script line to %s", filepath.Base(d.cfg.LogPath)))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Environment valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Environment valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Environment invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
	}

	return b.String()
}
