package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/githubdeploy/internal/history"
	"github.com/mattjoyce/githubdeploy/internal/storage"
	"github.com/mattjoyce/githubdeploy/internal/webhook"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

const manifestJSON = `{
  "gitPath": "/usr/bin/git",
  "bashPath": "/bin/sh",
  "htdocsPath": "/srv/www",
  "mergerPath": "/srv/merger",
  "deployBranch": "release",
  "htdocsBranch": "gh-pages",
  "eventTypes": ["push"],
  "payloadSecret": "s3cr3t",
  "deployScript": "DEPLOY_SCRIPT"%s
}`

func manifestContent(dir, extra string) string {
	content := strings.Replace(manifestJSON, "DEPLOY_SCRIPT", filepath.Join(dir, "deploy.sh"), 1)
	return strings.Replace(content, "%s", extra, 1)
}

// writeManifest creates a manifest and its deploy script in a fresh directory.
func writeManifest(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "deploy.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte(manifestContent(dir, extra)), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigCheckValidManifest(t *testing.T) {
	path := writeManifest(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return run("config", []string{"check", "--config", path})
	})
	if code != 0 {
		t.Fatalf("config check code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"Integrity: unlocked", "payloadSecret", "127.0.0.1:8090", "WARN  [webhook] payloadSecret", "OK"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %s", want, stdout)
		}
	}
}

func TestConfigCheckStrictFailsOnWarnings(t *testing.T) {
	path := writeManifest(t, "")

	code, _, _ := captureOutputWithExitCode(t, func() int {
		return run("config", []string{"check", "--config", path, "--strict"})
	})
	if code != 2 {
		t.Fatalf("config check --strict code = %d, want 2", code)
	}
}

func TestConfigCheckMissingDeployScript(t *testing.T) {
	path := writeManifest(t, "")
	if err := os.Remove(filepath.Join(filepath.Dir(path), "deploy.sh")); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return run("config", []string{"check", "--config", path})
	})
	if code != 1 || !strings.Contains(stdout, "ERROR [executables] deployScript") {
		t.Fatalf("config check code = %d: %s", code, stdout)
	}
}

func TestConfigCheckMissingField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte(`{"gitPath": "/usr/bin/git"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return run("config", []string{"check", "--config", path, "--json"})
	})
	if code != 1 {
		t.Fatalf("config check code = %d, want 1", code)
	}

	var report checkReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, stdout)
	}
	if report.Valid {
		t.Fatal("report should be invalid")
	}
	if !strings.Contains(report.Error, "bashPath") {
		t.Fatalf("error should name the first missing field: %s", report.Error)
	}
}

func TestConfigLockThenCheckVerifies(t *testing.T) {
	path := writeManifest(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return run("config", []string{"lock", "--config", path, "-v"})
	})
	if code != 0 {
		t.Fatalf("config lock code = %d, stderr: %s", code, stderr)
	}
	if !regexp.MustCompile(`HASH manifest\.json: [a-f0-9]{64}`).MatchString(stdout) {
		t.Fatalf("stdout missing hash line: %s", stdout)
	}
	if !strings.Contains(stdout, "WROTE ") {
		t.Fatalf("stdout missing wrote line: %s", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return run("config", []string{"check", "--config", path})
	})
	if code != 0 || !strings.Contains(stdout, "Integrity: verified") {
		t.Fatalf("config check after lock code = %d: %s", code, stdout)
	}

	if err := os.WriteFile(path, []byte(manifestContent(filepath.Dir(path), `, "logPath": "/tmp/x.log"`)), 0o644); err != nil {
		t.Fatal(err)
	}
	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return run("config", []string{"check", "--config", path})
	})
	if code != 1 || !strings.Contains(stdout, "Integrity: mismatch") {
		t.Fatalf("tampered manifest should fail check, code = %d: %s", code, stdout)
	}
}

func TestConfigLockDryRun(t *testing.T) {
	path := writeManifest(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return run("config", []string{"lock", "--config", path, "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("config lock code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "DRY-RUN") {
		t.Fatalf("stdout missing dry-run line: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestSignFile(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/release"}`)
	file := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(file, body, 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return run("sign", []string{"--secret", "s3cr3t", "--file", file})
	})
	if code != 0 {
		t.Fatalf("sign code = %d, stderr: %s", code, stderr)
	}
	if got, want := strings.TrimSpace(stdout), webhook.Sign("s3cr3t", body); got != want {
		t.Fatalf("sign = %q, want %q", got, want)
	}
}

func TestSignRequiresSecret(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return run("sign", nil)
	})
	if code != 1 || !strings.Contains(stderr, "--secret is required") {
		t.Fatalf("sign without secret code = %d, stderr: %s", code, stderr)
	}
}

func TestRunsListPrune(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	path := writeManifest(t, `, "historyPath": "`+dbPath+`"`)

	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	start := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	err = history.NewStore(db).Record(context.Background(), history.Entry{
		ID:         "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Event:      "push",
		Outcome:    history.OutcomeAborted,
		Stage:      "ConfigLoaded",
		Reason:     "bad_signature",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	})
	_ = db.Close()
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return run("runs", []string{"list", "--config", path})
	})
	if code != 0 {
		t.Fatalf("runs list code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", "bad_signature", "2026-02-03T04:05:06Z"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %s", want, stdout)
		}
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return run("runs", []string{"list", "--config", path, "--json"})
	})
	var entries []history.Entry
	if code != 0 || json.Unmarshal([]byte(stdout), &entries) != nil || len(entries) != 1 {
		t.Fatalf("runs list --json code = %d: %s", code, stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return run("runs", []string{"prune", "--config", path, "--keep", "0"})
	})
	if code != 0 || !strings.Contains(stdout, "Deleted 1 run(s).") {
		t.Fatalf("runs prune code = %d: %s", code, stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return run("runs", []string{"list", "--config", path})
	})
	if code != 0 || !strings.Contains(stdout, "No runs recorded.") {
		t.Fatalf("runs list after prune code = %d: %s", code, stdout)
	}
}

func TestRunsListHistoryDisabled(t *testing.T) {
	path := writeManifest(t, "")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return run("runs", []string{"list", "--config", path})
	})
	if code != 1 || !strings.Contains(stderr, "run history is disabled") {
		t.Fatalf("runs list code = %d, stderr: %s", code, stderr)
	}
}

func TestNounHelp(t *testing.T) {
	cases := []struct {
		cmd  string
		args []string
		want string
	}{
		{cmd: "config", args: []string{"check", "--help"}, want: "Usage: githubdeploy config check"},
		{cmd: "config", args: []string{"help"}, want: "Usage: githubdeploy config <check|lock>"},
		{cmd: "runs", args: []string{"watch", "-h"}, want: "Usage: githubdeploy runs watch"},
		{cmd: "serve", args: []string{"--help"}, want: "Usage: githubdeploy serve"},
		{cmd: "help", want: "githubdeploy <noun> <action> [flags]"},
		{cmd: "version", want: "githubdeploy version " + version},
	}

	for _, tc := range cases {
		code, stdout, stderr := captureOutputWithExitCode(t, func() int {
			return run(tc.cmd, tc.args)
		})
		if code != 0 {
			t.Fatalf("%s %v code = %d, stderr: %s", tc.cmd, tc.args, code, stderr)
		}
		if !strings.Contains(stdout, tc.want) {
			t.Fatalf("%s %v stdout missing %q: %s", tc.cmd, tc.args, tc.want, stdout)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return run("deploy", nil)
	})
	if code != 1 || !strings.Contains(stderr, "Unknown command: deploy") {
		t.Fatalf("unknown command code = %d, stderr: %s", code, stderr)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return run("runs", []string{"delete"})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown runs action: delete") {
		t.Fatalf("unknown action code = %d, stderr: %s", code, stderr)
	}
}
