package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() map[string]any {
	return map[string]any{
		"gitPath":       "/usr/bin/git",
		"bashPath":      "/bin/bash",
		"htdocsPath":    "/var/www/htdocs",
		"mergerPath":    "/var/www/merger",
		"deployBranch":  "release",
		"htdocsBranch":  "live",
		"eventTypes":    []string{"push"},
		"payloadSecret": "s3cr3t",
		"deployScript":  "/opt/deploy/deploy.sh",
	}
}

func writeJSON(t *testing.T, dir string, m map[string]any) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	m := validManifest()
	m["preDeploy"] = []string{"echo pre"}
	m["excludeFiles"] = []string{"*.log", "tmp/"}
	m["logPath"] = "/tmp/deploy.log"
	path := writeJSON(t, dir, m)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/git", cfg.GitPath)
	assert.Equal(t, "release", cfg.DeployBranch)
	assert.Equal(t, []string{"push"}, cfg.EventTypes)
	assert.Equal(t, []string{"echo pre"}, cfg.PreDeploy)
	assert.Empty(t, cfg.PostDeploy)
	assert.Equal(t, []string{"*.log", "tmp/"}, cfg.ExcludeFiles)
	assert.Equal(t, "/tmp/deploy.log", cfg.LogPath)
	assert.Equal(t, path, cfg.SourcePath)

	// Defaults
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultWebhookPath, cfg.WebhookPath)
	assert.Equal(t, int64(DefaultMaxBodySize), cfg.MaxBodyBytes)
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeoutDur)
	assert.Equal(t, dir, cfg.WorkDir)
	assert.Equal(t, filepath.Join(dir, DefaultLockName), cfg.LockPath)
	assert.False(t, cfg.DeployTrace)
}

func TestLoadMissingEachRequiredField(t *testing.T) {
	for _, field := range RequiredFields() {
		t.Run(field, func(t *testing.T) {
			m := validManifest()
			delete(m, field)
			path := writeJSON(t, t.TempDir(), m)

			cfg, err := Load(path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, errors.Is(err, ErrMissingField))

			var mf *MissingFieldError
			require.True(t, errors.As(err, &mf))
			assert.Equal(t, field, mf.Field)
		})
	}
}

func TestLoadEmptyRequiredField(t *testing.T) {
	m := validManifest()
	m["deployBranch"] = ""
	_, err := Load(writeJSON(t, t.TempDir(), m))
	assert.ErrorIs(t, err, ErrMissingField)

	m = validManifest()
	m["eventTypes"] = []string{}
	_, err = Load(writeJSON(t, t.TempDir(), m))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestLoadParseFailures(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{name: "invalid json", filename: "manifest.json", content: `{"gitPath": `},
		{name: "json array", filename: "manifest.json", content: `["a","b"]`},
		{name: "empty file", filename: "manifest.json", content: ``},
		{name: "yaml scalar", filename: "manifest.yaml", content: "just a string\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.filename)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(path)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	content := `
gitPath: /usr/bin/git
bashPath: /bin/bash
htdocsPath: /srv/htdocs
mergerPath: /srv/merger
deployBranch: main
htdocsBranch: live
eventTypes: [push, ping]
payloadSecret: ${GD_TEST_SECRET}
deployScript: ./deploy.sh
postDeploy:
  - systemctl reload nginx
commandTimeout: 90s
deployTrace: true
maxBodySize: 512KB
historyPath: ./history.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("GD_TEST_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.PayloadSecret)
	assert.Equal(t, []string{"push", "ping"}, cfg.EventTypes)
	assert.Equal(t, []string{"systemctl reload nginx"}, cfg.PostDeploy)
	assert.Equal(t, 90*time.Second, cfg.CommandTimeoutDur)
	assert.True(t, cfg.DeployTrace)
	assert.Equal(t, int64(512*1024), cfg.MaxBodyBytes)
	assert.Equal(t, "./history.db", cfg.HistoryPath)
}

func TestLoadUnresolvedSecretIsMissing(t *testing.T) {
	m := validManifest()
	m["payloadSecret"] = "${GD_UNSET_SECRET_FOR_TEST}"
	_, err := Load(writeJSON(t, t.TempDir(), m))

	var mf *MissingFieldError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, "payloadSecret", mf.Field)
}

func TestLoadDotEnvIsReadEveryTime(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("GD_DOTENV_SECRET=first\n"), 0o600))

	m := validManifest()
	m["payloadSecret"] = "${GD_DOTENV_SECRET}"
	path := writeJSON(t, dir, m)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "first", cfg.PayloadSecret)

	_, set := os.LookupEnv("GD_DOTENV_SECRET")
	assert.False(t, set, ".env must not leak into the process environment")

	require.NoError(t, os.WriteFile(envPath, []byte("GD_DOTENV_SECRET=second\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.PayloadSecret)
}

func TestLoadProcessEnvWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GD_DOTENV_SECRET=from-file\n"), 0o600))
	t.Setenv("GD_DOTENV_SECRET", "from-process")

	m := validManifest()
	m["payloadSecret"] = "${GD_DOTENV_SECRET}"
	cfg, err := Load(writeJSON(t, dir, m))
	require.NoError(t, err)
	assert.Equal(t, "from-process", cfg.PayloadSecret)
}

func TestLoadExpandsValuesVerbatim(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"quote", `ab"cd`},
		{"injected key", `x","deployBranch":"evil`},
		{"backslash", `a\tb`},
		{"yaml syntax", "x\ndeployBranch: evil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GD_TEST_SECRET", tt.value)

			m := validManifest()
			m["payloadSecret"] = "${GD_TEST_SECRET}"
			cfg, err := Load(writeJSON(t, t.TempDir(), m))
			require.NoError(t, err)
			assert.Equal(t, tt.value, cfg.PayloadSecret)
			assert.Equal(t, "release", cfg.DeployBranch)

			dir := t.TempDir()
			path := filepath.Join(dir, "manifest.yaml")
			content := `gitPath: /usr/bin/git
bashPath: /bin/bash
htdocsPath: /var/www/htdocs
mergerPath: /var/www/merger
deployBranch: release
htdocsBranch: live
eventTypes: [push]
payloadSecret: ${GD_TEST_SECRET}
deployScript: /opt/deploy/deploy.sh
`
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			cfg, err = Load(path)
			require.NoError(t, err)
			assert.Equal(t, tt.value, cfg.PayloadSecret)
			assert.Equal(t, "release", cfg.DeployBranch)
		})
	}
}

func TestLoadInvalidOptionalValues(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{"logLevel", "verbose"},
		{"logFormat", "xml"},
		{"commandTimeout", "soon"},
		{"commandTimeout", "-5s"},
		{"maxBodySize", "lots"},
		{"webhookPath", "deploy"},
		{"excludeFiles", []string{"*.log", "tmp/\nsecrets/"}},
		{"excludeFiles", []string{"cache/\r"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m := validManifest()
			m[tt.key] = tt.value
			_, err := Load(writeJSON(t, t.TempDir(), m))
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"1KB", 1024, false},
		{"2mb", 2 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestAllowsEvent(t *testing.T) {
	cfg := &Config{EventTypes: []string{"push", "ping"}}
	assert.True(t, cfg.AllowsEvent("push"))
	assert.True(t, cfg.AllowsEvent("ping"))
	assert.False(t, cfg.AllowsEvent("pull_request"))
	assert.False(t, cfg.AllowsEvent(""))
}
