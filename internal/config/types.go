package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the deployment manifest for one webhook-triggered deploy.
// It is loaded fresh for every run and never modified after Load returns.
type Config struct {
	GitPath       string   `json:"gitPath" yaml:"gitPath"`
	BashPath      string   `json:"bashPath" yaml:"bashPath"`
	HtdocsPath    string   `json:"htdocsPath" yaml:"htdocsPath"`
	MergerPath    string   `json:"mergerPath" yaml:"mergerPath"`
	DeployBranch  string   `json:"deployBranch" yaml:"deployBranch"`
	HtdocsBranch  string   `json:"htdocsBranch" yaml:"htdocsBranch"`
	EventTypes    []string `json:"eventTypes" yaml:"eventTypes"`
	PayloadSecret string   `json:"payloadSecret" yaml:"payloadSecret"`
	DeployScript  string   `json:"deployScript" yaml:"deployScript"`

	PreDeploy    []string `json:"preDeploy,omitempty" yaml:"preDeploy,omitempty"`
	PostDeploy   []string `json:"postDeploy,omitempty" yaml:"postDeploy,omitempty"`
	ExcludeFiles []string `json:"excludeFiles,omitempty" yaml:"excludeFiles,omitempty"`
	LogPath      string   `json:"logPath,omitempty" yaml:"logPath,omitempty"`

	ServiceConfig `yaml:",inline"`

	// SourcePath is the absolute path of the manifest this config was read from.
	SourcePath string `json:"-" yaml:"-"`
}

// ServiceConfig holds the settings of the hosting process. Every field is optional.
type ServiceConfig struct {
	Listen         string `json:"listen,omitempty" yaml:"listen,omitempty"`
	WebhookPath    string `json:"webhookPath,omitempty" yaml:"webhookPath,omitempty"`
	MaxBodySize    string `json:"maxBodySize,omitempty" yaml:"maxBodySize,omitempty"`
	LogLevel       string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFormat      string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
	CommandTimeout string `json:"commandTimeout,omitempty" yaml:"commandTimeout,omitempty"`
	DeployTrace    bool   `json:"deployTrace,omitempty" yaml:"deployTrace,omitempty"`
	WorkDir        string `json:"workDir,omitempty" yaml:"workDir,omitempty"`
	LockPath       string `json:"lockPath,omitempty" yaml:"lockPath,omitempty"`
	HistoryPath    string `json:"historyPath,omitempty" yaml:"historyPath,omitempty"`

	// Parsed forms, filled by Load.
	MaxBodyBytes      int64         `json:"-" yaml:"-"`
	CommandTimeoutDur time.Duration `json:"-" yaml:"-"`
}

// Default values
const (
	DefaultManifest       = "manifest.json"
	DefaultListen         = "127.0.0.1:8090"
	DefaultWebhookPath    = "/deploy"
	DefaultMaxBodySize    = 1048576 // 1 MB
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultCommandTimeout = 30 * time.Minute
	DefaultLockName       = ".githubdeploy.lock"
)

// ErrMissingField is wrapped by every error that makes a manifest unusable.
var ErrMissingField = errors.New("missing required field")

// MissingFieldError reports a required manifest key that is absent or empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingField, e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// RequiredFields returns the manifest keys that must be present, in manifest order.
func RequiredFields() []string {
	return []string{
		"gitPath",
		"bashPath",
		"htdocsPath",
		"mergerPath",
		"deployBranch",
		"htdocsBranch",
		"eventTypes",
		"payloadSecret",
		"deployScript",
	}
}

// AllowsEvent reports whether event is one of the configured event types.
func (c *Config) AllowsEvent(event string) bool {
	for _, t := range c.EventTypes {
		if t == event {
			return true
		}
	}
	return false
}
