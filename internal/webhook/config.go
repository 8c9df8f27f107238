package webhook

import (
	"fmt"

	"github.com/mattjoyce/githubdeploy/internal/config"
)

// Default values
const (
	defaultPath        = config.DefaultWebhookPath
	defaultMaxBodySize = config.DefaultMaxBodySize
)

// FromConfig converts the service settings of a loaded manifest to a webhook.Config.
func FromConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("deploy config is nil")
	}
	if cfg.Listen == "" {
		return Config{}, fmt.Errorf("webhook listen address is empty")
	}

	return Config{
		Listen:      cfg.Listen,
		Path:        cfg.WebhookPath,
		MaxBodySize: cfg.MaxBodyBytes,
	}, nil
}
