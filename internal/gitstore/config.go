package gitstore

import (
	"time"

	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const (
	defaultBranch               = "main"
	defaultRequestTimeout       = 30 * time.Second
	defaultMaxAttempts          = 3
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 5 * time.Second
)

// Config represents GitHub repository access configuration
type Config struct {
	Owner   string `yaml:"owner" env:"GITHUB_OWNER"`
	Repo    string `yaml:"repo" env:"GITHUB_REPO"`
	Branch  string `yaml:"branch" env:"GITHUB_BRANCH"`
	Token   string `yaml:"token" env:"GITHUB_TOKEN"`
	BaseURL string `yaml:"base_url" env:"GITHUB_BASE_URL"` // API root, e.g. https://ghe.example.com/api/v3/

	RequestTimeout       time.Duration `yaml:"request_timeout" env:"GITHUB_REQUEST_TIMEOUT"`
	MaxAttempts          int           `yaml:"max_attempts" env:"GITHUB_MAX_ATTEMPTS"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" env:"GITHUB_RETRY_INITIAL_INTERVAL"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval" env:"GITHUB_RETRY_MAX_INTERVAL"`

	Verbose bool `yaml:"verbose" env:"GITHUB_VERBOSE"`
}

func (c *Config) PrepareAndValidate() error {
	if c.Token == "" {
		return model.NewConfigurationError("github.token", "access token is required (GITHUB_TOKEN)")
	}
	if c.Owner == "" {
		return model.NewConfigurationError("github.owner", "repository owner is required (GITHUB_OWNER)")
	}
	if c.Repo == "" {
		return model.NewConfigurationError("github.repo", "repository name is required (GITHUB_REPO)")
	}
	if c.MaxAttempts < 0 {
		return model.NewConfigurationError("github.max_attempts", "must not be negative")
	}

	c.Branch = lang.Check(c.Branch, defaultBranch)
	c.RequestTimeout = lang.Check(c.RequestTimeout, defaultRequestTimeout)
	c.MaxAttempts = lang.Check(c.MaxAttempts, defaultMaxAttempts)
	c.RetryInitialInterval = lang.Check(c.RetryInitialInterval, defaultRetryInitialInterval)
	c.RetryMaxInterval = lang.Check(c.RetryMaxInterval, defaultRetryMaxInterval)

	return nil
}
