package config

import (
	"slices"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/agent"
	"github.com/maxbolgarin/sitepub/internal/deploystatus"
	"github.com/maxbolgarin/sitepub/internal/events"
	"github.com/maxbolgarin/sitepub/internal/gitstore"
	"github.com/maxbolgarin/sitepub/internal/history"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/maxbolgarin/sitepub/internal/publisher"
	"github.com/maxbolgarin/sitepub/internal/server"
	"github.com/maxbolgarin/sitepub/internal/snapshot"
	"github.com/maxbolgarin/sitepub/internal/validation"
	"github.com/maxbolgarin/sitepub/internal/version"
)

const defaultCommitWorkers = 8

var logLevels = []string{"debug", "info", "warn", "error"}

// Config represents the main application configuration
type Config struct {
	GitHub     gitstore.Config     `yaml:"github"`
	Snapshots  snapshot.Config     `yaml:"snapshots"`
	Version    version.Config      `yaml:"version"`
	Validation validation.Config   `yaml:"validation"`
	Agent      agent.Config        `yaml:"agent"`
	Deploy     deploystatus.Config `yaml:"deploy"`
	History    history.Config      `yaml:"history"`
	Events     events.Config       `yaml:"events"`
	Publish    publisher.Config    `yaml:"publish"`
	Server     server.Config       `yaml:"server"`
	Log        LogConfig           `yaml:"log"`

	// CommitWorkers bounds concurrent blob uploads of one commit.
	CommitWorkers int `yaml:"commit_workers" env:"COMMIT_WORKERS"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"LOG_LEVEL"`
	Verbose bool   `yaml:"verbose" env:"VERBOSE"`
}

// Load reads the YAML file at path, when given, and then the environment.
// Environment variables override values from the file.
func Load(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, errm.Wrap(err, "failed to read config", "path", path)
	}
	if err := cfg.PrepareAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PrepareAndValidate fills defaults of every section and fails on the first
// invalid one. Server certificates are loaded only when HTTPS is enabled.
func (c *Config) PrepareAndValidate() error {
	c.Log.Level = strings.ToLower(lang.Check(c.Log.Level, "info"))
	if !slices.Contains(logLevels, c.Log.Level) {
		return model.NewConfigurationError("log.level", "must be one of "+strings.Join(logLevels, ", "))
	}
	if c.CommitWorkers < 0 {
		return model.NewConfigurationError("commit_workers", "must not be negative")
	}
	c.CommitWorkers = lang.Check(c.CommitWorkers, defaultCommitWorkers)

	if c.Log.Verbose {
		c.GitHub.Verbose = true
		c.Deploy.Verbose = true
		c.Publish.Verbose = true
	}

	// Configuration errors already name their field.
	for _, prep := range []func() error{
		c.GitHub.PrepareAndValidate,
		c.Snapshots.PrepareAndValidate,
		c.Version.PrepareAndValidate,
		c.Validation.PrepareAndValidate,
		c.Agent.PrepareAndValidate,
		c.Deploy.PrepareAndValidate,
		c.Events.PrepareAndValidate,
		c.Server.PrepareAndValidate,
	} {
		if err := prep(); err != nil {
			return err
		}
	}

	c.Publish.Branch = c.GitHub.Branch
	c.Publish.ProjectID = lang.Check(c.Publish.ProjectID, c.Deploy.ProjectID)
	return c.Publish.PrepareAndValidate()
}
