package agent

import (
	"slices"
	"time"

	"github.com/maxbolgarin/erro"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 16000
	defaultTimeout     = 2 * time.Minute
	defaultUserAgent   = "sitepub/0.1.0 (https://github.com/maxbolgarin/sitepub)"
)

// AgentType represents the type of AI agent
type AgentType string

// SupportedAgentTypes defines the supported AI agent types
const (
	Gemini AgentType = "gemini"
	OpenAI AgentType = "openai"
	Claude AgentType = "claude"
)

var supportedAgentTypes = []AgentType{Gemini, OpenAI, Claude}

// Config represents AI agent configuration. An empty Type disables the agent.
type Config struct {
	Type        AgentType `yaml:"type" env:"AGENT_TYPE"` // gemini, openai, claude
	APIKey      string    `yaml:"api_key" env:"AGENT_API_KEY"`
	Model       string    `yaml:"model" env:"AGENT_MODEL"`
	Temperature float32   `yaml:"temperature" env:"AGENT_TEMPERATURE"`
	MaxTokens   int       `yaml:"max_tokens" env:"AGENT_MAX_TOKENS"`

	BaseURL   string        `yaml:"base_url" env:"AGENT_BASE_URL"` // Custom API endpoint (Azure OpenAI, local models, etc.)
	ProxyURL  string        `yaml:"proxy_url" env:"AGENT_PROXY_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"AGENT_TIMEOUT"`
	UserAgent string        `yaml:"user_agent" env:"AGENT_USER_AGENT"`
	IsTest    bool          `yaml:"is_test" env:"AGENT_IS_TEST"`

	// Review enables the reviewer stage on top of generation.
	Review bool `yaml:"review" env:"AGENT_REVIEW" env-default:"true"`

	Language model.Language `yaml:"language" env:"AGENT_LANGUAGE"`
}

// Enabled reports whether an LLM provider is configured.
func (c Config) Enabled() bool {
	return c.Type != ""
}

func (c *Config) PrepareAndValidate() error {
	if !c.Enabled() {
		return nil
	}
	if !slices.Contains(supportedAgentTypes, c.Type) {
		return erro.New("invalid agent type: %s", c.Type)
	}
	if c.APIKey == "" {
		return model.NewConfigurationError("agent.api_key", "api key is required when agent.type is set")
	}

	c.Temperature = lang.Check(c.Temperature, defaultTemperature)
	c.MaxTokens = lang.Check(c.MaxTokens, defaultMaxTokens)
	c.Timeout = lang.Check(c.Timeout, defaultTimeout)
	c.UserAgent = lang.Check(c.UserAgent, defaultUserAgent)
	c.Language = lang.Check(c.Language, model.LanguageEnglish)

	return nil
}
