package claude

import (
	"context"
	"strings"
	"time"

	"github.com/maxbolgarin/cliex"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const (
	defaultModel      = "claude-3-5-haiku-20241022"
	defaultBaseURL    = "https://api.anthropic.com"
	anthropicVersion  = "2023-06-01"
	overloadedErrType = "overloaded_error"
)

var _ model.AgentAPI = (*Agent)(nil)

// Agent calls the Anthropic Messages API
type Agent struct {
	cfg model.ModelConfig
	cli *cliex.HTTP
}

func New(ctx context.Context, cli *cliex.HTTP, cfg model.ModelConfig) (*Agent, error) {
	if cfg.APIKey == "" {
		return nil, errm.New("Claude API key is required")
	}
	cfg.Model = lang.Check(cfg.Model, defaultModel)
	cfg.URL = strings.TrimSuffix(lang.Check(cfg.URL, defaultBaseURL), "/")

	cli.C().SetHeader("x-api-key", cfg.APIKey)
	cli.C().SetHeader("anthropic-version", anthropicVersion)

	agent := &Agent{
		cfg: cfg,
		cli: cli,
	}

	if cfg.IsTest {
		if err := agent.testConnection(ctx); err != nil {
			return nil, errm.Wrap(err, "failed to connect to Claude API")
		}
	}

	return agent, nil
}

// CallAPI sends a single user message with the system prompt
func (a *Agent) CallAPI(ctx context.Context, req model.APIRequest) (model.APIResponse, error) {
	reqBody := messagesRequest{
		Model:       a.cfg.Model,
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	}

	var respBody messagesResponse
	_, err := a.cli.Post(ctx, lang.Check(req.URL, a.cfg.URL+"/v1/messages"), reqBody, &respBody)
	if err != nil {
		return model.APIResponse{}, errm.Wrap(err, "failed to make API request")
	}

	if respBody.Error != nil {
		return model.APIResponse{}, &model.RemoteError{
			Kind:    lang.If(respBody.Error.Type == overloadedErrType, model.ErrTransient, model.ErrRemote),
			Op:      "claude messages",
			Message: respBody.Error.Message,
		}
	}

	var text strings.Builder
	for _, c := range respBody.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return model.APIResponse{}, errm.Errorf("no text content in response, stop reason %q", respBody.StopReason)
	}

	return model.APIResponse{
		CreateTime:       time.Now(),
		Content:          strings.TrimSpace(text.String()),
		PromptTokens:     respBody.Usage.InputTokens,
		CompletionTokens: respBody.Usage.OutputTokens,
		TotalTokens:      respBody.Usage.InputTokens + respBody.Usage.OutputTokens,
	}, nil
}

func (a *Agent) testConnection(ctx context.Context) error {
	_, err := a.CallAPI(ctx, model.APIRequest{
		Prompt:      "Respond with 'OK' if you can understand this message.",
		MaxTokens:   10,
		Temperature: 0.5,
	})
	if err != nil {
		return errm.Wrap(err, "connection test failed")
	}
	return nil
}
