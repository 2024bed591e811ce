package openai

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
	defaultModel = "gpt-4o-mini"
	defaultURL   = "https://api.openai.com/v1"
)

var _ model.AgentAPI = (*Agent)(nil)

// Agent calls an OpenAI-compatible chat completions endpoint
type Agent struct {
	cli *cliex.HTTP
	cfg model.ModelConfig
}

func New(ctx context.Context, cli *cliex.HTTP, config model.ModelConfig) (*Agent, error) {
	if config.APIKey == "" {
		return nil, errm.New("OpenAI API key is required")
	}
	config.Model = lang.Check(config.Model, defaultModel)
	config.URL = strings.TrimSuffix(lang.Check(config.URL, defaultURL), "/")

	cli.C().SetAuthToken(config.APIKey)

	agent := &Agent{
		cli: cli,
		cfg: config,
	}

	// May spend tokens
	if config.IsTest {
		if err := agent.testConnection(ctx); err != nil {
			return nil, errm.Wrap(err, "failed to connect to OpenAI API")
		}
	}

	return agent, nil
}

// CallAPI sends one system and one user message
func (a *Agent) CallAPI(ctx context.Context, req model.APIRequest) (model.APIResponse, error) {
	reqBody := chatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseType == "application/json" {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var respBody chatCompletionResponse
	requestURL := lang.Check(req.URL, a.cfg.URL+"/chat/completions")
	resp, err := a.cli.Post(ctx, requestURL, reqBody, &respBody)
	if err != nil {
		return model.APIResponse{}, errm.Wrap(err, "failed to make API request")
	}

	if respBody.Error != nil {
		return model.APIResponse{}, &model.RemoteError{
			Kind:       lang.If(resp != nil && resp.StatusCode() >= 500, model.ErrTransient, model.ErrRemote),
			Op:         "openai chat completion",
			StatusCode: lang.If(resp != nil, resp.StatusCode(), 0),
			Message:    respBody.Error.Message,
		}
	}

	var content string
	if len(respBody.Choices) > 0 {
		content = strings.TrimSpace(respBody.Choices[0].Message.Content)
	}

	return model.APIResponse{
		CreateTime:       time.Unix(respBody.Created, 0),
		Content:          content,
		PromptTokens:     respBody.Usage.PromptTokens,
		CompletionTokens: respBody.Usage.CompletionTokens,
		TotalTokens:      respBody.Usage.TotalTokens,
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
