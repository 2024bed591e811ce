package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/maxbolgarin/erro"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/model"
	"google.golang.org/genai"
)

const (
	defaultModel = "gemini-2.5-flash"
)

var _ model.AgentAPI = (*Agent)(nil)

// Agent calls Google Gemini through the genai SDK
type Agent struct {
	client *genai.Client
	config model.ModelConfig
}

func New(ctx context.Context, cfg model.ModelConfig) (*Agent, error) {
	if cfg.APIKey == "" {
		return nil, erro.New("Gemini API key is required")
	}
	cfg.Model = lang.Check(cfg.Model, defaultModel)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, erro.Wrap(err, "failed to parse proxy URL")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		return nil, erro.Wrap(err, "failed to create Gemini client")
	}

	agent := &Agent{
		client: client,
		config: cfg,
	}

	if cfg.IsTest {
		if err := agent.testConnection(ctx); err != nil {
			return nil, erro.Wrap(err, "failed to connect to Gemini API")
		}
	}

	return agent, nil
}

// CallAPI generates content for a single prompt
func (a *Agent) CallAPI(ctx context.Context, req model.APIRequest) (model.APIResponse, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: lang.Check(req.ResponseType, "text/plain"),
		Temperature:      &req.Temperature,
		MaxOutputTokens:  int32(req.MaxTokens),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}

	result, err := a.client.Models.GenerateContent(ctx,
		a.config.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}},
		config,
	)
	if err != nil {
		return model.APIResponse{}, classify(err)
	}

	out := model.APIResponse{
		CreateTime: result.CreateTime,
		Content:    result.Text(),
	}
	if usage := result.UsageMetadata; usage != nil {
		out.PromptTokens = int(usage.PromptTokenCount)
		out.CompletionTokens = int(usage.CandidatesTokenCount)
		out.TotalTokens = int(usage.TotalTokenCount)
	}

	return out, nil
}

// classify maps Gemini API errors onto the shared remote error kinds
func classify(err error) error {
	out := &model.RemoteError{Op: "gemini generate", Err: err, Kind: model.ErrRemote}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return out
	}
	out.StatusCode, out.Message = apiErr.Code, apiErr.Message
	switch {
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		out.Kind = model.ErrAuth
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
		out.Kind = model.ErrTransient
	}
	return out
}

func (a *Agent) testConnection(ctx context.Context) error {
	_, err := a.CallAPI(ctx, model.APIRequest{
		Prompt:      "Respond with 'OK' if you can understand this message.",
		MaxTokens:   10,
		Temperature: 0.5,
	})
	return err
}
