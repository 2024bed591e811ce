package agent

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/maxbolgarin/cliex"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/agent/claude"
	"github.com/maxbolgarin/sitepub/internal/agent/gemini"
	"github.com/maxbolgarin/sitepub/internal/agent/openai"
	"github.com/maxbolgarin/sitepub/internal/agent/prompts"
	"github.com/maxbolgarin/sitepub/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Agent generates SEO metadata and site files and reviews them, using one LLM provider.
type Agent struct {
	cfg    Config
	logger logze.Logger
	pb     *prompts.Builder
	api    model.AgentAPI
}

func New(ctx context.Context, cfg Config) (*Agent, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, errm.Wrap(err, "validate config")
	}
	if !cfg.Enabled() {
		return nil, model.NewConfigurationError("agent.type", "agent is disabled")
	}
	cli, err := cliex.NewWithConfig(cliex.Config{
		BaseURL:        cfg.BaseURL,
		UserAgent:      cfg.UserAgent,
		ProxyAddress:   cfg.ProxyURL,
		RequestTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, errm.Wrap(err, "failed to create HTTP client")
	}

	modelCfg := model.ModelConfig{
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		URL:      cfg.BaseURL,
		ProxyURL: cfg.ProxyURL,
		IsTest:   cfg.IsTest,
	}

	var api model.AgentAPI
	switch cfg.Type {
	case Gemini:
		api, err = gemini.New(ctx, modelCfg)
	case OpenAI:
		api, err = openai.New(ctx, cli, modelCfg)
	case Claude:
		api, err = claude.New(ctx, cli, modelCfg)
	default:
		return nil, errm.Errorf("unsupported agent type: %s", cfg.Type)
	}
	if err != nil {
		return nil, errm.Wrap(err, "failed to create agent")
	}

	return NewWithAPI(cfg, api), nil
}

// NewWithAPI creates an agent on top of an already constructed provider.
func NewWithAPI(cfg Config, api model.AgentAPI) *Agent {
	return &Agent{
		cfg:    cfg,
		logger: logze.With("component", "agent", "type", cfg.Type),
		pb:     prompts.NewBuilder(cfg.Language),
		api:    api,
	}
}

// GenerateSEO produces search metadata for the site.
func (a *Agent) GenerateSEO(ctx context.Context, site model.Website) (model.SEOMetadata, error) {
	siteJSON, err := json.MarshalToString(site)
	if err != nil {
		return model.SEOMetadata{}, errm.Wrap(err, "encode site")
	}
	response, err := a.apiCall(ctx, a.pb.BuildSEOPrompt(siteJSON), true)
	if err != nil {
		return model.SEOMetadata{}, errm.Wrap(err, "failed to call API for SEO metadata")
	}

	result, err := unmarshal[model.SEOMetadata](response)
	if err != nil {
		a.logger.Debug("unparsable SEO response", "response", lang.TruncateString(response, 500))
		return model.SEOMetadata{}, errm.Wrap(err, "failed to parse SEO response")
	}
	if result.Title == "" {
		return model.SEOMetadata{}, errm.New("SEO response has no title")
	}
	return result, nil
}

// GenerateFiles produces the site source files.
func (a *Agent) GenerateFiles(ctx context.Context, site model.Website, seo model.SEOMetadata) ([]model.GeneratedFile, error) {
	siteJSON, err := json.MarshalToString(site)
	if err != nil {
		return nil, errm.Wrap(err, "encode site")
	}
	seoJSON, err := json.MarshalToString(seo)
	if err != nil {
		return nil, errm.Wrap(err, "encode seo")
	}

	response, err := a.apiCall(ctx, a.pb.BuildFilesPrompt(siteJSON, seoJSON), true)
	if err != nil {
		return nil, errm.Wrap(err, "failed to call API for site files")
	}

	result, err := unmarshal[struct {
		Files []model.GeneratedFile `json:"files"`
	}](response)
	if err != nil {
		a.logger.Debug("unparsable files response", "response", lang.TruncateString(response, 500))
		return nil, errm.Wrap(err, "failed to parse files response")
	}
	if len(result.Files) == 0 {
		return nil, errm.New("model returned no files")
	}
	for _, f := range result.Files {
		if _, err := model.NormalizePath(f.Path); err != nil {
			return nil, errm.Wrap(err, "model returned invalid path")
		}
	}
	return result.Files, nil
}

// ReviewFiles asks the model whether the generated files are safe to deploy.
func (a *Agent) ReviewFiles(ctx context.Context, files []model.GeneratedFile) (model.CodeReview, error) {
	response, err := a.apiCall(ctx, a.pb.BuildReviewPrompt(files), true)
	if err != nil {
		return model.CodeReview{}, errm.Wrap(err, "failed to call API for review")
	}

	result, err := unmarshal[model.CodeReview](response)
	if err != nil {
		a.logger.Debug("unparsable review response", "response", lang.TruncateString(response, 500))
		return model.CodeReview{}, errm.Wrap(err, "failed to parse review response")
	}
	if !result.Approved && len(result.Issues) == 0 {
		result.Issues = []string{lang.Check(result.Summary, "rejected by reviewer without details")}
	}
	return result, nil
}

func (a *Agent) apiCall(ctx context.Context, prompt model.Prompt, isJSON bool) (string, error) {
	response, err := a.api.CallAPI(ctx, model.APIRequest{
		Prompt:       prompt.UserPrompt,
		SystemPrompt: prompt.SystemPrompt,
		MaxTokens:    a.cfg.MaxTokens,
		Temperature:  a.cfg.Temperature,
		ResponseType: lang.If(isJSON, "application/json", "text/plain"),
	})
	if err != nil {
		return "", errm.Wrap(err, "failed to call API")
	}

	if response.Content == "" {
		return "", errm.New("empty response from API")
	}

	a.logger.Debug("model call finished", "prompt_tokens", response.PromptTokens, "completion_tokens", response.CompletionTokens)

	return response.Content, nil
}

// unmarshal extracts the outermost JSON object from a model response, tolerating code fences.
func unmarshal[T any](response string) (T, error) {
	var result T

	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimPrefix(response, "json")
	response = strings.TrimSuffix(response, "```")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return result, errm.New("no valid JSON found in response")
	}

	if err := json.UnmarshalFromString(response[start:end+1], &result); err != nil {
		return result, errm.Wrap(err, "failed to parse JSON response")
	}

	return result, nil
}
