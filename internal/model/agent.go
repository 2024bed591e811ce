package model

import (
	"context"
	"time"
)

type Language string

const (
	LanguageEnglish    Language = "en"
	LanguageRussian    Language = "ru"
	LanguageSpanish    Language = "es"
	LanguageFrench     Language = "fr"
	LanguageGerman     Language = "de"
	LanguagePortuguese Language = "pt"
)

// AgentAPI defines the interface for calling LLM AI models
type AgentAPI interface {
	CallAPI(ctx context.Context, req APIRequest) (APIResponse, error)
}

// ModelConfig represents model-specific configuration
type ModelConfig struct {
	APIKey   string
	Model    string
	URL      string
	ProxyURL string
	IsTest   bool
}

// APIRequest represents a request to an LLM API
type APIRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	URL          string
	ResponseType string
}

// APIResponse represents a response from an LLM API
type APIResponse struct {
	CreateTime       time.Time
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Prompt represents a structured prompt for LLM
type Prompt struct {
	SystemPrompt string
	UserPrompt   string
	Language     Language
}

// SEOMetadata is the search metadata produced for a site before file generation.
type SEOMetadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	Pages       []PageSEO `json:"pages"`
}

// PageSEO is per-page search metadata.
type PageSEO struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GeneratedFile is a repository file produced by a content generator.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CodeReview is the verdict of the static-analysis reviewer over generated files.
type CodeReview struct {
	Approved bool     `json:"approved"`
	Issues   []string `json:"issues"`
	Summary  string   `json:"summary"`
}
