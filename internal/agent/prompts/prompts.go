package prompts

import (
	"fmt"
	"strings"

	"github.com/maxbolgarin/sitepub/internal/model"
)

// Builder provides methods to build prompts with language support
type Builder struct {
	language LanguageConfig
}

// NewBuilder creates a new prompt builder, falling back to English for unknown languages
func NewBuilder(language model.Language) *Builder {
	cfg, ok := DefaultLanguages[language]
	if !ok {
		cfg = DefaultLanguages[model.LanguageEnglish]
	}
	return &Builder{language: cfg}
}

// BuildSEOPrompt creates a prompt for search metadata of a site given as JSON
func (b *Builder) BuildSEOPrompt(siteJSON string) model.Prompt {
	return model.Prompt{
		SystemPrompt: fmt.Sprintf(seoSystemPromptTemplate, b.language.Instructions),
		UserPrompt:   fmt.Sprintf(seoUserPromptTemplate, siteJSON),
		Language:     b.language.Language,
	}
}

// BuildFilesPrompt creates a prompt for generating site source files
func (b *Builder) BuildFilesPrompt(siteJSON, seoJSON string) model.Prompt {
	return model.Prompt{
		SystemPrompt: fmt.Sprintf(filesSystemPromptTemplate, b.language.Instructions),
		UserPrompt:   fmt.Sprintf(filesUserPromptTemplate, siteJSON, seoJSON),
		Language:     b.language.Language,
	}
}

// BuildReviewPrompt creates a prompt for reviewing generated files before they are committed
func (b *Builder) BuildReviewPrompt(files []model.GeneratedFile) model.Prompt {
	var sb strings.Builder
	for _, f := range files {
		sb.WriteString("=== ")
		sb.WriteString(f.Path)
		sb.WriteString(" ===\n")
		sb.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			sb.WriteString("\n")
		}
	}
	return model.Prompt{
		SystemPrompt: fmt.Sprintf(reviewSystemPromptTemplate, b.language.Instructions),
		UserPrompt:   fmt.Sprintf(reviewUserPromptTemplate, sb.String()),
		Language:     b.language.Language,
	}
}
