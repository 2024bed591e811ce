package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	response string
	err      error
	requests []model.APIRequest
}

func (f *fakeAPI) CallAPI(_ context.Context, req model.APIRequest) (model.APIResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return model.APIResponse{}, f.err
	}
	return model.APIResponse{Content: f.response}, nil
}

func testSite() model.Website {
	return model.Website{
		Meta:  model.SiteMeta{Title: "Acme"},
		Pages: []model.Page{{ID: "1", Slug: "home", Title: "Home"}},
	}
}

func TestGenerateSEO(t *testing.T) {
	api := &fakeAPI{response: "```json\n{\"title\":\"Acme\",\"description\":\"Tools\",\"keywords\":[\"tools\"],\"pages\":[{\"slug\":\"home\",\"title\":\"Home\"}]}\n```"}
	a := NewWithAPI(Config{Type: Gemini, MaxTokens: 100}, api)

	seo, err := a.GenerateSEO(context.Background(), testSite())
	require.NoError(t, err)
	assert.Equal(t, "Acme", seo.Title)
	assert.Equal(t, []string{"tools"}, seo.Keywords)
	require.Len(t, seo.Pages, 1)

	require.Len(t, api.requests, 1)
	assert.Equal(t, "application/json", api.requests[0].ResponseType)
	assert.Contains(t, api.requests[0].Prompt, `"slug":"home"`)
}

func TestGenerateFiles(t *testing.T) {
	api := &fakeAPI{response: `Here you go: {"files":[{"path":"app/page.tsx","content":"export default function Page() {}"}]}`}
	a := NewWithAPI(Config{Type: OpenAI}, api)

	files, err := a.GenerateFiles(context.Background(), testSite(), model.SEOMetadata{Title: "Acme"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "app/page.tsx", files[0].Path)
}

func TestGenerateFilesRejectsEscapingPath(t *testing.T) {
	api := &fakeAPI{response: `{"files":[{"path":"../../etc/passwd","content":"x"}]}`}
	a := NewWithAPI(Config{Type: OpenAI}, api)

	_, err := a.GenerateFiles(context.Background(), testSite(), model.SEOMetadata{})
	require.Error(t, err)
}

func TestReviewFiles(t *testing.T) {
	t.Run("rejected with issues", func(t *testing.T) {
		a := NewWithAPI(Config{Type: Claude}, &fakeAPI{response: `{"approved":false,"issues":["X"]}`})
		review, err := a.ReviewFiles(context.Background(), []model.GeneratedFile{{Path: "a.tsx", Content: "x"}})
		require.NoError(t, err)
		assert.False(t, review.Approved)
		assert.Equal(t, []string{"X"}, review.Issues)
	})

	t.Run("rejected without issues", func(t *testing.T) {
		a := NewWithAPI(Config{Type: Claude}, &fakeAPI{response: `{"approved":false,"summary":"unsafe"}`})
		review, err := a.ReviewFiles(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"unsafe"}, review.Issues)
	})

	t.Run("provider failure", func(t *testing.T) {
		a := NewWithAPI(Config{Type: Claude}, &fakeAPI{err: errors.New("overloaded")})
		_, err := a.ReviewFiles(context.Background(), nil)
		require.Error(t, err)
	})
}

func TestUnmarshalWithoutJSON(t *testing.T) {
	_, err := unmarshal[model.CodeReview]("I cannot help with that")
	require.Error(t, err)
}

func TestConfigDisabled(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.PrepareAndValidate())
	assert.False(t, cfg.Enabled())

	cfg = Config{Type: OpenAI}
	require.ErrorIs(t, cfg.PrepareAndValidate(), model.ErrConfiguration)
}
