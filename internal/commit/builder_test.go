package commit_test

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/maxbolgarin/sitepub/internal/commit"
	"github.com/maxbolgarin/sitepub/internal/gitstore"
	"github.com/maxbolgarin/sitepub/internal/gitstore/gitstoretest"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

func setup(t *testing.T) (*gitstoretest.Server, *commit.Builder) {
	t.Helper()
	srv := gitstoretest.New(t, "acme", "site")
	cli, err := gitstore.New(gitstore.Config{
		Owner:                "acme",
		Repo:                 "site",
		Token:                "test-token",
		BaseURL:              srv.BaseURL(),
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
	})
	require.NoError(t, err)
	b, err := commit.NewBuilder(cli, 4, true)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return srv, b
}

func TestCommitTreeIsBaseUnionChanges(t *testing.T) {
	srv, b := setup(t)
	base := srv.Seed("main", map[string]string{
		"keep.txt":      "unchanged",
		"b.json":        `{"old":true}`,
		"obsolete.html": "bye",
	})

	res, err := b.Commit(context.Background(), commit.Request{
		Branch:  "main",
		Message: "publish v2",
		Version: 2,
		Changes: []model.FileChange{
			{Path: "/src/a.tsx", Content: []byte("export default 1"), Action: model.ActionCreate},
			{Path: "b.json", Content: []byte(`{"new":true}`), Action: model.ActionModify},
			{Path: "obsolete.html", Action: model.ActionDelete},
		},
	})
	require.NoError(t, err)

	assert.Regexp(t, hexSHA, res.CommitSHA)
	assert.Equal(t, 2, res.VersionNumber)
	assert.Equal(t, "publish v2", res.Message)
	assert.Contains(t, res.CommitURL, res.CommitSHA)

	assert.Equal(t, res.CommitSHA, srv.Head("main"))
	assert.Equal(t, []string{base}, srv.Parents(res.CommitSHA))
	assert.Equal(t, map[string]string{
		"keep.txt":  "unchanged",
		"b.json":    `{"new":true}`,
		"src/a.tsx": "export default 1",
	}, srv.Files("main"))

	assert.Equal(t, 2, srv.Calls(gitstoretest.RouteCreateBlob))
	assert.Equal(t, 1, srv.Calls(gitstoretest.RouteCreateTree))
	assert.Equal(t, 1, srv.Calls(gitstoretest.RouteCreateCommit))
	assert.Equal(t, 1, srv.Calls(gitstoretest.RouteUpdateRef))
}

func TestCommitAttachSeesBase(t *testing.T) {
	srv, b := setup(t)
	base := srv.Seed("main", map[string]string{"index.html": "x"})

	var seen string
	_, err := b.Commit(context.Background(), commit.Request{
		Branch:  "main",
		Message: "with snapshot",
		Changes: []model.FileChange{{Path: "index.html", Content: []byte("y"), Action: model.ActionModify}},
		Attach: func(c model.GitCommit) ([]model.FileChange, error) {
			seen = c.SHA
			return []model.FileChange{{Path: "snapshots/v1.json", Content: []byte(`{"commitSha":"` + c.SHA + `"}`), Action: model.ActionCreate}}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, base, seen)
	assert.Equal(t, `{"commitSha":"`+base+`"}`, srv.Files("main")["snapshots/v1.json"])
}

func TestCommitConflictWhenBranchMoves(t *testing.T) {
	srv, b := setup(t)
	srv.Seed("main", map[string]string{"index.html": "v1"})

	var concurrent string
	srv.OnCall(gitstoretest.RouteCreateCommit, func() {
		concurrent = srv.Seed("main", map[string]string{"index.html": "someone else"})
	})

	_, err := b.Commit(context.Background(), commit.Request{
		Branch:  "main",
		Message: "mine",
		Changes: []model.FileChange{{Path: "index.html", Content: []byte("mine"), Action: model.ActionModify}},
	})
	require.ErrorIs(t, err, model.ErrConflict)

	assert.Equal(t, concurrent, srv.Head("main"))
	assert.Equal(t, "someone else", srv.Files("main")["index.html"])
	assert.Equal(t, 0, srv.Calls(gitstoretest.RouteUpdateRef))
}

func TestCommitBlobFailureStopsBeforeTree(t *testing.T) {
	srv, b := setup(t)
	base := srv.Seed("main", map[string]string{"index.html": "v1"})
	srv.FailNext(gitstoretest.RouteCreateBlob, http.StatusUnprocessableEntity, 1)

	_, err := b.Commit(context.Background(), commit.Request{
		Branch:  "main",
		Message: "broken",
		Changes: []model.FileChange{{Path: "index.html", Content: []byte("v2"), Action: model.ActionModify}},
	})
	require.Error(t, err)
	assert.Equal(t, 0, srv.Calls(gitstoretest.RouteCreateTree))
	assert.Equal(t, base, srv.Head("main"))
}

func TestCommitRejectsBadBatches(t *testing.T) {
	srv, b := setup(t)
	srv.Seed("main", map[string]string{"index.html": "v1"})
	ctx := context.Background()

	tests := []struct {
		name    string
		changes []model.FileChange
	}{
		{"empty", nil},
		{"duplicate", []model.FileChange{
			{Path: "a.txt", Content: []byte("1"), Action: model.ActionCreate},
			{Path: "./a.txt", Content: []byte("2"), Action: model.ActionModify},
		}},
		{"escaping path", []model.FileChange{{Path: "../etc/passwd", Content: []byte("x"), Action: model.ActionCreate}}},
		{"missing content", []model.FileChange{{Path: "a.txt", Action: model.ActionCreate}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Commit(ctx, commit.Request{Branch: "main", Message: "m", Changes: tt.changes})
			require.Error(t, err)
		})
	}
	assert.Equal(t, 0, srv.Calls(gitstoretest.RouteGetRef))
}

func TestCommitDryRunDoesNotMutate(t *testing.T) {
	srv, b := setup(t)
	base := srv.Seed("main", map[string]string{"index.html": "v1"})

	res, err := b.Commit(context.Background(), commit.Request{
		Branch:  "main",
		Message: "dry",
		Version: 4,
		DryRun:  true,
		Changes: []model.FileChange{{Path: "index.html", Content: []byte("v2"), Action: model.ActionModify}},
	})
	require.NoError(t, err)
	assert.Regexp(t, hexSHA, res.CommitSHA)
	assert.Equal(t, 4, res.VersionNumber)
	assert.Empty(t, res.CommitURL)

	assert.Equal(t, 0, srv.MutatingCalls())
	assert.Equal(t, base, srv.Head("main"))
}
