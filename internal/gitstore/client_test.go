package gitstore_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/maxbolgarin/sitepub/internal/gitstore"
	"github.com/maxbolgarin/sitepub/internal/gitstore/gitstoretest"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *gitstoretest.Server) *gitstore.Client {
	t.Helper()
	cli, err := gitstore.New(gitstore.Config{
		Owner:                "acme",
		Repo:                 "site",
		Branch:               "main",
		Token:                "test-token",
		BaseURL:              srv.BaseURL(),
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return cli
}

func TestNewRequiresToken(t *testing.T) {
	_, err := gitstore.New(gitstore.Config{Owner: "acme", Repo: "site"})
	require.ErrorIs(t, err, model.ErrConfiguration)

	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "github.token", cfgErr.Field)
}

func TestCommitURLFollowsHost(t *testing.T) {
	for base, want := range map[string]string{
		"":                                "https://github.com/acme/site/commit/abc",
		"https://api.github.com/":         "https://github.com/acme/site/commit/abc",
		"https://ghe.example.com/api/v3/": "https://ghe.example.com/acme/site/commit/abc",
		"https://ghe.example.com/api/v3":  "https://ghe.example.com/acme/site/commit/abc",
		"http://127.0.0.1:8080/":          "http://127.0.0.1:8080/acme/site/commit/abc",
	} {
		cli, err := gitstore.New(gitstore.Config{Owner: "acme", Repo: "site", Token: "t", BaseURL: base})
		require.NoError(t, err, base)
		assert.Equal(t, want, cli.CommitURL("abc"), base)
	}
}

func TestGetRefAndCommit(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	first := srv.Seed("main", map[string]string{"index.html": "<h1>hi</h1>"})
	second := srv.Seed("main", map[string]string{"about.html": "about"})
	cli := newClient(t, srv)
	ctx := context.Background()

	head, err := cli.GetRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, second, head)
	assert.Len(t, head, 40)

	commit, err := cli.GetCommit(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, commit.Parents)
	assert.NotEmpty(t, commit.TreeSHA)

	tree, err := cli.GetTree(ctx, commit.TreeSHA, true)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, "about.html", tree[0].Path)
	assert.Equal(t, "index.html", tree[1].Path)
}

func TestGetRefMissingBranch(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	cli := newClient(t, srv)

	_, err := cli.GetRef(context.Background(), "nope")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 1, srv.Calls(gitstoretest.RouteGetRef))
}

func TestTransientErrorsAreRetried(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	head := srv.Seed("main", map[string]string{"a.txt": "a"})
	cli := newClient(t, srv)

	srv.FailNext(gitstoretest.RouteGetRef, http.StatusBadGateway, 2)
	got, err := cli.GetRef(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, head, got)
	assert.Equal(t, 3, srv.Calls(gitstoretest.RouteGetRef))
}

func TestTransientErrorsGiveUpAfterMaxAttempts(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	srv.Seed("main", map[string]string{"a.txt": "a"})
	cli := newClient(t, srv)

	srv.FailNext(gitstoretest.RouteGetRef, http.StatusServiceUnavailable, 10)
	_, err := cli.GetRef(context.Background(), "main")
	require.ErrorIs(t, err, model.ErrTransient)
	assert.Equal(t, 3, srv.Calls(gitstoretest.RouteGetRef))
}

func TestAuthErrorsAreNotRetried(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	srv.Seed("main", map[string]string{"a.txt": "a"})
	cli := newClient(t, srv)

	srv.FailNext(gitstoretest.RouteCreateBlob, http.StatusUnauthorized, 1)
	_, err := cli.CreateBlob(context.Background(), []byte("x"))
	require.ErrorIs(t, err, model.ErrAuth)
	assert.Contains(t, err.Error(), "access token")
	assert.Equal(t, 1, srv.Calls(gitstoretest.RouteCreateBlob))
}

func TestUpdateRefCompareAndSwap(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	base := srv.Seed("main", map[string]string{"a.txt": "a"})
	cli := newClient(t, srv)
	ctx := context.Background()

	blob, err := cli.CreateBlob(ctx, []byte("b"))
	require.NoError(t, err)
	baseCommit, err := cli.GetCommit(ctx, base)
	require.NoError(t, err)
	tree, err := cli.CreateTree(ctx, baseCommit.TreeSHA, []model.TreeEntry{
		{Path: "b.txt", Mode: model.TreeModeFile, Type: model.TreeTypeBlob, SHA: blob},
	})
	require.NoError(t, err)
	commit, err := cli.CreateCommit(ctx, tree, []string{base}, "add b")
	require.NoError(t, err)

	t.Run("stale expected sha", func(t *testing.T) {
		err := cli.UpdateRef(ctx, "main", commit.SHA, "0000000000000000000000000000000000000000")
		require.ErrorIs(t, err, model.ErrConflict)
		assert.Contains(t, err.Error(), "please retry")
		assert.Equal(t, base, srv.Head("main"))
		assert.Equal(t, 0, srv.Calls(gitstoretest.RouteUpdateRef))
	})

	t.Run("matching expected sha", func(t *testing.T) {
		require.NoError(t, cli.UpdateRef(ctx, "main", commit.SHA, base))
		assert.Equal(t, commit.SHA, srv.Head("main"))
		assert.Equal(t, map[string]string{"a.txt": "a", "b.txt": "b"}, srv.Files("main"))
	})
}

func TestUpdateRefNotFastForwardIsConflict(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	base := srv.Seed("main", map[string]string{"a.txt": "a"})
	cli := newClient(t, srv)
	ctx := context.Background()

	baseCommit, err := cli.GetCommit(ctx, base)
	require.NoError(t, err)
	orphan, err := cli.CreateCommit(ctx, baseCommit.TreeSHA, nil, "unrelated root")
	require.NoError(t, err)

	err = cli.UpdateRef(ctx, "main", orphan.SHA, base)
	require.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, base, srv.Head("main"))
}

func TestCreateTreeDeletesEntries(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	base := srv.Seed("main", map[string]string{"keep.txt": "k", "drop.txt": "d"})
	cli := newClient(t, srv)
	ctx := context.Background()

	baseCommit, err := cli.GetCommit(ctx, base)
	require.NoError(t, err)
	tree, err := cli.CreateTree(ctx, baseCommit.TreeSHA, []model.TreeEntry{
		{Path: "drop.txt", Mode: model.TreeModeFile, Type: model.TreeTypeBlob},
	})
	require.NoError(t, err)

	items, err := cli.GetTree(ctx, tree, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "keep.txt", items[0].Path)
}

func TestCountCommits(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	cli := newClient(t, srv)
	ctx := context.Background()

	srv.Seed("main", map[string]string{"a": "1"})
	n, err := cli.CountCommits(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	srv.Seed("main", map[string]string{"a": "2"})
	srv.Seed("main", map[string]string{"a": "3"})
	n, err = cli.CountCommits(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestContents(t *testing.T) {
	srv := gitstoretest.New(t, "acme", "site")
	srv.Seed("main", map[string]string{
		"snapshots/v1.json":     `{"version":1}`,
		"snapshots/v2.json":     `{"version":2}`,
		"snapshots/old/v0.json": `{}`,
	})
	cli := newClient(t, srv)
	ctx := context.Background()

	entries, err := cli.ListDirectory(ctx, "snapshots", "main")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "old", entries[0].Name)
	assert.Equal(t, "dir", entries[0].Type)
	assert.Equal(t, "v1.json", entries[1].Name)
	assert.Equal(t, "snapshots/v1.json", entries[1].Path)

	content, err := cli.GetFile(ctx, "snapshots/v2.json", "main")
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(content))

	_, err = cli.ListDirectory(ctx, "missing", "main")
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = cli.GetFile(ctx, "snapshots/v9.json", "main")
	require.ErrorIs(t, err, model.ErrNotFound)
}
