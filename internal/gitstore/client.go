package gitstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v57/github"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
	"golang.org/x/oauth2"
)

// Client is a GitHub git-data client scoped to one repository.
type Client struct {
	gh     *github.Client
	cfg    Config
	web    string
	logger logze.Logger
}

// New creates a client for the configured repository.
func New(cfg Config) (*Client, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = cfg.RequestTimeout

	gh := github.NewClient(tc)
	web := defaultWebURL
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, model.NewConfigurationError("github.base_url", err.Error())
		}
		gh.BaseURL = base
		web = webURL(base)
	}

	return &Client{
		gh:     gh,
		cfg:    cfg,
		web:    web,
		logger: logze.With("component", "gitstore", "repo", cfg.Owner+"/"+cfg.Repo),
	}, nil
}

// Branch returns the default branch of the repository.
func (c *Client) Branch() string {
	return c.cfg.Branch
}

// GetRef returns the commit SHA the branch points to.
func (c *Client) GetRef(ctx context.Context, branch string) (string, error) {
	var ref *github.Reference
	err := c.call(ctx, "get ref", func(ctx context.Context) (resp *github.Response, err error) {
		ref, resp, err = c.gh.Git.GetRef(ctx, c.cfg.Owner, c.cfg.Repo, "heads/"+branch)
		return resp, err
	})
	if err != nil {
		return "", errm.Wrap(err, "get branch "+branch)
	}
	return ref.GetObject().GetSHA(), nil
}

// GetCommit returns the commit with its tree and parents.
func (c *Client) GetCommit(ctx context.Context, sha string) (model.GitCommit, error) {
	var commit *github.Commit
	err := c.call(ctx, "get commit", func(ctx context.Context) (resp *github.Response, err error) {
		commit, resp, err = c.gh.Git.GetCommit(ctx, c.cfg.Owner, c.cfg.Repo, sha)
		return resp, err
	})
	if err != nil {
		return model.GitCommit{}, errm.Wrap(err, "get commit "+sha)
	}
	return toGitCommit(commit), nil
}

// CreateBlob uploads content and returns the blob SHA.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (string, error) {
	blob := &github.Blob{
		Content:  github.String(base64.StdEncoding.EncodeToString(content)),
		Encoding: github.String("base64"),
	}
	var created *github.Blob
	err := c.call(ctx, "create blob", func(ctx context.Context) (resp *github.Response, err error) {
		created, resp, err = c.gh.Git.CreateBlob(ctx, c.cfg.Owner, c.cfg.Repo, blob)
		return resp, err
	})
	if err != nil {
		return "", errm.Wrap(err, "create blob")
	}
	return created.GetSHA(), nil
}

// CreateTree creates a tree on top of baseTree. Entries with an empty SHA remove their path.
func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []model.TreeEntry) (string, error) {
	ghEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		entry := &github.TreeEntry{
			Path: github.String(e.Path),
			Mode: github.String(e.Mode),
			Type: github.String(e.Type),
		}
		if !e.IsDeletion() {
			entry.SHA = github.String(e.SHA)
		}
		ghEntries = append(ghEntries, entry)
	}

	var tree *github.Tree
	err := c.call(ctx, "create tree", func(ctx context.Context) (resp *github.Response, err error) {
		tree, resp, err = c.gh.Git.CreateTree(ctx, c.cfg.Owner, c.cfg.Repo, baseTree, ghEntries)
		return resp, err
	})
	if err != nil {
		return "", errm.Wrap(err, "create tree")
	}
	return tree.GetSHA(), nil
}

// CreateCommit creates a commit object. The branch is not moved.
func (c *Client) CreateCommit(ctx context.Context, tree string, parents []string, message string) (model.GitCommit, error) {
	commit := &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: github.String(tree)},
	}
	for _, p := range parents {
		commit.Parents = append(commit.Parents, &github.Commit{SHA: github.String(p)})
	}

	var created *github.Commit
	err := c.call(ctx, "create commit", func(ctx context.Context) (resp *github.Response, err error) {
		created, resp, err = c.gh.Git.CreateCommit(ctx, c.cfg.Owner, c.cfg.Repo, commit, nil)
		return resp, err
	})
	if err != nil {
		return model.GitCommit{}, errm.Wrap(err, "create commit")
	}

	out := toGitCommit(created)
	if out.URL == "" {
		out.URL = c.CommitURL(out.SHA)
	}
	return out, nil
}

// UpdateRef moves branch to newSHA only if it still points to expectedOldSHA.
// The current head is re-read right before the update and the update is never forced,
// so a concurrent writer yields a conflict and leaves the branch untouched.
func (c *Client) UpdateRef(ctx context.Context, branch, newSHA, expectedOldSHA string) error {
	current, err := c.GetRef(ctx, branch)
	if err != nil {
		return err
	}
	if current != expectedOldSHA {
		return &model.RemoteError{
			Kind:    model.ErrConflict,
			Op:      "update ref",
			Message: fmt.Sprintf("branch %s is at %s, expected %s", branch, shortSHA(current), shortSHA(expectedOldSHA)),
		}
	}

	ref := &github.Reference{
		Ref:    github.String("heads/" + branch),
		Object: &github.GitObject{SHA: github.String(newSHA)},
	}
	err = c.call(ctx, "update ref", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.gh.Git.UpdateRef(ctx, c.cfg.Owner, c.cfg.Repo, ref, false)
		return resp, err
	})
	if err != nil {
		return errm.Wrap(asConflict(err), "update branch "+branch)
	}

	c.logger.DebugIf(c.cfg.Verbose, "branch moved", "branch", branch, "from", shortSHA(expectedOldSHA), "to", shortSHA(newSHA))
	return nil
}

// GetTree lists the entries of a tree.
func (c *Client) GetTree(ctx context.Context, sha string, recursive bool) ([]model.TreeItem, error) {
	var tree *github.Tree
	err := c.call(ctx, "get tree", func(ctx context.Context) (resp *github.Response, err error) {
		tree, resp, err = c.gh.Git.GetTree(ctx, c.cfg.Owner, c.cfg.Repo, sha, recursive)
		return resp, err
	})
	if err != nil {
		return nil, errm.Wrap(err, "get tree "+sha)
	}
	if tree.GetTruncated() {
		c.logger.Warn("tree listing is truncated", "sha", sha)
	}

	out := make([]model.TreeItem, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		out = append(out, model.TreeItem{
			Path: e.GetPath(),
			Mode: e.GetMode(),
			Type: e.GetType(),
			SHA:  e.GetSHA(),
			Size: e.GetSize(),
		})
	}
	return out, nil
}

// ListDirectory lists a directory at ref. A missing directory is ErrNotFound.
func (c *Client) ListDirectory(ctx context.Context, dir, ref string) ([]model.DirEntry, error) {
	var entries []*github.RepositoryContent
	err := c.call(ctx, "list directory", func(ctx context.Context) (resp *github.Response, err error) {
		_, entries, resp, err = c.gh.Repositories.GetContents(ctx, c.cfg.Owner, c.cfg.Repo, dir, &github.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return nil, errm.Wrap(err, "list "+dir)
	}

	out := make([]model.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.DirEntry{
			Name: e.GetName(),
			Path: e.GetPath(),
			Type: e.GetType(),
			SHA:  e.GetSHA(),
			Size: e.GetSize(),
		})
	}
	return out, nil
}

// GetFile returns the content of a file at ref.
func (c *Client) GetFile(ctx context.Context, path, ref string) ([]byte, error) {
	var file *github.RepositoryContent
	err := c.call(ctx, "get file", func(ctx context.Context) (resp *github.Response, err error) {
		file, _, resp, err = c.gh.Repositories.GetContents(ctx, c.cfg.Owner, c.cfg.Repo, path, &github.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return nil, errm.Wrap(err, "get "+path)
	}
	if file == nil {
		return nil, &model.RemoteError{Kind: model.ErrNotFound, Op: "get file", Message: path + " is a directory"}
	}

	// Contents API omits bodies of files over 1MB, the blob endpoint does not
	if file.GetEncoding() == "none" {
		var raw []byte
		err = c.call(ctx, "get blob", func(ctx context.Context) (resp *github.Response, err error) {
			raw, resp, err = c.gh.Git.GetBlobRaw(ctx, c.cfg.Owner, c.cfg.Repo, file.GetSHA())
			return resp, err
		})
		if err != nil {
			return nil, errm.Wrap(err, "get blob of "+path)
		}
		return raw, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, errm.Wrap(err, "decode "+path)
	}
	return []byte(content), nil
}

// CountCommits returns the number of commits reachable from the branch head.
func (c *Client) CountCommits(ctx context.Context, branch string) (int, error) {
	var (
		commits []*github.RepositoryCommit
		last    int
	)
	err := c.call(ctx, "count commits", func(ctx context.Context) (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		commits, resp, err = c.gh.Repositories.ListCommits(ctx, c.cfg.Owner, c.cfg.Repo, &github.CommitsListOptions{
			SHA:         branch,
			ListOptions: github.ListOptions{PerPage: 1},
		})
		if resp != nil {
			last = resp.LastPage
		}
		return resp, err
	})
	if err != nil {
		return 0, errm.Wrap(err, "list commits of "+branch)
	}
	// With one commit per page the last page number is the commit count
	if last > 0 {
		return last, nil
	}
	return len(commits), nil
}

// CommitURL returns the web URL of a commit on the configured host.
func (c *Client) CommitURL(sha string) string {
	return fmt.Sprintf("%s/%s/%s/commit/%s", c.web, c.cfg.Owner, c.cfg.Repo, sha)
}

const defaultWebURL = "https://github.com"

// webURL maps an API root to the web root of the same host.
// GitHub Enterprise serves its API under /api/v3.
func webURL(api *url.URL) string {
	if api.Host == "api.github.com" {
		return defaultWebURL
	}
	web := *api
	web.Path = strings.TrimSuffix(strings.TrimSuffix(api.Path, "/"), "/api/v3")
	web.RawPath, web.RawQuery, web.Fragment = "", "", ""
	return strings.TrimSuffix(web.String(), "/")
}

// call runs fn with bounded exponential backoff, retrying only transient failures.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) (*github.Response, error)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitialInterval
	policy.MaxInterval = c.cfg.RetryMaxInterval

	retries := uint64(max(c.cfg.MaxAttempts-1, 0))
	withCtx := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)

	return backoff.RetryNotify(func() error {
		resp, err := fn(ctx)
		if err == nil {
			return nil
		}
		classified := classify(op, resp, err)
		if !model.IsRetryable(classified) {
			return backoff.Permanent(classified)
		}
		return classified
	}, withCtx, func(err error, wait time.Duration) {
		c.logger.Warn("retrying github call", "op", op, "error", err, "wait", wait)
	})
}

func toGitCommit(commit *github.Commit) model.GitCommit {
	out := model.GitCommit{
		SHA:     commit.GetSHA(),
		TreeSHA: commit.GetTree().GetSHA(),
		Message: commit.GetMessage(),
		URL:     commit.GetHTMLURL(),
	}
	for _, p := range commit.Parents {
		out.Parents = append(out.Parents, p.GetSHA())
	}
	return out
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
