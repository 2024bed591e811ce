package commit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/panjf2000/ants/v2"
)

const defaultBlobWorkers = 8

// ObjectStore is the subset of the remote git-data API needed to build a commit.
type ObjectStore interface {
	GetRef(ctx context.Context, branch string) (string, error)
	GetCommit(ctx context.Context, sha string) (model.GitCommit, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []model.TreeEntry) (string, error)
	CreateCommit(ctx context.Context, tree string, parents []string, message string) (model.GitCommit, error)
	UpdateRef(ctx context.Context, branch, newSHA, expectedOldSHA string) error
}

// Request is a batch of changes to land as one commit on Branch.
type Request struct {
	Branch  string
	Message string
	Version int
	Changes []model.FileChange

	// Attach, when set, is called with the base commit and may return more changes
	// for the same batch, e.g. a snapshot that records the base it was built on.
	Attach func(base model.GitCommit) ([]model.FileChange, error)

	// DryRun computes object hashes locally and performs only reads.
	DryRun bool
}

// Builder turns a batch of file changes into a single commit and moves the branch to it.
type Builder struct {
	store   ObjectStore
	pool    *ants.Pool
	logger  logze.Logger
	verbose bool
}

func NewBuilder(store ObjectStore, workers int, verbose bool) (*Builder, error) {
	pool, err := ants.NewPool(lang.Check(workers, defaultBlobWorkers))
	if err != nil {
		return nil, errm.Wrap(err, "create blob worker pool")
	}
	return &Builder{
		store:   store,
		pool:    pool,
		logger:  logze.With("component", "commit"),
		verbose: verbose,
	}, nil
}

// Close releases the worker pool.
func (b *Builder) Close() {
	b.pool.Release()
}

// Commit lands req.Changes as one commit. Nothing is visible on the branch until the
// final ref update, and a concurrent move of the branch fails the whole batch with
// model.ErrConflict. Objects created before a failure are left unreferenced.
func (b *Builder) Commit(ctx context.Context, req Request) (model.CommitResult, error) {
	timer := abstract.StartTimer()
	log := b.logger.WithFields("branch", req.Branch, "dry_run", req.DryRun)

	changes, err := normalize(req.Changes)
	if err != nil {
		return model.CommitResult{}, err
	}
	if req.Message == "" {
		return model.CommitResult{}, errm.New("commit message is required")
	}

	baseSHA, err := b.store.GetRef(ctx, req.Branch)
	if err != nil {
		return model.CommitResult{}, err
	}
	base, err := b.store.GetCommit(ctx, baseSHA)
	if err != nil {
		return model.CommitResult{}, err
	}
	log.DebugIf(b.verbose, "resolved base", "base", baseSHA, "tree", base.TreeSHA)

	if req.Attach != nil {
		extra, err := req.Attach(base)
		if err != nil {
			return model.CommitResult{}, errm.Wrap(err, "attach changes")
		}
		if changes, err = normalize(append(changes, extra...)); err != nil {
			return model.CommitResult{}, err
		}
	}

	if req.DryRun {
		sha := syntheticCommit(base, req.Message, changes)
		log.Info("dry run commit prepared", "files", len(changes), "sha", sha, "elapsed", timer.ElapsedTime())
		return model.CommitResult{
			CommitSHA:     sha,
			VersionNumber: req.Version,
			Message:       req.Message,
		}, nil
	}

	blobs, err := b.createBlobs(ctx, changes)
	if err != nil {
		return model.CommitResult{}, err
	}

	entries := make([]model.TreeEntry, 0, len(changes))
	for i, ch := range changes {
		entries = append(entries, model.TreeEntry{
			Path: ch.Path,
			Mode: model.TreeModeFile,
			Type: model.TreeTypeBlob,
			SHA:  blobs[i],
		})
	}

	tree, err := b.store.CreateTree(ctx, base.TreeSHA, entries)
	if err != nil {
		return model.CommitResult{}, err
	}
	created, err := b.store.CreateCommit(ctx, tree, []string{baseSHA}, req.Message)
	if err != nil {
		return model.CommitResult{}, err
	}
	if err := b.store.UpdateRef(ctx, req.Branch, created.SHA, baseSHA); err != nil {
		return model.CommitResult{}, err
	}

	log.Info("committed", "sha", created.SHA, "files", len(changes), "elapsed", timer.ElapsedTime())

	return model.CommitResult{
		CommitSHA:     created.SHA,
		CommitURL:     created.URL,
		VersionNumber: req.Version,
		Message:       req.Message,
	}, nil
}

// createBlobs uploads every non-deleted change on the pool and waits for all of them.
// The result is indexed like changes, with empty SHAs for deletions.
func (b *Builder) createBlobs(ctx context.Context, changes []model.FileChange) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		shas     = make([]string, len(changes))
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for i, ch := range changes {
		if ch.Action == model.ActionDelete {
			continue
		}
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			sha, err := b.store.CreateBlob(ctx, ch.Content)
			if err != nil {
				fail(errm.Wrap(err, "blob for "+ch.Path))
				return
			}
			shas[i] = sha
		})
		if err != nil {
			wg.Done()
			fail(errm.Wrap(err, "submit blob upload"))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return shas, nil
}

func normalize(changes []model.FileChange) ([]model.FileChange, error) {
	if len(changes) == 0 {
		return nil, errm.New("empty change batch")
	}
	out := make([]model.FileChange, 0, len(changes))
	seen := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		n, err := ch.Normalized()
		if err != nil {
			return nil, err
		}
		if _, ok := seen[n.Path]; ok {
			return nil, errm.Errorf("duplicate path in batch: %s", n.Path)
		}
		seen[n.Path] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// syntheticCommit hashes what the commit would contain using real blob hashes,
// so a dry run yields a well-formed SHA without touching the remote.
func syntheticCommit(base model.GitCommit, message string, changes []model.FileChange) string {
	payload := fmt.Sprintf("tree-base %s\nparent %s\n", base.TreeSHA, base.SHA)
	for _, ch := range changes {
		blob := "0000000000000000000000000000000000000000"
		if ch.Action != model.ActionDelete {
			blob = plumbing.ComputeHash(plumbing.BlobObject, ch.Content).String()
		}
		payload += fmt.Sprintf("%s %s %s\n", ch.Action, blob, ch.Path)
	}
	payload += fmt.Sprintf("\n%s\n%d", message, time.Now().UnixNano())
	return plumbing.ComputeHash(plumbing.CommitObject, []byte(payload)).String()
}
