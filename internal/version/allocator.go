package version

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
)

type Source string

const (
	// SourceSnapshot numbers versions after the latest stored snapshot.
	SourceSnapshot Source = "snapshot"
	// SourceCommitCount numbers versions by the commits reachable from the branch head.
	SourceCommitCount Source = "commit_count"
)

var supportedSources = []Source{SourceSnapshot, SourceCommitCount}

type Config struct {
	Source Source `yaml:"source" env:"VERSION_SOURCE"`
}

func (c *Config) PrepareAndValidate() error {
	c.Source = lang.Check(c.Source, SourceSnapshot)
	if !slices.Contains(supportedSources, c.Source) {
		return model.NewConfigurationError("version.source", fmt.Sprintf("unsupported source %q", c.Source))
	}
	return nil
}

// CommitCounter counts commits reachable from a branch head.
type CommitCounter interface {
	CountCommits(ctx context.Context, branch string) (int, error)
}

// LatestVersioner returns the newest stored snapshot version, or model.ErrNotFound.
type LatestVersioner interface {
	LatestVersion(ctx context.Context) (int, error)
}

// Allocation is a version chosen before a commit.
type Allocation struct {
	Version int
	// Counted is set when the version was predicted from the commit count.
	Counted  bool
	Warnings []string
}

// Allocator picks the version number of the next publish.
type Allocator struct {
	counter   CommitCounter
	snapshots LatestVersioner
	source    Source
	logger    logze.Logger
}

func NewAllocator(cfg Config, counter CommitCounter, snapshots LatestVersioner) (*Allocator, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}
	return &Allocator{
		counter:   counter,
		snapshots: snapshots,
		source:    cfg.Source,
		logger:    logze.With("component", "version"),
	}, nil
}

// Next returns the version the upcoming commit will carry. It never fails: when the
// remote cannot be queried it falls back to version 1 and reports a warning.
func (a *Allocator) Next(ctx context.Context, branch string) Allocation {
	var out Allocation

	if a.source == SourceSnapshot && a.snapshots != nil {
		latest, err := a.snapshots.LatestVersion(ctx)
		switch {
		case err == nil:
			out.Version = latest + 1
			return out
		case errors.Is(err, model.ErrNotFound):
			a.logger.Debug("no snapshots yet, numbering by commit count", "branch", branch)
		default:
			a.logger.Warn("cannot read latest snapshot, numbering by commit count", "error", err)
			out.Warnings = append(out.Warnings, "latest snapshot unavailable: "+err.Error())
		}
	}

	count, err := a.counter.CountCommits(ctx, branch)
	if err != nil {
		a.logger.Warn("cannot count commits, using version 1", "branch", branch, "error", err)
		out.Version = 1
		out.Warnings = append(out.Warnings, "version defaulted to 1: "+errm.Wrap(err, "count commits").Error())
		return out
	}
	out.Version = count + 1
	out.Counted = true
	return out
}

// Confirm re-checks a counted allocation after the commit landed and returns the
// version to report. A mismatch means another commit landed in between; the stored
// number is kept and the drift is reported as a warning.
func (a *Allocator) Confirm(ctx context.Context, branch string, alloc Allocation) (int, []string) {
	if !alloc.Counted {
		return alloc.Version, nil
	}
	count, err := a.counter.CountCommits(ctx, branch)
	if err != nil {
		a.logger.Warn("cannot re-count commits", "branch", branch, "error", err)
		return alloc.Version, []string{"version not confirmed: " + err.Error()}
	}
	if count != alloc.Version {
		msg := fmt.Sprintf("version drift: published as v%d but branch %s has %d commits", alloc.Version, branch, count)
		a.logger.Warn(msg)
		if a.source == SourceCommitCount {
			return count, []string{msg}
		}
		return alloc.Version, []string{msg}
	}
	return alloc.Version, nil
}
