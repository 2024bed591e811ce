package version_test

import (
	"context"
	"errors"
	"testing"

	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/maxbolgarin/sitepub/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts []int
	err    error
	calls  int
}

func (f *fakeCounter) CountCommits(context.Context, string) (int, error) {
	defer func() { f.calls++ }()
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[min(f.calls, len(f.counts)-1)], nil
}

type fakeLatest struct {
	version int
	err     error
}

func (f fakeLatest) LatestVersion(context.Context) (int, error) {
	return f.version, f.err
}

func TestNextFromSnapshot(t *testing.T) {
	counter := &fakeCounter{counts: []int{40}}
	a, err := version.NewAllocator(version.Config{}, counter, fakeLatest{version: 7})
	require.NoError(t, err)

	alloc := a.Next(context.Background(), "main")
	assert.Equal(t, 8, alloc.Version)
	assert.False(t, alloc.Counted)
	assert.Empty(t, alloc.Warnings)
	assert.Equal(t, 0, counter.calls)

	v, warnings := a.Confirm(context.Background(), "main", alloc)
	assert.Equal(t, 8, v)
	assert.Empty(t, warnings)
}

func TestNextFallsBackToCommitCount(t *testing.T) {
	counter := &fakeCounter{counts: []int{4, 5}}
	a, err := version.NewAllocator(version.Config{}, counter, fakeLatest{err: model.ErrNotFound})
	require.NoError(t, err)

	alloc := a.Next(context.Background(), "main")
	assert.Equal(t, 5, alloc.Version)
	assert.True(t, alloc.Counted)
	assert.Empty(t, alloc.Warnings)

	v, warnings := a.Confirm(context.Background(), "main", alloc)
	assert.Equal(t, 5, v)
	assert.Empty(t, warnings)
}

func TestConfirmReportsDrift(t *testing.T) {
	counter := &fakeCounter{counts: []int{4, 6}}
	a, err := version.NewAllocator(version.Config{Source: version.SourceCommitCount}, counter, nil)
	require.NoError(t, err)

	alloc := a.Next(context.Background(), "main")
	require.Equal(t, 5, alloc.Version)

	v, warnings := a.Confirm(context.Background(), "main", alloc)
	assert.Equal(t, 6, v)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "version drift")
}

func TestNextDefaultsToOneOnFailure(t *testing.T) {
	counter := &fakeCounter{err: errors.New("boom")}
	a, err := version.NewAllocator(version.Config{}, counter, fakeLatest{err: errors.New("unreachable")})
	require.NoError(t, err)

	alloc := a.Next(context.Background(), "main")
	assert.Equal(t, 1, alloc.Version)
	assert.Len(t, alloc.Warnings, 2)
}

func TestUnknownSource(t *testing.T) {
	_, err := version.NewAllocator(version.Config{Source: "random"}, &fakeCounter{}, nil)
	require.ErrorIs(t, err, model.ErrConfiguration)
}
