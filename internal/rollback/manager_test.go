package rollback_test

import (
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/maxbolgarin/sitepub/internal/rollback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoRestoresExistingFile(t *testing.T) {
	fs := memfs.New()
	original := []byte("line one\r\nline two\x00\xff")
	require.NoError(t, util.WriteFile(fs, "data/site.json", original, 0o644))
	m := rollback.New(fs)

	rec, err := m.BeginChange("data/site.json")
	require.NoError(t, err)
	assert.True(t, rec.Existed())
	assert.Equal(t, model.ActionModify, rec.Action)

	require.NoError(t, m.CommitChange("data/site.json", []byte("new")))
	require.NoError(t, m.Undo([]model.FileChangeRecord{rec}))

	got, err := util.ReadFile(fs, "data/site.json")
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestUndoRemovesNewFile(t *testing.T) {
	fs := memfs.New()
	m := rollback.New(fs)

	rec, err := m.BeginChange("/out/pages/new.tsx")
	require.NoError(t, err)
	assert.False(t, rec.Existed())
	assert.Equal(t, "out/pages/new.tsx", rec.Path)

	require.NoError(t, m.CommitChange(rec.Path, []byte("x")))
	require.NoError(t, m.Undo([]model.FileChangeRecord{rec}))

	_, err = fs.Stat("out/pages/new.tsx")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Stat("out")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUndoKeepsPreexistingAndSharedDirs(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "app/layout.tsx", []byte("layout"), 0o644))
	m := rollback.New(fs)

	records, err := m.WriteBatch([]model.FileChange{
		{Path: "app/blog/posts/first.tsx", Content: []byte("1"), Action: model.ActionCreate},
		{Path: "app/blog/posts/second.tsx", Content: []byte("2"), Action: model.ActionCreate},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app/blog/posts", "app/blog"}, records[0].CreatedDirs)
	assert.Empty(t, records[1].CreatedDirs)

	require.NoError(t, util.WriteFile(fs, "app/blog/keep.md", []byte("mine"), 0o644))
	require.NoError(t, m.Undo(records))

	_, err = fs.Stat("app/blog/posts")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Stat("app/blog/keep.md")
	assert.NoError(t, err)
	_, err = fs.Stat("app/layout.tsx")
	assert.NoError(t, err)
}

func TestUndoEmptyFileStaysEmpty(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "empty.txt", nil, 0o644))
	m := rollback.New(fs)

	rec, err := m.BeginChange("empty.txt")
	require.NoError(t, err)
	require.True(t, rec.Existed())

	require.NoError(t, m.CommitChange("empty.txt", []byte("filled")))
	require.NoError(t, m.Undo([]model.FileChangeRecord{rec}))

	got, err := util.ReadFile(fs, "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUndoRecreatesDeletedParents(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a/b/c.txt", []byte("c"), 0o644))
	m := rollback.New(fs)

	rec, err := m.BeginChange("a/b/c.txt")
	require.NoError(t, err)
	require.NoError(t, util.RemoveAll(fs, "a"))

	require.NoError(t, m.Undo([]model.FileChangeRecord{rec}))
	got, err := util.ReadFile(fs, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "c", string(got))
}

func TestWriteBatch(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "keep.txt", []byte("old"), 0o644))
	require.NoError(t, util.WriteFile(fs, "gone.txt", []byte("bye"), 0o644))
	m := rollback.New(fs)

	records, err := m.WriteBatch([]model.FileChange{
		{Path: "keep.txt", Content: []byte("new"), Action: model.ActionModify},
		{Path: "dir/added.txt", Content: []byte("added"), Action: model.ActionCreate},
		{Path: "gone.txt", Action: model.ActionDelete},
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	got, _ := util.ReadFile(fs, "keep.txt")
	assert.Equal(t, "new", string(got))
	_, err = fs.Stat("gone.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, m.Undo(records))
	got, _ = util.ReadFile(fs, "keep.txt")
	assert.Equal(t, "old", string(got))
	got, _ = util.ReadFile(fs, "gone.txt")
	assert.Equal(t, "bye", string(got))
	_, err = fs.Stat("dir/added.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// failingFS fails writes to one path.
type failingFS struct {
	billy.Filesystem
	path string
}

func (f failingFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	if name == f.path && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, os.ErrPermission
	}
	return f.Filesystem.OpenFile(name, flag, perm)
}

func TestWriteBatchUndoesOnFailure(t *testing.T) {
	mem := memfs.New()
	require.NoError(t, util.WriteFile(mem, "first.txt", []byte("first"), 0o644))
	m := rollback.New(failingFS{Filesystem: mem, path: "third.txt"})

	_, err := m.WriteBatch([]model.FileChange{
		{Path: "first.txt", Content: []byte("changed"), Action: model.ActionModify},
		{Path: "second.txt", Content: []byte("created"), Action: model.ActionCreate},
		{Path: "third.txt", Content: []byte("fails"), Action: model.ActionCreate},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)

	got, err := util.ReadFile(mem, "first.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	_, err = mem.Stat("second.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = mem.Stat("third.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
