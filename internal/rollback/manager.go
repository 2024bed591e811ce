package rollback

import (
	"errors"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const filePerm = 0o644

// Manager writes files into a local working copy and can put them back the way they were.
// A working copy has a single writer; Manager is not safe for concurrent use.
type Manager struct {
	fs     billy.Filesystem
	logger logze.Logger
}

func New(fs billy.Filesystem) *Manager {
	return &Manager{
		fs:     fs,
		logger: logze.With("component", "rollback", "root", fs.Root()),
	}
}

// BeginChange captures the current content of p before it is written.
func (m *Manager) BeginChange(p string) (model.FileChangeRecord, error) {
	p, err := model.NormalizePath(p)
	if err != nil {
		return model.FileChangeRecord{}, err
	}

	content, err := util.ReadFile(m.fs, p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return model.FileChangeRecord{Path: p, Action: model.ActionCreate, CreatedDirs: m.missingDirs(p)}, nil
	case err != nil:
		return model.FileChangeRecord{}, errm.Wrap(err, "read "+p)
	}
	if content == nil {
		content = []byte{}
	}
	return model.FileChangeRecord{Path: p, OriginalContent: content, Action: model.ActionModify}, nil
}

func (m *Manager) missingDirs(p string) []string {
	var dirs []string
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		if _, err := m.fs.Stat(dir); err == nil {
			break
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// CommitChange writes content to p, creating parent directories.
func (m *Manager) CommitChange(p string, content []byte) error {
	p, err := model.NormalizePath(p)
	if err != nil {
		return err
	}
	if dir := path.Dir(p); dir != "." {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return errm.Wrap(err, "create "+dir)
		}
	}
	if err := util.WriteFile(m.fs, p, content, filePerm); err != nil {
		return errm.Wrap(err, "write "+p)
	}
	return nil
}

// Undo restores every record, newest first. Files that did not exist are removed
// together with the directories created for them once those are empty, others get
// their original bytes back. All records are attempted.
func (m *Manager) Undo(records []model.FileChangeRecord) error {
	errs := errm.NewList()
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if !rec.Existed() {
			err := m.fs.Remove(rec.Path)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				errs.Wrap(err, "remove", "path", rec.Path)
				continue
			}
			m.removeEmptyDirs(rec.CreatedDirs)
			continue
		}
		if err := m.CommitChange(rec.Path, rec.OriginalContent); err != nil {
			errs.Wrap(err, "restore", "path", rec.Path)
		}
	}
	if err := errs.Err(); err != nil {
		return err
	}
	if len(records) > 0 {
		m.logger.Info("local changes undone", "files", len(records))
	}
	return nil
}

func (m *Manager) removeEmptyDirs(dirs []string) {
	for _, dir := range dirs {
		entries, err := m.fs.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := m.fs.Remove(dir); err != nil {
			m.logger.Warn("cannot remove created directory", "path", dir, "error", err)
			return
		}
	}
}

// WriteBatch applies changes in order. On the first failure it undoes everything the
// batch already wrote and returns the write error. The returned records undo the batch.
func (m *Manager) WriteBatch(changes []model.FileChange) ([]model.FileChangeRecord, error) {
	records := make([]model.FileChangeRecord, 0, len(changes))
	for _, ch := range changes {
		rec, err := m.BeginChange(ch.Path)
		if err != nil {
			return nil, m.abort(records, err)
		}

		if ch.Action == model.ActionDelete {
			rec.Action = model.ActionDelete
			if rec.Existed() {
				err = m.fs.Remove(rec.Path)
			}
		} else {
			err = m.CommitChange(rec.Path, ch.Content)
		}
		records = append(records, rec)
		if err != nil {
			return nil, m.abort(records, errm.Wrap(err, "apply "+rec.Path))
		}
	}
	return records, nil
}

func (m *Manager) abort(records []model.FileChangeRecord, cause error) error {
	if err := m.Undo(records); err != nil {
		m.logger.Error("cannot undo partial batch", "error", err)
		return errm.Wrap(errors.Join(cause, err), "batch failed and was not fully undone")
	}
	return errm.Wrap(cause, "batch failed and was undone")
}
