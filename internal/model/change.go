package model

import (
	"path"
	"strings"

	"github.com/maxbolgarin/errm"
)

// FileAction is the kind of change applied to a single path.
type FileAction string

const (
	ActionCreate FileAction = "create"
	ActionModify FileAction = "modify"
	ActionDelete FileAction = "delete"
)

const (
	// TreeModeFile is the git mode of a regular non-executable file.
	TreeModeFile = "100644"
	// TreeTypeBlob is the git object type of file entries.
	TreeTypeBlob = "blob"
)

// FileChange is one file operation inside a commit batch.
type FileChange struct {
	Path    string     `json:"path"`
	Content []byte     `json:"content,omitempty"`
	Action  FileAction `json:"action"`
}

// Normalized returns a copy of the change with a repository-relative clean path.
// Content is required unless the change is a deletion.
func (c FileChange) Normalized() (FileChange, error) {
	p, err := NormalizePath(c.Path)
	if err != nil {
		return FileChange{}, err
	}
	switch c.Action {
	case ActionCreate, ActionModify:
		if c.Content == nil {
			return FileChange{}, errm.Errorf("content is required for %s of %s", c.Action, p)
		}
	case ActionDelete:
	default:
		return FileChange{}, errm.Errorf("unknown action %q for %s", c.Action, p)
	}
	c.Path = p
	return c, nil
}

// NormalizePath turns p into a clean, slash-separated, repository-relative path.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", errm.New("empty path")
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errm.Errorf("path %q escapes repository root", p)
	}
	return cleaned, nil
}

// FileChangeRecord is the pre-image of a local file captured before it is written.
// A nil OriginalContent means the file did not exist.
type FileChangeRecord struct {
	Path            string
	OriginalContent []byte
	Action          FileAction
	// CreatedDirs are the missing parent directories of a new file, deepest first.
	CreatedDirs []string
}

// Existed reports whether the file was present before the change.
func (r FileChangeRecord) Existed() bool {
	return r.OriginalContent != nil
}

// TreeEntry is one path of a tree being created. Empty SHA marks a deletion.
type TreeEntry struct {
	Path string
	Mode string
	Type string
	SHA  string
}

// IsDeletion reports whether the entry removes its path from the base tree.
func (e TreeEntry) IsDeletion() bool {
	return e.SHA == ""
}

// GitCommit is a commit object as seen through the remote object store.
type GitCommit struct {
	SHA     string
	TreeSHA string
	Parents []string
	Message string
	URL     string
}

// TreeItem is a path listed from a remote tree.
type TreeItem struct {
	Path string
	Mode string
	Type string
	SHA  string
	Size int
}

// DirEntry is an entry of a remote directory listing.
type DirEntry struct {
	Name string
	Path string
	Type string
	SHA  string
	Size int
}

// CommitResult is returned once a batch is committed and the branch has moved.
type CommitResult struct {
	CommitSHA     string `json:"commitSha"`
	CommitURL     string `json:"commitUrl"`
	VersionNumber int    `json:"versionNumber"`
	Message       string `json:"message"`
}
