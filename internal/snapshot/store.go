package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const defaultPath = "snapshots"

var (
	json         = jsoniter.ConfigCompatibleWithStandardLibrary
	filenameExpr = regexp.MustCompile(`^v([0-9]+)\.json$`)
)

type Config struct {
	Path string `yaml:"path" env:"SNAPSHOTS_PATH"`
}

func (c *Config) PrepareAndValidate() error {
	c.Path = strings.Trim(lang.Check(c.Path, defaultPath), "/")
	if _, err := model.NormalizePath(c.Path); err != nil {
		return model.NewConfigurationError("snapshots.path", err.Error())
	}
	return nil
}

// ContentReader reads repository contents at a ref.
type ContentReader interface {
	ListDirectory(ctx context.Context, dir, ref string) ([]model.DirEntry, error)
	GetFile(ctx context.Context, path, ref string) ([]byte, error)
}

// Store reads and prepares numbered site snapshots kept in the repository.
// Snapshots are written only as part of a publish commit, never on their own.
type Store struct {
	reader ContentReader
	branch string
	dir    string
	logger logze.Logger
}

func NewStore(cfg Config, reader ContentReader, branch string) (*Store, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}
	return &Store{
		reader: reader,
		branch: branch,
		dir:    cfg.Path,
		logger: logze.With("component", "snapshot"),
	}, nil
}

// FilePath returns the repository path of the snapshot with the given version.
func (s *Store) FilePath(version int) string {
	return path.Join(s.dir, "v"+strconv.Itoa(version)+".json")
}

// List returns stored snapshots, newest first. A missing directory yields an empty list.
func (s *Store) List(ctx context.Context) ([]model.SnapshotInfo, error) {
	entries, err := s.reader.ListDirectory(ctx, s.dir, s.branch)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return []model.SnapshotInfo{}, nil
		}
		return nil, errm.Wrap(err, "list snapshots")
	}

	out := make([]model.SnapshotInfo, 0, len(entries))
	for _, e := range entries {
		if e.Type != "" && e.Type != "file" {
			continue
		}
		m := filenameExpr.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, model.SnapshotInfo{Version: v, Filename: e.Name, SHA: e.SHA, Size: e.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Get loads a snapshot by version. A missing snapshot is model.ErrNotFound.
func (s *Store) Get(ctx context.Context, version int) (model.Snapshot, error) {
	if version <= 0 {
		return model.Snapshot{}, errm.Wrap(model.ErrNotFound, fmt.Sprintf("snapshot v%d", version))
	}
	data, err := s.reader.GetFile(ctx, s.FilePath(version), s.branch)
	if err != nil {
		return model.Snapshot{}, errm.Wrap(err, fmt.Sprintf("get snapshot v%d", version))
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, errm.Wrap(err, fmt.Sprintf("decode snapshot v%d", version))
	}
	return snap, nil
}

// Latest loads the newest snapshot.
func (s *Store) Latest(ctx context.Context) (model.Snapshot, error) {
	v, err := s.LatestVersion(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	return s.Get(ctx, v)
}

// LatestVersion returns the newest stored version or model.ErrNotFound.
func (s *Store) LatestVersion(ctx context.Context) (int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, errm.Wrap(model.ErrNotFound, "no snapshots in "+s.dir)
	}
	return list[0].Version, nil
}

// Change encodes snap as a file change for the publish commit.
func (s *Store) Change(snap model.Snapshot) (model.FileChange, error) {
	if snap.Version <= 0 {
		return model.FileChange{}, errm.Errorf("invalid snapshot version %d", snap.Version)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return model.FileChange{}, errm.Wrap(err, "encode snapshot")
	}
	return model.FileChange{
		Path:    s.FilePath(snap.Version),
		Content: append(data, '\n'),
		Action:  model.ActionCreate,
	}, nil
}
