package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Store persists deployment records. A record is created when a publish
// begins and completed exactly once.
type Store interface {
	Create(ctx context.Context, rec model.DeploymentRecord) error
	Complete(ctx context.Context, rec model.DeploymentRecord) error
	List(ctx context.Context, projectID string, limit int) ([]model.DeploymentRecord, error)
}

type Config struct {
	DSN     string `yaml:"dsn" env:"DATABASE_URL"`
	Migrate bool   `yaml:"migrate" env:"HISTORY_MIGRATE" env-default:"true"`
}

// Enabled reports whether records go to Postgres instead of memory.
func (c Config) Enabled() bool {
	return c.DSN != ""
}

func normalizeLimit(limit int) int {
	limit = lang.Check(limit, defaultListLimit)
	if limit < 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func notFound(id string) error {
	return &model.RemoteError{Kind: model.ErrNotFound, Op: "complete deployment", Message: "no pending deployment " + id}
}

// Memory keeps records in process. It is used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	records map[string]model.DeploymentRecord
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[string]model.DeploymentRecord)}
}

func (m *Memory) Create(_ context.Context, rec model.DeploymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = lang.Check(rec.Status, model.DeploymentPending)
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) Complete(_ context.Context, rec model.DeploymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.ID]
	if !ok || cur.Status != model.DeploymentPending {
		return notFound(rec.ID)
	}
	completedAt := time.Now()
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}

	cur.Status = rec.Status
	cur.CompletedAt = &completedAt
	cur.CommitSHA = rec.CommitSHA
	cur.Version = rec.Version
	cur.BuildTime = rec.BuildTime
	cur.ErrorMessage = rec.ErrorMessage
	m.records[rec.ID] = cur
	return nil
}

func (m *Memory) List(_ context.Context, projectID string, limit int) ([]model.DeploymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.DeploymentRecord, 0, len(m.records))
	for _, rec := range m.records {
		if projectID == "" || rec.ProjectID == projectID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out[:min(len(out), normalizeLimit(limit))], nil
}
