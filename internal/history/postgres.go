package history

import (
	"context"
	"embed"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/pressly/goose/v3"
)

const migrateTimeout = time.Minute

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres stores deployment records in the deployments table.
type Postgres struct {
	pool *pgxpool.Pool
	log  logze.Logger
}

var _ Store = (*Postgres)(nil)

// Open connects to the database and applies pending migrations when enabled.
func Open(ctx context.Context, cfg Config) (*Postgres, error) {
	if !cfg.Enabled() {
		return nil, model.NewConfigurationError("history.dsn", "database DSN is required (DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, errm.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errm.Wrap(err, "ping database")
	}

	p := &Postgres{pool: pool, log: logze.With("component", "history")}
	if cfg.Migrate {
		if err := p.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errm.Wrap(err, "configure goose")
	}

	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	p.log.Info("applying migrations")
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errm.Wrap(err, "apply migrations")
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, rec model.DeploymentRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return errm.Wrap(err, "invalid deployment id", "id", rec.ID)
	}
	const query = `INSERT INTO deployments (id, project_id, status, started_at, commit_message)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = p.pool.Exec(ctx, query, id, rec.ProjectID, string(model.DeploymentPending), rec.StartedAt, rec.CommitMessage)
	if err != nil {
		return errm.Wrap(err, "insert deployment", "id", rec.ID)
	}
	return nil
}

func (p *Postgres) Complete(ctx context.Context, rec model.DeploymentRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return errm.Wrap(err, "invalid deployment id", "id", rec.ID)
	}
	completedAt := time.Now()
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}

	const query = `UPDATE deployments
		SET status = $2, completed_at = $3, commit_sha = $4, version = $5, build_time_ms = $6, error_message = $7
		WHERE id = $1 AND status = $8`
	tag, err := p.pool.Exec(ctx, query, id, string(rec.Status), completedAt, rec.CommitSHA, rec.Version,
		rec.BuildTime.Milliseconds(), rec.ErrorMessage, string(model.DeploymentPending))
	if err != nil {
		return errm.Wrap(err, "update deployment", "id", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(rec.ID)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, projectID string, limit int) ([]model.DeploymentRecord, error) {
	const query = `SELECT id, project_id, status, started_at, completed_at, commit_message, commit_sha, version, build_time_ms, error_message
		FROM deployments
		WHERE $1 = '' OR project_id = $1
		ORDER BY started_at DESC
		LIMIT $2`
	rows, err := p.pool.Query(ctx, query, projectID, normalizeLimit(limit))
	if err != nil {
		return nil, errm.Wrap(err, "query deployments")
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DeploymentRecord, error) {
		var (
			rec     model.DeploymentRecord
			id      uuid.UUID
			status  string
			buildMS int64
		)
		err := row.Scan(&id, &rec.ProjectID, &status, &rec.StartedAt, &rec.CompletedAt, &rec.CommitMessage,
			&rec.CommitSHA, &rec.Version, &buildMS, &rec.ErrorMessage)
		rec.ID = id.String()
		rec.Status = model.DeploymentStatus(status)
		rec.BuildTime = time.Duration(buildMS) * time.Millisecond
		return rec, err
	})
	if err != nil {
		return nil, errm.Wrap(err, "scan deployments")
	}
	return out, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
