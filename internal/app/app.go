package app

import (
	"context"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/agent"
	"github.com/maxbolgarin/sitepub/internal/commit"
	"github.com/maxbolgarin/sitepub/internal/config"
	"github.com/maxbolgarin/sitepub/internal/deploystatus"
	"github.com/maxbolgarin/sitepub/internal/events"
	"github.com/maxbolgarin/sitepub/internal/gitstore"
	"github.com/maxbolgarin/sitepub/internal/history"
	"github.com/maxbolgarin/sitepub/internal/metrics"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/maxbolgarin/sitepub/internal/publisher"
	"github.com/maxbolgarin/sitepub/internal/rollback"
	"github.com/maxbolgarin/sitepub/internal/server"
	"github.com/maxbolgarin/sitepub/internal/snapshot"
	"github.com/maxbolgarin/sitepub/internal/validation"
	"github.com/maxbolgarin/sitepub/internal/version"
)

// Sitepub wires the publish pipeline with its stores and outer surfaces
type Sitepub struct {
	repo      *gitstore.Client
	builder   *commit.Builder
	snapshots *snapshot.Store
	history   history.Store
	metrics   *metrics.Recorder
	events    *events.Dispatcher
	publisher *publisher.Publisher
	server    *server.Server

	closers []func() error

	cfg config.Config
	log logze.Logger
}

// New creates the service from a validated config
func New(ctx contem.Context, cfg config.Config) (*Sitepub, error) {
	service := &Sitepub{
		cfg: cfg,
		log: logze.With("component", "app"),
	}

	if err := service.init(ctx, cfg); err != nil {
		_ = service.close()
		return nil, errm.Wrap(err, "failed to initialize service")
	}
	ctx.Add(service.shutdown)

	return service, nil
}

// StartServer starts the HTTP API and returns when it is listening
func (s *Sitepub) StartServer(ctx context.Context) error {
	if err := s.server.Start(ctx); err != nil {
		return errm.Wrap(err, "failed to start server")
	}
	return nil
}

func (s *Sitepub) Publish(ctx context.Context, req model.PublishRequest) model.Report {
	return s.publisher.Publish(ctx, req)
}

func (s *Sitepub) Validate(site model.Website) model.ValidationResult {
	return s.publisher.Validate(site)
}

func (s *Sitepub) ListVersions(ctx context.Context) ([]model.SnapshotInfo, error) {
	return s.snapshots.List(ctx)
}

func (s *Sitepub) GetVersion(ctx context.Context, version int) (model.Snapshot, error) {
	return s.snapshots.Get(ctx, version)
}

func (s *Sitepub) Deployments(ctx context.Context, limit int) ([]model.DeploymentRecord, error) {
	return s.history.List(ctx, s.cfg.Publish.ProjectID, limit)
}

func (s *Sitepub) init(ctx contem.Context, cfg config.Config) (err error) {

	// Remote repository and the components built on it
	s.repo, err = gitstore.New(cfg.GitHub)
	if err != nil {
		return errm.Wrap(err, "failed to create repository client")
	}
	s.builder, err = commit.NewBuilder(s.repo, cfg.CommitWorkers, cfg.Log.Verbose)
	if err != nil {
		return errm.Wrap(err, "failed to create commit builder")
	}
	s.closers = append(s.closers, func() error { s.builder.Close(); return nil })

	s.snapshots, err = snapshot.NewStore(cfg.Snapshots, s.repo, cfg.GitHub.Branch)
	if err != nil {
		return errm.Wrap(err, "failed to create snapshot store")
	}
	versions, err := version.NewAllocator(cfg.Version, s.repo, s.snapshots)
	if err != nil {
		return errm.Wrap(err, "failed to create version allocator")
	}
	gate, err := validation.NewGate(cfg.Validation)
	if err != nil {
		return errm.Wrap(err, "failed to create validation gate")
	}

	deps := publisher.Deps{
		Validator: gate,
		Committer: s.builder,
		Versions:  versions,
		Snapshots: s.snapshots,
	}

	// Optional collaborators
	if cfg.Agent.Enabled() {
		llm, err := agent.New(ctx, cfg.Agent)
		if err != nil {
			return errm.Wrap(err, "failed to create AI agent")
		}
		deps.SEO, deps.Files = llm, llm
		if cfg.Agent.Review {
			deps.Reviewer = llm
		}
	} else {
		s.log.Warn("no AI agent configured, SEO and file generation are skipped")
	}

	if cfg.Deploy.Enabled() {
		poller, err := deploystatus.New(cfg.Deploy)
		if err != nil {
			return errm.Wrap(err, "failed to create deployment poller")
		}
		deps.Waiter = poller
	}

	if cfg.Publish.OutputDir != "" {
		deps.Local = rollback.New(osfs.New(cfg.Publish.OutputDir))
	}

	// Observability
	s.metrics = metrics.New()
	deps.Metrics = s.metrics

	if err := s.initEvents(ctx, cfg); err != nil {
		return err
	}
	deps.Events = s.events

	s.publisher, err = publisher.New(cfg.Publish, deps)
	if err != nil {
		return errm.Wrap(err, "failed to create publisher")
	}

	s.server, err = server.New(cfg.Server, cfg.Publish.ProjectID, s.publisher, s.snapshots, s.history, s.metrics.Handler())
	if err != nil {
		return errm.Wrap(err, "failed to create server")
	}

	return nil
}

// initEvents opens the history store and starts the event dispatcher that feeds it.
func (s *Sitepub) initEvents(ctx context.Context, cfg config.Config) error {
	if cfg.History.Enabled() {
		store, err := history.Open(ctx, cfg.History)
		if err != nil {
			return errm.Wrap(err, "failed to open deployment history")
		}
		s.history = store
		s.closers = append(s.closers, func() error { store.Close(); return nil })
	} else {
		s.history = history.NewMemory()
	}

	sinks := []events.Sink{
		events.NewLogSink(cfg.Log.Verbose),
		history.NewSink(s.history),
	}
	if cfg.Events.RedisAddr != "" {
		redisSink, err := events.NewRedisSink(ctx, cfg.Events)
		if err != nil {
			return errm.Wrap(err, "failed to connect event stream")
		}
		sinks = append(sinks, redisSink)
		s.closers = append(s.closers, redisSink.Close)
	}

	dispatcher, err := events.NewDispatcher(cfg.Events, s.metrics.EventDropped, sinks...)
	if err != nil {
		return errm.Wrap(err, "failed to create event dispatcher")
	}
	s.events = dispatcher
	s.events.Start()
	return nil
}

// shutdown stops the API first, then drains pending events into the stores
// before they are closed.
func (s *Sitepub) shutdown(ctx context.Context) error {
	errs := errm.NewList()
	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			errs.Wrap(err, "failed to stop server")
		}
	}
	if s.events != nil {
		if err := s.events.Close(ctx); err != nil {
			errs.Wrap(err, "failed to drain events")
		}
	}
	if err := s.close(); err != nil {
		errs.Wrap(err, "failed to close stores")
	}
	return errs.Err()
}

func (s *Sitepub) close() error {
	errs := errm.NewList()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs.Wrap(err, "close")
		}
	}
	s.closers = nil
	return errs.Err()
}
