package publisher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/erro"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/commit"
	"github.com/maxbolgarin/sitepub/internal/events"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/maxbolgarin/sitepub/internal/version"
)

type Validator interface {
	Validate(site model.Website) model.ValidationResult
}

type SEOGenerator interface {
	GenerateSEO(ctx context.Context, site model.Website) (model.SEOMetadata, error)
}

type FileGenerator interface {
	GenerateFiles(ctx context.Context, site model.Website, seo model.SEOMetadata) ([]model.GeneratedFile, error)
}

type CodeReviewer interface {
	ReviewFiles(ctx context.Context, files []model.GeneratedFile) (model.CodeReview, error)
}

type Committer interface {
	Commit(ctx context.Context, req commit.Request) (model.CommitResult, error)
}

type VersionAllocator interface {
	Next(ctx context.Context, branch string) version.Allocation
	Confirm(ctx context.Context, branch string, alloc version.Allocation) (int, []string)
}

type SnapshotWriter interface {
	Change(snap model.Snapshot) (model.FileChange, error)
}

type LiveWaiter interface {
	WaitForCommit(ctx context.Context, commitSHA string) (model.LiveDeployment, error)
}

type LocalWriter interface {
	WriteBatch(changes []model.FileChange) ([]model.FileChangeRecord, error)
	Undo(records []model.FileChangeRecord) error
}

type EventEmitter interface {
	Emit(e events.Event) bool
}

type Metrics interface {
	StageFinished(stage, status string, elapsed time.Duration)
	PublishFinished(success, dryRun bool, elapsed time.Duration)
	CommitConflict()
}

// Deps are the collaborators of the pipeline. Validator, Committer and Versions
// are required, a nil optional collaborator turns its step off.
type Deps struct {
	Validator Validator
	Committer Committer
	Versions  VersionAllocator

	SEO       SEOGenerator
	Files     FileGenerator
	Reviewer  CodeReviewer
	Snapshots SnapshotWriter
	Waiter    LiveWaiter
	Local     LocalWriter
	Events    EventEmitter
	Metrics   Metrics
}

// Publisher runs the publish pipeline. Publish is safe for concurrent use,
// concurrent publishes to one branch are serialized by commit conflicts.
type Publisher struct {
	cfg  Config
	deps Deps
	log  logze.Logger
}

func New(cfg Config, deps Deps) (*Publisher, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}
	if deps.Validator == nil || deps.Committer == nil || deps.Versions == nil {
		return nil, erro.New("validator, committer and version allocator are required")
	}
	return &Publisher{
		cfg:  cfg,
		deps: deps,
		log:  logze.With("component", "publisher", "branch", cfg.Branch),
	}, nil
}

// Validate runs only the validation gate.
func (p *Publisher) Validate(site model.Website) model.ValidationResult {
	return p.deps.Validator.Validate(site)
}

// Publish runs every stage in order and always returns a report. Pipeline
// failures are reported in it, never returned as errors.
func (p *Publisher) Publish(ctx context.Context, req model.PublishRequest) model.Report {
	b := &publishBundle{
		run:    model.NewDeploymentRun(uuid.NewString(), p.cfg.ProjectID),
		req:    req,
		dryRun: req.DryRun || p.cfg.DryRun,
		timer:  abstract.StartTimer(),
		report: model.Report{
			Errors:        []string{},
			Warnings:      []string{},
			PagesDeployed: []string{},
		},
	}
	b.log = p.log.WithFields("deployment_id", b.run.ID, "dry_run", b.dryRun)

	p.emit(b, events.Event{Type: events.PublishStarted, CommitMessage: req.CommitMessage})

	for _, st := range p.stages() {
		if err := ctx.Err(); err != nil {
			if !b.committed {
				b.report.Errors = append(b.report.Errors, "publish canceled before "+string(st.id)+": "+err.Error())
				b.aborted = true
				break
			}
			// The branch has already moved, the publish stays successful.
			st.fn = func(context.Context, *publishBundle) StageOutcome {
				return Skipped("publish canceled after commit").
					WithWarning("deployment not confirmed: " + err.Error())
			}
		}
		if !p.runStage(ctx, b, st) {
			b.aborted = true
			break
		}
	}

	if b.aborted {
		p.undoLocal(b)
	}
	return p.finish(b)
}

type stage struct {
	id       model.StageID
	timeout  time.Duration
	detached bool // keeps running when the caller goes away
	fn       func(ctx context.Context, b *publishBundle) StageOutcome
}

func (p *Publisher) stages() []stage {
	t := p.cfg.Timeouts
	return []stage{
		{id: model.StageValidate, timeout: t.Validate, fn: p.validate},
		{id: model.StageGenerateSEO, timeout: t.SEO, fn: p.generateSEO},
		{id: model.StageGenerateFiles, timeout: t.Files, fn: p.generateFiles},
		{id: model.StageReview, timeout: t.Review, fn: p.review},
		{id: model.StageCommit, timeout: t.Commit, detached: true, fn: p.commit},
		{id: model.StageWaitForLive, timeout: t.Wait, fn: p.waitForLive},
	}
}

// runStage executes one stage and reports whether the run may continue.
func (p *Publisher) runStage(ctx context.Context, b *publishBundle, st stage) bool {
	log := b.log.WithFields("stage", st.id)
	timer := abstract.StartTimer()

	b.run.Start(st.id)
	p.emit(b, events.Event{Type: events.StageStarted, Stage: st.id})

	if st.detached {
		ctx = context.WithoutCancel(ctx)
	}
	stageCtx, cancel := context.WithTimeout(ctx, st.timeout)
	outcome := st.fn(stageCtx, b)
	cancel()

	switch outcome.Status() {
	case model.StageCompleted:
		b.run.Complete(st.id, outcome.message)
	case model.StageSkipped:
		b.run.Skip(st.id, outcome.message)
	case model.StageFailed:
		b.run.Fail(st.id, outcome.message)
		if outcome.Fatal() {
			b.report.Errors = append(b.report.Errors, reportErrors(outcome.err)...)
		}
	}
	if outcome.warning != "" {
		b.report.Warnings = append(b.report.Warnings, outcome.warning)
	}

	elapsed := timer.ElapsedTime()
	if p.deps.Metrics != nil {
		p.deps.Metrics.StageFinished(string(st.id), string(outcome.Status()), elapsed)
	}
	p.emit(b, events.Event{
		Type:    events.StageFinished,
		Stage:   st.id,
		Status:  outcome.Status(),
		Message: outcome.message,
		Elapsed: elapsed,
	})
	log.DebugIf(p.cfg.Verbose, "stage finished", "status", outcome.Status(), "elapsed", elapsed)

	return !outcome.Fatal()
}

func (p *Publisher) finish(b *publishBundle) model.Report {
	b.report.Success = !b.aborted
	b.report.DeploymentID = b.run.ID
	b.report.Stages = b.run.Stages()
	b.report.DryRun = b.dryRun

	elapsed := b.timer.ElapsedTime()
	if p.deps.Metrics != nil {
		p.deps.Metrics.PublishFinished(b.report.Success, b.dryRun, elapsed)
	}
	report := b.report
	p.emit(b, events.Event{Type: events.PublishFinished, Report: &report, Elapsed: elapsed})

	if report.Success {
		b.log.Info("publish finished", "version", report.Version, "warnings", len(report.Warnings), "elapsed", elapsed)
	} else {
		b.log.Warn("publish failed", "errors", report.Errors, "elapsed", elapsed)
	}
	return report
}

// undoLocal reverts local files written by stages of an aborted run.
func (p *Publisher) undoLocal(b *publishBundle) {
	if len(b.local) == 0 || p.deps.Local == nil {
		return
	}
	if err := p.deps.Local.Undo(b.local); err != nil {
		b.log.Error("cannot roll back local files", "error", err)
		b.report.Errors = append(b.report.Errors, "local rollback failed: "+err.Error())
		return
	}
	b.report.Warnings = append(b.report.Warnings, "local files were rolled back")
	b.local = nil
}

func (p *Publisher) emit(b *publishBundle, e events.Event) {
	if p.deps.Events == nil {
		return
	}
	e.DeploymentID = b.run.ID
	e.ProjectID = b.run.ProjectID
	e.DryRun = b.dryRun
	e.Time = time.Now()
	p.deps.Events.Emit(e)
}

// publishBundle carries the state of one publish between stages.
type publishBundle struct {
	run    *model.DeploymentRun
	req    model.PublishRequest
	dryRun bool
	timer  abstract.Timer
	log    logze.Logger

	seo    model.SEOMetadata
	files  []model.GeneratedFile
	result model.CommitResult
	local  []model.FileChangeRecord

	report    model.Report
	committed bool
	aborted   bool
}
