package history

import (
	"context"

	"github.com/maxbolgarin/sitepub/internal/events"
	"github.com/maxbolgarin/sitepub/internal/model"
)

// Sink turns publish events into deployment records. Dry runs are not recorded.
type Sink struct {
	store Store
}

var _ events.Sink = (*Sink)(nil)

func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

func (s *Sink) Name() string { return "history" }

func (s *Sink) Handle(ctx context.Context, e events.Event) error {
	if e.DryRun {
		return nil
	}
	switch e.Type {
	case events.PublishStarted:
		return s.store.Create(ctx, model.DeploymentRecord{
			ID:            e.DeploymentID,
			ProjectID:     e.ProjectID,
			Status:        model.DeploymentPending,
			StartedAt:     e.Time,
			CommitMessage: e.CommitMessage,
		})

	case events.PublishFinished:
		if e.Report == nil {
			return nil
		}
		rec := model.DeploymentRecord{
			ID:          e.DeploymentID,
			Status:      model.DeploymentFailed,
			CompletedAt: &e.Time,
			CommitSHA:   e.Report.CommitSHA,
			Version:     e.Report.Version,
			BuildTime:   e.Elapsed,
		}
		if e.Report.Success {
			rec.Status = model.DeploymentSuccess
		} else if len(e.Report.Errors) > 0 {
			rec.ErrorMessage = e.Report.Errors[0]
		}
		return s.store.Complete(ctx, rec)
	}
	return nil
}
