package publisher

import (
	"errors"
	"strings"

	"github.com/maxbolgarin/sitepub/internal/model"
)

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeSkipped
	outcomeFailed
)

// StageOutcome is the result of one stage. Fatal failures abort the run.
type StageOutcome struct {
	kind    outcomeKind
	message string
	err     error
	fatal   bool
	warning string
}

func Completed(msg string) StageOutcome {
	return StageOutcome{kind: outcomeCompleted, message: msg}
}

func Skipped(reason string) StageOutcome {
	return StageOutcome{kind: outcomeSkipped, message: reason}
}

func Failed(err error, fatal bool) StageOutcome {
	return StageOutcome{kind: outcomeFailed, message: err.Error(), err: err, fatal: fatal}
}

// WithWarning attaches a warning for the report.
func (o StageOutcome) WithWarning(w string) StageOutcome {
	o.warning = w
	return o
}

func (o StageOutcome) Status() model.StageStatus {
	switch o.kind {
	case outcomeSkipped:
		return model.StageSkipped
	case outcomeFailed:
		return model.StageFailed
	default:
		return model.StageCompleted
	}
}

func (o StageOutcome) Fatal() bool {
	return o.kind == outcomeFailed && o.fatal
}

// ReviewRejectedError is returned when the reviewer does not approve the generated files.
type ReviewRejectedError struct {
	Issues  []string
	Summary string
}

func (e *ReviewRejectedError) Error() string {
	return "code review rejected: " + strings.Join(e.Issues, "; ")
}

// reportErrors expands an error into report lines.
func reportErrors(err error) []string {
	var (
		verr *model.ValidationError
		rerr *ReviewRejectedError
	)
	switch {
	case errors.As(err, &verr) && len(verr.Errors) > 0:
		return verr.Errors
	case errors.As(err, &rerr) && len(rerr.Issues) > 0:
		return rerr.Issues
	default:
		return []string{err.Error()}
	}
}
