package gitstore

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/google/go-github/v57/github"
	"github.com/maxbolgarin/sitepub/internal/model"
)

// classify maps a go-github failure to a *model.RemoteError.
func classify(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	var remote *model.RemoteError
	if errors.As(err, &remote) {
		return err
	}

	out := &model.RemoteError{Op: op, Err: err, Message: err.Error()}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var ghErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr):
		out.Kind, out.StatusCode, out.Message = model.ErrTransient, responseStatus(rateErr.Response), rateErr.Message
		return out
	case errors.As(err, &abuseErr):
		out.Kind, out.StatusCode, out.Message = model.ErrTransient, responseStatus(abuseErr.Response), abuseErr.Message
		return out
	case errors.As(err, &ghErr):
		out.StatusCode, out.Message = responseStatus(ghErr.Response), ghErr.Message
	case errors.Is(err, context.Canceled):
		out.Kind = model.ErrRemote
		return out
	}

	if out.StatusCode == 0 && resp != nil && resp.Response != nil {
		out.StatusCode = resp.StatusCode
	}

	switch code := out.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		out.Kind = model.ErrAuth
	case code == http.StatusNotFound:
		out.Kind = model.ErrNotFound
	case code >= http.StatusInternalServerError:
		out.Kind = model.ErrTransient
	case code == 0 && isNetworkError(err):
		out.Kind = model.ErrTransient
	default:
		out.Kind = model.ErrRemote
	}
	return out
}

// asConflict turns a rejected ref update into a conflict.
func asConflict(err error) error {
	var remote *model.RemoteError
	if !errors.As(err, &remote) {
		return err
	}
	if remote.StatusCode == http.StatusConflict || remote.StatusCode == http.StatusUnprocessableEntity {
		remote.Kind = model.ErrConflict
	}
	return remote
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func responseStatus(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
