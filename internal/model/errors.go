package model

import (
	"errors"
	"strconv"
	"strings"
)

// Error kinds. Concrete errors match them with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("invalid configuration")
	ErrAuth          = errors.New("authentication failed")
	ErrTransient     = errors.New("transient remote failure")
	ErrConflict      = errors.New("branch moved during commit")
	ErrNotFound      = errors.New("not found")
	ErrRemote        = errors.New("remote request failed")
)

// ConfigurationError is returned at construction time when a required option is missing or invalid.
type ConfigurationError struct {
	Field  string
	Reason string
}

func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Field + ": " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ValidationError carries the blocking problems found in a site state.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RemoteError is a classified failure of a call to a remote service.
// Kind is one of ErrAuth, ErrTransient, ErrConflict, ErrNotFound or ErrRemote.
type RemoteError struct {
	Kind       error
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		b.WriteString(" (status ")
		b.WriteString(strconv.Itoa(e.StatusCode))
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if hint := e.Hint(); hint != "" {
		b.WriteString("; ")
		b.WriteString(hint)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Hint returns a remediation message for errors the user can fix.
func (e *RemoteError) Hint() string {
	switch e.Kind {
	case ErrAuth:
		return "check that the access token is valid and has write access to the repository contents"
	case ErrConflict:
		return "publish failed, please retry"
	}
	return ""
}

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
