package event

import (
	"errors"

	"eino_flow/internal/core"
)

// ClientError is a registry error caused by the caller's request rather than by
// the store. It is never retried.
type ClientError struct {
	Code    string
	Message string
}

func (e *ClientError) Error() string { return e.Code + ": " + e.Message }

// Category classifies client errors as input failures for node results.
func (e *ClientError) Category() core.ErrorCategory { return core.CategoryInput }

var (
	ErrEventNotFound  = &ClientError{Code: "event_not_found", Message: "event does not exist or has expired"}
	ErrEventNotPaused = &ClientError{Code: "event_not_paused", Message: "event is not waiting for input"}

	// ErrResumeTimeout is returned when no resume payload arrived in time. It
	// is never retried.
	ErrResumeTimeout = core.Permanent(core.WithCategory(core.CategoryTimeout, errors.New("timed out waiting for resume payload")))
)
