package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_flow/pkg"
)

// Status is the terminal state of one node invocation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrorCategory is the machine-readable class of a node failure.
type ErrorCategory string

const (
	CategoryNone           ErrorCategory = ""
	CategoryInput          ErrorCategory = "input"
	CategoryTypeMismatch   ErrorCategory = "type_mismatch"
	CategoryExecutor       ErrorCategory = "executor"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryInternal       ErrorCategory = "internal"
	CategoryNotImplemented ErrorCategory = "not_implemented"
)

// Retryable reports whether a caller-side retry policy may re-invoke the node.
func (c ErrorCategory) Retryable() bool {
	return c == CategoryExecutor || c == CategoryTimeout
}

var (
	ErrNotImplemented   = errors.New("not implemented")
	ErrUpstreamCanceled = errors.New("upstream branch terminated")
)

// Categorized is implemented by errors that know their own category.
type Categorized interface {
	Category() ErrorCategory
}

// CategoryOf classifies err, defaulting to CategoryInternal.
func CategoryOf(err error) ErrorCategory {
	var c Categorized
	switch {
	case err == nil:
		return CategoryNone
	case errors.As(err, &c):
		return c.Category()
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ErrNotImplemented):
		return CategoryNotImplemented
	}
	return CategoryInternal
}

// permanentError marks a failure a retry policy must not repeat. The wrapped
// error keeps its category.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// CategoryError attaches a category to an error.
type CategoryError struct {
	Cat ErrorCategory
	Err error
}

func (e *CategoryError) Error() string           { return e.Err.Error() }
func (e *CategoryError) Unwrap() error           { return e.Err }
func (e *CategoryError) Category() ErrorCategory { return e.Cat }

// WithCategory wraps err so CategoryOf reports cat.
func WithCategory(cat ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	return &CategoryError{Cat: cat, Err: err}
}

// NodeRunResult is the immutable outcome of one node invocation.
type NodeRunResult struct {
	NodeID    string
	Kind      pkg.NodeKind
	Title     string
	Status    Status
	Inputs    map[string]any
	Outputs   map[string]any
	Answer    string
	Reasoning string
	Err       error
	Category  ErrorCategory
	Elapsed   time.Duration
}

// Succeeded reports whether the node finished successfully.
func (r *NodeRunResult) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// Succeeded builds a SUCCEEDED result for n.
func Succeeded(n Identity, inputs, outputs map[string]any) *NodeRunResult {
	return &NodeRunResult{
		NodeID:  n.ID(),
		Kind:    n.Kind(),
		Title:   n.Title(),
		Status:  StatusSucceeded,
		Inputs:  inputs,
		Outputs: outputs,
	}
}

// Failed builds a FAILED result, classifying err when cat is CategoryNone.
func Failed(n Identity, cat ErrorCategory, err error) *NodeRunResult {
	if cat == CategoryNone {
		cat = CategoryOf(err)
	}
	return &NodeRunResult{
		NodeID:   n.ID(),
		Kind:     n.Kind(),
		Title:    n.Title(),
		Status:   StatusFailed,
		Err:      err,
		Category: cat,
	}
}

// Cancelled builds a CANCELLED result with no outputs.
func Cancelled(n Identity) *NodeRunResult {
	return &NodeRunResult{
		NodeID: n.ID(),
		Kind:   n.Kind(),
		Title:  n.Title(),
		Status: StatusCancelled,
		Err:    ErrUpstreamCanceled,
	}
}

// NotImplemented rejects a call in an unsupported execution mode.
func NotImplemented(n Identity, mode Mode) *NodeRunResult {
	return Failed(n, CategoryNotImplemented,
		fmt.Errorf("%s node %s: %s execution: %w", n.Kind(), n.ID(), mode, ErrNotImplemented))
}
