package chain

import (
	"errors"
	"fmt"
)

var (
	ErrNoStartNode           = errors.New("graph has no start node")
	ErrMultipleStartNodes    = errors.New("graph has more than one start node")
	ErrMultipleEndNodes      = errors.New("graph has more than one end node")
	ErrDuplicateNode         = errors.New("duplicate node id")
	ErrUnknownEdgeNode       = errors.New("edge references a node missing from the node table")
	ErrIterationStartMissing = errors.New("iteration start node missing from node table")
	ErrTooManyPaths          = errors.New("graph too branchy")
	ErrCycle                 = errors.New("graph contains a cycle")
)

// BuildError is a fatal, non-retryable graph error raised before execution starts.
type BuildError struct {
	NodeID string
	Err    error
}

func (e *BuildError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("build graph: %v", e.Err)
	}
	return fmt.Sprintf("build graph: node %s: %v", e.NodeID, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildErr(nodeID string, err error) error {
	return &BuildError{NodeID: nodeID, Err: err}
}
