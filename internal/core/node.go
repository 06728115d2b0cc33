// Package core defines the uniform contract every executable node implements:
// resolve inputs from the shared VariablePool, do the work, and return a
// NodeRunResult. Nodes run either synchronously (lightweight transforms) or
// asynchronously (anything that calls an external system).
package core

import (
	"context"

	"eino_flow/pkg"
)

// Mode is the execution mode a node supports.
type Mode int

const (
	ModeSync Mode = iota + 1
	ModeAsync
	ModeBoth
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	case ModeBoth:
		return "sync+async"
	}
	return "unknown"
}

// Identity is the descriptive half of a node.
type Identity interface {
	ID() string
	Kind() pkg.NodeKind
	Title() string
}

// Node is one executable unit of a compiled workflow.
type Node interface {
	Identity
	Mode() Mode

	// RunSync blocks until the node finishes.
	RunSync(ctx context.Context, pool *VariablePool, args *RunArgs) *NodeRunResult
	// RunAsync sends exactly one result on results.
	RunAsync(ctx context.Context, pool *VariablePool, args *RunArgs, results chan<- *NodeRunResult)
}

// DependencyDeclarer is implemented by nodes whose visible output must wait for
// other nodes' completion signals.
type DependencyDeclarer interface {
	DataDependencies() []string
}

// LifecycleReporter is implemented by nodes that fire OnNodeStart and
// OnNodeEnd themselves; the executor does not report them again.
type LifecycleReporter interface {
	ReportsLifecycle() bool
}

// Base carries the identity fields shared by node kinds.
type Base struct {
	NodeID    string
	NodeKind  pkg.NodeKind
	NodeTitle string
}

// NewBase derives identity from a node table entry.
func NewBase(n pkg.Node, kind pkg.NodeKind) Base {
	return Base{NodeID: n.ID, NodeKind: kind, NodeTitle: n.DisplayName()}
}

func (b Base) ID() string         { return b.NodeID }
func (b Base) Kind() pkg.NodeKind { return b.NodeKind }
func (b Base) Title() string      { return b.NodeTitle }

// ExecutionScope identifies the run a node belongs to.
type ExecutionScope struct {
	ExecutionID    string
	EventID        string
	WorkflowID     string
	AppID          string
	UserID         string
	ConversationID string
	Streaming      bool
}

// IterationContext describes the current item of an enclosing iteration node.
type IterationContext struct {
	ParentID string
	Index    int
	Total    int
	Item     any
}

// Callbacks observe node lifecycle and streamed text.
type Callbacks interface {
	OnNodeStart(nodeID string, kind pkg.NodeKind)
	OnChunk(nodeID string, chunk string)
	OnNodeEnd(result *NodeRunResult)
}

// InterruptObserver is optionally implemented by Callbacks to learn that a
// node suspended the run and which event id resumes it.
type InterruptObserver interface {
	OnInterrupt(nodeID, eventID, prompt string)
}

// NopCallbacks ignores every notification.
type NopCallbacks struct{}

func (NopCallbacks) OnNodeStart(string, pkg.NodeKind) {}
func (NopCallbacks) OnChunk(string, string)           {}
func (NopCallbacks) OnNodeEnd(*NodeRunResult)         {}

// UpstreamState is what a node observes about its upstream branches at entry.
type UpstreamState int

const (
	UpstreamOK UpstreamState = iota
	UpstreamTerminated
)

// SubRunner executes the private ChainSet of an iteration node against pool.
type SubRunner interface {
	RunIteration(ctx context.Context, iterationID string, pool *VariablePool, iter IterationContext) error
}

// RunArgs is the execution-scoped keyword bag handed to every invocation.
type RunArgs struct {
	Execution    ExecutionScope
	Inputs       map[string]any
	Signals      *SignalSet
	Dependencies []string
	Callbacks    Callbacks
	Upstream     func() UpstreamState
	Iteration    *IterationContext
	SubRunner    SubRunner
	Audit        *AuditContext
}

// UpstreamTerminated reports whether an upstream branch already failed or was cancelled.
func (a *RunArgs) UpstreamTerminated() bool {
	return a != nil && a.Upstream != nil && a.Upstream() == UpstreamTerminated
}

// WaitDependencies blocks until the completion signal of every listed node
// fired. Ids without a signal in this scope are skipped.
func (a *RunArgs) WaitDependencies(ctx context.Context, ids []string) error {
	if a == nil || a.Signals == nil {
		return nil
	}
	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := a.Signals.Get(id); ok {
			known = append(known, id)
		}
	}
	return a.Signals.Wait(ctx, known...)
}

// Notify returns the callbacks, never nil.
func (a *RunArgs) Notify() Callbacks {
	if a == nil || a.Callbacks == nil {
		return NopCallbacks{}
	}
	return a.Callbacks
}
