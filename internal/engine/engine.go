// Package engine runs a compiled workflow graph. Every node of a scope gets its
// own goroutine that waits for its direct predecessors, invokes the node in its
// mode and fires the node's completion signal. Iteration nodes call back into
// the engine to run their private ChainSet once per item.
package engine

import (
	"fmt"
	"time"

	"eino_flow/internal/chain"
	"eino_flow/internal/core"
	"eino_flow/internal/event"
	"eino_flow/pkg"
	"eino_flow/src/model"
)

// NodeBuilder turns node table entries into executable nodes.
type NodeBuilder interface {
	Build(n pkg.Node) (core.Node, error)
}

// Engine executes one compiled graph. It is safe for concurrent runs; all
// per-run state lives in the execution.
type Engine struct {
	compiled  *chain.Compiled
	nodes     map[string]core.Node
	cfg       model.EngineConfig
	registry  *event.Registry
	moderator core.Moderator
	callbacks core.Callbacks
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry creates an event per run so human-input nodes can suspend it.
func WithRegistry(r *event.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithModerator reviews every chunk of visible output.
func WithModerator(m core.Moderator) Option {
	return func(e *Engine) { e.moderator = m }
}

// WithCallbacks observes every run in addition to the returned stream.
func WithCallbacks(cb core.Callbacks) Option {
	return func(e *Engine) { e.callbacks = cb }
}

// New builds every node reachable from the master or an iteration root. Node
// build errors are fatal.
func New(compiled *chain.Compiled, builder NodeBuilder, cfg model.EngineConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		compiled: compiled,
		nodes:    make(map[string]core.Node),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}

	scopes := []*chain.ChainSet{compiled.Master}
	for _, set := range compiled.Iterations {
		scopes = append(scopes, set)
	}
	for _, set := range scopes {
		for _, id := range set.Nodes() {
			if _, done := e.nodes[id]; done {
				continue
			}
			def, ok := compiled.Node(id)
			if !ok {
				return nil, fmt.Errorf("node %s missing from node table", id)
			}
			n, err := builder.Build(*def)
			if err != nil {
				return nil, err
			}
			e.nodes[id] = n
		}
	}
	return e, nil
}

// Node returns the built node for id.
func (e *Engine) Node(id string) (core.Node, bool) {
	n, ok := e.nodes[id]
	return n, ok
}

// RunInput is one request to execute the graph.
type RunInput struct {
	AppID          string
	UserID         string
	ConversationID string
	Query          string
	Inputs         map[string]any
	Streaming      bool

	// EventID reuses a caller-chosen event id; empty generates one.
	EventID string
	// EventTimeout bounds resume waits; zero uses the registry default.
	EventTimeout time.Duration
}

// RunResult is the terminal outcome of one run.
type RunResult struct {
	ExecutionID string
	EventID     string
	Status      core.Status
	Outputs     map[string]any
	Answer      string
	Results     map[string]*core.NodeRunResult
	Err         error
	Elapsed     time.Duration
}

// Succeeded reports whether every node of the master scope succeeded.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == core.StatusSucceeded
}
