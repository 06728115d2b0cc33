package engine

import (
	"context"
	"sync"

	"eino_flow/internal/core"
	"eino_flow/pkg"

	"github.com/cloudwego/eino/schema"
)

// EventType tags a RunEvent.
type EventType string

const (
	EventNodeStarted  EventType = "node_started"
	EventChunk        EventType = "chunk"
	EventNodeFinished EventType = "node_finished"
	EventInterrupted  EventType = "interrupted"
	EventRunFinished  EventType = "run_finished"
)

// RunEvent is one item of a run stream.
type RunEvent struct {
	Type   EventType
	NodeID string
	Kind   pkg.NodeKind
	Chunk  string
	Result *core.NodeRunResult

	// set on EventInterrupted
	EventID string
	Prompt  string

	// set on EventRunFinished
	Run *RunResult
}

const streamBuffer = 64

// Stream starts a run and returns its events. The stream ends with exactly one
// EventRunFinished. Closing the reader early does not stop the run; cancel ctx
// for that.
func (e *Engine) Stream(ctx context.Context, in RunInput) (*schema.StreamReader[*RunEvent], error) {
	sr, sw := schema.Pipe[*RunEvent](streamBuffer)
	sink := &streamSink{sw: sw}

	go func() {
		defer sink.close()
		res, err := e.run(ctx, in, fanout{sink, e.callbacks})
		if err != nil {
			sink.fail(err)
			return
		}
		sink.send(&RunEvent{Type: EventRunFinished, Run: res})
	}()
	return sr, nil
}

// Invoke runs the graph to completion. A failed run is reported through
// RunResult.Status; the error is only set when the run could not start.
func (e *Engine) Invoke(ctx context.Context, in RunInput) (*RunResult, error) {
	var cb core.Callbacks = core.NopCallbacks{}
	if e.callbacks != nil {
		cb = e.callbacks
	}
	return e.run(ctx, in, cb)
}

// streamSink forwards callbacks into the pipe. Node goroutines abandoned by a
// cancelled invocation may still report after the run ended; those sends are
// dropped.
type streamSink struct {
	mu     sync.Mutex
	closed bool
	sw     *schema.StreamWriter[*RunEvent]
}

func (s *streamSink) send(ev *RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if closed := s.sw.Send(ev, nil); closed {
		s.closed = true
	}
}

func (s *streamSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.sw.Send(nil, err)
	}
}

func (s *streamSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sw.Close()
}

func (s *streamSink) OnNodeStart(nodeID string, kind pkg.NodeKind) {
	s.send(&RunEvent{Type: EventNodeStarted, NodeID: nodeID, Kind: kind})
}

func (s *streamSink) OnChunk(nodeID string, chunk string) {
	s.send(&RunEvent{Type: EventChunk, NodeID: nodeID, Chunk: chunk})
}

func (s *streamSink) OnNodeEnd(res *core.NodeRunResult) {
	s.send(&RunEvent{Type: EventNodeFinished, NodeID: res.NodeID, Kind: res.Kind, Result: res})
}

func (s *streamSink) OnInterrupt(nodeID, eventID, prompt string) {
	s.send(&RunEvent{Type: EventInterrupted, NodeID: nodeID, EventID: eventID, Prompt: prompt})
}

// fanout delivers every callback to each non-nil target.
type fanout []core.Callbacks

func (f fanout) OnNodeStart(nodeID string, kind pkg.NodeKind) {
	for _, cb := range f {
		if cb != nil {
			cb.OnNodeStart(nodeID, kind)
		}
	}
}

func (f fanout) OnChunk(nodeID string, chunk string) {
	for _, cb := range f {
		if cb != nil {
			cb.OnChunk(nodeID, chunk)
		}
	}
}

func (f fanout) OnNodeEnd(res *core.NodeRunResult) {
	for _, cb := range f {
		if cb != nil {
			cb.OnNodeEnd(res)
		}
	}
}

func (f fanout) OnInterrupt(nodeID, eventID, prompt string) {
	for _, cb := range f {
		if obs, ok := cb.(core.InterruptObserver); ok {
			obs.OnInterrupt(nodeID, eventID, prompt)
		}
	}
}
