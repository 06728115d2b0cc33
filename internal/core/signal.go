package core

import (
	"context"
	"fmt"
	"sync"
)

// Signal is a broadcast-once completion notification.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire closes the signal. Later calls are no-ops.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done is closed once the signal fired.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire was called.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// SignalSet holds one completion signal per node id of a scope. The set of ids
// is fixed at construction; only the executor fires signals.
type SignalSet struct {
	signals map[string]*Signal
}

// NewSignalSet creates an unfired signal for every id.
func NewSignalSet(ids []string) *SignalSet {
	s := &SignalSet{signals: make(map[string]*Signal, len(ids))}
	for _, id := range ids {
		s.signals[id] = newSignal()
	}
	return s
}

// Get returns the signal for id.
func (s *SignalSet) Get(id string) (*Signal, bool) {
	if s == nil {
		return nil, false
	}
	sig, ok := s.signals[id]
	return sig, ok
}

// Fire fires the signal for id, if it exists.
func (s *SignalSet) Fire(id string) {
	if sig, ok := s.Get(id); ok {
		sig.Fire()
	}
}

// Wait blocks until every listed signal fired or ctx is done. Unknown ids are an error.
func (s *SignalSet) Wait(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		sig, ok := s.Get(id)
		if !ok {
			return fmt.Errorf("no completion signal for node %s", id)
		}
		select {
		case <-sig.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
