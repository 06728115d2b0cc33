package core

import (
	"context"
	"sync"
)

// Moderator reviews user-visible text before it is emitted. Its classification
// logic lives outside the engine.
type Moderator interface {
	Moderate(ctx context.Context, nodeID, text string) (string, error)
}

// AuditStrategy controls when visible text is reviewed.
type AuditStrategy string

const (
	// AuditPerChunk reviews every chunk as it is emitted.
	AuditPerChunk AuditStrategy = "chunk"
	// AuditNone emits text unreviewed.
	AuditNone AuditStrategy = "none"
)

// AuditRecord is one emitted chunk, in global emission order.
type AuditRecord struct {
	Seq    int
	NodeID string
	Text   string
}

// AuditContext is the per-execution record of visible output. It is created per
// run and threaded through RunArgs so concurrent executions never share state.
type AuditContext struct {
	mu         sync.Mutex
	moderator  Moderator
	strategies map[string]AuditStrategy
	index      map[string]int
	records    []AuditRecord
}

// NewAuditContext creates the audit state for one execution. moderator may be nil.
func NewAuditContext(moderator Moderator) *AuditContext {
	return &AuditContext{
		moderator:  moderator,
		strategies: make(map[string]AuditStrategy),
		index:      make(map[string]int),
	}
}

// SetStrategy overrides the strategy for one node.
func (a *AuditContext) SetStrategy(nodeID string, s AuditStrategy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategies[nodeID] = s
}

// strategy is AuditNone whenever no moderator is configured.
func (a *AuditContext) strategy(nodeID string) AuditStrategy {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.moderator == nil {
		return AuditNone
	}
	if s, ok := a.strategies[nodeID]; ok {
		return s
	}
	return AuditPerChunk
}

// Review passes text through the moderator according to the node's strategy and
// records it. It returns the text to emit.
func (a *AuditContext) Review(ctx context.Context, nodeID, text string) (string, error) {
	if a == nil {
		return text, nil
	}
	if a.strategy(nodeID) == AuditPerChunk {
		reviewed, err := a.moderator.Moderate(ctx, nodeID, text)
		if err != nil {
			return "", err
		}
		text = reviewed
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.index[nodeID]++
	a.records = append(a.records, AuditRecord{Seq: len(a.records), NodeID: nodeID, Text: text})
	return text, nil
}

// Chunks returns how many chunks nodeID emitted.
func (a *AuditContext) Chunks(nodeID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index[nodeID]
}

// Records returns a copy of every emitted chunk in order.
func (a *AuditContext) Records() []AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditRecord, len(a.records))
	copy(out, a.records)
	return out
}
