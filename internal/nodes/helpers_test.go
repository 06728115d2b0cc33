package nodes

import (
	"context"
	"sync"
	"testing"

	"eino_flow/internal/core"
	"eino_flow/pkg"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu         sync.Mutex
	started    []string
	chunks     []string
	ended      []*core.NodeRunResult
	interrupts []string
}

func (r *recorder) OnNodeStart(nodeID string, _ pkg.NodeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, nodeID)
}

func (r *recorder) OnChunk(_ string, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
}

func (r *recorder) OnNodeEnd(res *core.NodeRunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, res)
}

func (r *recorder) OnInterrupt(nodeID, _ string, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupts = append(r.interrupts, nodeID)
}

func (r *recorder) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func build(t *testing.T, deps Deps, n pkg.Node) core.Node {
	t.Helper()
	node, err := NewFactory(deps).Build(n)
	require.NoError(t, err)
	return node
}

func run(t *testing.T, n core.Node, pool *core.VariablePool, args *core.RunArgs) *core.NodeRunResult {
	t.Helper()
	res := core.Invoke(context.Background(), n, pool, args)
	require.NotNil(t, res)
	return res
}
