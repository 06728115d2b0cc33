package nodes

import (
	"context"
	"testing"
	"time"

	"eino_flow/internal/core"
	"eino_flow/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswer_WaitsForDependencies(t *testing.T) {
	pool := core.NewVariablePool()
	pool.Set("llm-fast", "text", "fast")

	n := build(t, Deps{}, pkg.Node{ID: "answer-1", Params: map[string]any{
		"answer":       "{{#llm-fast.text#}} then {{#llm-slow.text#}}",
		"dependencies": []any{"code-1"},
	}})
	assert.ElementsMatch(t, []string{"code-1", "llm-fast", "llm-slow"},
		n.(core.DependencyDeclarer).DataDependencies())

	signals := core.NewSignalSet([]string{"llm-fast", "llm-slow", "code-1", "answer-1"})
	signals.Fire("llm-fast")
	signals.Fire("code-1")

	rec := &recorder{}
	args := &core.RunArgs{Signals: signals, Callbacks: rec, Audit: core.NewAuditContext(nil)}

	done := make(chan *core.NodeRunResult, 1)
	go func() { done <- core.Invoke(context.Background(), n, pool, args) }()

	// the fast dependency fired but the slow one did not: nothing may be emitted yet
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.chunkCount())
	select {
	case <-done:
		t.Fatal("answer finished before its dependency fired")
	default:
	}

	pool.Set("llm-slow", "text", "slow")
	signals.Fire("llm-slow")

	res := <-done
	require.True(t, res.Succeeded())
	assert.Equal(t, "fast then slow", res.Answer)
	assert.Equal(t, []string{"fast", " then ", "slow"}, rec.chunks)
	assert.Equal(t, []string{"answer-1"}, rec.started)
	require.Len(t, rec.ended, 1)
	assert.Same(t, res, rec.ended[0])
	assert.Equal(t, 3, args.Audit.Chunks("answer-1"))
}

func TestAnswer_UpstreamTerminatedIsCancelledWithoutSideEffects(t *testing.T) {
	n := build(t, Deps{}, pkg.Node{ID: "answer-1", Params: map[string]any{"answer": "hi"}})
	rec := &recorder{}

	res := run(t, n, core.NewVariablePool(), &core.RunArgs{
		Callbacks: rec,
		Upstream:  func() core.UpstreamState { return core.UpstreamTerminated },
	})
	assert.Equal(t, core.StatusCancelled, res.Status)
	assert.Empty(t, rec.started)
	assert.Empty(t, rec.chunks)
	assert.Empty(t, rec.ended)
}

func TestAnswer_ContextCancelledWhileWaiting(t *testing.T) {
	n := build(t, Deps{}, pkg.Node{ID: "answer-1", Params: map[string]any{"answer": "{{#code-1.x#}}"}})
	signals := core.NewSignalSet([]string{"code-1", "answer-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := core.Invoke(ctx, n, core.NewVariablePool(), &core.RunArgs{Signals: signals})
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.CategoryTimeout, res.Category)
}

func TestAnswer_ExecutorSuppliedDependencies(t *testing.T) {
	// the executor may narrow dependencies; only those are awaited
	n := build(t, Deps{}, pkg.Node{ID: "answer-1", Params: map[string]any{"answer": "{{#code-1.x#}}!"}})
	signals := core.NewSignalSet([]string{"code-1", "answer-1"})

	res := run(t, n, core.NewVariablePool(), &core.RunArgs{Signals: signals, Dependencies: []string{}})
	require.True(t, res.Succeeded())
	assert.Equal(t, "!", res.Answer)
}
