package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eino_flow/pkg"
)

type fakeNode struct {
	Base
	mode  Mode
	run   func(ctx context.Context) *NodeRunResult
	async func(ctx context.Context, results chan<- *NodeRunResult)
}

func (f *fakeNode) Mode() Mode { return f.mode }

func (f *fakeNode) RunSync(ctx context.Context, _ *VariablePool, _ *RunArgs) *NodeRunResult {
	if f.mode == ModeAsync {
		return NotImplemented(f, ModeSync)
	}
	return f.run(ctx)
}

func (f *fakeNode) RunAsync(ctx context.Context, _ *VariablePool, _ *RunArgs, results chan<- *NodeRunResult) {
	if f.mode == ModeSync {
		results <- NotImplemented(f, ModeAsync)
		return
	}
	f.async(ctx, results)
}

func newFake(mode Mode) *fakeNode {
	return &fakeNode{Base: Base{NodeID: "code-1", NodeKind: pkg.KindCode, NodeTitle: "code"}, mode: mode}
}

func TestInvoke_Sync(t *testing.T) {
	n := newFake(ModeSync)
	n.run = func(context.Context) *NodeRunResult {
		return Succeeded(n, nil, map[string]any{"x": 1})
	}

	res := Invoke(context.Background(), n, NewVariablePool(), &RunArgs{})
	require.True(t, res.Succeeded())
	assert.Equal(t, 1, res.Outputs["x"])
	assert.Equal(t, "code-1", res.NodeID)
}

func TestInvoke_Async(t *testing.T) {
	n := newFake(ModeAsync)
	n.async = func(_ context.Context, results chan<- *NodeRunResult) {
		time.Sleep(5 * time.Millisecond)
		results <- Succeeded(n, nil, map[string]any{"y": "z"})
	}

	res := Invoke(context.Background(), n, NewVariablePool(), &RunArgs{})
	require.True(t, res.Succeeded())
	assert.Equal(t, "z", res.Outputs["y"])
	assert.Greater(t, res.Elapsed, time.Duration(0))
}

func TestInvoke_WrongModeRejected(t *testing.T) {
	n := newFake(ModeAsync)
	res := n.RunSync(context.Background(), NewVariablePool(), &RunArgs{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, CategoryNotImplemented, res.Category)
	assert.True(t, errors.Is(res.Err, ErrNotImplemented))
}

func TestInvoke_PanicBecomesInternalFailure(t *testing.T) {
	s := newFake(ModeSync)
	s.run = func(context.Context) *NodeRunResult { panic("boom") }
	res := Invoke(context.Background(), s, NewVariablePool(), &RunArgs{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, CategoryInternal, res.Category)

	async := newFake(ModeAsync)
	async.async = func(context.Context, chan<- *NodeRunResult) { panic("boom") }
	res = Invoke(context.Background(), async, NewVariablePool(), &RunArgs{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, CategoryInternal, res.Category)
}

func TestInvoke_MissingAsyncResult(t *testing.T) {
	n := newFake(ModeAsync)
	n.async = func(context.Context, chan<- *NodeRunResult) {}
	res := Invoke(context.Background(), n, NewVariablePool(), &RunArgs{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, CategoryInternal, res.Category)
}

func TestInvoke_ContextDeadline(t *testing.T) {
	n := newFake(ModeAsync)
	n.async = func(ctx context.Context, results chan<- *NodeRunResult) {
		<-ctx.Done()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := Invoke(ctx, n, NewVariablePool(), &RunArgs{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, CategoryTimeout, res.Category)
}

func TestAuditContext(t *testing.T) {
	a := NewAuditContext(upperModerator{})
	a.SetStrategy("answer-2", AuditNone)

	out, err := a.Review(context.Background(), "answer-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "HI", out)

	out, err = a.Review(context.Background(), "answer-2", "raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", out)

	assert.Equal(t, 1, a.Chunks("answer-1"))
	recs := a.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[1].Seq)

	var nilAudit *AuditContext
	out, err = nilAudit.Review(context.Background(), "x", "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestAuditContext_PerChunkWithoutModerator(t *testing.T) {
	a := NewAuditContext(nil)
	a.SetStrategy("answer-1", AuditPerChunk)

	out, err := a.Review(context.Background(), "answer-1", "as is")
	require.NoError(t, err)
	assert.Equal(t, "as is", out)
	assert.Equal(t, 1, a.Chunks("answer-1"))
}

type upperModerator struct{}

func (upperModerator) Moderate(_ context.Context, _ string, text string) (string, error) {
	b := []byte(text)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b), nil
}
