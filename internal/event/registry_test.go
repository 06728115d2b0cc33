package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"eino_flow/internal/core"
	"eino_flow/src/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRegistry(client, model.EventConfig{
		Namespace:      "test",
		DefaultTimeout: 2 * time.Second,
		TTL:            time.Hour,
	}), mr
}

func TestRegistry_CreateGet(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()

	ev, err := reg.Create(ctx, Init{WorkflowID: "wf", AppID: "app", UserID: "u1", Streaming: true})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)

	got, err := reg.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "wf", got.WorkflowID)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.Streaming)
	assert.Equal(t, 2*time.Second, got.Timeout)
	assert.Equal(t, time.Hour, mr.TTL("test:event:"+ev.ID))

	mr.FastForward(2 * time.Hour)
	_, err = reg.Get(ctx, ev.ID)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRegistry_InterruptResumeLifecycle(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()

	ev, err := reg.Create(ctx, Init{ID: "evt-1", WorkflowID: "wf"})
	require.NoError(t, err)

	_, err = reg.Resume(ctx, ev.ID, map[string]any{"answer": "early"})
	assert.ErrorIs(t, err, ErrEventNotPaused)

	require.NoError(t, reg.Interrupt(ctx, ev.ID, "human-1", 5*time.Second))
	got, err := reg.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, got.Status)
	assert.Equal(t, "human-1", got.InterruptNode)
	assert.Equal(t, 5*time.Second, got.Timeout)

	first, err := reg.Resume(ctx, ev.ID, map[string]any{"answer": "yes"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, first.Retries)

	second, err := reg.Resume(ctx, ev.ID, map[string]any{"answer": "again"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, second.Retries)

	// resume does not flip the status; the waiting node does
	got, err = reg.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, got.Status)
	assert.Equal(t, 5*time.Second, mr.TTL("test:event:evt-1:resume:human-1"))
	assert.Equal(t, 5*time.Second, mr.TTL("test:event:evt-1:resume:human-1:meta"))

	entry, err := reg.WaitResume(ctx, ev.ID, "human-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "yes", entry.Payload["answer"])
	assert.EqualValues(t, 0, entry.Retries)

	entry, err = reg.WaitResume(ctx, ev.ID, "human-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "again", entry.Payload["answer"])
	assert.EqualValues(t, 1, entry.Retries)

	require.NoError(t, reg.MarkRunning(ctx, ev.ID))
	got, err = reg.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Empty(t, got.InterruptNode)

	require.NoError(t, reg.Delete(ctx, ev.ID))
	_, err = reg.Get(ctx, ev.ID)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Empty(t, mr.Keys())
}

func TestRegistry_WaitResumeTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t)

	start := time.Now()
	_, err := reg.WaitResume(context.Background(), "evt-x", "human-1", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrResumeTimeout)
	assert.Equal(t, core.CategoryTimeout, core.CategoryOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRegistry_WaitResumeHonoursSubSecondTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t)

	for _, timeout := range []time.Duration{200 * time.Millisecond, 1300 * time.Millisecond} {
		start := time.Now()
		_, err := reg.WaitResume(context.Background(), "evt-x", "human-1", timeout)
		elapsed := time.Since(start)

		assert.ErrorIs(t, err, ErrResumeTimeout)
		assert.GreaterOrEqual(t, elapsed, timeout)
		assert.Less(t, elapsed, timeout+300*time.Millisecond, "timeout %s overran", timeout)
	}
}

func TestRegistry_WaitResumeShortWaitReceivesWrite(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.WriteResume(ctx, "evt-4", "human-1", map[string]any{"n": 1}, time.Minute)
	require.NoError(t, err)

	entry, err := reg.WaitResume(ctx, "evt-4", "human-1", 100*time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, 1, entry.Payload["n"])
}

func TestRegistry_WaitResumeReceivesConcurrentWrite(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, Init{ID: "evt-2"})
	require.NoError(t, err)
	require.NoError(t, reg.Interrupt(ctx, "evt-2", "human-1", 0))

	var wg sync.WaitGroup
	var entry *ResumeEntry
	var waitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		entry, waitErr = reg.WaitResume(ctx, "evt-2", "human-1", 3*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	_, err = reg.Resume(ctx, "evt-2", map[string]any{"answer": "late"})
	require.NoError(t, err)

	wg.Wait()
	require.NoError(t, waitErr)
	assert.Equal(t, "late", entry.Payload["answer"])
	assert.EqualValues(t, 0, entry.Retries)
}

func TestRegistry_ClientErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Resume(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrEventNotFound)

	err = reg.Interrupt(ctx, "missing", "human-1", 0)
	assert.ErrorIs(t, err, ErrEventNotFound)

	err = reg.UpdateField(ctx, "missing", FieldStatus, string(StatusFailed))
	assert.ErrorIs(t, err, ErrEventNotFound)

	var ce *ClientError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "event_not_found", ce.Code)
}

func TestRegistry_UpdateField(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, Init{ID: "evt-3"})
	require.NoError(t, err)
	require.NoError(t, reg.UpdateField(ctx, "evt-3", FieldStatus, string(StatusSucceeded)))

	got, err := reg.Get(ctx, "evt-3")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
}
