// Package event keeps the durable record of in-flight executions in Redis so a
// run can pause on a node waiting for outside input and be resumed later,
// possibly by a different process.
package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_flow/src/model"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of an Event.
type Status string

const (
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
)

// Event fields as stored in the hash.
const (
	FieldStatus        = "status"
	FieldInterruptNode = "interrupt_node"
	FieldTimeout       = "timeout_ms"
	FieldUpdatedAt     = "updated_at"
)

// pollInterval bounds one BLPOP so context cancellation is observed between
// polls. go-redis truncates shorter BLPOP timeouts up to one second, so waits
// below it poll with LPOP every shortPoll instead.
const (
	pollInterval = time.Second
	shortPoll    = 25 * time.Millisecond
)

// Event is the durable record of one workflow execution.
type Event struct {
	ID             string
	WorkflowID     string
	AppID          string
	UserID         string
	ConversationID string
	Streaming      bool
	Status         Status
	Timeout        time.Duration
	InterruptNode  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// record mirrors the Redis hash layout.
type record struct {
	ID             string `redis:"id"`
	WorkflowID     string `redis:"workflow_id"`
	AppID          string `redis:"app_id"`
	UserID         string `redis:"user_id"`
	ConversationID string `redis:"conversation_id"`
	Streaming      bool   `redis:"streaming"`
	Status         string `redis:"status"`
	TimeoutMS      int64  `redis:"timeout_ms"`
	InterruptNode  string `redis:"interrupt_node"`
	CreatedAt      int64  `redis:"created_at"`
	UpdatedAt      int64  `redis:"updated_at"`
}

func (rec record) fields() map[string]any {
	return map[string]any{
		"id":               rec.ID,
		"workflow_id":      rec.WorkflowID,
		"app_id":           rec.AppID,
		"user_id":          rec.UserID,
		"conversation_id":  rec.ConversationID,
		"streaming":        rec.Streaming,
		FieldStatus:        rec.Status,
		FieldTimeout:       rec.TimeoutMS,
		FieldInterruptNode: rec.InterruptNode,
		"created_at":       rec.CreatedAt,
		FieldUpdatedAt:     rec.UpdatedAt,
	}
}

func (rec record) event() *Event {
	return &Event{
		ID:             rec.ID,
		WorkflowID:     rec.WorkflowID,
		AppID:          rec.AppID,
		UserID:         rec.UserID,
		ConversationID: rec.ConversationID,
		Streaming:      rec.Streaming,
		Status:         Status(rec.Status),
		Timeout:        time.Duration(rec.TimeoutMS) * time.Millisecond,
		InterruptNode:  rec.InterruptNode,
		CreatedAt:      time.UnixMilli(rec.CreatedAt),
		UpdatedAt:      time.UnixMilli(rec.UpdatedAt),
	}
}

// Init describes a new Event. An empty ID is replaced by a random UUID and a
// zero Timeout by the registry default.
type Init struct {
	ID             string
	WorkflowID     string
	AppID          string
	UserID         string
	ConversationID string
	Streaming      bool
	Timeout        time.Duration
}

// ResumeEntry is one payload delivered to a waiting node.
type ResumeEntry struct {
	Payload   map[string]any `json:"payload"`
	Retries   int64          `json:"retries"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Registry stores Events and their resume queues. It keeps no in-process state.
type Registry struct {
	client         redis.UniversalClient
	namespace      string
	defaultTimeout time.Duration
	ttl            time.Duration
	now            func() time.Time
}

// NewRegistry creates a registry over client.
func NewRegistry(client redis.UniversalClient, cfg model.EventConfig) *Registry {
	r := &Registry{
		client:         client,
		namespace:      cfg.Namespace,
		defaultTimeout: cfg.DefaultTimeout,
		ttl:            cfg.TTL,
		now:            time.Now,
	}
	if r.namespace == "" {
		r.namespace = "eino_flow"
	}
	if r.defaultTimeout <= 0 {
		r.defaultTimeout = 10 * time.Minute
	}
	if r.ttl <= 0 {
		r.ttl = 24 * time.Hour
	}
	return r
}

// Create stores a new RUNNING event.
func (r *Registry) Create(ctx context.Context, init Init) (*Event, error) {
	if init.ID == "" {
		init.ID = uuid.NewString()
	}
	if init.Timeout <= 0 {
		init.Timeout = r.defaultTimeout
	}
	now := r.now().UnixMilli()
	rec := record{
		ID:             init.ID,
		WorkflowID:     init.WorkflowID,
		AppID:          init.AppID,
		UserID:         init.UserID,
		ConversationID: init.ConversationID,
		Streaming:      init.Streaming,
		Status:         string(StatusRunning),
		TimeoutMS:      init.Timeout.Milliseconds(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	key := r.eventKey(init.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, rec.fields())
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event %s: %w", init.ID, err)
	}

	zerolog.Ctx(ctx).Debug().Str("event_id", init.ID).Msg("event created")
	return rec.event(), nil
}

// Get loads an event. Absent or expired events return ErrEventNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Event, error) {
	res := r.client.HGetAll(ctx, r.eventKey(id))
	values, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}

	var rec record
	if err := res.Scan(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	return rec.event(), nil
}

// Interrupt marks the event INTERRUPTED at nodeID. A zero timeout keeps the
// event's own timeout.
func (r *Registry) Interrupt(ctx context.Context, id, nodeID string, timeout time.Duration) error {
	fields := map[string]any{
		FieldStatus:        string(StatusInterrupted),
		FieldInterruptNode: nodeID,
	}
	if timeout > 0 {
		fields[FieldTimeout] = timeout.Milliseconds()
	}
	return r.update(ctx, id, fields)
}

// MarkRunning returns an interrupted event to RUNNING and clears its interrupt node.
func (r *Registry) MarkRunning(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{
		FieldStatus:        string(StatusRunning),
		FieldInterruptNode: "",
	})
}

// UpdateField sets one field of an existing event.
func (r *Registry) UpdateField(ctx context.Context, id, field string, value any) error {
	return r.update(ctx, id, map[string]any{field: value})
}

// update writes fields only if the event still exists.
func (r *Registry) update(ctx context.Context, id string, fields map[string]any) error {
	key := r.eventKey(id)
	fields[FieldUpdatedAt] = r.now().UnixMilli()

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("event %s: %w", id, ErrEventNotFound)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			return err
		}
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	return nil
}

// Resume delivers payload to the node the event is interrupted at. It does not
// change the event status; the waiting node marks it RUNNING once it consumed
// the payload.
func (r *Registry) Resume(ctx context.Context, id string, payload map[string]any) (*ResumeEntry, error) {
	ev, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status != StatusInterrupted || ev.InterruptNode == "" {
		return nil, fmt.Errorf("event %s is %s: %w", id, ev.Status, ErrEventNotPaused)
	}
	return r.WriteResume(ctx, id, ev.InterruptNode, payload, ev.Timeout)
}

// WriteResume appends payload to the node's resume queue and counts the write.
// Retries is 0 after the first write and N-1 after the Nth. Both keys expire
// after timeout.
func (r *Registry) WriteResume(ctx context.Context, id, nodeID string, payload map[string]any, timeout time.Duration) (*ResumeEntry, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	entry := &ResumeEntry{Payload: payload, UpdatedAt: r.now()}
	queue := r.resumeKey(id, nodeID)
	meta := r.resumeMetaKey(id, nodeID)

	// the count is taken first so every queued entry carries its own
	var retries *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, meta, "retries", -1)
		retries = pipe.HIncrBy(ctx, meta, "retries", 1)
		pipe.HSet(ctx, meta, "updated_at", entry.UpdatedAt.UnixMilli())
		pipe.Expire(ctx, meta, timeout)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count resume for event %s node %s: %w", id, nodeID, err)
	}
	entry.Retries = retries.Val()

	data, err := sonic.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resume payload: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, queue, data)
		pipe.Expire(ctx, queue, timeout)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write resume for event %s node %s: %w", id, nodeID, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("event_id", id).
		Str("node_id", nodeID).
		Int64("retries", entry.Retries).
		Msg("resume payload queued")
	return entry, nil
}

// WaitResume pops the oldest payload for nodeID, blocking up to timeout.
// ErrResumeTimeout is returned when nothing arrives in time.
func (r *Registry) WaitResume(ctx context.Context, id, nodeID string, timeout time.Duration) (*ResumeEntry, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	deadline := r.now().Add(timeout)
	queue := r.resumeKey(id, nodeID)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrResumeTimeout
		}

		raw, err := r.pop(ctx, queue, remaining)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to wait for resume on event %s: %w", id, err)
		}

		var entry ResumeEntry
		if err := sonic.UnmarshalString(raw, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resume payload: %w", err)
		}
		return &entry, nil
	}
}

// pop takes the head of queue. It blocks for at most remaining, using BLPOP
// for whole-second slices and LPOP plus a short sleep below that.
func (r *Registry) pop(ctx context.Context, queue string, remaining time.Duration) (string, error) {
	if remaining >= pollInterval {
		res, err := r.client.BLPop(ctx, pollInterval, queue).Result()
		if err != nil {
			return "", err
		}
		return res[1], nil
	}

	val, err := r.client.LPop(ctx, queue).Result()
	if !errors.Is(err, redis.Nil) {
		return val, err
	}
	timer := time.NewTimer(min(remaining, shortPoll))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", redis.Nil
	}
}

// Delete removes the event and every resume key that belongs to it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.eventKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}

	iter := r.client.Scan(ctx, 0, r.resumePattern(id), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan resume keys of event %s: %w", id, err)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete resume keys of event %s: %w", id, err)
		}
	}
	return nil
}
