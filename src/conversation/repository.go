package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "conversation:"

type ConversationHistory struct {
	Messages []*schema.Message `json:"messages"`
}

type Repository interface {
	Load(ctx context.Context, conversationID string) (*ConversationHistory, error)
	AddMessages(ctx context.Context, conversationID string, messages ...*schema.Message) error
	GetContextForModel(ctx context.Context, conversationID string, strategy ContextStrategy) ([]*schema.Message, error)
}

type RedisRepository struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

func NewRedisRepository(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisRepository {
	return &RedisRepository{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (r *RedisRepository) key(conversationID string) string {
	if r.namespace == "" {
		return keyPrefix + conversationID
	}
	return r.namespace + ":" + keyPrefix + conversationID
}

func (r *RedisRepository) Load(ctx context.Context, conversationID string) (*ConversationHistory, error) {
	key := r.key(conversationID)
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &ConversationHistory{Messages: []*schema.Message{}}, nil
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}

	var history ConversationHistory
	if err := sonic.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", conversationID, err)
	}

	// Refresh TTL
	r.client.Expire(ctx, key, r.ttl)
	return &history, nil
}

// AddMessages appends messages under a WATCH transaction so concurrent writers
// to one conversation never drop each other's turns.
func (r *RedisRepository) AddMessages(ctx context.Context, conversationID string, messages ...*schema.Message) error {
	key := r.key(conversationID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		// read through tx; Load refreshes the TTL and would touch the watched key
		history := &ConversationHistory{}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
		default:
			if err := sonic.Unmarshal(data, history); err != nil {
				return fmt.Errorf("failed to unmarshal conversation %s: %w", conversationID, err)
			}
		}
		history.Messages = append(history.Messages, messages...)

		data, err = sonic.Marshal(history)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation %s: %w", conversationID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, key)
}

func (r *RedisRepository) GetContextForModel(ctx context.Context, conversationID string, strategy ContextStrategy) ([]*schema.Message, error) {
	history, err := r.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return strategy.BuildContext(history.Messages), nil
}
