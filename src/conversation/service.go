package conversation

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type Service struct {
	repo     Repository
	strategy ContextStrategy
}

func NewService(repo Repository, strategy ContextStrategy) *Service {
	return &Service{repo: repo, strategy: strategy}
}

// History returns the windowed history to prepend to a model call
func (s *Service) History(ctx context.Context, conversationID string) ([]*schema.Message, error) {
	if conversationID == "" {
		return nil, nil
	}
	return s.repo.GetContextForModel(ctx, conversationID, s.strategy)
}

// SaveExchange appends one user turn and the assistant's reply
func (s *Service) SaveExchange(ctx context.Context, conversationID, query, response string) error {
	if conversationID == "" {
		return nil
	}
	return s.repo.AddMessages(ctx, conversationID,
		schema.UserMessage(query),
		schema.AssistantMessage(response, nil),
	)
}
