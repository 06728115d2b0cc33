package conversation

import (
	"github.com/cloudwego/eino/schema"
)

type ContextStrategy interface {
	BuildContext(messages []*schema.Message) []*schema.Message
}

// ====================== Window ======================
// WindowStrategy keeps the last maxTurns user/assistant messages
type WindowStrategy struct {
	maxTurns int
}

func NewWindowStrategy(maxTurns int) *WindowStrategy {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &WindowStrategy{maxTurns: maxTurns}
}

func (s *WindowStrategy) BuildContext(messages []*schema.Message) []*schema.Message {
	var dialog []*schema.Message
	for _, msg := range messages {
		if msg.Role == schema.User || msg.Role == schema.Assistant {
			dialog = append(dialog, msg)
		}
	}
	return trimTail(dialog, s.maxTurns)
}

// Helper function
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if len(messages) <= maxTurns {
		return messages
	}
	return messages[len(messages)-maxTurns:]
}
