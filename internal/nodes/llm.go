package nodes

import (
	"context"
	"errors"
	"fmt"
	"io"

	"eino_flow/internal/core"
	"eino_flow/pkg"
	"eino_flow/src/conversation"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// llmNode renders its prompts from the pool and runs them through an eino
// chain: ChatTemplate -> ChatModel. With memory enabled the windowed
// conversation history is placed between the system and user messages.
type llmNode struct {
	core.Base
	system string
	prompt string
	memory bool
	chain  compose.Runnable[map[string]any, *schema.Message]
	conv   *conversation.Service
}

func newLLMNode(n pkg.Node, deps Deps) (core.Node, error) {
	if deps.ChatModel == nil {
		return nil, errors.New("chat model is not configured")
	}

	// Create the template; rendered text is passed as values so braces in
	// variable content are never parsed as placeholders
	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	// Create the Eino chain: Template → ChatModel
	chain, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(template).
		AppendChatModel(deps.ChatModel).
		Compile(context.Background())
	if err != nil {
		return nil, fmt.Errorf("error creating Eino chain: %w", err)
	}

	return &llmNode{
		Base:   core.NewBase(n, pkg.KindLLM),
		system: n.String("system"),
		prompt: n.String("prompt"),
		memory: n.Bool("memory"),
		chain:  chain,
		conv:   deps.Conversation,
	}, nil
}

func (l *llmNode) Mode() core.Mode { return core.ModeAsync }

func (l *llmNode) DataDependencies() []string {
	return core.TemplateReferences(l.system + "\n" + l.prompt)
}

func (l *llmNode) RunSync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs) *core.NodeRunResult {
	return core.NotImplemented(l, core.ModeSync)
}

func (l *llmNode) RunAsync(ctx context.Context, pool *core.VariablePool, args *core.RunArgs, results chan<- *core.NodeRunResult) {
	if args.UpstreamTerminated() {
		results <- core.Cancelled(l)
		return
	}

	system, systemInputs := pool.Render(l.system)
	query, inputs := pool.Render(l.prompt)
	for k, v := range systemInputs {
		inputs[k] = v
	}
	if query == "" {
		results <- core.Failed(l, core.CategoryInput, fmt.Errorf("llm node %s rendered an empty prompt", l.ID()))
		return
	}

	conversationID := args.Execution.ConversationID
	var history []*schema.Message
	if l.memory && l.conv != nil {
		var err error
		history, err = l.conv.History(ctx, conversationID)
		if err != nil {
			results <- core.Failed(l, core.CategoryExecutor, fmt.Errorf("loading conversation history: %w", err))
			return
		}
	}

	vars := map[string]any{
		"system":  system,
		"query":   query,
		"history": history,
	}

	var (
		msg *schema.Message
		err error
	)
	if args.Execution.Streaming {
		msg, err = l.stream(ctx, vars)
	} else {
		msg, err = l.chain.Invoke(ctx, vars)
	}
	if err != nil {
		results <- core.Failed(l, core.CategoryNone, modelError(err))
		return
	}

	if l.memory && l.conv != nil {
		if err := l.conv.SaveExchange(ctx, conversationID, query, msg.Content); err != nil {
			results <- core.Failed(l, core.CategoryExecutor, fmt.Errorf("saving conversation: %w", err))
			return
		}
	}

	outputs := map[string]any{"text": msg.Content}
	if msg.ReasoningContent != "" {
		outputs["reasoning"] = msg.ReasoningContent
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		usage := msg.ResponseMeta.Usage
		outputs["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
	}

	res := core.Succeeded(l, inputs, outputs)
	res.Reasoning = msg.ReasoningContent
	results <- res
}

// stream reads the model stream to the end and merges the chunks.
func (l *llmNode) stream(ctx context.Context, vars map[string]any) (*schema.Message, error) {
	sr, err := l.chain.Stream(ctx, vars)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil, errors.New("model returned an empty stream")
	}
	return schema.ConcatMessages(chunks)
}

// modelError marks provider failures as executor errors; deadlines keep
// their timeout category.
func modelError(err error) error {
	if core.CategoryOf(err) == core.CategoryInternal {
		return core.WithCategory(core.CategoryExecutor, fmt.Errorf("chat model: %w", err))
	}
	return err
}
