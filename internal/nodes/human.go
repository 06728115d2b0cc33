package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_flow/internal/core"
	"eino_flow/internal/event"
	"eino_flow/pkg"
)

// humanNode suspends the run until an outside party resumes its event. It
// marks the event INTERRUPTED at itself, blocks on its resume queue and marks
// the event RUNNING again once a payload arrived.
type humanNode struct {
	core.Base
	prompt   string
	timeout  time.Duration
	registry *event.Registry
}

func newHumanNode(n pkg.Node, deps Deps) (core.Node, error) {
	if deps.Registry == nil {
		return nil, errors.New("event registry is not configured")
	}
	return &humanNode{
		Base:     core.NewBase(n, pkg.KindHuman),
		prompt:   n.String("prompt"),
		timeout:  n.Duration("timeout", 0),
		registry: deps.Registry,
	}, nil
}

func (h *humanNode) Mode() core.Mode { return core.ModeAsync }

func (h *humanNode) DataDependencies() []string {
	return core.TemplateReferences(h.prompt)
}

func (h *humanNode) RunSync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs) *core.NodeRunResult {
	return core.NotImplemented(h, core.ModeSync)
}

func (h *humanNode) RunAsync(ctx context.Context, pool *core.VariablePool, args *core.RunArgs, results chan<- *core.NodeRunResult) {
	if args.UpstreamTerminated() {
		results <- core.Cancelled(h)
		return
	}
	eventID := args.Execution.EventID
	if eventID == "" {
		results <- core.Failed(h, core.CategoryInput, fmt.Errorf("human node %s needs an event to suspend", h.ID()))
		return
	}

	prompt, inputs := pool.Render(h.prompt)
	if err := h.registry.Interrupt(ctx, eventID, h.ID(), h.timeout); err != nil {
		results <- core.Failed(h, core.CategoryNone, err)
		return
	}
	if obs, ok := args.Notify().(core.InterruptObserver); ok {
		obs.OnInterrupt(h.ID(), eventID, prompt)
	}

	timeout := h.timeout
	if timeout <= 0 {
		ev, err := h.registry.Get(ctx, eventID)
		if err != nil {
			results <- core.Failed(h, core.CategoryNone, err)
			return
		}
		timeout = ev.Timeout
	}

	entry, err := h.registry.WaitResume(ctx, eventID, h.ID(), timeout)
	if err != nil {
		results <- core.Failed(h, core.CategoryNone, fmt.Errorf("human node %s: %w", h.ID(), err))
		return
	}
	if err := h.registry.MarkRunning(ctx, eventID); err != nil {
		results <- core.Failed(h, core.CategoryNone, err)
		return
	}

	outputs := map[string]any{
		"prompt":  prompt,
		"retries": entry.Retries,
		"payload": entry.Payload,
	}
	if resp, ok := entry.Payload["response"]; ok {
		outputs["response"] = resp
	} else {
		outputs["response"] = entry.Payload
	}
	results <- core.Succeeded(h, inputs, outputs)
}
