package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eino_flow/internal/core"
	"eino_flow/pkg"
	"eino_flow/src/storage"
)

const (
	globalVarSet   = "set"
	globalVarGet   = "get"
	globalVarClear = "clear"

	globalVarSegment = "global_var"
)

// globalVarNode persists named values across turns in a Redis hash scoped to
// workflow, user and app, optionally narrowed to one conversation.
type globalVarNode struct {
	core.Base
	mode               string
	variables          []pkg.VariableSelector
	conversationScoped bool
	store              *storage.RedisStorage
	ttl                time.Duration
}

func newGlobalVarNode(n pkg.Node, deps Deps) (core.Node, error) {
	if deps.Globals == nil {
		return nil, errors.New("global variable store is not configured")
	}
	mode := n.String("mode")
	switch mode {
	case globalVarSet, globalVarGet, globalVarClear:
	default:
		return nil, fmt.Errorf("mode must be one of %q, %q, %q; got %q", globalVarSet, globalVarGet, globalVarClear, mode)
	}
	vars, err := n.Variables("variables")
	if err != nil {
		return nil, err
	}
	return &globalVarNode{
		Base:               core.NewBase(n, pkg.KindGlobalVar),
		mode:               mode,
		variables:          vars,
		conversationScoped: n.Bool("conversation_scoped"),
		store:              deps.Globals,
		ttl:                deps.GlobalTTL,
	}, nil
}

func (g *globalVarNode) Mode() core.Mode { return core.ModeAsync }

func (g *globalVarNode) DataDependencies() []string {
	return selectorNodes(g.variables)
}

func (g *globalVarNode) RunSync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs) *core.NodeRunResult {
	return core.NotImplemented(g, core.ModeSync)
}

func (g *globalVarNode) RunAsync(ctx context.Context, pool *core.VariablePool, args *core.RunArgs, results chan<- *core.NodeRunResult) {
	if args.UpstreamTerminated() {
		results <- core.Cancelled(g)
		return
	}

	key, err := g.key(args.Execution)
	if err != nil {
		results <- core.Failed(g, core.CategoryInput, err)
		return
	}

	switch g.mode {
	case globalVarSet:
		results <- g.set(ctx, pool, key)
	case globalVarClear:
		results <- g.clear(ctx, key)
	default:
		results <- g.get(ctx, pool, key)
	}
}

// key is {ns}:global_var:{workflow}:{user}:{app}[:{conversation}]. Without a
// conversation id the scope widens to the whole user and app pair.
func (g *globalVarNode) key(scope core.ExecutionScope) (string, error) {
	if scope.WorkflowID == "" || scope.UserID == "" || scope.AppID == "" {
		return "", fmt.Errorf("global variables need workflow, user and app ids")
	}
	parts := []string{globalVarSegment, scope.WorkflowID, scope.UserID, scope.AppID}
	if g.conversationScoped && scope.ConversationID != "" {
		parts = append(parts, scope.ConversationID)
	}
	return g.store.Key(parts...), nil
}

func (g *globalVarNode) set(ctx context.Context, pool *core.VariablePool, key string) *core.NodeRunResult {
	values, err := resolveVariables(pool, g.variables, false)
	if err != nil {
		return core.Failed(g, core.CategoryNone, err)
	}
	if err := g.store.HashSet(ctx, key, values, g.ttl); err != nil {
		return core.Failed(g, core.CategoryExecutor, err)
	}
	return core.Succeeded(g, values, values)
}

func (g *globalVarNode) get(ctx context.Context, pool *core.VariablePool, key string) *core.NodeRunResult {
	stored, err := g.store.HashGetAll(ctx, key)
	if err != nil {
		return core.Failed(g, core.CategoryExecutor, err)
	}

	outputs := make(map[string]any, len(g.variables))
	for _, v := range g.variables {
		if value, ok := stored[v.Name]; ok {
			outputs[v.Name] = value
			continue
		}
		if value, ok := pool.Get(v.Selector); ok {
			outputs[v.Name] = value
		}
	}
	return core.Succeeded(g, map[string]any{"key": key}, outputs)
}

// clear drops every variable stored for the scope.
func (g *globalVarNode) clear(ctx context.Context, key string) *core.NodeRunResult {
	if err := g.store.Delete(ctx, key); err != nil {
		return core.Failed(g, core.CategoryExecutor, err)
	}
	return core.Succeeded(g, map[string]any{"key": key}, map[string]any{})
}
