package nodes

import (
	"context"
	"fmt"

	"eino_flow/internal/core"
	"eino_flow/pkg"
)

// startNode publishes the run inputs under its own namespace.
type startNode struct {
	core.Base
	required []string
}

func newStartNode(n pkg.Node, _ Deps) (core.Node, error) {
	return &startNode{
		Base:     core.NewBase(n, pkg.KindStart),
		required: n.Strings("required"),
	}, nil
}

func (s *startNode) Mode() core.Mode { return core.ModeSync }

func (s *startNode) RunSync(_ context.Context, _ *core.VariablePool, args *core.RunArgs) *core.NodeRunResult {
	inputs := map[string]any{}
	if args != nil {
		inputs = core.DeepCopyValue(args.Inputs).(map[string]any)
		if inputs == nil {
			inputs = map[string]any{}
		}
	}
	for _, name := range s.required {
		if _, ok := inputs[name]; !ok {
			return core.Failed(s, core.CategoryInput, fmt.Errorf("missing required input %q", name))
		}
	}
	return core.Succeeded(s, inputs, inputs)
}

func (s *startNode) RunAsync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs, results chan<- *core.NodeRunResult) {
	results <- core.NotImplemented(s, core.ModeAsync)
}

// iterationStartNode marks the entry of an iteration body. It exposes the
// current item and index.
type iterationStartNode struct {
	core.Base
}

func newIterationStartNode(n pkg.Node, _ Deps) (core.Node, error) {
	return &iterationStartNode{Base: core.NewBase(n, pkg.KindIterationStart)}, nil
}

func (s *iterationStartNode) Mode() core.Mode { return core.ModeSync }

func (s *iterationStartNode) RunSync(_ context.Context, _ *core.VariablePool, args *core.RunArgs) *core.NodeRunResult {
	if args.UpstreamTerminated() {
		return core.Cancelled(s)
	}
	if args == nil || args.Iteration == nil {
		return core.Failed(s, core.CategoryInput, fmt.Errorf("iteration start %s ran outside an iteration", s.ID()))
	}
	out := map[string]any{
		"item":  args.Iteration.Item,
		"index": args.Iteration.Index,
	}
	return core.Succeeded(s, nil, out)
}

func (s *iterationStartNode) RunAsync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs, results chan<- *core.NodeRunResult) {
	results <- core.NotImplemented(s, core.ModeAsync)
}
