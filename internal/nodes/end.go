package nodes

import (
	"context"

	"eino_flow/internal/core"
	"eino_flow/pkg"
)

// endNode collects the declared outputs into the run result. Missing values
// are left out.
type endNode struct {
	core.Base
	outputs []pkg.VariableSelector
}

func newEndNode(n pkg.Node, _ Deps) (core.Node, error) {
	outputs, err := n.Variables("outputs")
	if err != nil {
		return nil, err
	}
	return &endNode{Base: core.NewBase(n, pkg.KindEnd), outputs: outputs}, nil
}

func (e *endNode) Mode() core.Mode { return core.ModeSync }

func (e *endNode) RunSync(_ context.Context, pool *core.VariablePool, args *core.RunArgs) *core.NodeRunResult {
	if args.UpstreamTerminated() {
		return core.Cancelled(e)
	}
	values, _ := resolveVariables(pool, e.outputs, true)
	return core.Succeeded(e, values, values)
}

func (e *endNode) RunAsync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs, results chan<- *core.NodeRunResult) {
	results <- core.NotImplemented(e, core.ModeAsync)
}

// DataDependencies lists the nodes whose outputs are collected.
func (e *endNode) DataDependencies() []string {
	return selectorNodes(e.outputs)
}

func selectorNodes(vars []pkg.VariableSelector) []string {
	seen := make(map[string]bool, len(vars))
	var ids []string
	for _, v := range vars {
		if len(v.Selector) == 0 || seen[v.Selector[0]] {
			continue
		}
		seen[v.Selector[0]] = true
		ids = append(ids, v.Selector[0])
	}
	return ids
}
