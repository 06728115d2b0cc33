package nodes

import (
	"context"

	"eino_flow/internal/core"
	"eino_flow/pkg"
)

// templateNode renders a {{#node.var#}} template into "output".
type templateNode struct {
	core.Base
	template string
}

func newTemplateNode(n pkg.Node, _ Deps) (core.Node, error) {
	return &templateNode{Base: core.NewBase(n, pkg.KindTemplate), template: n.String("template")}, nil
}

func (t *templateNode) Mode() core.Mode { return core.ModeSync }

func (t *templateNode) RunSync(_ context.Context, pool *core.VariablePool, args *core.RunArgs) *core.NodeRunResult {
	if args.UpstreamTerminated() {
		return core.Cancelled(t)
	}
	text, inputs := pool.Render(t.template)
	return core.Succeeded(t, inputs, map[string]any{"output": text})
}

func (t *templateNode) RunAsync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs, results chan<- *core.NodeRunResult) {
	results <- core.NotImplemented(t, core.ModeAsync)
}

func (t *templateNode) DataDependencies() []string {
	return core.TemplateReferences(t.template)
}
