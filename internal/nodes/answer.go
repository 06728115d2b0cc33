package nodes

import (
	"context"
	"fmt"
	"strings"

	"eino_flow/internal/core"
	"eino_flow/pkg"
)

// answerNode streams user-visible text. It never emits before every node it
// depends on fired its completion signal, so parallel branches cannot
// interleave visible output ahead of a slower dependency.
type answerNode struct {
	core.Base
	template     string
	segments     []core.Segment
	dependencies []string
}

func newAnswerNode(n pkg.Node, _ Deps) (core.Node, error) {
	tpl := n.String("answer")
	a := &answerNode{
		Base:     core.NewBase(n, pkg.KindAnswer),
		template: tpl,
		segments: core.ParseTemplate(tpl),
	}

	var candidates []string
	candidates = append(candidates, n.Strings("dependencies")...)
	candidates = append(candidates, core.TemplateReferences(tpl)...)

	seen := make(map[string]bool)
	for _, id := range candidates {
		if id == n.ID || seen[id] {
			continue
		}
		seen[id] = true
		a.dependencies = append(a.dependencies, id)
	}
	return a, nil
}

func (a *answerNode) Mode() core.Mode { return core.ModeBoth }

func (a *answerNode) ReportsLifecycle() bool { return true }

// DataDependencies is the explicit dependency list plus every node the template references.
func (a *answerNode) DataDependencies() []string {
	return a.dependencies
}

func (a *answerNode) RunAsync(ctx context.Context, pool *core.VariablePool, args *core.RunArgs, results chan<- *core.NodeRunResult) {
	results <- a.RunSync(ctx, pool, args)
}

func (a *answerNode) RunSync(ctx context.Context, pool *core.VariablePool, args *core.RunArgs) *core.NodeRunResult {
	if args.UpstreamTerminated() {
		return core.Cancelled(a)
	}

	notify := args.Notify()
	notify.OnNodeStart(a.ID(), a.Kind())

	res := a.produce(ctx, pool, args)
	notify.OnNodeEnd(res)
	return res
}

func (a *answerNode) produce(ctx context.Context, pool *core.VariablePool, args *core.RunArgs) *core.NodeRunResult {
	deps := a.dependencies
	if args != nil && args.Dependencies != nil {
		deps = args.Dependencies
	}
	if err := args.WaitDependencies(ctx, deps); err != nil {
		return core.Failed(a, core.CategoryNone, fmt.Errorf("waiting for dependencies of %s: %w", a.ID(), err))
	}

	var audit *core.AuditContext
	if args != nil {
		audit = args.Audit
	}

	var answer strings.Builder
	inputs := make(map[string]any)
	for _, seg := range a.segments {
		text, value, ok := pool.Resolve(seg)
		if ok {
			inputs[strings.Join(seg.Selector, ".")] = value
		}
		if text == "" {
			continue
		}

		chunk, err := audit.Review(ctx, a.ID(), text)
		if err != nil {
			return core.Failed(a, core.CategoryExecutor, core.Permanent(fmt.Errorf("reviewing output of %s: %w", a.ID(), err)))
		}
		answer.WriteString(chunk)
		args.Notify().OnChunk(a.ID(), chunk)
	}

	res := core.Succeeded(a, inputs, map[string]any{"answer": answer.String()})
	res.Answer = answer.String()
	return res
}
