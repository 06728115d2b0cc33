package nodes

import (
	"context"
	"fmt"

	"eino_flow/internal/core"
	"eino_flow/pkg"

	"golang.org/x/sync/errgroup"
)

// iterationNode runs its private sub-graph once per item of a list. Every item
// gets a forked pool so items never see each other's variables; the value at
// output_selector is collected per item in input order.
type iterationNode struct {
	core.Base
	iterator []string
	output   []string
	parallel int
}

func newIterationNode(n pkg.Node, _ Deps) (core.Node, error) {
	iterator := n.Selector("iterator_selector")
	if len(iterator) < 2 {
		return nil, fmt.Errorf("iterator_selector must name a node and a variable")
	}
	parallel := 1
	if n.Bool("is_parallel") {
		parallel = n.Int("parallel_nums", 10)
	}
	return &iterationNode{
		Base:     core.NewBase(n, pkg.KindIteration),
		iterator: iterator,
		output:   n.Selector("output_selector"),
		parallel: max(parallel, 1),
	}, nil
}

func (it *iterationNode) Mode() core.Mode { return core.ModeAsync }

func (it *iterationNode) DataDependencies() []string {
	return []string{it.iterator[0]}
}

func (it *iterationNode) RunSync(_ context.Context, _ *core.VariablePool, _ *core.RunArgs) *core.NodeRunResult {
	return core.NotImplemented(it, core.ModeSync)
}

func (it *iterationNode) RunAsync(ctx context.Context, pool *core.VariablePool, args *core.RunArgs, results chan<- *core.NodeRunResult) {
	if args.UpstreamTerminated() {
		results <- core.Cancelled(it)
		return
	}
	if args.SubRunner == nil {
		results <- core.Failed(it, core.CategoryInternal, fmt.Errorf("iteration %s has no sub-graph runner", it.ID()))
		return
	}

	raw, err := pool.Lookup(it.iterator)
	if err != nil {
		results <- core.Failed(it, core.CategoryInput, fmt.Errorf("iterator %v: %w", it.iterator, err))
		return
	}
	items, ok := raw.([]any)
	if !ok {
		if strs, isStrings := raw.([]string); isStrings {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		} else {
			results <- core.Failed(it, core.CategoryTypeMismatch, fmt.Errorf("iterator %v is %T, not a list", it.iterator, raw))
			return
		}
	}

	collected := make([]any, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(it.parallel)
	for i, item := range items {
		g.Go(func() error {
			child := pool.Fork()
			child.Set(it.ID(), "item", item)
			child.Set(it.ID(), "index", i)

			iter := core.IterationContext{ParentID: it.ID(), Index: i, Total: len(items), Item: item}
			if err := args.SubRunner.RunIteration(gctx, it.ID(), child, iter); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			if len(it.output) >= 2 {
				collected[i], _ = child.Get(it.output)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		results <- core.Failed(it, core.CategoryNone, fmt.Errorf("iteration %s: %w", it.ID(), err))
		return
	}

	inputs := map[string]any{"iterator": items}
	results <- core.Succeeded(it, inputs, map[string]any{"output": collected})
}
