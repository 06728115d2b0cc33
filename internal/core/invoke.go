package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Invoke runs n once in its preferred mode. Async nodes are driven through a
// buffered channel; panics in either mode become FAILED results with category
// internal. The returned result always carries the elapsed time.
func Invoke(ctx context.Context, n Node, pool *VariablePool, args *RunArgs) (res *NodeRunResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().
				Str("node_id", n.ID()).
				Str("stack", string(debug.Stack())).
				Msgf("node panicked: %v", r)
			res = Failed(n, CategoryInternal, fmt.Errorf("node %s panicked: %v", n.ID(), r))
		}
		if res == nil {
			res = Failed(n, CategoryInternal, fmt.Errorf("node %s returned no result", n.ID()))
		}
		res.Elapsed = time.Since(start)
	}()

	if n.Mode() == ModeSync {
		return n.RunSync(ctx, pool, args)
	}
	return runAsync(ctx, n, pool, args)
}

func runAsync(ctx context.Context, n Node, pool *VariablePool, args *RunArgs) *NodeRunResult {
	results := make(chan *NodeRunResult, 1)
	panics := make(chan any, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panics <- r
			}
		}()
		n.RunAsync(ctx, pool, args, results)
	}()

	select {
	case res := <-results:
		return res
	case r := <-panics:
		return Failed(n, CategoryInternal, fmt.Errorf("node %s panicked: %v", n.ID(), r))
	case <-done:
		select {
		case res := <-results:
			return res
		case r := <-panics:
			return Failed(n, CategoryInternal, fmt.Errorf("node %s panicked: %v", n.ID(), r))
		default:
		}
		if ctx.Err() != nil {
			return Failed(n, CategoryOf(ctx.Err()), fmt.Errorf("node %s: %w", n.ID(), ctx.Err()))
		}
		return nil
	case <-ctx.Done():
		return Failed(n, CategoryOf(ctx.Err()), fmt.Errorf("node %s: %w", n.ID(), ctx.Err()))
	}
}
