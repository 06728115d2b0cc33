package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"eino_flow/internal/core"
	"eino_flow/internal/event"
	"eino_flow/pkg"
	"eino_flow/src/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// execution is the state of one run shared by all of its scopes.
type execution struct {
	engine    *Engine
	scope     core.ExecutionScope
	inputs    map[string]any
	audit     *core.AuditContext
	callbacks core.Callbacks

	mu      sync.Mutex
	results map[string]*core.NodeRunResult
}

func (x *execution) record(res *core.NodeRunResult) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.results[res.NodeID] = res
}

// run executes the master scope and folds its node results into a RunResult.
func (e *Engine) run(ctx context.Context, in RunInput, cb core.Callbacks) (*RunResult, error) {
	start := time.Now()
	scope := core.ExecutionScope{
		ExecutionID:    uuid.NewString(),
		EventID:        in.EventID,
		WorkflowID:     e.compiled.Graph.ID,
		AppID:          in.AppID,
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		Streaming:      in.Streaming,
	}

	if e.registry != nil {
		ev, err := e.registry.Create(ctx, event.Init{
			ID:             in.EventID,
			WorkflowID:     scope.WorkflowID,
			AppID:          scope.AppID,
			UserID:         scope.UserID,
			ConversationID: scope.ConversationID,
			Streaming:      scope.Streaming,
			Timeout:        in.EventTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event: %w", err)
		}
		scope.EventID = ev.ID
		defer func() {
			if err := e.registry.Delete(context.WithoutCancel(ctx), ev.ID); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("event_id", ev.ID).Msg("failed to delete event")
			}
		}()
	}

	log := logger.ForExecution(scope.ExecutionID, scope.WorkflowID, scope.EventID)
	ctx = logger.WithContext(ctx, log)

	x := &execution{
		engine:    e,
		scope:     scope,
		inputs:    in.Inputs,
		audit:     core.NewAuditContext(e.moderator),
		callbacks: cb,
		results:   make(map[string]*core.NodeRunResult),
	}

	pool := core.NewVariablePool()
	pool.SetOutputs(pkg.SystemNamespace, map[string]any{
		"query":           in.Query,
		"user_id":         scope.UserID,
		"app_id":          scope.AppID,
		"workflow_id":     scope.WorkflowID,
		"conversation_id": scope.ConversationID,
		"execution_id":    scope.ExecutionID,
		"event_id":        scope.EventID,
	})

	log.Info().Int("paths", len(e.compiled.Master.Paths)).Msg("run started")
	runErr := x.runScope(ctx, "", pool, nil)

	res := &RunResult{
		ExecutionID: scope.ExecutionID,
		EventID:     scope.EventID,
		Status:      core.StatusSucceeded,
		Results:     x.results,
		Elapsed:     time.Since(start),
	}
	if runErr != nil {
		res.Status = core.StatusFailed
		res.Err = runErr
	}

	var answer strings.Builder
	for _, id := range e.compiled.Master.Nodes() {
		r, ok := x.results[id]
		if !ok {
			continue
		}
		answer.WriteString(r.Answer)
		if id == e.compiled.EndID && r.Succeeded() && runErr == nil {
			res.Outputs = r.Outputs
		}
	}
	res.Answer = answer.String()

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Str("status", string(res.Status)).Dur("elapsed", res.Elapsed).Msg("run finished")
	return res, nil
}

// RunIteration runs the ChainSet owned by iterationID against an item pool.
func (x *execution) RunIteration(ctx context.Context, iterationID string, pool *core.VariablePool, iter core.IterationContext) error {
	return x.runScope(ctx, iterationID, pool, &iter)
}

// scopeRun tracks node outcomes of one scope: the master graph or one
// iteration item.
type scopeRun struct {
	x       *execution
	pool    *core.VariablePool
	signals *core.SignalSet
	iter    *core.IterationContext
	inScope map[string]bool

	mu     sync.Mutex
	status map[string]core.Status
}

// runScope starts one goroutine per node and returns the root cause of the
// first failure in path order.
func (x *execution) runScope(ctx context.Context, iterationID string, pool *core.VariablePool, iter *core.IterationContext) error {
	set, ok := x.engine.compiled.Scope(iterationID)
	if !ok {
		return fmt.Errorf("no chain set for iteration %s", iterationID)
	}
	ids := set.Nodes()
	s := &scopeRun{
		x:       x,
		pool:    pool,
		signals: core.NewSignalSet(ids),
		iter:    iter,
		inScope: make(map[string]bool, len(ids)),
		status:  make(map[string]core.Status, len(ids)),
	}
	for _, id := range ids {
		s.inScope[id] = true
	}

	var g errgroup.Group
	failures := make(map[string]*core.NodeRunResult)
	var failMu sync.Mutex
	for _, id := range ids {
		g.Go(func() error {
			res := s.runNode(ctx, id)
			if res.Status == core.StatusFailed {
				failMu.Lock()
				failures[id] = res
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	var rootCause error
	for _, id := range ids {
		if res, ok := failures[id]; ok {
			failed = append(failed, id)
			if rootCause == nil {
				rootCause = res.Err
			}
		}
	}
	if rootCause != nil {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	return nil
}

func (s *scopeRun) setStatus(id string, st core.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = st
}

// upstream reports terminated once any direct predecessor did not succeed.
func (s *scopeRun) upstream(preds []string) func() core.UpstreamState {
	return func() core.UpstreamState {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, p := range preds {
			if s.status[p] != core.StatusSucceeded {
				return core.UpstreamTerminated
			}
		}
		return core.UpstreamOK
	}
}

// dependencies keeps the declared data dependencies that can ever fire before
// id: same scope, not id itself, not downstream of id.
func (s *scopeRun) dependencies(id string, n core.Node) []string {
	deps := []string{}
	dd, ok := n.(core.DependencyDeclarer)
	if !ok {
		return deps
	}
	compiled := s.x.engine.compiled
	for _, dep := range dd.DataDependencies() {
		if dep == id || !s.inScope[dep] || compiled.Precedes(id, dep) {
			continue
		}
		deps = append(deps, dep)
	}
	return deps
}

// runNode waits for the direct predecessors, invokes the node and publishes
// its outcome. The completion signal fires exactly once, whatever happened.
func (s *scopeRun) runNode(ctx context.Context, id string) (res *core.NodeRunResult) {
	x := s.x
	n := x.engine.nodes[id]
	log := zerolog.Ctx(ctx).With().Str("node_id", id).Logger()

	defer func() {
		s.setStatus(id, res.Status)
		if s.iter == nil {
			x.record(res)
		}
		s.signals.Fire(id)
	}()

	var preds []string
	for _, p := range x.engine.compiled.Predecessors(id) {
		if s.inScope[p] {
			preds = append(preds, p)
		}
	}
	if err := s.signals.Wait(ctx, preds...); err != nil {
		return core.Failed(n, core.CategoryNone, fmt.Errorf("waiting for predecessors of %s: %w", id, err))
	}

	args := &core.RunArgs{
		Execution:    x.scope,
		Inputs:       x.inputs,
		Signals:      s.signals,
		Dependencies: s.dependencies(id, n),
		Callbacks:    x.callbacks,
		Upstream:     s.upstream(preds),
		Iteration:    s.iter,
		SubRunner:    x,
		Audit:        x.audit,
	}

	reporter, selfReporting := n.(core.LifecycleReporter)
	selfReporting = selfReporting && reporter.ReportsLifecycle()
	if args.UpstreamTerminated() {
		log.Debug().Msg("node cancelled by upstream")
		return core.Cancelled(n)
	}

	// self-reporting nodes wait for their data dependencies after announcing
	// themselves; everything else waits here
	if !selfReporting {
		if err := args.WaitDependencies(ctx, args.Dependencies); err != nil {
			return core.Failed(n, core.CategoryNone, fmt.Errorf("waiting for data dependencies of %s: %w", id, err))
		}
		args.Notify().OnNodeStart(id, n.Kind())
	}
	retry := !selfReporting && !selfBounded[n.Kind()]
	res = x.engine.invoke(ctx, n, s.pool, args, retry)
	if res.Succeeded() {
		s.pool.SetOutputs(id, res.Outputs)
	}
	if !selfReporting {
		args.Notify().OnNodeEnd(res)
	}

	if res.Status == core.StatusFailed {
		log.Error().Err(res.Err).Str("category", string(res.Category)).Msg("node failed")
	} else {
		log.Debug().Str("status", string(res.Status)).Dur("elapsed", res.Elapsed).Msg("node finished")
	}
	return res
}

// selfBounded kinds wait on other nodes or on a resume and are bounded by those
// waits rather than the per-call timeout. They are never retried: a second
// attempt would interrupt or emit again.
var selfBounded = map[pkg.NodeKind]bool{
	pkg.KindHuman:     true,
	pkg.KindIteration: true,
	pkg.KindAnswer:    true,
}

// invoke runs the node under the per-call timeout. With MaxRetries set and retry
// allowed, failures of a retryable category not marked permanent are retried
// with exponential backoff.
func (e *Engine) invoke(ctx context.Context, n core.Node, pool *core.VariablePool, args *core.RunArgs, retry bool) *core.NodeRunResult {
	attempt := func() *core.NodeRunResult {
		callCtx := ctx
		if e.cfg.NodeTimeout > 0 && !selfBounded[n.Kind()] {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.NodeTimeout)
			defer cancel()
		}
		return core.Invoke(callCtx, n, pool, args)
	}

	if e.cfg.MaxRetries <= 0 || !retry {
		return attempt()
	}

	var res *core.NodeRunResult
	op := func() error {
		res = attempt()
		if res.Status != core.StatusFailed {
			return nil
		}
		if !res.Category.Retryable() || core.IsPermanent(res.Err) {
			return backoff.Permanent(res.Err)
		}
		if res.Err == nil {
			return errors.New(string(res.Category))
		}
		return res.Err
	}

	policy := backoff.NewExponentialBackOff()
	if e.cfg.RetryBackoff > 0 {
		policy.InitialInterval = e.cfg.RetryBackoff
	}
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.MaxRetries)), ctx)

	_ = backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("node_id", n.ID()).Dur("backoff", wait).Msg("retrying node")
	})
	return res
}
