package nodes

import (
	"testing"
	"time"

	"eino_flow/internal/core"
	"eino_flow/pkg"
	"eino_flow/src/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGlobalsDeps(t *testing.T) (Deps, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Deps{Globals: storage.NewRedisStorage(client, "eino_flow"), GlobalTTL: time.Hour}, mr
}

func globalVarNodeDef(id, mode string, scoped bool) pkg.Node {
	return pkg.Node{ID: id, Params: map[string]any{
		"mode":                mode,
		"conversation_scoped": scoped,
		"variables": []any{
			map[string]any{"name": "city", "selector": "start.city"},
			map[string]any{"name": "tags", "selector": "start.tags"},
		},
	}}
}

func TestGlobalVar_SetThenGet(t *testing.T) {
	deps, mr := newGlobalsDeps(t)
	scope := core.ExecutionScope{WorkflowID: "wf", UserID: "u1", AppID: "app", ConversationID: "c1"}

	pool := core.NewVariablePool()
	pool.Set("start", "city", "Bangkok")
	pool.Set("start", "tags", []any{"a", "b"})

	set := build(t, deps, globalVarNodeDef("global-var-1", "set", true))
	res := run(t, set, pool, &core.RunArgs{Execution: scope})
	require.True(t, res.Succeeded(), "%v", res.Err)

	key := "eino_flow:global_var:wf:u1:app:c1"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	// a later turn with a fresh pool reads the stored values back
	get := build(t, deps, globalVarNodeDef("global-var-2", "get", true))
	res = run(t, get, core.NewVariablePool(), &core.RunArgs{Execution: scope})
	require.True(t, res.Succeeded(), "%v", res.Err)
	assert.Equal(t, "Bangkok", res.Outputs["city"])
	assert.Equal(t, []any{"a", "b"}, res.Outputs["tags"])
}

func TestGlobalVar_Clear(t *testing.T) {
	deps, mr := newGlobalsDeps(t)
	scope := core.ExecutionScope{WorkflowID: "wf", UserID: "u1", AppID: "app"}

	pool := core.NewVariablePool()
	pool.Set("start", "city", "Oslo")
	pool.Set("start", "tags", []any{"x"})
	res := run(t, build(t, deps, globalVarNodeDef("global-var-1", "set", false)), pool, &core.RunArgs{Execution: scope})
	require.True(t, res.Succeeded(), "%v", res.Err)
	require.True(t, mr.Exists("eino_flow:global_var:wf:u1:app"))

	res = run(t, build(t, deps, globalVarNodeDef("global-var-2", "clear", false)), core.NewVariablePool(), &core.RunArgs{Execution: scope})
	require.True(t, res.Succeeded(), "%v", res.Err)
	assert.False(t, mr.Exists("eino_flow:global_var:wf:u1:app"))

	res = run(t, build(t, deps, globalVarNodeDef("global-var-3", "get", false)), core.NewVariablePool(), &core.RunArgs{Execution: scope})
	require.True(t, res.Succeeded())
	assert.Empty(t, res.Outputs)
}

func TestGlobalVar_GetFallsBackToLocal(t *testing.T) {
	deps, _ := newGlobalsDeps(t)
	scope := core.ExecutionScope{WorkflowID: "wf", UserID: "u1", AppID: "app"}

	pool := core.NewVariablePool()
	pool.Set("start", "city", "local city")

	get := build(t, deps, globalVarNodeDef("global-var-1", "get", false))
	res := run(t, get, pool, &core.RunArgs{Execution: scope})
	require.True(t, res.Succeeded())
	assert.Equal(t, "local city", res.Outputs["city"])
	assert.NotContains(t, res.Outputs, "tags")
}

func TestGlobalVar_ScopeWithoutConversation(t *testing.T) {
	deps, mr := newGlobalsDeps(t)
	pool := core.NewVariablePool()
	pool.Set("start", "city", "Paris")
	pool.Set("start", "tags", []any{})

	set := build(t, deps, globalVarNodeDef("global-var-1", "set", false))
	res := run(t, set, pool, &core.RunArgs{Execution: core.ExecutionScope{
		WorkflowID: "wf", UserID: "u1", AppID: "app", ConversationID: "ignored",
	}})
	require.True(t, res.Succeeded())
	assert.True(t, mr.Exists("eino_flow:global_var:wf:u1:app"))
}

func TestGlobalVar_Failures(t *testing.T) {
	deps, _ := newGlobalsDeps(t)
	set := build(t, deps, globalVarNodeDef("global-var-1", "set", false))

	res := run(t, set, core.NewVariablePool(), &core.RunArgs{Execution: core.ExecutionScope{WorkflowID: "wf"}})
	assert.Equal(t, core.CategoryInput, res.Category)

	res = run(t, set, core.NewVariablePool(), &core.RunArgs{Execution: core.ExecutionScope{
		WorkflowID: "wf", UserID: "u1", AppID: "app",
	}})
	assert.Equal(t, core.CategoryInput, res.Category)

	assert.Equal(t, core.CategoryNotImplemented, set.RunSync(t.Context(), core.NewVariablePool(), &core.RunArgs{}).Category)

	_, err := NewFactory(deps).Build(pkg.Node{ID: "global-var-9", Params: map[string]any{"mode": "merge"}})
	assert.Error(t, err)
}
