// Package nodes implements the executable node kinds of a workflow graph. Each
// kind is built once from its node table entry, dispatched by the structural
// prefix of the node id.
package nodes

import (
	"errors"
	"fmt"
	"time"

	"eino_flow/internal/core"
	"eino_flow/internal/event"
	"eino_flow/pkg"
	"eino_flow/src/conversation"
	"eino_flow/src/storage"

	"github.com/cloudwego/eino/components/model"
)

var (
	ErrUnknownKind  = errors.New("unknown node kind")
	ErrKindMismatch = errors.New("node type does not match id prefix")
)

// Deps are the collaborators node kinds may need. A nil collaborator is only an
// error when a node of the kind that needs it is built.
type Deps struct {
	Registry     *event.Registry
	Globals      *storage.RedisStorage
	GlobalTTL    time.Duration
	Executor     CodeExecutor
	CodeTimeout  time.Duration
	ChatModel    model.BaseChatModel
	Conversation *conversation.Service
}

type builder func(n pkg.Node, deps Deps) (core.Node, error)

// Factory builds core.Node values from node table entries.
type Factory struct {
	deps     Deps
	builders map[pkg.NodeKind]builder
}

// NewFactory registers every known node kind.
func NewFactory(deps Deps) *Factory {
	return &Factory{
		deps: deps,
		builders: map[pkg.NodeKind]builder{
			pkg.KindStart:          newStartNode,
			pkg.KindEnd:            newEndNode,
			pkg.KindIterationStart: newIterationStartNode,
			pkg.KindIteration:      newIterationNode,
			pkg.KindAnswer:         newAnswerNode,
			pkg.KindTemplate:       newTemplateNode,
			pkg.KindGlobalVar:      newGlobalVarNode,
			pkg.KindCode:           newCodeNode,
			pkg.KindLLM:            newLLMNode,
			pkg.KindHuman:          newHumanNode,
		},
	}
}

// Build resolves the kind from the id prefix and constructs the node. A
// non-empty Type must agree with the prefix.
func (f *Factory) Build(n pkg.Node) (core.Node, error) {
	kind, ok := n.Kind()
	if !ok {
		return nil, fmt.Errorf("node %s: %w", n.ID, ErrUnknownKind)
	}
	if n.Type != "" && n.Type != string(kind) {
		return nil, fmt.Errorf("node %s has type %q, prefix says %q: %w", n.ID, n.Type, kind, ErrKindMismatch)
	}
	build, ok := f.builders[kind]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", n.ID, ErrUnknownKind)
	}

	node, err := build(n, f.deps)
	if err != nil {
		return nil, fmt.Errorf("build %s node %s: %w", kind, n.ID, err)
	}
	return node, nil
}

// resolveVariables reads every selector from the pool. Missing values are an
// input error unless optional.
func resolveVariables(pool *core.VariablePool, vars []pkg.VariableSelector, optional bool) (map[string]any, error) {
	inputs := make(map[string]any, len(vars))
	for _, v := range vars {
		value, err := pool.Lookup(v.Selector)
		if err != nil {
			if optional {
				continue
			}
			return nil, core.WithCategory(core.CategoryInput,
				fmt.Errorf("variable %s (%v): %w", v.Name, v.Selector, err))
		}
		inputs[v.Name] = value
	}
	return inputs, nil
}
