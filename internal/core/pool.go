package core

import (
	"errors"
	"strconv"
	"sync"
)

var (
	ErrVarNodeNotFound = errors.New("node not found in variable pool")
	ErrVarKeyNotFound  = errors.New("key not found")
)

// VariablePool is the shared variable store of one execution: node id -> name -> value.
// A forked pool reads through to its parent and writes locally, which gives every
// iteration item an isolated scope.
type VariablePool struct {
	mu     sync.RWMutex
	vars   map[string]map[string]any
	parent *VariablePool
}

// NewVariablePool creates an empty pool.
func NewVariablePool() *VariablePool {
	return &VariablePool{vars: make(map[string]map[string]any)}
}

// Fork returns a child pool layered over p.
func (p *VariablePool) Fork() *VariablePool {
	child := NewVariablePool()
	child.parent = p
	return child
}

// Set writes one variable under nodeID.
func (p *VariablePool) Set(nodeID, name string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ns, ok := p.vars[nodeID]
	if !ok {
		ns = make(map[string]any)
		p.vars[nodeID] = ns
	}
	ns[name] = DeepCopyValue(v)
}

// SetOutputs writes every output of a node.
func (p *VariablePool) SetOutputs(nodeID string, outputs map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ns, ok := p.vars[nodeID]
	if !ok {
		ns = make(map[string]any, len(outputs))
		p.vars[nodeID] = ns
	}
	for k, v := range outputs {
		ns[k] = DeepCopyValue(v)
	}
}

// Get resolves a selector ["node", "var", "nested", ...]. Nested segments walk
// maps by key and slices by index.
func (p *VariablePool) Get(selector []string) (any, bool) {
	v, err := p.Lookup(selector)
	return v, err == nil
}

// Lookup is Get with the reason for a miss.
func (p *VariablePool) Lookup(selector []string) (any, error) {
	if len(selector) < 2 {
		return nil, ErrVarKeyNotFound
	}

	p.mu.RLock()
	ns, nsOK := p.vars[selector[0]]
	var v any
	var ok bool
	if nsOK {
		v, ok = ns[selector[1]]
		v = DeepCopyValue(v)
	}
	p.mu.RUnlock()

	if !ok {
		if p.parent != nil {
			return p.parent.Lookup(selector)
		}
		if !nsOK {
			return nil, ErrVarNodeNotFound
		}
		return nil, ErrVarKeyNotFound
	}

	for _, seg := range selector[2:] {
		switch cur := v.(type) {
		case map[string]any:
			next, found := cur[seg]
			if !found {
				return nil, ErrVarKeyNotFound
			}
			v = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur) {
				return nil, ErrVarKeyNotFound
			}
			v = cur[i]
		default:
			return nil, ErrVarKeyNotFound
		}
	}
	return v, nil
}

// Namespace returns a copy of every variable written under nodeID in this pool.
func (p *VariablePool) Namespace(nodeID string) map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ns, ok := p.vars[nodeID]
	if !ok {
		return nil
	}
	return deepCopyMap(ns)
}

// DeepCopyValue copies maps and slices so readers never share mutable state with writers.
func DeepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return val
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopyValue(v)
	}
	return out
}
