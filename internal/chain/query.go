package chain

import "eino_flow/pkg"

// Node returns the node table entry for id.
func (c *Compiled) Node(id string) (*pkg.Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Successors returns the ordered, de-duplicated targets of id.
func (c *Compiled) Successors(id string) []string {
	return c.adjacency[id]
}

// ScopeOf returns the ChainSet that executes id and the owning iteration id
// ("" for the master scope). ok is false for nodes unreachable from any root.
func (c *Compiled) ScopeOf(id string) (*ChainSet, string, bool) {
	iterID, ok := c.scope[id]
	if !ok {
		return nil, "", false
	}
	if iterID == "" {
		return c.Master, "", true
	}
	return c.Iterations[iterID], iterID, true
}

// Scope returns the ChainSet for an iteration id, or the master set for "".
func (c *Compiled) Scope(iterationID string) (*ChainSet, bool) {
	if iterationID == "" {
		return c.Master, true
	}
	set, ok := c.Iterations[iterationID]
	return set, ok
}

// Predecessors returns the direct predecessors of id that share its scope.
func (c *Compiled) Predecessors(id string) []string {
	own, ok := c.scope[id]
	if !ok {
		return nil
	}
	var preds []string
	for _, src := range c.reverse[id] {
		if s, ok := c.scope[src]; ok && s == own {
			preds = append(preds, src)
		}
	}
	return preds
}

// Upstream returns every node preceding id on some path through it, in
// first-seen order.
func (c *Compiled) Upstream(id string) []string {
	set, _, ok := c.ScopeOf(id)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, p := range set.PathsThrough(id) {
		for _, before := range p.Before(id) {
			if !seen[before] {
				seen[before] = true
				ids = append(ids, before)
			}
		}
	}
	return ids
}

// Precedes reports whether a is upstream of b on some path.
func (c *Compiled) Precedes(a, b string) bool {
	set, _, ok := c.ScopeOf(b)
	if !ok {
		return false
	}
	for _, p := range set.PathsThrough(b) {
		pa, ok := p.Index[a]
		if ok && pa < p.Index[b] {
			return true
		}
	}
	return false
}
