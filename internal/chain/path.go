package chain

// SimplePath is a branch-free sequence of node ids from a scope's start node to a
// leaf (or the end node), with a dense id -> position index.
type SimplePath struct {
	Nodes []string
	Index map[string]int
}

func newSimplePath(nodes []string) SimplePath {
	p := SimplePath{
		Nodes: make([]string, len(nodes)),
		Index: make(map[string]int, len(nodes)),
	}
	copy(p.Nodes, nodes)
	for i, id := range p.Nodes {
		p.Index[id] = i
	}
	return p
}

// Start returns the first node of the path.
func (p SimplePath) Start() string {
	return p.Nodes[0]
}

// Leaf returns the last node of the path.
func (p SimplePath) Leaf() string {
	return p.Nodes[len(p.Nodes)-1]
}

// Position returns the index of id inside the path.
func (p SimplePath) Position(id string) (int, bool) {
	pos, ok := p.Index[id]
	return pos, ok
}

// Before returns the nodes preceding id on this path, nil if id is not on it.
func (p SimplePath) Before(id string) []string {
	pos, ok := p.Index[id]
	if !ok {
		return nil
	}
	return p.Nodes[:pos]
}

// ChainSet is every SimplePath of one scope: the master graph or the private
// sub-graph of one iteration node.
type ChainSet struct {
	Root  string
	Paths []SimplePath
}

// Nodes returns the union of all path nodes in first-seen order.
func (c *ChainSet) Nodes() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range c.Paths {
		for _, id := range p.Nodes {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Contains reports whether id lies on any path of the set.
func (c *ChainSet) Contains(id string) bool {
	for _, p := range c.Paths {
		if _, ok := p.Index[id]; ok {
			return true
		}
	}
	return false
}

// PathsThrough returns the paths that visit id.
func (c *ChainSet) PathsThrough(id string) []SimplePath {
	var paths []SimplePath
	for _, p := range c.Paths {
		if _, ok := p.Index[id]; ok {
			paths = append(paths, p)
		}
	}
	return paths
}
