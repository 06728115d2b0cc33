// Package chain compiles a workflow graph into branch-free execution paths.
//
// The master ChainSet enumerates every path from the graph's start node to a
// leaf. Each iteration node additionally owns a private ChainSet rooted at its
// internal start node, with an index space isolated from the master paths.
// Enumeration is exponential in sequential branch points, so it is bounded by
// an explicit path-count guard.
package chain

import (
	"fmt"

	"eino_flow/pkg"
)

// DefaultMaxPaths bounds path enumeration per scope.
const DefaultMaxPaths = 1024

// IterationStartParam names the iteration node parameter holding its internal start id.
const IterationStartParam = "start_node_id"

type options struct {
	maxPaths int
}

// Option configures Compile.
type Option func(*options)

// WithMaxPaths overrides the per-scope path-count guard.
func WithMaxPaths(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPaths = n
		}
	}
}

// Compiled is the read-only result of compiling one WorkflowGraph.
type Compiled struct {
	Graph      *pkg.WorkflowGraph
	StartID    string
	EndID      string
	Master     *ChainSet
	Iterations map[string]*ChainSet

	nodes     map[string]*pkg.Node
	adjacency map[string][]string
	reverse   map[string][]string
	scope     map[string]string
}

// Compile derives the master and iteration ChainSets of g.
func Compile(g *pkg.WorkflowGraph, opts ...Option) (*Compiled, error) {
	o := options{maxPaths: DefaultMaxPaths}
	for _, opt := range opts {
		opt(&o)
	}

	nodes := make(map[string]*pkg.Node, len(g.Nodes))
	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if _, dup := nodes[id]; dup {
			return nil, buildErr(id, ErrDuplicateNode)
		}
		nodes[id] = &g.Nodes[i]
	}

	adjacency, reverse, err := buildAdjacency(g.Edges, nodes)
	if err != nil {
		return nil, err
	}

	startID, endID, err := findTerminals(g)
	if err != nil {
		return nil, err
	}

	c := &Compiled{
		Graph:      g,
		StartID:    startID,
		EndID:      endID,
		Iterations: make(map[string]*ChainSet),
		nodes:      nodes,
		adjacency:  adjacency,
		reverse:    reverse,
		scope:      make(map[string]string),
	}

	master, err := enumerate(startID, endID, adjacency, o.maxPaths)
	if err != nil {
		return nil, err
	}
	c.Master = master
	for _, id := range master.Nodes() {
		c.scope[id] = ""
	}

	for _, iterID := range g.NodesOfKind(pkg.KindIteration) {
		innerStart := nodes[iterID].String(IterationStartParam)
		if _, ok := nodes[innerStart]; innerStart == "" || !ok {
			return nil, buildErr(iterID, fmt.Errorf("%w: %q", ErrIterationStartMissing, innerStart))
		}
		set, err := enumerate(innerStart, "", adjacency, o.maxPaths)
		if err != nil {
			return nil, err
		}
		c.Iterations[iterID] = set
		for _, id := range set.Nodes() {
			c.scope[id] = iterID
		}
	}

	return c, nil
}

// buildAdjacency maps source -> ordered, de-duplicated targets, plus the reverse map.
func buildAdjacency(edges []pkg.Edge, nodes map[string]*pkg.Node) (map[string][]string, map[string][]string, error) {
	adjacency := make(map[string][]string)
	reverse := make(map[string][]string)
	seen := make(map[pkg.Edge]bool)

	for _, e := range edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, nil, buildErr(e.Source, ErrUnknownEdgeNode)
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, nil, buildErr(e.Target, ErrUnknownEdgeNode)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		reverse[e.Target] = append(reverse[e.Target], e.Source)
	}
	return adjacency, reverse, nil
}

func findTerminals(g *pkg.WorkflowGraph) (string, string, error) {
	starts := g.NodesOfKind(pkg.KindStart)
	switch {
	case len(starts) == 0:
		return "", "", buildErr("", ErrNoStartNode)
	case len(starts) > 1:
		return "", "", buildErr(starts[1], ErrMultipleStartNodes)
	}

	ends := g.NodesOfKind(pkg.KindEnd)
	if len(ends) > 1 {
		return "", "", buildErr(ends[1], ErrMultipleEndNodes)
	}
	endID := ""
	if len(ends) == 1 {
		endID = ends[0]
	}
	return starts[0], endID, nil
}

// enumerate expands every directed path from root to a leaf depth-first.
// A path stops at a node with no outgoing edges or at endID.
func enumerate(root, endID string, adjacency map[string][]string, maxPaths int) (*ChainSet, error) {
	set := &ChainSet{Root: root}
	onPath := make(map[string]bool)

	var walk func(id string, prefix []string) error
	walk = func(id string, prefix []string) error {
		if onPath[id] {
			return buildErr(id, ErrCycle)
		}
		path := append(prefix[:len(prefix):len(prefix)], id)

		next := adjacency[id]
		if id == endID || len(next) == 0 {
			if len(set.Paths) >= maxPaths {
				return buildErr(root, fmt.Errorf("%w: more than %d paths", ErrTooManyPaths, maxPaths))
			}
			set.Paths = append(set.Paths, newSimplePath(path))
			return nil
		}

		onPath[id] = true
		defer delete(onPath, id)
		for _, target := range next {
			if err := walk(target, path); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, nil); err != nil {
		return nil, err
	}
	return set, nil
}
