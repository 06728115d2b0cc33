package pkg

import (
	"sort"
	"strings"
)

// Workflow Graph Types

// NodeKind is the role of a node, encoded by the structural prefix of its id.
type NodeKind string

const (
	KindStart          NodeKind = "start"
	KindEnd            NodeKind = "end"
	KindIteration      NodeKind = "iteration"
	KindIterationStart NodeKind = "iteration-start"
	KindAnswer         NodeKind = "answer"
	KindCode           NodeKind = "code"
	KindGlobalVar      NodeKind = "global-var"
	KindLLM            NodeKind = "llm"
	KindTemplate       NodeKind = "template"
	KindHuman          NodeKind = "human"
)

// SystemNamespace holds run-level variables (query, user id, ...) in the variable pool.
const SystemNamespace = "sys"

// knownKinds is ordered longest prefix first so "iteration-start-1" never matches "iteration".
var knownKinds = func() []NodeKind {
	kinds := []NodeKind{
		KindStart, KindEnd, KindIteration, KindIterationStart, KindAnswer,
		KindCode, KindGlobalVar, KindLLM, KindTemplate, KindHuman,
	}
	sort.SliceStable(kinds, func(i, j int) bool { return len(kinds[i]) > len(kinds[j]) })
	return kinds
}()

// KindOf resolves the node kind from the structural prefix of a node id.
// A prefix matches the whole id or is followed by '-' or '_'.
func KindOf(id string) (NodeKind, bool) {
	for _, kind := range knownKinds {
		prefix := string(kind)
		if id == prefix || strings.HasPrefix(id, prefix+"-") || strings.HasPrefix(id, prefix+"_") {
			return kind, true
		}
	}
	return "", false
}

// Node is one entry of the node table
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type,omitempty" yaml:"type,omitempty"`
	Title  string         `json:"title,omitempty" yaml:"title,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Kind returns the kind encoded in the node id.
func (n Node) Kind() (NodeKind, bool) {
	return KindOf(n.ID)
}

// DisplayName returns the title, or the id when no title was authored.
func (n Node) DisplayName() string {
	if n.Title != "" {
		return n.Title
	}
	return n.ID
}

// Edge connects sourceNodeId -> targetNodeId
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// WorkflowGraph is the declarative node/edge description of one workflow version.
// It is read-only once loaded.
type WorkflowGraph struct {
	ID    string `json:"id" yaml:"id"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// NodeTable indexes the node list by id.
func (g *WorkflowGraph) NodeTable() map[string]*Node {
	table := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		table[g.Nodes[i].ID] = &g.Nodes[i]
	}
	return table
}

// NodesOfKind returns ids of every node of the given kind, in node table order.
func (g *WorkflowGraph) NodesOfKind(kind NodeKind) []string {
	var ids []string
	for _, n := range g.Nodes {
		if k, ok := KindOf(n.ID); ok && k == kind {
			ids = append(ids, n.ID)
		}
	}
	return ids
}
