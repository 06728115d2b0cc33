package pkg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DecodeGraph parses a workflow graph from YAML. JSON input is accepted as well
// since it is a subset of YAML.
func DecodeGraph(data []byte) (*WorkflowGraph, error) {
	var graph WorkflowGraph
	if err := yaml.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("error parsing graph: %w", err)
	}
	if len(graph.Nodes) == 0 {
		return nil, fmt.Errorf("graph %q has no nodes", graph.ID)
	}
	return &graph, nil
}

// LoadGraph loads a workflow graph from a YAML or JSON file
func LoadGraph(filepath string) (*WorkflowGraph, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("error reading graph file: %w", err)
	}
	return DecodeGraph(data)
}
