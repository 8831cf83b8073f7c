// SPDX-License-Identifier: MPL-2.0

// Package dag provides directed acyclic graph operations for topological
// sorting and cycle detection. The resolver uses it to order packages so that
// every package is installed strictly after all of its dependencies.
package dag

import (
	"fmt"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing
	// topological ordering. No partial order is ever produced.
	CycleError struct {
		// Cycle contains the nodes involved in cyclic dependencies (enough
		// to identify the problem, not necessarily a minimal cycle).
		Cycle []string
	}

	// Graph is a directed graph for topological sorting. Nodes are logical
	// package names. An edge from A to B means A must be installed before B.
	Graph struct {
		// adjacency maps each node to the nodes that depend on it.
		adjacency map[string][]string
		// nodes tracks all nodes in insertion order. Insertion order doubles
		// as the tie-breaking priority of the sort, which is what makes the
		// produced plan reproducible across runs with identical input.
		nodes []string
		// index is each node's insertion position for O(1) priority lookup.
		index map[string]int
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		index:     make(map[string]int),
	}
}

// AddNode adds a node to the graph. Re-adding an existing node is a no-op and
// keeps its original priority.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge adds a directed edge from -> to, meaning "from" must be installed
// before "to". Both nodes are implicitly added if they don't exist.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Has reports whether the node is part of the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// TopologicalSort returns a valid installation order using Kahn's algorithm.
// Returns CycleError if the graph contains a cycle. When several nodes are
// ready at the same time, the one added to the graph first wins, so the order
// is fully deterministic.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = 0
	}
	for _, neighbors := range g.adjacency {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	ready := make(map[string]bool)
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			ready[node] = true
		}
	}

	var result []string
	for len(ready) > 0 {
		node := g.lowestPriority(ready)
		delete(ready, node)
		result = append(result, node)

		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				ready[neighbor] = true
			}
		}
	}

	if len(result) != len(g.nodes) {
		// Remaining nodes with non-zero in-degree form the cycle.
		var cycleNodes []string
		for _, node := range g.nodes {
			if inDegree[node] > 0 {
				cycleNodes = append(cycleNodes, node)
			}
		}
		return nil, &CycleError{Cycle: cycleNodes}
	}

	return result, nil
}

// lowestPriority picks the ready node with the smallest insertion index.
func (g *Graph) lowestPriority(ready map[string]bool) string {
	best := ""
	bestIdx := len(g.nodes)
	for node := range ready {
		if idx := g.index[node]; idx < bestIdx {
			best, bestIdx = node, idx
		}
	}
	return best
}
