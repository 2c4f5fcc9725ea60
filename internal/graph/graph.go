// Package graph provides cycle detection and topological ordering over
// string-keyed dependency graphs. Both the workflow orchestrator (data
// dependencies) and the handoff chain tracker (behavioral cycles) build on it.
package graph

import (
	"fmt"
	"sort"
)

// CycleError reports a dependency cycle, naming one node on the cycle.
type CycleError struct {
	Node string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in graph involving node: %s", e.Node)
}

// HasCycle reports whether edges contain a cycle. edges[node] lists the
// nodes that node points at.
func HasCycle(nodes []string, edges map[string][]string) error {
	visited := make(map[string]bool, len(nodes))
	inStack := make(map[string]bool, len(nodes))

	var visit func(n string) error
	visit = func(n string) error {
		visited[n] = true
		inStack[n] = true
		for _, next := range edges[n] {
			if inStack[next] {
				return &CycleError{Node: next}
			}
			if !visited[next] {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		inStack[n] = false
		return nil
	}

	for _, n := range nodes {
		if !visited[n] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoSort returns the nodes in topological order: every node appears after
// all nodes it depends on. deps[node] lists the nodes that node depends on.
// Ties are broken by the order nodes appear in the input slice, so the
// ordering is deterministic. Returns a CycleError if the graph is cyclic.
func TopoSort(nodes []string, deps map[string][]string) ([]string, error) {
	position := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n] = i
	}

	// Invert deps into forward edges for cycle detection, ignoring
	// references to nodes outside the node list (the caller validates those).
	edges := make(map[string][]string, len(deps))
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		for _, d := range deps[n] {
			if _, known := position[d]; !known {
				continue
			}
			edges[d] = append(edges[d], n)
			indegree[n]++
		}
	}
	if err := HasCycle(nodes, edges); err != nil {
		return nil, err
	}

	ready := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return position[ready[i]] < position[ready[j]]
		})
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, next := range edges[n] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(nodes) {
		// Unreachable after HasCycle, kept as a guard for malformed input
		// where deps reference nodes missing from the node list.
		for _, n := range nodes {
			if indegree[n] > 0 {
				return nil, &CycleError{Node: n}
			}
		}
	}
	return order, nil
}
