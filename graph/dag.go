// Package graph provides small dependency-graph utilities used to sanity
// check component initialization order. The code-intelligence server's
// composition order (§2: C2 → C3 → C4 → C5, C6, C7 → C9 → C10, C12) is fixed
// by hand in cmd/server; this package gives that fixed order a
// place to be verified against the declared dependency edges instead of
// trusted blindly.
package graph

import "fmt"

// Node is one entry in a dependency graph: a name and the names of the
// nodes it depends on (which must already be initialized before it).
type Node struct {
	Name      string
	DependsOn []string
}

// TopologicalOrder returns nodes ordered so that every dependency precedes
// its dependents, using Kahn's algorithm. Nodes with no dependencies come
// first in input order; each other node is queued behind them as soon as
// its last dependency is emitted, so the result can differ from the input
// order even when the input order is itself valid (A, B→A, C yields A, C, B).
func TopologicalOrder(nodes []Node) ([]string, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.Name] = i
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if _, ok := inDegree[n.Name]; !ok {
			inDegree[n.Name] = 0
		}
		for _, dep := range n.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("graph: %q depends on unknown node %q", n.Name, dep)
			}
			inDegree[n.Name]++
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n.Name] == 0 {
			ready = append(ready, n.Name)
		}
	}

	var order []string
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, dep := range dependents[cur] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("graph: cycle detected among component dependencies")
	}
	return order, nil
}

// ValidateOrder reports an error if declaredOrder does not respect every
// dependency edge in nodes — i.e. if some node appears before a node it
// depends on. Used by Registry.Finalize to catch a hand-maintained
// init sequence that has drifted from the declared dependency edges.
func ValidateOrder(nodes []Node, declaredOrder []string) error {
	position := make(map[string]int, len(declaredOrder))
	for i, name := range declaredOrder {
		position[name] = i
	}
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}
	for _, name := range declaredOrder {
		n, ok := byName[name]
		if !ok {
			return fmt.Errorf("graph: declared order references unknown component %q", name)
		}
		for _, dep := range n.DependsOn {
			depPos, ok := position[dep]
			if !ok {
				return fmt.Errorf("graph: component %q depends on %q which is not in the declared order", name, dep)
			}
			if depPos >= position[name] {
				return fmt.Errorf("graph: component %q is initialized before its dependency %q", name, dep)
			}
		}
	}
	return nil
}
