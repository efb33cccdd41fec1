// Package dag tracks references between derived variables. It detects
// reference cycles and orders variables so that the variables a script
// refers to come before it.
package dag

import (
	"fmt"
	"slices"
	"sort"
)

// Node is one variable of the graph.
type Node struct {
	// ID is the qualified reference of the variable
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph is a directed graph of variables. An edge from a to b means the
// script of a refers to b.
type Graph struct {
	nodes map[string]*Node
	refs  map[string][]string // variable -> variables it refers to
	users map[string][]string // variable -> variables referring to it
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		refs:  make(map[string][]string),
		users: make(map[string][]string),
	}
}

// AddNode adds a node to the graph, replacing the data of an existing one.
func (g *Graph) AddNode(id string, data any) {
	if node, exists := g.nodes[id]; exists {
		node.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
}

// AddReference records that the script of from refers to to. Both nodes
// must exist. A variable referring to itself is a cycle, not an error.
func (g *Graph) AddReference(from, to string) error {
	if _, exists := g.nodes[from]; !exists {
		return fmt.Errorf("node %q does not exist", from)
	}
	if _, exists := g.nodes[to]; !exists {
		return fmt.Errorf("node %q does not exist", to)
	}
	if !slices.Contains(g.refs[from], to) {
		g.refs[from] = append(g.refs[from], to)
		g.users[to] = append(g.users[to], from)
	}
	return nil
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// References returns the variables id refers to directly.
func (g *Graph) References(id string) []string {
	return g.refs[id]
}

// Users returns the variables referring to id directly.
func (g *Graph) Users(id string) []string {
	return g.users[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cycle returns a reference cycle as a path starting and ending with the
// same variable, or nil when there is none. The search is deterministic.
func (g *Graph) Cycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var dfs func(id string) []string
	dfs = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, ref := range g.refs[id] {
			switch state[ref] {
			case unvisited:
				if cycle := dfs(ref); cycle != nil {
					return cycle
				}
			case visiting:
				start := slices.Index(stack, ref)
				return append(slices.Clone(stack[start:]), ref)
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.sortedIDs() {
		if state[id] == unvisited {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Order returns the nodes with every variable after the variables it refers
// to. Returns an error if the graph contains a cycle.
func (g *Graph) Order() ([]*Node, error) {
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("cycle detected: %v", cycle)
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, ref := range g.refs[id] {
			visit(ref)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.sortedIDs() {
		visit(id)
	}
	return result, nil
}

// Upstream returns every variable id depends on, directly or through other
// variables, sorted.
func (g *Graph) Upstream(id string) []string {
	return g.reach(id, g.refs)
}

// Downstream returns every variable depending on id, sorted.
func (g *Graph) Downstream(id string) []string {
	return g.reach(id, g.users)
}

func (g *Graph) reach(id string, edges map[string][]string) []string {
	seen := make(map[string]bool)
	var walk func(nodeID string)
	walk = func(nodeID string) {
		for _, next := range edges[nodeID] {
			if !seen[next] {
				seen[next] = true
				walk(next)
			}
		}
	}
	walk(id)

	result := make([]string, 0, len(seen))
	for nodeID := range seen {
		result = append(result, nodeID)
	}
	sort.Strings(result)
	return result
}
