package engine

import (
	"github.com/leapstack-labs/harmonize/internal/dag"
	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/internal/starlark"
	"github.com/leapstack-labs/harmonize/internal/view"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/reference"
)

// variableID is the graph node of a derived variable.
func variableID(table core.ValueTable, name string) string {
	var ds string
	if table.Datasource() != nil {
		ds = table.Datasource().Name()
	}
	return reference.For(ds, table.Name(), name).String()
}

// buildGraph links the derived variables of every view to the derived
// variables their scripts refer to, across views and datasources, and
// reports a reference cycle as a *eval.CircularReferenceError. References
// that do not resolve are left to fail at evaluation.
func (e *Engine) buildGraph() (*dag.Graph, error) {
	g := dag.NewGraph()
	var views []*view.View
	for _, ds := range e.registry.Datasources() {
		overlay, ok := ds.(*view.Datasource)
		if !ok {
			continue
		}
		for _, v := range overlay.Views() {
			views = append(views, v)
			for _, d := range v.Derived() {
				g.AddNode(variableID(v, d.Name), d)
			}
		}
	}

	resolver := e.library.Resolver()
	for _, v := range views {
		for _, d := range v.Derived() {
			src, err := v.Source(d.Name)
			if err != nil {
				return nil, err
			}
			from := variableID(v, d.Name)
			for _, raw := range src.(*starlark.VariableSource).Script().References() {
				resolved, err := resolver.Resolve(raw, v)
				if err != nil {
					e.logger.Debug("unresolved reference", "variable", from, "reference", raw, "error", err)
					continue
				}
				target, derived := resolved.Source.(*starlark.VariableSource)
				if !derived {
					continue
				}
				if err := g.AddReference(from, variableID(target.Table(), target.Variable().Name)); err != nil {
					return nil, err
				}
			}
		}
	}

	if cycle := g.Cycle(); cycle != nil {
		return nil, &eval.CircularReferenceError{Path: cycle}
	}
	return g, nil
}

// Dependencies returns the derived variables a variable of a table depends
// on, directly or through other derived variables, as qualified references.
func (e *Engine) Dependencies(table core.ValueTable, name string) []string {
	e.graphMu.RLock()
	defer e.graphMu.RUnlock()
	return e.graph.Upstream(variableID(table, name))
}

// DerivedOrder returns every derived variable as a qualified reference,
// each after the derived variables it refers to.
func (e *Engine) DerivedOrder() []string {
	e.graphMu.RLock()
	nodes, err := e.graph.Order()
	e.graphMu.RUnlock()
	if err != nil {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
