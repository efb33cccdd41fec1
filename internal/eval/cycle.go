package eval

import (
	"context"
	"strings"
)

// CircularReferenceError is returned when a derived variable depends on
// itself, directly or through other derived variables.
type CircularReferenceError struct {
	Path []string
}

func (e *CircularReferenceError) Error() string {
	return "circular reference: " + strings.Join(e.Path, " -> ")
}

type activeKey struct{}

// active is the chain of sources under evaluation, innermost first.
type active struct {
	source any
	name   string
	parent *active
}

// Enter marks source as under evaluation in the returned context. It fails
// when source is already under evaluation in ctx. source must be comparable.
func Enter(ctx context.Context, source any, name string) (context.Context, error) {
	parent, _ := ctx.Value(activeKey{}).(*active)
	if err := checkCycle(parent, source, name); err != nil {
		return nil, err
	}
	return context.WithValue(ctx, activeKey{}, &active{source: source, name: name, parent: parent}), nil
}

func checkCycle(chain *active, source any, name string) error {
	for a := chain; a != nil; a = a.parent {
		if a.source != source {
			continue
		}
		path := []string{name}
		for b := chain; b != nil; b = b.parent {
			path = append([]string{b.name}, path...)
			if b == a {
				break
			}
		}
		return &CircularReferenceError{Path: path}
	}
	return nil
}

// activeCycle reports a cycle when source is under evaluation in ctx.
func activeCycle(ctx context.Context, source any) error {
	chain, _ := ctx.Value(activeKey{}).(*active)
	for a := chain; a != nil; a = a.parent {
		if a.source == source {
			return checkCycle(chain, source, a.name)
		}
	}
	return nil
}
