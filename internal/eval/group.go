package eval

import (
	"fmt"

	"github.com/leapstack-labs/harmonize/internal/resolver"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// Criteria selects an element of a sequence for Group.
type Criteria interface {
	match(t *value.Type) (func(value.Value) (bool, error), error)
}

// EqualTo matches elements equal to v.
func EqualTo(v value.Value) Criteria { return equalTo{v} }

// Literal matches elements equal to a native scalar converted to the
// grouped variable's type, through its text when the type does not take it
// as is.
func Literal(raw any) Criteria { return literal{raw} }

// MatchFunc matches elements for which fn returns true.
type MatchFunc func(value.Value) (bool, error)

type equalTo struct{ v value.Value }

func (c equalTo) match(*value.Type) (func(value.Value) (bool, error), error) {
	return func(e value.Value) (bool, error) { return e.Equal(c.v), nil }, nil
}

type literal struct{ raw any }

func (c literal) match(t *value.Type) (func(value.Value) (bool, error), error) {
	v, err := t.Convert(c.raw)
	if err != nil {
		return nil, err
	}
	return equalTo{v}.match(t)
}

func (fn MatchFunc) match(*value.Type) (func(value.Value) (bool, error), error) {
	return fn, nil
}

// GroupResult maps variable names to values in insertion order. An empty
// result means no element matched.
type GroupResult struct {
	names  []string
	values map[string]value.Value
}

func (g *GroupResult) put(name string, v value.Value) {
	if g.values == nil {
		g.values = make(map[string]value.Value)
	}
	if _, ok := g.values[name]; !ok {
		g.names = append(g.names, name)
	}
	g.values[name] = v
}

// Len returns the number of entries.
func (g GroupResult) Len() int { return len(g.names) }

// Names returns the variable names in insertion order.
func (g GroupResult) Names() []string { return append([]string(nil), g.names...) }

// Get returns the value mapped to a variable name.
func (g GroupResult) Get(name string) (value.Value, bool) {
	v, ok := g.values[name]
	return v, ok
}

// Map returns the entries as a map.
func (g GroupResult) Map() map[string]value.Value {
	out := make(map[string]value.Value, len(g.values))
	for k, v := range g.values {
		out[k] = v
	}
	return out
}

// Group aligns occurrence group siblings on the first element of the
// referenced sequence matching criteria ($group).
//
// A null or scalar value short-circuits to a single entry mapping the
// variable to its value. Otherwise the sequence is scanned in order and, at
// the first match, every variable of the same table sharing the occurrence
// group maps to its element at the matched index, or to its typed null when
// its sequence is shorter. No match yields an empty result.
func (l *Library) Group(ec *Context, ref string, criteria Criteria) (GroupResult, error) {
	var result GroupResult

	resolved, err := l.resolve(ec, ref)
	if err != nil {
		return result, err
	}
	variable := resolved.Variable()
	v, err := l.read(ec, ref, resolved)
	if err != nil {
		return result, err
	}

	if v.IsNull() || !v.IsSequence() {
		result.put(variable.Name, v)
		return result, nil
	}

	matches, err := criteria.match(variable.ValueType)
	if err != nil {
		return result, fmt.Errorf("$group(%q): %w", ref, err)
	}

	index := -1
	for i, e := range v.Values() {
		ok, err := matches(e)
		if err != nil {
			return result, fmt.Errorf("$group(%q): %w", ref, err)
		}
		if ok {
			index = i
			result.put(variable.Name, e)
			break
		}
	}
	if index < 0 {
		return result, nil
	}

	for _, sibling := range siblings(resolved.Table, variable) {
		sv, err := l.readSibling(ec, resolved, sibling)
		if err != nil {
			return GroupResult{}, err
		}
		elem := sibling.ValueType.Null()
		if !sv.IsNull() {
			if e, ok := sv.AsSequence().At(index); ok {
				elem = e
			}
		}
		result.put(sibling.Name, elem)
	}
	return result, nil
}

// siblings lists the variables of the table in the occurrence group of v,
// v excluded.
func siblings(table core.ValueTable, v *core.Variable) []*core.Variable {
	var out []*core.Variable
	for _, candidate := range table.Variables() {
		if candidate.Name != v.Name && candidate.HasOccurrenceGroup(v) {
			out = append(out, candidate)
		}
	}
	return out
}

func (l *Library) readSibling(ec *Context, of *resolver.Resolved, sibling *core.Variable) (value.Value, error) {
	src, err := of.Table.Source(sibling.Name)
	if err != nil {
		return value.Value{}, err
	}
	resolved := &resolver.Resolved{
		Reference: of.Reference,
		Table:     of.Table,
		Source:    src,
	}
	resolved.Reference.Name = sibling.Name
	return l.read(ec, resolved.Reference.String(), resolved)
}
