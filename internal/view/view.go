package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/internal/starlark"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/reference"
	"github.com/leapstack-labs/harmonize/pkg/value"
	gostarlark "go.starlark.net/starlark"
)

// DuplicateVariableError is returned when a derived variable reuses the name
// of a variable of the view.
type DuplicateVariableError struct {
	View     string
	Variable string
}

func (e *DuplicateVariableError) Error() string {
	return fmt.Sprintf("view %q already has a variable named %q", e.View, e.Variable)
}

// View is a table made of the variables of a base table followed by derived
// variables. Value sets and entities are those of the base table.
type View struct {
	name       string
	base       core.ValueTable
	datasource core.Datasource
	logger     *slog.Logger

	mu      sync.RWMutex
	derived []*core.Variable
	sources map[string]*starlark.VariableSource
}

var _ core.ValueTable = (*View)(nil)

// New creates a view named name over base. A nil logger discards output.
func New(name string, base core.ValueTable, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &View{
		name:       name,
		base:       base,
		datasource: base.Datasource(),
		logger:     logger.With("view", name),
		sources:    make(map[string]*starlark.VariableSource),
	}
}

// Base returns the wrapped table.
func (v *View) Base() core.ValueTable { return v.base }

// AddVariable compiles the script of a derived variable against predeclared
// and appends the variable to the view. The variable takes the entity type
// of the view; a nil value type means text.
func (v *View) AddVariable(variable *core.Variable, predeclared gostarlark.StringDict) error {
	if core.HasVariable(v, variable.Name) {
		return &DuplicateVariableError{View: v.name, Variable: variable.Name}
	}
	script, err := starlark.Compile(v.name+":"+variable.Name, variable.Script, predeclared)
	if err != nil {
		return err
	}

	derived := *variable
	derived.EntityType = v.base.EntityType()
	if derived.ValueType == nil {
		derived.ValueType = value.Text
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	derived.Index = len(v.base.Variables()) + len(v.derived) + 1
	v.derived = append(v.derived, &derived)
	v.sources[derived.Name] = starlark.NewVariableSource(v, &derived, script, v.logger)
	return nil
}

// Derived returns the derived variables in definition order.
func (v *View) Derived() []*core.Variable {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]*core.Variable(nil), v.derived...)
}

// Validate reports a *eval.CircularReferenceError when derived variables of
// the view depend on each other in a cycle. Only references written as
// string literals are followed.
func (v *View) Validate() error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(v.derived))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, n := range stack {
				if n == name {
					start = i
				}
			}
			path := append(append([]string(nil), stack[start:]...), name)
			return &eval.CircularReferenceError{Path: path}
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range v.dependencies(v.sources[name]) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, d := range v.derived {
		if err := visit(d.Name); err != nil {
			return err
		}
	}
	return nil
}

// dependencies lists the derived variables of the view a source refers to.
func (v *View) dependencies(src *starlark.VariableSource) []string {
	var deps []string
	for _, raw := range src.Script().References() {
		ref, err := reference.Parse(raw)
		if err != nil || !v.refersHere(ref) {
			continue
		}
		if _, ok := v.sources[ref.Name]; ok {
			deps = append(deps, ref.Name)
		}
	}
	return deps
}

func (v *View) refersHere(ref reference.Reference) bool {
	if !ref.IsQualified() {
		return true
	}
	if ref.Table != v.name {
		return false
	}
	return ref.Datasource == "" || (v.datasource != nil && ref.Datasource == v.datasource.Name())
}

func (v *View) Name() string                { return v.name }
func (v *View) EntityType() string          { return v.base.EntityType() }
func (v *View) Datasource() core.Datasource { return v.datasource }

// Variables returns the base variables followed by the derived ones.
func (v *View) Variables() []*core.Variable {
	v.mu.RLock()
	defer v.mu.RUnlock()
	base := v.base.Variables()
	out := make([]*core.Variable, 0, len(base)+len(v.derived))
	out = append(out, base...)
	return append(out, v.derived...)
}

func (v *View) Variable(name string) (*core.Variable, error) {
	v.mu.RLock()
	src, ok := v.sources[name]
	v.mu.RUnlock()
	if ok {
		return src.Variable(), nil
	}
	variable, err := v.base.Variable(name)
	if err != nil {
		return nil, &core.NoSuchVariableError{Table: v.name, Variable: name}
	}
	return variable, nil
}

// Source returns the script source of a derived variable or the source of
// a base variable.
func (v *View) Source(name string) (core.VariableValueSource, error) {
	v.mu.RLock()
	src, ok := v.sources[name]
	v.mu.RUnlock()
	if ok {
		return src, nil
	}
	if _, err := v.base.Variable(name); err != nil {
		return nil, &core.NoSuchVariableError{Table: v.name, Variable: name}
	}
	return v.base.Source(name)
}

// ValueSet returns the row of the base table bound to the view.
func (v *View) ValueSet(ctx context.Context, entity core.VariableEntity) (core.ValueSet, error) {
	vs, err := v.base.ValueSet(ctx, entity)
	if err != nil {
		var missing *core.NoSuchValueSetError
		if errors.As(err, &missing) {
			return nil, &core.NoSuchValueSetError{Table: v.name, Entity: entity}
		}
		return nil, err
	}
	return &ValueSet{view: v, base: vs}, nil
}

func (v *View) HasValueSet(ctx context.Context, entity core.VariableEntity) (bool, error) {
	return v.base.HasValueSet(ctx, entity)
}

func (v *View) Entities(ctx context.Context) ([]core.VariableEntity, error) {
	return v.base.Entities(ctx)
}

// ValueSet is a row of a view.
type ValueSet struct {
	view *View
	base core.ValueSet
}

func (vs *ValueSet) Table() core.ValueTable      { return vs.view }
func (vs *ValueSet) Entity() core.VariableEntity { return vs.base.Entity() }

// Base returns the row of the base table.
func (vs *ValueSet) Base() core.ValueSet { return vs.base }
