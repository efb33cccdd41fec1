// Package resolver turns variable reference strings into value sources and
// implements the join semantics of cross-table references.
//
// A reference whose table differs from the current table is a join
// reference. Joins are best-effort left joins: a null identifier or an
// entity without a row in the joined table yields the joined variable's
// typed null, never an error. Only unknown datasources, tables and
// variables fail.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/reference"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// DatasourceLookup finds datasources by name.
type DatasourceLookup interface {
	Get(name string) (core.Datasource, error)
}

// Resolver resolves references against a context table.
type Resolver struct {
	datasources DatasourceLookup
}

// New creates a resolver. A nil lookup only resolves references that do not
// name a datasource.
func New(datasources DatasourceLookup) *Resolver {
	return &Resolver{datasources: datasources}
}

// Resolved is a reference bound to its table and value source.
type Resolved struct {
	Reference reference.Reference
	Table     core.ValueTable
	Source    core.VariableValueSource
}

// Resolve parses and resolves a reference against the context table, which
// may be nil when the reference is fully qualified.
func (r *Resolver) Resolve(ref string, contextTable core.ValueTable) (*Resolved, error) {
	parsed, err := reference.Parse(ref)
	if err != nil {
		return nil, err
	}
	resolved, err := r.ResolveReference(parsed, contextTable)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", ref, err)
	}
	return resolved, nil
}

// ResolveReference resolves an already parsed reference.
func (r *Resolver) ResolveReference(ref reference.Reference, contextTable core.ValueTable) (*Resolved, error) {
	table, err := r.table(ref, contextTable)
	if err != nil {
		return nil, err
	}
	source, err := table.Source(ref.Name)
	if err != nil {
		return nil, err
	}
	return &Resolved{Reference: ref, Table: table, Source: source}, nil
}

func (r *Resolver) table(ref reference.Reference, contextTable core.ValueTable) (core.ValueTable, error) {
	if !ref.IsQualified() {
		if contextTable == nil {
			return nil, &core.NoSuchTableError{}
		}
		return contextTable, nil
	}

	var ds core.Datasource
	switch {
	case ref.Datasource != "":
		if r.datasources == nil {
			return nil, &core.NoSuchDatasourceError{Name: ref.Datasource}
		}
		found, err := r.datasources.Get(ref.Datasource)
		if err != nil {
			return nil, err
		}
		ds = found
	case contextTable != nil && contextTable.Datasource() != nil:
		ds = contextTable.Datasource()
	default:
		return nil, &core.NoSuchTableError{Table: ref.Table}
	}

	// The current table is used as is so that it resolves to the very
	// instance evaluation runs against.
	if contextTable != nil && contextTable.Name() == ref.Table &&
		contextTable.Datasource() != nil && contextTable.Datasource().Name() == ds.Name() {
		return contextTable, nil
	}
	return ds.Table(ref.Table)
}

// Variable returns the metadata of the resolved variable.
func (r *Resolved) Variable() *core.Variable {
	return r.Source.Variable()
}

// IsJoin reports whether the resolved table differs from the context table.
func (r *Resolved) IsJoin(contextTable core.ValueTable) bool {
	return !core.SameTable(r.Table, contextTable)
}

// Null returns the typed null of the resolved variable: a null sequence when
// the variable is repeatable, a null scalar otherwise.
func (r *Resolved) Null() value.Value {
	return r.Source.Variable().Null()
}

// JoinValue reads the resolved variable for the entity whose identifier is
// given, with left join semantics.
func (r *Resolved) JoinValue(ctx context.Context, identifier value.Value) (value.Value, error) {
	if identifier.IsNull() {
		return r.Null(), nil
	}
	return r.JoinEntity(ctx, core.NewEntity(r.Table.EntityType(), identifier.String()))
}

// JoinEntity reads the resolved variable for an entity of the resolved
// table. A missing row yields the typed null.
func (r *Resolved) JoinEntity(ctx context.Context, entity core.VariableEntity) (value.Value, error) {
	vs, err := r.Table.ValueSet(ctx, entity)
	if err != nil {
		var missing *core.NoSuchValueSetError
		if errors.As(err, &missing) {
			return r.Null(), nil
		}
		return value.Value{}, err
	}
	return r.Source.Value(ctx, vs)
}

// Read reads the resolved variable for the current value set. When the
// reference crosses tables the row of the same entity identifier in the
// resolved table is read instead, null when absent.
func (r *Resolved) Read(ctx context.Context, vs core.ValueSet) (value.Value, error) {
	if !r.IsJoin(vs.Table()) {
		return r.Source.Value(ctx, vs)
	}
	return r.JoinEntity(ctx, core.NewEntity(r.Table.EntityType(), vs.Entity().Identifier))
}
