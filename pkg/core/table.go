package core

import (
	"context"

	"github.com/leapstack-labs/harmonize/pkg/value"
)

// ValueSet binds one entity to one table: logically a row. Value sets are
// read-only snapshots owned by the table that produced them.
type ValueSet interface {
	Table() ValueTable
	Entity() VariableEntity
}

// VariableValueSource reads the value of one variable.
type VariableValueSource interface {
	Variable() *Variable
	ValueType() *value.Type

	// Value reads the variable for one value set of the source's table.
	Value(ctx context.Context, vs ValueSet) (value.Value, error)

	// VectorSource returns the batch capability of the source, if any.
	VectorSource() (VectorSource, bool)
}

// VectorSource reads a variable for many entities in one call.
//
// Implementations must be comparable and are expected to be pointer types:
// vector caches key computed columns on the VectorSource value itself.
type VectorSource interface {
	// Values returns one value per entity, aligned with entities. Entities
	// without a value set yield the variable's typed null.
	Values(ctx context.Context, entities []VariableEntity) ([]value.Value, error)
}

// ValueTable is a named, entity-typed collection of variables and value sets.
// Implementations must tolerate concurrent reads.
type ValueTable interface {
	Name() string
	EntityType() string
	Datasource() Datasource

	// Variables lists the variables of the table in index order.
	Variables() []*Variable
	Variable(name string) (*Variable, error)

	// Source returns the value source of a variable. Successive calls with
	// the same name return the same instance.
	Source(name string) (VariableValueSource, error)

	// ValueSet returns the row of an entity or a *NoSuchValueSetError.
	ValueSet(ctx context.Context, entity VariableEntity) (ValueSet, error)
	HasValueSet(ctx context.Context, entity VariableEntity) (bool, error)

	// Entities lists the entities of the table sorted by identifier.
	Entities(ctx context.Context) ([]VariableEntity, error)
}

// Datasource is a named collection of tables.
type Datasource interface {
	Name() string
	Type() string
	Tables() []ValueTable
	Table(name string) (ValueTable, error)
	HasTable(name string) bool
	Close() error
}

// HasVariable reports whether the table defines the named variable.
func HasVariable(t ValueTable, name string) bool {
	_, err := t.Variable(name)
	return err == nil
}

// SameTable reports whether both tables have the same datasource and name.
func SameTable(a, b ValueTable) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name() != b.Name() {
		return false
	}
	da, db := a.Datasource(), b.Datasource()
	if da == nil || db == nil {
		return da == db
	}
	return da.Name() == db.Name()
}

// QualifiedName returns "datasource.table" or the bare table name.
func QualifiedName(t ValueTable) string {
	if ds := t.Datasource(); ds != nil {
		return ds.Name() + "." + t.Name()
	}
	return t.Name()
}
