// Package memory provides a static in-memory datasource. Tables are built in
// code or loaded from YAML and are read-only once evaluation starts; every
// variable source supports vector reads.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// TypeName is the datasource type registered by this package.
const TypeName = "memory"

// Datasource is a named collection of in-memory tables.
type Datasource struct {
	name string

	mu     sync.RWMutex
	tables map[string]core.ValueTable
}

// NewDatasource creates an empty datasource.
func NewDatasource(name string) *Datasource {
	return &Datasource{name: name, tables: make(map[string]core.ValueTable)}
}

func (d *Datasource) Name() string { return d.name }
func (d *Datasource) Type() string { return TypeName }
func (d *Datasource) Close() error { return nil }

// AddTable adds a table, replacing any table of the same name. Tables built
// with NewTable are attached to the datasource.
func (d *Datasource) AddTable(t core.ValueTable) {
	if mt, ok := t.(*Table); ok {
		mt.datasource = d
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[t.Name()] = t
}

// Tables returns the tables sorted by name.
func (d *Datasource) Tables() []core.ValueTable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tables := make([]core.ValueTable, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name() < tables[j].Name() })
	return tables
}

// Table returns the named table.
func (d *Datasource) Table(name string) (core.ValueTable, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t, ok := d.tables[name]; ok {
		return t, nil
	}
	return nil, &core.NoSuchTableError{Datasource: d.name, Table: name}
}

// HasTable reports whether the datasource holds the named table.
func (d *Datasource) HasTable(name string) bool {
	_, err := d.Table(name)
	return err == nil
}

// Table is an in-memory value table.
type Table struct {
	name       string
	entityType string
	datasource core.Datasource

	mu        sync.RWMutex
	variables []*core.Variable
	sources   map[string]*Source
	rows      map[core.VariableEntity]map[string]value.Value
	entities  []core.VariableEntity
}

// NewTable creates a table holding the given variables. Variables without an
// entity type get the table's.
func NewTable(name, entityType string, variables ...*core.Variable) *Table {
	t := &Table{
		name:       name,
		entityType: entityType,
		sources:    make(map[string]*Source),
		rows:       make(map[core.VariableEntity]map[string]value.Value),
	}
	for _, v := range variables {
		t.AddVariable(v)
	}
	return t
}

// AddVariable appends a variable. The variable index is set to its position
// when it has none.
func (t *Table) AddVariable(v *core.Variable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v.EntityType == "" {
		v.EntityType = t.entityType
	}
	if v.Index == 0 {
		v.Index = len(t.variables) + 1
	}
	if _, exists := t.sources[v.Name]; exists {
		for i, existing := range t.variables {
			if existing.Name == v.Name {
				t.variables[i] = v
			}
		}
	} else {
		t.variables = append(t.variables, v)
	}
	t.sources[v.Name] = &Source{table: t, variable: v}
}

// AddEntity adds an entity row with no values.
func (t *Table) AddEntity(identifier string) core.VariableEntity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addEntityLocked(identifier)
}

func (t *Table) addEntityLocked(identifier string) core.VariableEntity {
	entity := core.NewEntity(t.entityType, identifier)
	if _, ok := t.rows[entity]; !ok {
		t.rows[entity] = make(map[string]value.Value)
		t.entities = append(t.entities, entity)
		core.SortEntities(t.entities)
	}
	return entity
}

// Set stores the value of a variable for an entity, adding the entity if
// needed. Scalars given to repeatable variables become one element sequences.
func (t *Table) Set(identifier, variable string, v value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.sources[variable]
	if !ok {
		return &core.NoSuchVariableError{Table: t.name, Variable: variable}
	}
	vt := src.variable.ValueType
	if !v.Type().Equal(vt) {
		return &value.TypeMismatchError{Type: vt.Name(), Input: v}
	}
	switch {
	case src.variable.Repeatable:
		v = v.AsSequence()
	case v.IsSequence():
		return fmt.Errorf("variable %s of table %s is not repeatable", variable, t.name)
	}

	entity := t.addEntityLocked(identifier)
	t.rows[entity][variable] = v
	return nil
}

// MustSet is like Set but panics on error. Intended for fixtures.
func (t *Table) MustSet(identifier, variable string, v value.Value) *Table {
	if err := t.Set(identifier, variable, v); err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Name() string                { return t.name }
func (t *Table) EntityType() string          { return t.entityType }
func (t *Table) Datasource() core.Datasource { return t.datasource }

// Variables returns the variables in index order.
func (t *Table) Variables() []*core.Variable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vars := append([]*core.Variable(nil), t.variables...)
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].Index < vars[j].Index })
	return vars
}

// Variable returns the named variable.
func (t *Table) Variable(name string) (*core.Variable, error) {
	src, err := t.source(name)
	if err != nil {
		return nil, err
	}
	return src.variable, nil
}

// Source returns the value source of the named variable.
func (t *Table) Source(name string) (core.VariableValueSource, error) {
	return t.source(name)
}

func (t *Table) source(name string) (*Source, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if src, ok := t.sources[name]; ok {
		return src, nil
	}
	return nil, &core.NoSuchVariableError{Table: t.name, Variable: name}
}

// ValueSet returns the row of an entity.
func (t *Table) ValueSet(_ context.Context, entity core.VariableEntity) (core.ValueSet, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.rows[entity]; !ok {
		return nil, &core.NoSuchValueSetError{Table: t.name, Entity: entity}
	}
	return &ValueSet{table: t, entity: entity}, nil
}

// HasValueSet reports whether the entity has a row.
func (t *Table) HasValueSet(_ context.Context, entity core.VariableEntity) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[entity]
	return ok, nil
}

// Entities returns the entities sorted by identifier.
func (t *Table) Entities(_ context.Context) ([]core.VariableEntity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]core.VariableEntity(nil), t.entities...), nil
}

func (t *Table) lookup(entity core.VariableEntity, variable *core.Variable) value.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if row, ok := t.rows[entity]; ok {
		if v, ok := row[variable.Name]; ok {
			return v
		}
	}
	return variable.Null()
}

// ValueSet is a row of an in-memory table.
type ValueSet struct {
	table  *Table
	entity core.VariableEntity
}

func (vs *ValueSet) Table() core.ValueTable      { return vs.table }
func (vs *ValueSet) Entity() core.VariableEntity { return vs.entity }

// Source reads one variable of an in-memory table.
type Source struct {
	table    *Table
	variable *core.Variable
}

func (s *Source) Variable() *core.Variable { return s.variable }
func (s *Source) ValueType() *value.Type   { return s.variable.ValueType }

// Value reads the variable for a value set. Value sets of other tables are
// read by entity.
func (s *Source) Value(_ context.Context, vs core.ValueSet) (value.Value, error) {
	return s.table.lookup(vs.Entity(), s.variable), nil
}

// VectorSource returns the source itself.
func (s *Source) VectorSource() (core.VectorSource, bool) {
	return s, true
}

// Values reads the variable for every entity.
func (s *Source) Values(_ context.Context, entities []core.VariableEntity) ([]value.Value, error) {
	values := make([]value.Value, len(entities))
	for i, e := range entities {
		values[i] = s.table.lookup(e, s.variable)
	}
	return values, nil
}

var (
	_ core.Datasource          = (*Datasource)(nil)
	_ core.ValueTable          = (*Table)(nil)
	_ core.VariableValueSource = (*Source)(nil)
	_ core.VectorSource        = (*Source)(nil)
)
