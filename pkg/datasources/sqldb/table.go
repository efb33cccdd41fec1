package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// Table is a SQL table exposed as a value table.
type Table struct {
	ds         *Datasource
	name       string
	idColumn   string
	entityType string
	variables  []*core.Variable
	sources    map[string]*Source

	// selectList is the quoted column list of all variables
	selectList string
}

var _ core.ValueTable = (*Table)(nil)

func (d *Datasource) loadTable(ctx context.Context, tp TableParams, c *catalog) (*Table, error) {
	columns, err := d.columns(ctx, tp.Name)
	if err != nil {
		return nil, err
	}
	if _, ok := columns.lookup(tp.IDColumn); !ok {
		return nil, fmt.Errorf("table %s has no identifier column %q", tp.Name, tp.IDColumn)
	}

	t := &Table{
		ds:         d,
		name:       tp.Name,
		idColumn:   tp.IDColumn,
		entityType: tp.EntityType,
		sources:    make(map[string]*Source),
	}

	if c.has(tp.Name) {
		for _, declared := range c.variables[tp.Name] {
			if _, ok := columns.lookup(declared.Name); !ok {
				return nil, fmt.Errorf("catalog variable %s.%s has no column", tp.Name, declared.Name)
			}
			v := *declared
			t.add(&v)
		}
	} else {
		for _, col := range columns.ordered {
			if col.name == tp.IDColumn {
				continue
			}
			t.add(&core.Variable{Name: col.name, ValueType: InferType(col.dbType)})
		}
	}

	quoted := make([]string, len(t.variables))
	for i, v := range t.variables {
		quoted[i] = Quote(v.Name)
	}
	t.selectList = strings.Join(quoted, ", ")
	return t, nil
}

func (t *Table) add(v *core.Variable) {
	if v.EntityType == "" {
		v.EntityType = t.entityType
	}
	v.Index = len(t.variables) + 1
	t.variables = append(t.variables, v)
	t.sources[v.Name] = &Source{table: t, variable: v}
}

type column struct {
	name   string
	dbType string
}

type columnSet struct {
	ordered []column
	byName  map[string]column
}

func (d *Datasource) columns(ctx context.Context, table string) (columnSet, error) {
	rows, err := d.query(ctx, "SELECT * FROM "+Quote(table)+" LIMIT 0")
	if err != nil {
		return columnSet{}, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	types, err := rows.ColumnTypes()
	if err != nil {
		return columnSet{}, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	set := columnSet{byName: make(map[string]column, len(types))}
	for _, ct := range types {
		col := column{name: ct.Name(), dbType: ct.DatabaseTypeName()}
		set.ordered = append(set.ordered, col)
		set.byName[col.name] = col
	}
	return set, rows.Err()
}

func (s columnSet) lookup(name string) (column, bool) {
	c, ok := s.byName[name]
	return c, ok
}

func (t *Table) Name() string                { return t.name }
func (t *Table) EntityType() string          { return t.entityType }
func (t *Table) Datasource() core.Datasource { return t.ds }

// IDColumn returns the identifier column.
func (t *Table) IDColumn() string { return t.idColumn }

func (t *Table) Variables() []*core.Variable {
	return append([]*core.Variable(nil), t.variables...)
}

func (t *Table) Variable(name string) (*core.Variable, error) {
	if src, ok := t.sources[name]; ok {
		return src.variable, nil
	}
	return nil, &core.NoSuchVariableError{Table: t.name, Variable: name}
}

func (t *Table) Source(name string) (core.VariableValueSource, error) {
	if src, ok := t.sources[name]; ok {
		return src, nil
	}
	return nil, &core.NoSuchVariableError{Table: t.name, Variable: name}
}

// ValueSet reads the row of an entity.
func (t *Table) ValueSet(ctx context.Context, entity core.VariableEntity) (core.ValueSet, error) {
	vs := &ValueSet{table: t, entity: entity, values: make(map[string]value.Value, len(t.variables))}
	if len(t.variables) == 0 {
		ok, err := t.HasValueSet(ctx, entity)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &core.NoSuchValueSetError{Table: t.name, Entity: entity}
		}
		return vs, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		t.selectList, Quote(t.name), Quote(t.idColumn), t.ds.dialect.Placeholder(1))
	rows, err := t.ds.query(ctx, query, entity.Identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of %s: %w", entity, t.name, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read %s of %s: %w", entity, t.name, err)
		}
		return nil, &core.NoSuchValueSetError{Table: t.name, Entity: entity}
	}
	raw := make([]any, len(t.variables))
	dest := make([]any, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan %s of %s: %w", entity, t.name, err)
	}
	for i, v := range t.variables {
		if vs.values[v.Name], err = ToValue(raw[i], v); err != nil {
			return nil, fmt.Errorf("%s of %s: %w", entity, t.name, err)
		}
	}
	return vs, nil
}

func (t *Table) HasValueSet(ctx context.Context, entity core.VariableEntity) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		Quote(t.name), Quote(t.idColumn), t.ds.dialect.Placeholder(1))
	var n int64
	if err := t.ds.db.QueryRowContext(ctx, query, entity.Identifier).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up %s in %s: %w", entity, t.name, err)
	}
	return n > 0, nil
}

// Entities returns the distinct identifiers of the table.
func (t *Table) Entities(ctx context.Context) ([]core.VariableEntity, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
		Quote(t.idColumn), Quote(t.name), Quote(t.idColumn))
	rows, err := t.ds.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities of %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()

	var entities []core.VariableEntity
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan entity of %s: %w", t.name, err)
		}
		entities = append(entities, core.NewEntity(t.entityType, identifier(raw)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities of %s: %w", t.name, err)
	}
	core.SortEntities(entities)
	return entities, nil
}

// ValueSet is a row of a SQL table, read eagerly.
type ValueSet struct {
	table  *Table
	entity core.VariableEntity
	values map[string]value.Value
}

func (vs *ValueSet) Table() core.ValueTable      { return vs.table }
func (vs *ValueSet) Entity() core.VariableEntity { return vs.entity }

// Source reads one column.
type Source struct {
	table    *Table
	variable *core.Variable
}

var (
	_ core.VariableValueSource = (*Source)(nil)
	_ core.VectorSource        = (*Source)(nil)
)

func (s *Source) Variable() *core.Variable { return s.variable }
func (s *Source) ValueType() *value.Type   { return s.variable.ValueType }

// Value reads the variable from a row of its table, or by the entity of a
// row of another table. Entities without a row read null.
func (s *Source) Value(ctx context.Context, vs core.ValueSet) (value.Value, error) {
	if own, ok := vs.(*ValueSet); ok && own.table == s.table {
		if v, ok := own.values[s.variable.Name]; ok {
			return v, nil
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		Quote(s.variable.Name), Quote(s.table.name), Quote(s.table.idColumn), s.table.ds.dialect.Placeholder(1))
	var raw any
	err := s.table.ds.db.QueryRowContext(ctx, query, vs.Entity().Identifier).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.variable.Null(), nil
	case err != nil:
		return value.Value{}, fmt.Errorf("failed to read %s of %s: %w", s.variable.Name, vs.Entity(), err)
	}
	return ToValue(raw, s.variable)
}

func (s *Source) VectorSource() (core.VectorSource, bool) {
	return s, true
}

// Values reads the variable for many entities with batched IN queries.
func (s *Source) Values(ctx context.Context, entities []core.VariableEntity) ([]value.Value, error) {
	byID := make(map[string]value.Value, len(entities))
	size := s.table.ds.batchSize
	for start := 0; start < len(entities); start += size {
		end := min(start+size, len(entities))
		if err := s.readBatch(ctx, entities[start:end], byID); err != nil {
			return nil, err
		}
	}

	out := make([]value.Value, len(entities))
	for i, e := range entities {
		v, ok := byID[e.Identifier]
		if !ok {
			v = s.variable.Null()
		}
		out[i] = v
	}
	return out, nil
}

func (s *Source) readBatch(ctx context.Context, batch []core.VariableEntity, into map[string]value.Value) error {
	args := make([]any, len(batch))
	for i, e := range batch {
		args[i] = e.Identifier
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
		Quote(s.table.idColumn), Quote(s.variable.Name), Quote(s.table.name),
		Quote(s.table.idColumn), s.table.ds.dialect.Placeholders(1, len(batch)))
	rows, err := s.table.ds.query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to read %s of %s: %w", s.variable.Name, s.table.name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, raw any
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("failed to scan %s of %s: %w", s.variable.Name, s.table.name, err)
		}
		key := identifier(id)
		if _, seen := into[key]; seen {
			continue
		}
		v, err := ToValue(raw, s.variable)
		if err != nil {
			return fmt.Errorf("%s of %s: %w", s.variable.Name, key, err)
		}
		into[key] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s of %s: %w", s.variable.Name, s.table.name, err)
	}
	return nil
}
