// Package generated provides a datasource of pseudo-random values. A table is
// fully determined by its parameters and seed, which makes it suitable for
// tests and demos. Its variable sources read one row at a time only.
package generated

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"golang.org/x/text/language"
)

// TypeName is the datasource type registered by this package.
const TypeName = "generated"

// Defaults for unset parameters.
const (
	DefaultTable    = "generated"
	DefaultEntities = 100
)

var (
	epoch   = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	locales = []language.Tag{language.English, language.French, language.German, language.Spanish, language.Portuguese}
)

// VariableParams describes one generated variable.
type VariableParams struct {
	Name string `mapstructure:"name"`

	// Type is a value type name; text when empty
	Type       string   `mapstructure:"type"`
	Repeatable bool     `mapstructure:"repeatable"`
	Unit       string   `mapstructure:"unit"`
	Categories []string `mapstructure:"categories"`

	// Min and Max bound numeric values; [0, 100] when both are zero
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// Params configures a generated table.
type Params struct {
	Table     string           `mapstructure:"table"`
	Entities  int              `mapstructure:"entities"`
	Seed      uint64           `mapstructure:"seed"`
	NullRate  float64          `mapstructure:"null_rate"`
	Variables []VariableParams `mapstructure:"variables"`
}

// Datasource holds a single generated table.
type Datasource struct {
	name  string
	table *Table
}

var _ core.Datasource = (*Datasource)(nil)

// New generates the table described by p for entities of entityType.
func New(name, entityType string, p Params) (*Datasource, error) {
	if p.Table == "" {
		p.Table = DefaultTable
	}
	if p.Entities <= 0 {
		p.Entities = DefaultEntities
	}
	if p.NullRate < 0 || p.NullRate > 1 {
		return nil, fmt.Errorf("generated datasource %s: null_rate %v outside [0, 1]", name, p.NullRate)
	}
	if len(p.Variables) == 0 {
		return nil, fmt.Errorf("generated datasource %s: no variables", name)
	}

	d := &Datasource{name: name}
	t := &Table{
		name:       p.Table,
		entityType: entityType,
		datasource: d,
		sources:    make(map[string]*Source, len(p.Variables)),
		index:      make(map[core.VariableEntity]int, p.Entities),
	}

	width := len(strconv.Itoa(p.Entities))
	for i := range p.Entities {
		e := core.NewEntity(entityType, fmt.Sprintf("%0*d", width, i+1))
		t.entities = append(t.entities, e)
		t.index[e] = i
	}

	rng := rand.New(rand.NewPCG(p.Seed, uint64(p.Entities)))
	for i, vp := range p.Variables {
		variable, err := newVariable(vp, entityType, i+1)
		if err != nil {
			return nil, fmt.Errorf("generated datasource %s: %w", name, err)
		}
		if _, dup := t.sources[variable.Name]; dup {
			return nil, fmt.Errorf("generated datasource %s: duplicate variable %q", name, variable.Name)
		}
		g := generator{rng: rng, params: vp, variable: variable, nullRate: p.NullRate}
		column := make([]value.Value, p.Entities)
		for j := range column {
			if column[j], err = g.next(); err != nil {
				return nil, fmt.Errorf("generated datasource %s: variable %s: %w", name, variable.Name, err)
			}
		}
		t.variables = append(t.variables, variable)
		t.sources[variable.Name] = &Source{table: t, variable: variable, column: column}
	}
	d.table = t
	return d, nil
}

func newVariable(vp VariableParams, entityType string, index int) (*core.Variable, error) {
	if vp.Name == "" {
		return nil, fmt.Errorf("variable %d has no name", index)
	}
	if vp.Max < vp.Min {
		return nil, fmt.Errorf("variable %s: max %v below min %v", vp.Name, vp.Max, vp.Min)
	}
	vt := value.Text
	if vp.Type != "" {
		var err error
		if vt, err = value.ForName(vp.Type); err != nil {
			return nil, fmt.Errorf("variable %s: %w", vp.Name, err)
		}
	}
	variable := &core.Variable{
		Name:       vp.Name,
		EntityType: entityType,
		ValueType:  vt,
		Unit:       vp.Unit,
		Repeatable: vp.Repeatable,
		Index:      index,
	}
	for _, c := range vp.Categories {
		variable.Categories = append(variable.Categories, core.Category{Name: c})
	}
	return variable, nil
}

func (d *Datasource) Name() string { return d.name }
func (d *Datasource) Type() string { return TypeName }
func (d *Datasource) Close() error { return nil }

func (d *Datasource) Tables() []core.ValueTable { return []core.ValueTable{d.table} }

func (d *Datasource) Table(name string) (core.ValueTable, error) {
	if name != d.table.name {
		return nil, &core.NoSuchTableError{Datasource: d.name, Table: name}
	}
	return d.table, nil
}

func (d *Datasource) HasTable(name string) bool { return name == d.table.name }

// generator draws the values of one variable.
type generator struct {
	rng      *rand.Rand
	params   VariableParams
	variable *core.Variable
	nullRate float64
}

func (g *generator) next() (value.Value, error) {
	vt := g.variable.ValueType
	if g.nullRate > 0 && g.rng.Float64() < g.nullRate {
		return g.variable.Null(), nil
	}
	if !g.variable.Repeatable {
		return vt.Coerce(g.scalar())
	}
	items := make([]any, 1+g.rng.IntN(3))
	for i := range items {
		items[i] = g.scalar()
	}
	return vt.SequenceOf(items...)
}

func (g *generator) scalar() any {
	lo, hi := g.params.Min, g.params.Max
	if lo == 0 && hi == 0 {
		hi = 100
	}
	switch g.variable.ValueType {
	case value.Integer:
		return int64(lo) + g.rng.Int64N(int64(hi)-int64(lo)+1)
	case value.Decimal:
		return math.Round((lo+g.rng.Float64()*(hi-lo))*100) / 100
	case value.Boolean:
		return g.rng.IntN(2) == 1
	case value.Date:
		return epoch.AddDate(0, 0, g.rng.IntN(20*365))
	case value.DateTime:
		return epoch.Add(time.Duration(g.rng.Int64N(20*365*24*3600)) * time.Second)
	case value.Binary:
		b := make([]byte, 8)
		for i := range b {
			b[i] = byte(g.rng.UintN(256))
		}
		return b
	case value.Locale:
		return locales[g.rng.IntN(len(locales))]
	}
	if cats := g.params.Categories; len(cats) > 0 {
		return cats[g.rng.IntN(len(cats))]
	}
	return "v" + strconv.Itoa(g.rng.IntN(1000))
}

// Table is a generated value table.
type Table struct {
	name       string
	entityType string
	datasource *Datasource
	variables  []*core.Variable
	sources    map[string]*Source
	entities   []core.VariableEntity
	index      map[core.VariableEntity]int
}

var _ core.ValueTable = (*Table)(nil)

func (t *Table) Name() string                { return t.name }
func (t *Table) EntityType() string          { return t.entityType }
func (t *Table) Datasource() core.Datasource { return t.datasource }

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

func (t *Table) ValueSet(_ context.Context, entity core.VariableEntity) (core.ValueSet, error) {
	if _, ok := t.index[entity]; !ok {
		return nil, &core.NoSuchValueSetError{Table: t.name, Entity: entity}
	}
	return &ValueSet{table: t, entity: entity}, nil
}

func (t *Table) HasValueSet(_ context.Context, entity core.VariableEntity) (bool, error) {
	_, ok := t.index[entity]
	return ok, nil
}

// Entities returns the entities; identifiers are zero-padded so that their
// order is numeric.
func (t *Table) Entities(_ context.Context) ([]core.VariableEntity, error) {
	return append([]core.VariableEntity(nil), t.entities...), nil
}

// ValueSet is a row of a generated table.
type ValueSet struct {
	table  *Table
	entity core.VariableEntity
}

func (vs *ValueSet) Table() core.ValueTable      { return vs.table }
func (vs *ValueSet) Entity() core.VariableEntity { return vs.entity }

// Source reads a generated column one row at a time.
type Source struct {
	table    *Table
	variable *core.Variable
	column   []value.Value
}

var _ core.VariableValueSource = (*Source)(nil)

func (s *Source) Variable() *core.Variable { return s.variable }
func (s *Source) ValueType() *value.Type   { return s.variable.ValueType }

// Value reads the variable for the entity of vs; unknown entities read null.
func (s *Source) Value(_ context.Context, vs core.ValueSet) (value.Value, error) {
	i, ok := s.table.index[vs.Entity()]
	if !ok {
		return s.variable.Null(), nil
	}
	return s.column[i], nil
}

// VectorSource reports that generated columns have no batch reads.
func (s *Source) VectorSource() (core.VectorSource, bool) {
	return nil, false
}
