package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasource"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const medicationsYAML = `
name: medications
variables:
  - name: DRUG
    type: text
    repeatable: true
    occurrence_group: meds
    attributes:
      - {name: label, locale: en, value: Drug name}
  - name: DOSE
    type: integer
    repeatable: true
    occurrence_group: meds
    unit: mg
  - name: VISIT
    type: date
rows:
  - id: "1"
    values:
      DRUG: [A, B, C]
      DOSE: [10, 20, 30]
      VISIT: 2020-01-31
  - id: "2"
    values:
      DRUG: [A, ~]
      VISIT: ~
`

func TestLoadTable(t *testing.T) {
	table, err := LoadTable(strings.NewReader(medicationsYAML), "Participant")
	require.NoError(t, err)

	assert.Equal(t, "medications", table.Name())
	assert.Equal(t, "Participant", table.EntityType())

	vars := table.Variables()
	require.Len(t, vars, 3)
	assert.Equal(t, []string{"DRUG", "DOSE", "VISIT"}, []string{vars[0].Name, vars[1].Name, vars[2].Name})
	assert.Equal(t, "Participant", vars[0].EntityType)
	assert.Equal(t, "mg", vars[1].Unit)
	label, ok := vars[0].Attribute("label", "en")
	assert.True(t, ok)
	assert.Equal(t, "Drug name", label)

	ctx := context.Background()
	entities, err := table.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	vs, err := table.ValueSet(ctx, entities[0])
	require.NoError(t, err)

	dose, err := table.Source("DOSE")
	require.NoError(t, err)
	v, err := dose.Value(ctx, vs)
	require.NoError(t, err)
	assert.Equal(t, "10,20,30", v.String())

	visit, err := table.Source("VISIT")
	require.NoError(t, err)
	v, err = visit.Value(ctx, vs)
	require.NoError(t, err)
	assert.Equal(t, "2020-01-31", v.String())

	// Entity 2 has no DOSE: typed null sequence
	vs2, err := table.ValueSet(ctx, entities[1])
	require.NoError(t, err)
	v, err = dose.Value(ctx, vs2)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
	assert.True(t, v.IsSequence())

	drug, err := table.Source("DRUG")
	require.NoError(t, err)
	v, err = drug.Value(ctx, vs2)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Size())
}

func TestLoadTable_EmptyText(t *testing.T) {
	doc := `
name: notes
variables:
  - {name: LABEL}
  - {name: TAGS, repeatable: true}
rows:
  - id: "1"
    values: {LABEL: "", TAGS: []}
  - id: "2"
    values: {LABEL: ~, TAGS: [~]}
`
	table, err := LoadTable(strings.NewReader(doc), "Participant")
	require.NoError(t, err)

	get := func(id, name string) value.Value {
		ctx := context.Background()
		vs, err := table.ValueSet(ctx, core.NewEntity("Participant", id))
		require.NoError(t, err)
		src, err := table.Source(name)
		require.NoError(t, err)
		v, err := src.Value(ctx, vs)
		require.NoError(t, err)
		return v
	}

	label := get("1", "LABEL")
	assert.False(t, label.IsNull())
	assert.Equal(t, "", label.Raw())
	tags := get("1", "TAGS")
	assert.False(t, tags.IsNull())
	assert.Equal(t, 0, tags.Size())

	assert.True(t, get("2", "LABEL").IsNull())
	tags = get("2", "TAGS")
	assert.False(t, tags.IsNull())
	assert.Equal(t, 1, tags.Size())
}

func TestLoadTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no name", "variables: []"},
		{"unknown type", "name: t\nvariables: [{name: x, type: money}]"},
		{"row without id", "name: t\nvariables: [{name: x}]\nrows: [{values: {x: a}}]"},
		{"unknown variable", "name: t\nvariables: [{name: x}]\nrows: [{id: '1', values: {y: a}}]"},
		{"list for scalar", "name: t\nvariables: [{name: x}]\nrows: [{id: '1', values: {x: [a]}}]"},
		{"bad integer", "name: t\nvariables: [{name: x, type: integer}]\nrows: [{id: '1', values: {x: abc}}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTable(strings.NewReader(tt.doc), "Participant")
			assert.Error(t, err)
		})
	}
}

func TestTable_SourceIdentity(t *testing.T) {
	table := NewTable("t", "Participant", &core.Variable{Name: "x", ValueType: value.Integer})

	a, err := table.Source("x")
	require.NoError(t, err)
	b, err := table.Source("x")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = table.Source("y")
	var nerr *core.NoSuchVariableError
	assert.ErrorAs(t, err, &nerr)
}

func TestTable_Set(t *testing.T) {
	table := NewTable("t", "Participant",
		&core.Variable{Name: "x", ValueType: value.Integer},
		&core.Variable{Name: "xs", ValueType: value.Integer, Repeatable: true},
	)

	require.NoError(t, table.Set("1", "x", value.Integer.MustCoerce(1)))
	require.NoError(t, table.Set("1", "xs", value.Integer.MustCoerce(2)))

	var merr *value.TypeMismatchError
	assert.ErrorAs(t, table.Set("1", "x", value.Text.MustCoerce("a")), &merr)

	seq, err := value.Integer.SequenceOf(1, 2)
	require.NoError(t, err)
	assert.Error(t, table.Set("1", "x", seq))

	src, err := table.Source("xs")
	require.NoError(t, err)
	v, err := src.Value(context.Background(), &ValueSet{table: table, entity: core.NewEntity("Participant", "1")})
	require.NoError(t, err)
	assert.True(t, v.IsSequence())
}

func TestSource_Values(t *testing.T) {
	table := NewTable("t", "Participant", &core.Variable{Name: "x", ValueType: value.Integer})
	table.MustSet("1", "x", value.Integer.MustCoerce(1)).
		MustSet("2", "x", value.Integer.MustCoerce(2))

	src, err := table.Source("x")
	require.NoError(t, err)
	vector, ok := src.VectorSource()
	require.True(t, ok)

	values, err := vector.Values(context.Background(), []core.VariableEntity{
		core.NewEntity("Participant", "2"),
		core.NewEntity("Participant", "404"),
		core.NewEntity("Participant", "1"),
	})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, "2", values[0].String())
	assert.True(t, values[1].IsNull())
	assert.Equal(t, "1", values[2].String())
}

func TestDatasource(t *testing.T) {
	ds := NewDatasource("ds")
	table := NewTable("t", "Participant")
	ds.AddTable(table)

	assert.True(t, ds.HasTable("t"))
	assert.Same(t, ds, table.Datasource())

	_, err := ds.Table("missing")
	var nerr *core.NoSuchTableError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "ds", nerr.Datasource)

	_, err = table.ValueSet(context.Background(), core.NewEntity("Participant", "1"))
	var verr *core.NoSuchValueSetError
	assert.ErrorAs(t, err, &verr)
}

func TestOpen_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "medications.yaml"), []byte(medicationsYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	ds, err := datasource.New(context.Background(), datasource.Spec{
		Name:       "static",
		Type:       TypeName,
		DSN:        dir,
		EntityType: "Participant",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, TypeName, ds.Type())
	require.Len(t, ds.Tables(), 1)
	assert.True(t, ds.HasTable("medications"))
}
