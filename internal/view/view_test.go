package view

import (
	"context"
	"testing"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/internal/registry"
	"github.com/leapstack-labs/harmonize/internal/resolver"
	"github.com/leapstack-labs/harmonize/internal/starlark"
	"github.com/leapstack-labs/harmonize/internal/testutil"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gostarlark "go.starlark.net/starlark"
)

type fixture struct {
	cohort  *Datasource
	globals gostarlark.StringDict
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := testutil.NewCohort()
	cohort := NewDatasource(fx.Cohort)

	reg := registry.New(testutil.NewTestLogger(t))
	require.NoError(t, reg.Add(cohort))
	require.NoError(t, reg.Add(fx.Clinic))

	lib := eval.NewLibrary(resolver.New(reg))
	return &fixture{cohort: cohort, globals: starlark.Predeclared(lib)}
}

func (f *fixture) view(t *testing.T, name, table string, variables ...*core.Variable) *View {
	t.Helper()
	v, err := f.cohort.NewView(name, table, nil)
	require.NoError(t, err)
	for _, variable := range variables {
		require.NoError(t, v.AddVariable(variable, f.globals))
	}
	require.NoError(t, v.Validate())
	return v
}

func derived(name string, vt *value.Type, script string) *core.Variable {
	return &core.Variable{Name: name, ValueType: vt, Script: script}
}

// rowValues reads a variable row by row for every entity of a table.
func rowValues(t *testing.T, table core.ValueTable, name string) []value.Value {
	t.Helper()
	ctx := context.Background()
	src, err := table.Source(name)
	require.NoError(t, err)
	entities, err := table.Entities(ctx)
	require.NoError(t, err)

	out := make([]value.Value, len(entities))
	for i, e := range entities {
		vs, err := table.ValueSet(ctx, e)
		require.NoError(t, err)
		out[i], err = src.Value(ctx, vs)
		require.NoError(t, err)
	}
	return out
}

func vectorValues(t *testing.T, table core.ValueTable, name string) []value.Value {
	t.Helper()
	ctx := context.Background()
	src, err := table.Source(name)
	require.NoError(t, err)
	vec, ok := src.VectorSource()
	require.True(t, ok)
	entities, err := table.Entities(ctx)
	require.NoError(t, err)
	out, err := vec.Values(ctx, entities)
	require.NoError(t, err)
	return out
}

func strs(values []value.Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

func TestView_Variables(t *testing.T) {
	f := newFixture(t)
	v := f.view(t, "derived", "participants",
		derived("AGE_NEXT", value.Integer, "None if $('AGE').is_null else $('AGE') + 1"),
		&core.Variable{Name: "LABEL", Script: "'p' + $id()"},
	)

	vars := v.Variables()
	require.Len(t, vars, 6)
	assert.Equal(t, "AGE", vars[0].Name)
	assert.Equal(t, "AGE_NEXT", vars[4].Name)
	assert.Equal(t, 5, vars[4].Index)
	assert.Equal(t, 6, vars[5].Index)
	assert.Equal(t, "Participant", vars[4].EntityType)
	assert.Same(t, value.Text, vars[5].ValueType, "untyped derived variables are text")
	assert.True(t, vars[4].IsDerived())

	assert.Equal(t, "Participant", v.EntityType())
	assert.Same(t, f.cohort, v.Datasource())
	assert.Len(t, v.Derived(), 2)

	_, err := v.Variable("AGE")
	require.NoError(t, err)
	_, err = v.Variable("HEIGHT")
	var noVar *core.NoSuchVariableError
	require.ErrorAs(t, err, &noVar)
	assert.Equal(t, "derived", noVar.Table)

	_, err = v.Source("HEIGHT")
	require.ErrorAs(t, err, &noVar)
}

func TestView_Duplicates(t *testing.T) {
	f := newFixture(t)
	v := f.view(t, "derived", "participants", derived("X", value.Integer, "1"))

	var dup *DuplicateVariableError
	require.ErrorAs(t, v.AddVariable(derived("X", value.Integer, "2"), f.globals), &dup)
	require.ErrorAs(t, v.AddVariable(derived("AGE", value.Integer, "2"), f.globals), &dup)
	assert.Equal(t, "AGE", dup.Variable)

	var evalErr *starlark.EvalError
	require.ErrorAs(t, v.AddVariable(derived("BAD", value.Integer, "$('AGE' +"), f.globals), &evalErr)
	assert.Len(t, v.Derived(), 1)
}

func TestView_DerivedValues(t *testing.T) {
	f := newFixture(t)
	v := f.view(t, "derived", "participants",
		derived("AGE_NEXT", value.Integer, "None if $('AGE').is_null else $('AGE') + 1"),
		derived("AGE_NEXT2", value.Integer, "None if $('AGE_NEXT').is_null else $('AGE_NEXT') + 1"),
		derived("MOTHER_AGE", value.Integer, "$join('mothers:MOTHER_AGE', 'MOTHER_ID')"),
		derived("FIRST_VISIT", value.Date, "$('clinic.visits:VISIT_DATE')"),
	)

	assert.Equal(t, []string{"35", "52", ""}, strs(rowValues(t, v, "AGE_NEXT2")))
	assert.Equal(t, []string{"60", "", ""}, strs(rowValues(t, v, "MOTHER_AGE")))
	assert.Equal(t, []string{"2020-01-31", "", "2021-06-15"}, strs(rowValues(t, v, "FIRST_VISIT")))

	for _, name := range []string{"AGE_NEXT", "AGE_NEXT2", "MOTHER_AGE", "FIRST_VISIT", "SEX"} {
		row, vector := rowValues(t, v, name), vectorValues(t, v, name)
		require.Len(t, vector, len(row))
		for i := range row {
			assert.True(t, row[i].Equal(vector[i]), "%s[%d]: row %s vector %s", name, i, row[i], vector[i])
		}
	}
}

func TestView_OnView(t *testing.T) {
	f := newFixture(t)
	f.view(t, "derived", "participants",
		derived("AGE_NEXT", value.Integer, "None if $('AGE').is_null else $('AGE') + 1"),
	)
	top := f.view(t, "derived2", "derived",
		derived("DOUBLE", value.Integer, "None if $('AGE_NEXT').is_null else $('AGE_NEXT') * 2"),
		derived("QUALIFIED", value.Integer, "$('cohort.derived:AGE_NEXT')"),
	)

	assert.Equal(t, []string{"70", "104", ""}, strs(rowValues(t, top, "DOUBLE")))
	assert.Equal(t, []string{"70", "104", ""}, strs(vectorValues(t, top, "DOUBLE")))
	assert.Equal(t, []string{"35", "52", ""}, strs(vectorValues(t, top, "QUALIFIED")))
	assert.Len(t, top.Variables(), 7)
}

func TestView_Cycles(t *testing.T) {
	f := newFixture(t)
	v, err := f.cohort.NewView("derived", "participants", nil)
	require.NoError(t, err)
	require.NoError(t, v.AddVariable(derived("OK", value.Integer, "$('AGE')"), f.globals))
	require.NoError(t, v.AddVariable(derived("A", value.Integer, "$('B')"), f.globals))
	require.NoError(t, v.AddVariable(derived("B", value.Integer, "$('cohort.derived:A')"), f.globals))

	var circular *eval.CircularReferenceError
	require.ErrorAs(t, v.Validate(), &circular)
	assert.Equal(t, []string{"A", "B", "A"}, circular.Path)

	src, err := v.Source("A")
	require.NoError(t, err)
	vs, err := v.ValueSet(context.Background(), core.NewEntity("Participant", "1"))
	require.NoError(t, err)
	_, err = src.Value(context.Background(), vs)
	require.ErrorAs(t, err, &circular)
	assert.Equal(t, []string{"A", "B", "A"}, circular.Path)
}

func TestView_SelfReference(t *testing.T) {
	f := newFixture(t)
	v, err := f.cohort.NewView("derived", "participants", nil)
	require.NoError(t, err)
	require.NoError(t, v.AddVariable(derived("SELF", value.Integer, "$('SELF')"), f.globals))

	var circular *eval.CircularReferenceError
	require.ErrorAs(t, v.Validate(), &circular)
	assert.Equal(t, []string{"SELF", "SELF"}, circular.Path)
}

func TestView_ValueSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.view(t, "derived", "participants")

	vs, err := v.ValueSet(ctx, core.NewEntity("Participant", "2"))
	require.NoError(t, err)
	assert.Same(t, v, vs.Table())
	assert.Equal(t, "2", vs.Entity().Identifier)

	_, err = v.ValueSet(ctx, core.NewEntity("Participant", "99"))
	var missing *core.NoSuchValueSetError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "derived", missing.Table)

	ok, err := v.HasValueSet(ctx, core.NewEntity("Participant", "3"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDatasource(t *testing.T) {
	f := newFixture(t)
	f.view(t, "derived", "participants")
	hiding := f.view(t, "mothers", "mothers")

	var names []string
	for _, tbl := range f.cohort.Tables() {
		names = append(names, tbl.Name())
	}
	assert.Equal(t, []string{"derived", "medications", "mothers", "participants"}, names)

	got, err := f.cohort.Table("mothers")
	require.NoError(t, err)
	assert.Same(t, hiding, got)
	assert.True(t, f.cohort.HasTable("derived"))
	assert.True(t, f.cohort.HasTable("participants"))
	assert.False(t, f.cohort.HasTable("nope"))
	assert.Equal(t, "cohort", f.cohort.Name())
	assert.Equal(t, "memory", f.cohort.Type())
	assert.Len(t, f.cohort.Views(), 2)

	_, err = f.cohort.NewView("x", "nope", nil)
	var noTable *core.NoSuchTableError
	require.ErrorAs(t, err, &noTable)
	assert.NoError(t, f.cohort.Close())
}
