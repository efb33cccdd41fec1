package eval

import (
	"context"
	"testing"
	"time"

	"github.com/leapstack-labs/harmonize/internal/resolver"
	"github.com/leapstack-labs/harmonize/internal/testutil"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasources/memory"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLibrary(fx *testutil.Cohort) *Library {
	return NewLibrary(resolver.New(fx))
}

func rowContext(t *testing.T, table core.ValueTable, id string) *Context {
	t.Helper()
	vs, err := table.ValueSet(context.Background(), core.NewEntity(table.EntityType(), id))
	require.NoError(t, err)
	ec := NewContext(context.Background(), testutil.NewTestLogger(t))
	ec.Enter(RowFrames(table, vs)...)
	return ec
}

func vectorContext(t *testing.T, table core.ValueTable, cache *VectorCache, pos int) *Context {
	t.Helper()
	ec := NewContext(context.Background(), testutil.NewTestLogger(t))
	ec.Enter(Frame{Kind: KindTable, Value: table}, Frame{Kind: KindVectorCache, Value: cache})
	ec.Enter(VectorFrames(pos, cache)...)
	return ec
}

func TestValue_SelfReference(t *testing.T) {
	ctx := context.Background()
	fx := testutil.NewCohort()
	lib := newLibrary(fx)

	for _, id := range []string{"1", "2", "3"} {
		ec := rowContext(t, fx.Participants, id)
		got, variable, err := lib.Value(ec, "AGE")
		require.NoError(t, err)
		assert.Equal(t, "AGE", variable.Name)

		src, err := fx.Participants.Source("AGE")
		require.NoError(t, err)
		vs, err := ec.ValueSet()
		require.NoError(t, err)
		want, err := src.Value(ctx, vs)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "entity %s", id)
	}
}

func TestValue_CrossTable(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)

	got, _, err := lib.Value(rowContext(t, fx.Participants, "1"), "clinic.visits:VISIT_DATE")
	require.NoError(t, err)
	assert.Equal(t, "2020-01-31", got.String())

	got, _, err = lib.Value(rowContext(t, fx.Participants, "2"), "clinic.visits:VISIT_DATE")
	require.NoError(t, err)
	assert.True(t, got.IsNull())
	assert.Same(t, value.Date, got.Type())

	got, _, err = lib.Value(rowContext(t, fx.Participants, "2"), "medications:DRUG")
	require.NoError(t, err)
	assert.True(t, got.IsSequence())
	assert.Equal(t, "B", got.String())
}

func TestValue_Errors(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)

	_, _, err := lib.Value(rowContext(t, fx.Participants, "1"), "HEIGHT")
	var noVar *core.NoSuchVariableError
	assert.ErrorAs(t, err, &noVar)

	ec := NewContext(context.Background(), nil)
	ec.Push(KindTable, fx.Participants)
	_, _, err = lib.Value(ec, "AGE")
	var missing *ContextMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, KindValueSet, missing.Kind)
}

func TestValue_Vector(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)
	entities, err := fx.Participants.Entities(context.Background())
	require.NoError(t, err)
	cache := NewVectorCache(entities)

	var ages []string
	for i := range entities {
		got, _, err := lib.Value(vectorContext(t, fx.Participants, cache, i), "AGE")
		require.NoError(t, err)
		ages = append(ages, got.String())
	}
	assert.Equal(t, []string{"34", "51", ""}, ages)

	// other tables are read by the same identifier
	got, _, err := lib.Value(vectorContext(t, fx.Participants, cache, 2), "clinic.visits:VISIT_DATE")
	require.NoError(t, err)
	assert.Equal(t, "2021-06-15", got.String())
}

func TestValue_VectorOtherEntityType(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)
	cache := NewVectorCache([]core.VariableEntity{core.NewEntity("Participant", "m2")})

	got, _, err := lib.Value(vectorContext(t, fx.Participants, cache, 0), "mothers:MOTHER_AGE")
	require.NoError(t, err)
	assert.Equal(t, "72", got.String())
}

// rowOnlyTable hides the vector capability of its sources.
type rowOnlyTable struct {
	*memory.Table
}

type rowOnlySource struct {
	core.VariableValueSource
}

func (rowOnlySource) VectorSource() (core.VectorSource, bool) { return nil, false }

func (t rowOnlyTable) Source(name string) (core.VariableValueSource, error) {
	src, err := t.Table.Source(name)
	if err != nil {
		return nil, err
	}
	return rowOnlySource{src}, nil
}

func TestValue_NotVectorizable(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)
	table := rowOnlyTable{fx.Participants}
	cache := NewVectorCache(batch("1"))

	_, _, err := lib.Value(vectorContext(t, table, cache, 0), "AGE")
	var notVec *NotVectorizableError
	require.ErrorAs(t, err, &notVec)
	assert.Equal(t, "AGE", notVec.Reference)
}

func TestVector_SharedSourceComputedOnce(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)

	src := &countingSource{}
	table := memory.NewTable("counted", "Participant", &core.Variable{Name: "ID", ValueType: value.Text})
	counted := countedTable{Table: table, src: src}
	cache := NewVectorCache(batch("1", "2", "3"))

	// two expressions over the whole batch, both reading ID
	for expr := 0; expr < 2; expr++ {
		for i := 0; i < cache.Len(); i++ {
			got, _, err := lib.Value(vectorContext(t, counted, cache, i), "ID")
			require.NoError(t, err)
			assert.Equal(t, cache.Entities()[i].Identifier, got.String())
		}
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

// countedTable serves every variable from one counting vector source.
type countedTable struct {
	*memory.Table
	src *countingSource
}

type countedSource struct {
	core.VariableValueSource
	vector core.VectorSource
}

func (s countedSource) VectorSource() (core.VectorSource, bool) { return s.vector, true }

func (t countedTable) Source(name string) (core.VariableValueSource, error) {
	src, err := t.Table.Source(name)
	if err != nil {
		return nil, err
	}
	return countedSource{VariableValueSource: src, vector: t.src}, nil
}

func TestJoin(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)

	tests := []struct {
		name     string
		entity   string
		joined   string
		want     string
		wantNull bool
		wantSeq  bool
		wantType *value.Type
	}{
		{name: "match", entity: "1", joined: "mothers:MOTHER_AGE", want: "60", wantType: value.Integer},
		{name: "identifier without row", entity: "2", joined: "mothers:MOTHER_AGE", wantNull: true, wantType: value.Integer},
		{name: "null identifier", entity: "3", joined: "mothers:MOTHER_AGE", wantNull: true, wantType: value.Integer},
		{name: "null identifier repeatable", entity: "3", joined: "medications:DRUG", wantNull: true, wantSeq: true, wantType: value.Text},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, variable, err := lib.Join(rowContext(t, fx.Participants, tt.entity), tt.joined, "MOTHER_ID")
			require.NoError(t, err)
			assert.Same(t, tt.wantType, got.Type())
			assert.Same(t, tt.wantType, variable.ValueType)
			assert.Equal(t, tt.wantNull, got.IsNull())
			assert.Equal(t, tt.wantSeq, got.IsSequence())
			if !tt.wantNull {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestJoin_ByIdentifierValue(t *testing.T) {
	table := memory.NewTable("a", "Participant",
		&core.Variable{Name: "ref", ValueType: value.Text},
	)
	table.MustSet("e", "ref", value.Text.MustCoerce("42"))
	other := memory.NewTable("b", "Thing",
		&core.Variable{Name: "v", ValueType: value.Integer},
	)
	other.MustSet("42", "v", value.Integer.MustCoerce(7))

	ds := memory.NewDatasource("ds")
	ds.AddTable(table)
	ds.AddTable(other)
	lib := NewLibrary(resolver.New(nil))

	got, _, err := lib.Join(rowContext(t, table, "e"), "b:v", "ref")
	require.NoError(t, err)
	assert.True(t, got.Equal(value.Integer.MustCoerce(7)))
}

func TestJoin_Errors(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)
	ec := rowContext(t, fx.Participants, "1")

	_, _, err := lib.Join(ec, "mothers:NOPE", "MOTHER_ID")
	var noVar *core.NoSuchVariableError
	assert.ErrorAs(t, err, &noVar)

	_, _, err = lib.Join(ec, "nowhere:X", "MOTHER_ID")
	var noTable *core.NoSuchTableError
	assert.ErrorAs(t, err, &noTable)
}

func TestVar(t *testing.T) {
	fx := testutil.NewCohort()
	lib := newLibrary(fx)

	variable, err := lib.Var(rowContext(t, fx.Participants, "1"), "medications:DOSE")
	require.NoError(t, err)
	assert.Equal(t, "mg", variable.Unit)
	assert.True(t, variable.Repeatable)

	// fully qualified references need no context
	variable, err = lib.Var(NewContext(context.Background(), nil), "cohort.participants:SEX")
	require.NoError(t, err)
	assert.Len(t, variable.Categories, 3)
}

func TestID(t *testing.T) {
	lib := NewLibrary(resolver.New(nil))
	ec := NewContext(context.Background(), nil)

	_, err := lib.ID(ec)
	var missing *ContextMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, KindEntity, missing.Kind)

	ec.Push(KindEntity, core.NewEntity("Participant", "7"))
	got, err := lib.ID(ec)
	require.NoError(t, err)
	assert.Same(t, value.Text, got.Type())
	assert.Equal(t, "7", got.String())
}

func TestNow(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	lib := NewLibrary(resolver.New(nil), WithClock(func() time.Time { return at }))

	got := lib.Now()
	assert.Same(t, value.DateTime, got.Type())
	assert.Equal(t, "2024-03-01T12:30:00.000Z", got.String())
}

func TestNewValue(t *testing.T) {
	lib := NewLibrary(resolver.New(nil))

	v, err := lib.NewValue(int64(3), "")
	require.NoError(t, err)
	assert.Same(t, value.Integer, v.Type())

	v, err = lib.NewValue("2020-02-29", "date")
	require.NoError(t, err)
	assert.Same(t, value.Date, v.Type())

	v, err = lib.NewValue(2.5, "decimal")
	require.NoError(t, err)
	assert.Equal(t, "2.5", v.String())

	v, err = lib.NewValue(int64(123), "text")
	require.NoError(t, err)
	assert.Same(t, value.Text, v.Type())
	assert.Equal(t, "123", v.Raw())

	v, err = lib.NewValue(value.Text.Null(), "integer")
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Integer.Null()))

	_, err = lib.NewValue("x", "integer")
	var parseErr *value.ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = lib.NewValue("x", "money")
	var unknown *value.UnknownTypeError
	assert.ErrorAs(t, err, &unknown)
}

func TestLog(t *testing.T) {
	logger, records := testutil.NewCapturingLogger()
	lib := NewLibrary(resolver.New(nil))
	ec := NewContext(context.Background(), logger)

	lib.Log(ec, "age {} of {}", value.Integer.MustCoerce(3), value.Text.Null())
	assert.Equal(t, []string{"age 3 of null"}, records.Messages())
}

func TestFormatLog(t *testing.T) {
	tests := []struct {
		format string
		args   []any
		want   string
	}{
		{format: "plain", want: "plain"},
		{format: "{} and {}", args: []any{1, "b"}, want: "1 and b"},
		{format: "only {}", args: []any{1, 2}, want: "only 1"},
		{format: "{} and {}", args: []any{nil}, want: "null and {}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLog(tt.format, tt.args...))
	}
}
