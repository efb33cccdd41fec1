package starlark

import (
	"math/big"
	"testing"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

func TestGoToStarlark(t *testing.T) {
	var group eval.GroupResult
	tests := []struct {
		name    string
		input   any
		wantStr string
		wantErr bool
	}{
		{name: "string", input: "hello", wantStr: `"hello"`},
		{name: "int", input: 42, wantStr: "42"},
		{name: "bool true", input: true, wantStr: "True"},
		{name: "nil", input: nil, wantStr: "None"},
		{name: "value", input: value.Integer.MustCoerce(7), wantStr: "7"},
		{name: "null value", input: value.Text.Null(), wantStr: "null"},
		{name: "variable", input: &core.Variable{Name: "AGE", ValueType: value.Integer}, wantStr: "variable(AGE)"},
		{name: "empty group", input: group, wantStr: "{}"},
		{name: "unsupported", input: struct{}{}, wantErr: true},
		{name: "int64", input: int64(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GoToStarlark(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error")
				return
			}
			require.NoError(t, err, "unexpected error")
			assert.Equal(t, tt.wantStr, got.String(), "GoToStarlark()")
		})
	}
}

func TestGoToStarlark_Category(t *testing.T) {
	got, err := GoToStarlark(core.Category{
		Name:    "9",
		Missing: true,
		Attributes: []core.Attribute{
			{Name: "label", Locale: "fr", Value: "Inconnu"},
			{Name: "label", Value: "Unknown"},
		},
	})
	require.NoError(t, err)
	st, ok := got.(starlark.HasAttrs)
	require.True(t, ok, "got %T", got)

	missing, err := st.Attr("missing")
	require.NoError(t, err)
	assert.Equal(t, starlark.True, missing)
	attrs, err := st.Attr("attributes")
	require.NoError(t, err)
	assert.Equal(t, `{"label": "Unknown"}`, attrs.String())

	list, err := GoToStarlark([]core.Category{{Name: "1"}, {Name: "2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, list.(*starlark.List).Len())
	assert.Contains(t, list.String(), `name = "2"`)
}

func TestToGo(t *testing.T) {
	tests := []struct {
		name    string
		input   starlark.Value
		want    any
		wantErr bool
	}{
		{name: "string", input: starlark.String("hello"), want: "hello"},
		{name: "int", input: starlark.MakeInt(42), want: int64(42)},
		{name: "float", input: starlark.Float(3.14), want: 3.14},
		{name: "bool", input: starlark.Bool(true), want: true},
		{name: "none", input: starlark.None, want: nil},
		{name: "bytes", input: starlark.Bytes("ab"), want: []byte("ab")},
		{name: "list", input: starlark.NewList([]starlark.Value{starlark.MakeInt(1)}), want: []any{int64(1)}},
		{name: "value", input: NewScriptableValue(value.Boolean.MustCoerce(true), ""), want: value.Boolean.MustCoerce(true)},
		{name: "huge int", input: starlark.MakeBigInt(new(big.Int).Lsh(big.NewInt(1), 100)), wantErr: true},
		{name: "function", input: starlark.NewBuiltin("f", nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error")
				return
			}
			require.NoError(t, err, "unexpected error")
			assert.Equal(t, tt.want, got, "ToGo()")
		})
	}
}

func TestScriptableValue_Attrs(t *testing.T) {
	doses, err := value.Integer.SequenceOf(10, 20)
	require.NoError(t, err)
	sv := NewScriptableValue(doses, "mg")

	attr := func(name string) starlark.Value {
		v, err := sv.Attr(name)
		require.NoError(t, err)
		require.NotNil(t, v, name)
		return v
	}
	assert.Equal(t, `"integer"`, attr("type").String())
	assert.Equal(t, `"mg"`, attr("unit").String())
	assert.Equal(t, "True", attr("is_sequence").String())
	assert.Equal(t, "False", attr("is_null").String())
	assert.Equal(t, "2", attr("size").String())
	assert.Equal(t, "[10, 20]", attr("value").String())

	assert.Equal(t, 2, sv.Len())
	second := sv.Index(1).(*ScriptableValue)
	assert.Equal(t, "20", second.String())
	assert.Equal(t, "mg", second.Unit)

	missing, err := sv.Attr("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestScriptableValue_Null(t *testing.T) {
	sv := NewScriptableValue(value.Date.Null(), "")
	assert.Equal(t, "null", sv.String())
	assert.Equal(t, starlark.False, sv.Truth())
	assert.Equal(t, 0, sv.Len())
	v, err := sv.Attr("value")
	require.NoError(t, err)
	assert.Equal(t, starlark.None, v)
}

func TestScriptableValue_Compare(t *testing.T) {
	a := NewScriptableValue(value.Integer.MustCoerce(1), "")
	b := NewScriptableValue(value.Integer.MustCoerce(2), "")

	lt, err := starlark.Compare(syntax.LT, a, b)
	require.NoError(t, err)
	assert.True(t, lt)

	eq, err := starlark.Compare(syntax.EQL, a, NewScriptableValue(value.Integer.MustCoerce(1), "unit"))
	require.NoError(t, err)
	assert.True(t, eq)

	_, err = starlark.Compare(syntax.LT, a, NewScriptableValue(value.Integer.Null(), ""))
	assert.Error(t, err)
}

func TestScriptableValue_Binary(t *testing.T) {
	a := NewScriptableValue(value.Integer.MustCoerce(40), "")

	sum, err := starlark.Binary(syntax.PLUS, a, starlark.MakeInt(2))
	require.NoError(t, err)
	assert.Equal(t, "42", sum.String())

	half, err := starlark.Binary(syntax.SLASH, starlark.Float(80), a)
	require.NoError(t, err)
	assert.Equal(t, "2.0", half.String())
}

func TestToValue(t *testing.T) {
	tests := []struct {
		name    string
		input   starlark.Value
		typ     *value.Type
		want    string
		wantSeq bool
		wantErr bool
	}{
		{name: "string parsed", input: starlark.String("2020-01-31"), typ: value.Date, want: "2020-01-31"},
		{name: "int coerced", input: starlark.MakeInt(3), typ: value.Decimal, want: "3"},
		{name: "int to text", input: starlark.MakeInt(3), typ: value.Text, want: "3"},
		{name: "float", input: starlark.Float(1.5), typ: value.Decimal, want: "1.5"},
		{name: "none", input: starlark.None, typ: value.Integer, want: ""},
		{name: "list", input: starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.MakeInt(2)}), typ: value.Integer, want: "1,2", wantSeq: true},
		{name: "tuple", input: starlark.Tuple{starlark.String("a")}, typ: value.Text, want: "a", wantSeq: true},
		{name: "value same type", input: NewScriptableValue(value.Boolean.MustCoerce(true), ""), typ: value.Boolean, want: "true"},
		{name: "value converted", input: NewScriptableValue(value.Text.MustCoerce("12"), ""), typ: value.Integer, want: "12"},
		{name: "bad string", input: starlark.String("x"), typ: value.Integer, wantErr: true},
		{name: "float to boolean", input: starlark.Float(1.5), typ: value.Boolean, wantErr: true},
		{name: "nested list", input: starlark.NewList([]starlark.Value{starlark.NewList(nil)}), typ: value.Text, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToValue(tt.input, tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.typ, got.Type())
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.wantSeq, got.IsSequence())
		})
	}
}

func TestInferValue(t *testing.T) {
	v, err := InferValue(starlark.MakeInt(5))
	require.NoError(t, err)
	assert.Same(t, value.Integer, v.Type())

	v, err = InferValue(starlark.NewList([]starlark.Value{starlark.String("a"), starlark.String("b")}))
	require.NoError(t, err)
	assert.Same(t, value.Text, v.Type())
	assert.Equal(t, "a,b", v.String())

	v, err = InferValue(starlark.NewList(nil))
	require.NoError(t, err)
	assert.True(t, v.IsNull())
	assert.True(t, v.IsSequence())
}

func TestScriptableVariable(t *testing.T) {
	sv := &ScriptableVariable{Variable: &core.Variable{
		Name:            "DOSE",
		ValueType:       value.Integer,
		Unit:            "mg",
		Repeatable:      true,
		OccurrenceGroup: "meds",
		EntityType:      "Participant",
		Attributes: []core.Attribute{
			{Name: "label", Value: "Dose"},
			{Name: "label", Locale: "fr", Value: "Dosage"},
		},
		Categories: []core.Category{{Name: "0", Missing: true}},
	}}

	attr := func(name string) string {
		v, err := sv.Attr(name)
		require.NoError(t, err)
		return v.String()
	}
	assert.Equal(t, `"DOSE"`, attr("name"))
	assert.Equal(t, `"integer"`, attr("type"))
	assert.Equal(t, "True", attr("repeatable"))
	assert.Equal(t, `"meds"`, attr("occurrence_group"))
	assert.Equal(t, `"Participant"`, attr("entity_type"))
	assert.Equal(t, "0", attr("index"))
	assert.Contains(t, attr("categories"), `name = "0"`)

	fn, err := sv.Attr("attribute")
	require.NoError(t, err)
	thread := &starlark.Thread{}
	fr, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String("label"), starlark.String("fr")}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"Dosage"`, fr.String())
	def, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String("label")}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"Dose"`, def.String())
	none, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String("description")}, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.None, none)
}
