// Package starlark hosts derived-variable scripts on go.starlark.net and
// binds the expression function library to them.
package starlark

import (
	"fmt"
	"hash/fnv"
	"maps"
	"slices"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// ScriptableValue exposes a value.Value to scripts.
//
// Attributes: value (native scalar or list, None when null), type, unit,
// is_null, is_sequence, size. Sequences are indexable. Arithmetic operators
// apply to the native value.
type ScriptableValue struct {
	Value value.Value
	Unit  string
}

var (
	_ starlark.HasAttrs   = (*ScriptableValue)(nil)
	_ starlark.Indexable  = (*ScriptableValue)(nil)
	_ starlark.HasBinary  = (*ScriptableValue)(nil)
	_ starlark.Comparable = (*ScriptableValue)(nil)
)

// NewScriptableValue wraps a value.
func NewScriptableValue(v value.Value, unit string) *ScriptableValue {
	return &ScriptableValue{Value: v, Unit: unit}
}

func (sv *ScriptableValue) String() string {
	if sv.Value.IsNull() {
		return "null"
	}
	return sv.Value.String()
}

func (sv *ScriptableValue) Type() string { return "value" }
func (sv *ScriptableValue) Freeze()      {}

func (sv *ScriptableValue) Truth() starlark.Bool {
	if sv.Value.IsNull() {
		return starlark.False
	}
	return Native(sv.Value).Truth()
}

func (sv *ScriptableValue) Hash() (uint32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sv.Value.Type().Name()))
	_, _ = h.Write([]byte(sv.Value.String()))
	return h.Sum32(), nil
}

func (sv *ScriptableValue) AttrNames() []string {
	return []string{"any", "is_null", "is_sequence", "size", "type", "unit", "value"}
}

func (sv *ScriptableValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "value":
		return Native(sv.Value), nil
	case "type":
		return starlark.String(sv.Value.Type().Name()), nil
	case "unit":
		return starlark.String(sv.Unit), nil
	case "is_null":
		return starlark.Bool(sv.Value.IsNull()), nil
	case "is_sequence":
		return starlark.Bool(sv.Value.IsSequence()), nil
	case "size":
		return starlark.MakeInt(sv.Value.Size()), nil
	case "any":
		return starlark.NewBuiltin("any", sv.any), nil
	}
	return nil, nil
}

// any reports whether the value, or one element of a sequence, equals one
// of the arguments.
func (sv *ScriptableValue) any(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	candidates := make([]value.Value, len(args))
	for i, arg := range args {
		c, err := ToValue(arg, sv.Value.Type())
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i+1, err)
		}
		candidates[i] = c
	}
	if sv.Value.IsNull() {
		return starlark.False, nil
	}
	for _, e := range sv.Value.AsSequence().Values() {
		for _, c := range candidates {
			if e.Equal(c) {
				return starlark.True, nil
			}
		}
	}
	return starlark.False, nil
}

func (sv *ScriptableValue) Len() int {
	if sv.Value.IsNull() {
		return 0
	}
	return sv.Value.Size()
}

func (sv *ScriptableValue) Index(i int) starlark.Value {
	e, ok := sv.Value.AsSequence().At(i)
	if !ok {
		return starlark.None
	}
	return &ScriptableValue{Value: e, Unit: sv.Unit}
}

func (sv *ScriptableValue) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	x := Native(sv.Value)
	if other, ok := y.(*ScriptableValue); ok {
		y = Native(other.Value)
	}
	if side == starlark.Right {
		return starlark.Binary(op, y, x)
	}
	return starlark.Binary(op, x, y)
}

func (sv *ScriptableValue) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other := y.(*ScriptableValue)
	switch op {
	case syntax.EQL:
		return sv.Value.Equal(other.Value), nil
	case syntax.NEQ:
		return !sv.Value.Equal(other.Value), nil
	}
	if sv.Value.IsNull() || other.Value.IsNull() || sv.Value.IsSequence() || other.Value.IsSequence() {
		return false, fmt.Errorf("%s not supported on null or sequence values", op)
	}
	return starlark.CompareDepth(op, Native(sv.Value), Native(other.Value), depth)
}

// Native converts a value to plain Starlark: None for null, a list for
// sequences, strings for dates, datetimes and locales.
func Native(v value.Value) starlark.Value {
	if v.IsNull() {
		return starlark.None
	}
	if v.IsSequence() {
		elems := v.Values()
		list := make([]starlark.Value, len(elems))
		for i, e := range elems {
			list[i] = Native(e)
		}
		return starlark.NewList(list)
	}
	switch raw := v.Raw().(type) {
	case string:
		return starlark.String(raw)
	case int64:
		return starlark.MakeInt64(raw)
	case float64:
		return starlark.Float(raw)
	case bool:
		return starlark.Bool(raw)
	case []byte:
		return starlark.Bytes(raw)
	default:
		return starlark.String(v.String())
	}
}

// ToValue converts a script result to a value of type t. Values already of
// type t pass through; other scalars are parsed from strings or coerced;
// lists and tuples become sequences.
func ToValue(x starlark.Value, t *value.Type) (value.Value, error) {
	switch x := x.(type) {
	case starlark.NoneType:
		return t.Null(), nil
	case *ScriptableValue:
		if x.Value.Type().Equal(t) {
			return x.Value, nil
		}
		if x.Value.IsNull() {
			if x.Value.IsSequence() {
				return t.NullSequence(), nil
			}
			return t.Null(), nil
		}
		if x.Value.IsSequence() {
			return sequenceOf(x.Value.Values(), t, func(e value.Value) starlark.Value {
				return &ScriptableValue{Value: e}
			})
		}
		return t.Parse(x.Value.String())
	case *starlark.List:
		return iterableToValue(x, t)
	case starlark.Tuple:
		return iterableToValue(x, t)
	case starlark.String:
		return t.Parse(string(x))
	}

	if t.Equal(value.Text) {
		return t.Parse(x.String())
	}
	native, err := ToGo(x)
	if err != nil {
		return value.Value{}, err
	}
	return t.Coerce(native)
}

func iterableToValue(x starlark.Indexable, t *value.Type) (value.Value, error) {
	elems := make([]starlark.Value, x.Len())
	for i := range elems {
		elems[i] = x.Index(i)
	}
	return sequenceOf(elems, t, func(e starlark.Value) starlark.Value { return e })
}

func sequenceOf[E any](elems []E, t *value.Type, wrap func(E) starlark.Value) (value.Value, error) {
	values := make([]value.Value, len(elems))
	for i, e := range elems {
		v, err := ToValue(wrap(e), t)
		if err != nil {
			return value.Value{}, fmt.Errorf("element %d: %w", i, err)
		}
		if v.IsSequence() {
			return value.Value{}, &value.TypeMismatchError{Type: t.Name(), Input: v}
		}
		values[i] = v
	}
	return t.Sequence(values...)
}

// InferValue converts a script result without a declared type.
func InferValue(x starlark.Value) (value.Value, error) {
	switch x := x.(type) {
	case *ScriptableValue:
		return x.Value, nil
	case *starlark.List, starlark.Tuple:
		indexable := x.(starlark.Indexable)
		if indexable.Len() == 0 {
			return value.Text.NullSequence(), nil
		}
		first, err := InferValue(indexable.Index(0))
		if err != nil {
			return value.Value{}, err
		}
		return iterableToValue(indexable, first.Type())
	}
	native, err := ToGo(x)
	if err != nil {
		return value.Value{}, err
	}
	return value.Infer(native)
}

// ScriptableVariable exposes variable metadata to scripts.
type ScriptableVariable struct {
	Variable *core.Variable
}

var _ starlark.HasAttrs = (*ScriptableVariable)(nil)

func (s *ScriptableVariable) String() string        { return "variable(" + s.Variable.Name + ")" }
func (s *ScriptableVariable) Type() string          { return "variable" }
func (s *ScriptableVariable) Freeze()               {}
func (s *ScriptableVariable) Truth() starlark.Bool  { return starlark.True }
func (s *ScriptableVariable) Hash() (uint32, error) { return starlark.String(s.Variable.Name).Hash() }

func (s *ScriptableVariable) AttrNames() []string {
	return []string{
		"attribute", "categories", "entity_type", "index", "is_derived",
		"mime_type", "name", "occurrence_group", "repeatable", "type", "unit",
	}
}

func (s *ScriptableVariable) Attr(name string) (starlark.Value, error) {
	v := s.Variable
	switch name {
	case "name":
		return GoToStarlark(v.Name)
	case "type":
		return GoToStarlark(v.ValueType.Name())
	case "unit":
		return GoToStarlark(v.Unit)
	case "mime_type":
		return GoToStarlark(v.MimeType)
	case "repeatable":
		return GoToStarlark(v.Repeatable)
	case "occurrence_group":
		return GoToStarlark(v.OccurrenceGroup)
	case "entity_type":
		return GoToStarlark(v.EntityType)
	case "index":
		return GoToStarlark(v.Index)
	case "is_derived":
		return GoToStarlark(v.IsDerived())
	case "categories":
		return GoToStarlark(v.Categories)
	case "attribute":
		return starlark.NewBuiltin("attribute", s.attribute), nil
	}
	return nil, nil
}

func (s *ScriptableVariable) attribute(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, locale string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "locale?", &locale); err != nil {
		return nil, err
	}
	if v, ok := s.Variable.Attribute(name, locale); ok {
		return GoToStarlark(v)
	}
	return GoToStarlark(nil)
}

// GoToStarlark converts a Go value handed to a script by a builtin: values
// become *ScriptableValue, variables *ScriptableVariable, group results
// dicts in match order and categories structs.
func GoToStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case value.Value:
		return NewScriptableValue(val, ""), nil
	case *core.Variable:
		return &ScriptableVariable{Variable: val}, nil
	case eval.GroupResult:
		dict := starlark.NewDict(val.Len())
		for _, name := range val.Names() {
			elem, _ := val.Get(name)
			if err := dict.SetKey(starlark.String(name), NewScriptableValue(elem, "")); err != nil {
				return nil, fmt.Errorf("group %q: %w", name, err)
			}
		}
		return dict, nil
	case core.Category:
		attrs := make(map[string]string, len(val.Attributes))
		for _, a := range val.Attributes {
			if _, ok := attrs[a.Name]; !ok || a.Locale == "" {
				attrs[a.Name] = a.Value
			}
		}
		dict := starlark.NewDict(len(attrs))
		for _, name := range slices.Sorted(maps.Keys(attrs)) {
			_ = dict.SetKey(starlark.String(name), starlark.String(attrs[name]))
		}
		return starlarkstruct.FromStringDict(starlark.String("category"), starlark.StringDict{
			"name":       starlark.String(val.Name),
			"missing":    starlark.Bool(val.Missing),
			"attributes": dict,
		}), nil
	case []core.Category:
		list := make([]starlark.Value, len(val))
		for i, c := range val {
			sv, err := GoToStarlark(c)
			if err != nil {
				return nil, fmt.Errorf("category %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case string:
		return starlark.String(val), nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	}
	return nil, fmt.Errorf("unsupported type: %T", v)
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, []byte, value.Value, []any,
// map[string]any, or nil
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case *ScriptableValue:
		return val.Value, nil

	case starlark.String:
		return string(val), nil

	case starlark.Bytes:
		return []byte(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", val.String())
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %T", item[0])
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	case starlark.Tuple:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}
