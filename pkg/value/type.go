package value

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// codec implements the per-kind behavior of a Type on native scalars.
// Raw scalars handed to a codec are never nil.
type codec interface {
	parse(s string) (any, error)
	format(raw any) string
	coerce(in any) (any, bool)
	equal(a, b any) bool
}

// Type is a value type. Types are singletons registered at package
// initialization; compare them with Equal or by pointer.
type Type struct {
	name     string
	numeric  bool
	dateTime bool
	codec    codec

	null    Value
	nullSeq Value
}

func newType(name string, numeric, dateTime bool, c codec) *Type {
	t := &Type{name: name, numeric: numeric, dateTime: dateTime, codec: c}
	t.null = Value{typ: t}
	t.nullSeq = Value{typ: t, sequence: true}
	registry[name] = t
	return t
}

var registry = map[string]*Type{}

// Registered value types.
var (
	Text     = newType("text", false, false, textCodec{})
	Integer  = newType("integer", true, false, integerCodec{})
	Decimal  = newType("decimal", true, false, decimalCodec{})
	Boolean  = newType("boolean", false, false, booleanCodec{})
	Date     = newType("date", false, true, dateCodec{})
	DateTime = newType("datetime", false, true, dateTimeCodec{})
	Binary   = newType("binary", false, false, binaryCodec{})
	Locale   = newType("locale", false, false, localeCodec{})
)

// ForName returns the registered type with the given name.
func ForName(name string) (*Type, error) {
	if t, ok := registry[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, &UnknownTypeError{Name: name, Available: Names()}
}

// Types returns all registered types sorted by name.
func Types() []*Type {
	types := make([]*Type, 0, len(registry))
	for _, t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].name < types[j].name })
	return types
}

// Names returns the names of all registered types, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// String implements fmt.Stringer.
func (t *Type) String() string { return t.name }

// IsNumeric reports whether values of this type are numbers.
func (t *Type) IsNumeric() bool { return t.numeric }

// IsDateTime reports whether values of this type are dates or timestamps.
func (t *Type) IsDateTime() bool { return t.dateTime }

// Equal reports whether both types have the same name.
func (t *Type) Equal(other *Type) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.name == other.name
}

// Null returns the null scalar of this type.
func (t *Type) Null() Value { return t.null }

// NullSequence returns the null sequence of this type.
func (t *Type) NullSequence() Value { return t.nullSeq }

// Parse parses the canonical text of a non-null value. The empty string is
// the empty text or the empty binary for those types, and the null value
// for types with no empty value.
func (t *Type) Parse(s string) (Value, error) {
	if s == "" && !t.hasEmpty() {
		return t.null, nil
	}
	raw, err := t.codec.parse(s)
	if err != nil {
		return Value{}, &ParseError{Type: t.name, Input: s, Err: err}
	}
	return Value{typ: t, raw: raw}, nil
}

// hasEmpty reports whether the empty string is the text of a value.
func (t *Type) hasEmpty() bool {
	return t == Text || t == Binary
}

// MustParse is like Parse but panics on error. Intended for literals.
func (t *Type) MustParse(s string) Value {
	v, err := t.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Coerce wraps a native scalar. nil yields the null value; a Value of the
// same type is returned unchanged.
func (t *Type) Coerce(in any) (Value, error) {
	switch v := in.(type) {
	case nil:
		return t.null, nil
	case Value:
		if v.typ.Equal(t) {
			return v, nil
		}
		return Value{}, &TypeMismatchError{Type: t.name, Input: in}
	}
	raw, ok := t.codec.coerce(in)
	if !ok {
		return Value{}, &TypeMismatchError{Type: t.name, Input: in}
	}
	return Value{typ: t, raw: raw}, nil
}

// MustCoerce is like Coerce but panics on error.
func (t *Type) MustCoerce(in any) Value {
	v, err := t.Coerce(in)
	if err != nil {
		panic(err)
	}
	return v
}

// Format returns the canonical text of v for display. Nulls format as the
// empty string; TextOf tells them apart from empty values.
func (t *Type) Format(v Value) string {
	s, _ := t.TextOf(v)
	return s
}

// TextOf returns the canonical text of v and false when v is a null value
// or a null sequence, which have no text.
func (t *Type) TextOf(v Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}
	if v.sequence {
		return formatSequence(v), true
	}
	return t.codec.format(v.raw), true
}

// ValueOf is the inverse of TextOf for scalars: a missing text is the null
// value.
func (t *Type) ValueOf(s string, ok bool) (Value, error) {
	if !ok {
		return t.null, nil
	}
	return t.Parse(s)
}

// SequenceValueOf is the inverse of TextOf for sequences: a missing text is
// the null sequence.
func (t *Type) SequenceValueOf(s string, ok bool) (Value, error) {
	if !ok {
		return t.nullSeq, nil
	}
	return t.ParseSequence(s)
}

// Convert builds a value from a native scalar. Strings are parsed; other
// scalars are coerced, or parsed from their text form when the type does
// not accept them natively. A null value of another type is the null value.
func (t *Type) Convert(in any) (Value, error) {
	switch v := in.(type) {
	case string:
		return t.Parse(v)
	case Value:
		switch {
		case v.typ.Equal(t):
			return v, nil
		case v.IsNull() && v.sequence:
			return t.nullSeq, nil
		case v.IsNull():
			return t.null, nil
		case v.sequence:
			return Value{}, &TypeMismatchError{Type: t.name, Input: in}
		}
		return t.Parse(v.String())
	}
	v, err := t.Coerce(in)
	var mismatch *TypeMismatchError
	if errors.As(err, &mismatch) {
		if parsed, perr := t.Parse(fmt.Sprint(in)); perr == nil {
			return parsed, nil
		}
	}
	return v, err
}

// Sequence builds a non-null sequence. Every element must be of this type.
func (t *Type) Sequence(values ...Value) (Value, error) {
	seq := make([]Value, len(values))
	for i, v := range values {
		if v.sequence || !v.typ.Equal(t) {
			return Value{}, &TypeMismatchError{Type: t.name, Input: v}
		}
		seq[i] = v
	}
	return Value{typ: t, seq: seq, sequence: true}, nil
}

// SequenceOf coerces every native scalar and builds a sequence.
func (t *Type) SequenceOf(items ...any) (Value, error) {
	values := make([]Value, len(items))
	for i, item := range items {
		v, err := t.Coerce(item)
		if err != nil {
			return Value{}, err
		}
		values[i] = v
	}
	return t.Sequence(values...)
}
