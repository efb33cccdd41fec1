package value

import "strings"

// Value is an immutable typed scalar or sequence. The zero Value has no type
// and is only valid as a placeholder next to a non-nil error.
type Value struct {
	typ      *Type
	raw      any
	seq      []Value
	sequence bool
}

// Type returns the value type.
func (v Value) Type() *Type { return v.typ }

// IsNull reports whether v is a null scalar or a null sequence.
func (v Value) IsNull() bool {
	if v.sequence {
		return v.seq == nil
	}
	return v.raw == nil
}

// IsSequence reports whether v is a sequence (possibly null).
func (v Value) IsSequence() bool { return v.sequence }

// Raw returns the native scalar, or nil for nulls and sequences.
func (v Value) Raw() any {
	if b, ok := v.raw.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v.raw
}

// AsSequence returns v when it is already a sequence, otherwise a one element
// sequence holding v. A null scalar becomes the null sequence.
func (v Value) AsSequence() Value {
	if v.sequence {
		return v
	}
	if v.raw == nil {
		return v.typ.nullSeq
	}
	return Value{typ: v.typ, seq: []Value{v}, sequence: true}
}

// Size returns the number of elements of a sequence; zero for a null
// sequence and one for scalars.
func (v Value) Size() int {
	if v.sequence {
		return len(v.seq)
	}
	return 1
}

// At returns the i-th element of a sequence.
func (v Value) At(i int) (Value, bool) {
	if !v.sequence || i < 0 || i >= len(v.seq) {
		return Value{}, false
	}
	return v.seq[i], true
}

// Values returns a copy of the elements of a sequence.
func (v Value) Values() []Value {
	if !v.sequence || v.seq == nil {
		return nil
	}
	return append([]Value(nil), v.seq...)
}

// Equal reports whether both values have the same type and the same scalar,
// or are both null.
func (v Value) Equal(other Value) bool {
	if !v.typ.Equal(other.typ) || v.sequence != other.sequence {
		return false
	}
	if v.sequence {
		if (v.seq == nil) != (other.seq == nil) || len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(other.seq[i]) {
				return false
			}
		}
		return true
	}
	if v.raw == nil || other.raw == nil {
		return v.raw == nil && other.raw == nil
	}
	return v.typ.codec.equal(v.raw, other.raw)
}

// String returns the canonical text of v.
func (v Value) String() string {
	if v.typ == nil {
		return ""
	}
	return v.typ.Format(v)
}

// nullElement is the text of a null element inside a sequence. Elements
// whose text is the marker, or is empty, are quoted.
const nullElement = `\N`

func formatSequence(v Value) string {
	var b strings.Builder
	for i, elem := range v.seq {
		if i > 0 {
			b.WriteByte(',')
		}
		if elem.raw == nil {
			b.WriteString(nullElement)
			continue
		}
		s := v.typ.codec.format(elem.raw)
		if s == "" || s == nullElement || strings.ContainsAny(s, ",\"\n") {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(s, `"`, `""`))
			b.WriteByte('"')
			continue
		}
		b.WriteString(s)
	}
	return b.String()
}

// ParseSequence parses the canonical text of a non-null sequence. The empty
// string is the empty sequence. An unquoted \N, or an unquoted empty
// element, is a null element.
func (t *Type) ParseSequence(s string) (Value, error) {
	if s == "" {
		return Value{typ: t, seq: []Value{}, sequence: true}, nil
	}
	fields, err := splitSequence(s)
	if err != nil {
		return Value{}, &ParseError{Type: t.name, Input: s, Err: err}
	}
	values := make([]Value, len(fields))
	for i, f := range fields {
		if !f.quoted && (f.text == "" || f.text == nullElement) {
			values[i] = t.null
			continue
		}
		v, err := t.Parse(f.text)
		if err != nil {
			return Value{}, err
		}
		values[i] = v
	}
	return Value{typ: t, seq: values, sequence: true}, nil
}

type field struct {
	text   string
	quoted bool
}

func splitSequence(s string) ([]field, error) {
	var fields []field
	var cur strings.Builder
	quoted, inQuotes := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuotes && c == '"':
			if i+1 < len(s) && s[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			inQuotes = false
		case inQuotes:
			cur.WriteByte(c)
		case c == '"':
			if cur.Len() > 0 || quoted {
				return nil, errUnexpectedQuote
			}
			inQuotes, quoted = true, true
		case c == ',':
			fields = append(fields, field{text: cur.String(), quoted: quoted})
			cur.Reset()
			quoted = false
		default:
			if quoted {
				return nil, errUnexpectedQuote
			}
			cur.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, errUnterminatedQuote
	}
	return append(fields, field{text: cur.String(), quoted: quoted}), nil
}
