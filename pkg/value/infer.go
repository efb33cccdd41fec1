package value

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/text/language"
)

// Infer wraps a native scalar choosing the type from its Go type.
func Infer(in any) (Value, error) {
	switch v := in.(type) {
	case Value:
		return v, nil
	case nil:
		return Text.Null(), nil
	case string:
		return Text.Coerce(in)
	case []byte:
		return Binary.Coerce(in)
	case bool:
		return Boolean.Coerce(in)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Integer.Coerce(in)
	case float32, float64:
		return Decimal.Coerce(in)
	case time.Time:
		return DateTime.Coerce(in)
	case language.Tag:
		return Locale.Coerce(in)
	}
	return Value{}, &TypeMismatchError{Type: "any", Input: in}
}

// ParseLoose parses text coming from an external store that does not follow
// the canonical grammar. Dates and timestamps accept any layout understood by
// dateparse; booleans accept yes/no. Text and binary are taken as stored;
// other types ignore surrounding whitespace and read blank text as null.
func (t *Type) ParseLoose(s string) (Value, error) {
	if t.hasEmpty() {
		return t.Parse(s)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return t.null, nil
	}
	switch t {
	case Date, DateTime:
		if v, err := t.Parse(s); err == nil {
			return v, nil
		}
		tm, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return Value{}, &ParseError{Type: t.name, Input: s, Err: err}
		}
		return t.Coerce(tm)
	case Boolean:
		switch strings.ToLower(s) {
		case "y", "yes", "on":
			return t.Coerce(true)
		case "n", "no", "off":
			return t.Coerce(false)
		}
	case Integer:
		if v, err := t.Parse(s); err == nil {
			return v, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return t.Coerce(int64(f))
		}
	}
	return t.Parse(s)
}
