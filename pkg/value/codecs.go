package value

import (
	"bytes"
	"encoding/base64"
	"math"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Canonical layouts of the date-time kinds.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

type textCodec struct{}

func (textCodec) parse(s string) (any, error) { return s, nil }
func (textCodec) format(raw any) string       { return raw.(string) }
func (textCodec) equal(a, b any) bool         { return a.(string) == b.(string) }

func (textCodec) coerce(in any) (any, bool) {
	switch v := in.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return nil, false
}

type integerCodec struct{}

func (integerCodec) parse(s string) (any, error) { return strconv.ParseInt(s, 10, 64) }
func (integerCodec) format(raw any) string       { return strconv.FormatInt(raw.(int64), 10) }
func (integerCodec) equal(a, b any) bool         { return a.(int64) == b.(int64) }

func (integerCodec) coerce(in any) (any, bool) {
	switch v := in.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return uintToInt64(uint64(v))
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return uintToInt64(v)
	}
	return nil, false
}

func uintToInt64(v uint64) (any, bool) {
	if v > math.MaxInt64 {
		return nil, false
	}
	return int64(v), true
}

type decimalCodec struct{}

func (decimalCodec) parse(s string) (any, error) { return strconv.ParseFloat(s, 64) }
func (decimalCodec) format(raw any) string       { return strconv.FormatFloat(raw.(float64), 'f', -1, 64) }

func (decimalCodec) equal(a, b any) bool {
	x, y := a.(float64), b.(float64)
	return x == y || (math.IsNaN(x) && math.IsNaN(y))
}

func (decimalCodec) coerce(in any) (any, bool) {
	switch v := in.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if i, ok := (integerCodec{}).coerce(in); ok {
		return float64(i.(int64)), true
	}
	return nil, false
}

type booleanCodec struct{}

func (booleanCodec) parse(s string) (any, error) { return strconv.ParseBool(s) }
func (booleanCodec) format(raw any) string       { return strconv.FormatBool(raw.(bool)) }
func (booleanCodec) equal(a, b any) bool         { return a.(bool) == b.(bool) }

func (booleanCodec) coerce(in any) (any, bool) {
	b, ok := in.(bool)
	return b, ok
}

type dateCodec struct{}

func (dateCodec) parse(s string) (any, error) { return time.ParseInLocation(DateLayout, s, time.UTC) }
func (dateCodec) format(raw any) string       { return raw.(time.Time).Format(DateLayout) }
func (dateCodec) equal(a, b any) bool         { return a.(time.Time).Equal(b.(time.Time)) }

func (dateCodec) coerce(in any) (any, bool) {
	t, ok := in.(time.Time)
	if !ok {
		return nil, false
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
}

type dateTimeCodec struct{}

func (dateTimeCodec) format(raw any) string { return raw.(time.Time).Format(DateTimeLayout) }
func (dateTimeCodec) equal(a, b any) bool   { return a.(time.Time).Equal(b.(time.Time)) }

func (dateTimeCodec) parse(s string) (any, error) {
	t, err := time.Parse(DateTimeLayout, s)
	if err != nil {
		return nil, err
	}
	return t.UTC(), nil
}

func (dateTimeCodec) coerce(in any) (any, bool) {
	t, ok := in.(time.Time)
	if !ok {
		return nil, false
	}
	return t.UTC().Truncate(time.Millisecond), true
}

type binaryCodec struct{}

func (binaryCodec) parse(s string) (any, error) { return base64.StdEncoding.DecodeString(s) }
func (binaryCodec) format(raw any) string       { return base64.StdEncoding.EncodeToString(raw.([]byte)) }
func (binaryCodec) equal(a, b any) bool         { return bytes.Equal(a.([]byte), b.([]byte)) }

func (binaryCodec) coerce(in any) (any, bool) {
	b, ok := in.([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte{}, b...), true
}

type localeCodec struct{}

func (localeCodec) parse(s string) (any, error) { return language.Parse(s) }
func (localeCodec) format(raw any) string       { return raw.(language.Tag).String() }
func (localeCodec) equal(a, b any) bool         { return a.(language.Tag) == b.(language.Tag) }

func (localeCodec) coerce(in any) (any, bool) {
	tag, ok := in.(language.Tag)
	return tag, ok
}
