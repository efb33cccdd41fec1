package sqldb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// InferType maps a database column type to a value type. Unknown types are
// text.
func InferType(dbType string) *value.Type {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT", "INT2", "INT4", "INT8",
		"UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT", "SERIAL", "BIGSERIAL":
		return value.Integer
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "NUMERIC", "DECIMAL":
		return value.Decimal
	case "BOOL", "BOOLEAN":
		return value.Boolean
	case "DATE":
		return value.Date
	case "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE":
		return value.DateTime
	case "BLOB", "BYTEA", "VARBINARY":
		return value.Binary
	}
	return value.Text
}

// ToValue converts a scanned column of a variable to a value. Repeatable
// variables are read from sequence text.
func ToValue(raw any, variable *core.Variable) (value.Value, error) {
	vt := variable.ValueType
	if raw == nil {
		return variable.Null(), nil
	}
	if variable.Repeatable {
		s, ok := textOf(raw)
		if !ok {
			return value.Value{}, fmt.Errorf("variable %s: repeatable values must be stored as text, got %T", variable.Name, raw)
		}
		return vt.ParseSequence(s)
	}

	switch r := raw.(type) {
	case []byte:
		if vt == value.Binary {
			return vt.Coerce(r)
		}
		return vt.ParseLoose(string(r))
	case string:
		return vt.ParseLoose(r)
	case int64:
		if vt == value.Boolean {
			return vt.Coerce(r != 0)
		}
	case float64:
		if vt == value.Integer && r == float64(int64(r)) {
			return vt.Coerce(int64(r))
		}
	case time.Time:
		if vt == value.Text {
			return vt.Coerce(r.UTC().Format(value.DateTimeLayout))
		}
	}

	v, err := vt.Coerce(raw)
	var mismatch *value.TypeMismatchError
	if errors.As(err, &mismatch) {
		return vt.ParseLoose(fmt.Sprint(raw))
	}
	return v, err
}

func textOf(raw any) (string, bool) {
	switch r := raw.(type) {
	case string:
		return r, true
	case []byte:
		return string(r), true
	}
	return "", false
}

// identifier formats a scanned identifier column.
func identifier(raw any) string {
	switch r := raw.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case int64:
		return strconv.FormatInt(r, 10)
	}
	return fmt.Sprint(raw)
}
