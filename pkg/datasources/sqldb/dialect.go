package sqldb

import (
	"strconv"
	"strings"
)

// Dialect holds the driver-specific settings of a SQL engine.
type Dialect struct {
	// Name is the datasource type registered for the dialect
	Name string

	// Driver is the database/sql driver name
	Driver string

	// Goose is the goose dialect used for catalog migrations; empty when
	// migrations are not supported
	Goose string

	// DefaultDSN is used when the spec has none
	DefaultDSN string

	// ListTables returns the user tables of the default schema, one name
	// per row
	ListTables string

	// Numbered placeholders ($1) instead of ?
	Numbered bool
}

// Dialects registered by this package.
var (
	SQLite = &Dialect{
		Name:       "sqlite",
		Driver:     "sqlite",
		Goose:      "sqlite3",
		DefaultDSN: ":memory:",
		ListTables: `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
	}
	DuckDB = &Dialect{
		Name:       "duckdb",
		Driver:     "duckdb",
		DefaultDSN: ":memory:",
		ListTables: `SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`,
	}
	Postgres = &Dialect{
		Name:       "postgres",
		Driver:     "pgx",
		Goose:      "postgres",
		ListTables: `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`,
		Numbered:   true,
	}
)

// Placeholder returns the bind parameter for the 1-based position i.
func (d *Dialect) Placeholder(i int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// Placeholders returns n comma separated bind parameters starting at from.
func (d *Dialect) Placeholders(from, n int) string {
	var b strings.Builder
	for i := range n {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(from + i))
	}
	return b.String()
}

// Quote quotes an identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
