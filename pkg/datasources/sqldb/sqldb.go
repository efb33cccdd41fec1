// Package sqldb provides a datasource over SQL databases. Each configured
// table has one row per entity, keyed by an identifier column; every other
// column is a variable. Variable metadata comes from the harmonize catalog
// tables when present and is inferred from column types otherwise.
//
// Repeatable variables are stored as text in the canonical sequence format
// of the value package.
package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Catalog table names.
const (
	VariablesTable  = "harmonize_variables"
	CategoriesTable = "harmonize_categories"
)

// DefaultIDColumn is the identifier column of tables that name none.
const DefaultIDColumn = "id"

// TableParams selects one table.
type TableParams struct {
	Name       string `mapstructure:"name"`
	IDColumn   string `mapstructure:"id_column"`
	EntityType string `mapstructure:"entity_type"`
}

// Params configures a SQL datasource.
type Params struct {
	// Tables lists the exposed tables; all user tables when empty
	Tables []TableParams `mapstructure:"tables"`

	// IDColumn is the default identifier column
	IDColumn string `mapstructure:"id_column"`

	// Migrate creates the catalog tables before reading
	Migrate bool `mapstructure:"migrate"`

	// BatchSize bounds the identifiers of one vector query
	BatchSize int `mapstructure:"batch_size"`
}

// Datasource is a SQL database exposed as value tables.
type Datasource struct {
	name    string
	db      *sql.DB
	dialect *Dialect
	logger  *slog.Logger

	batchSize int
	tables    map[string]*Table
}

var _ core.Datasource = (*Datasource)(nil)

// Connect opens the database of a dialect and checks the connection.
func Connect(ctx context.Context, d *Dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = d.DefaultDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s: no dsn", d.Name)
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d.Name, err)
	}
	if dsn == ":memory:" {
		// every connection of an in-memory database is a distinct database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", d.Name, err)
	}
	return db, nil
}

// gooseMu serializes migrations: goose keeps its settings in globals.
var gooseMu sync.Mutex

// Migrate creates or upgrades the catalog tables.
func Migrate(db *sql.DB, d *Dialect) error {
	if d.Goose == "" {
		return fmt.Errorf("catalog migrations are not supported for %s", d.Name)
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(d.Goose); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// New reads the catalog and the table layouts of an open database. The
// datasource owns db from then on and closes it with Close.
func New(ctx context.Context, name string, db *sql.DB, d *Dialect, entityType string, p Params, logger *slog.Logger) (*Datasource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if p.IDColumn == "" {
		p.IDColumn = DefaultIDColumn
	}
	if entityType == "" {
		entityType = core.DefaultEntityType
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	ds := &Datasource{
		name:      name,
		db:        db,
		dialect:   d,
		logger:    logger,
		batchSize: p.BatchSize,
		tables:    make(map[string]*Table),
	}

	if p.Migrate {
		if err := Migrate(db, d); err != nil {
			return nil, err
		}
	}

	existing, err := ds.listTables(ctx)
	if err != nil {
		return nil, err
	}
	catalog := newCatalog()
	if existing[VariablesTable] {
		if catalog, err = ds.readCatalog(ctx, existing[CategoriesTable]); err != nil {
			return nil, err
		}
	}

	selected := p.Tables
	if len(selected) == 0 {
		for name := range existing {
			if isInternal(name) {
				continue
			}
			selected = append(selected, TableParams{Name: name})
		}
		sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })
	}

	for _, tp := range selected {
		if !existing[tp.Name] {
			return nil, &core.NoSuchTableError{Datasource: name, Table: tp.Name}
		}
		if tp.IDColumn == "" {
			tp.IDColumn = p.IDColumn
		}
		if tp.EntityType == "" {
			tp.EntityType = entityType
		}
		t, err := ds.loadTable(ctx, tp, catalog)
		if err != nil {
			return nil, err
		}
		ds.tables[t.name] = t
		logger.Debug("table loaded", "table", t.name, "variables", len(t.variables), "catalog", catalog.has(t.name))
	}
	return ds, nil
}

func isInternal(name string) bool {
	return name == VariablesTable || name == CategoriesTable || name == "goose_db_version"
}

func (d *Datasource) listTables(ctx context.Context) (map[string]bool, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.ListTables)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// DB returns the underlying connection pool.
func (d *Datasource) DB() *sql.DB { return d.db }

// Dialect returns the SQL dialect of the datasource.
func (d *Datasource) Dialect() *Dialect { return d.dialect }

func (d *Datasource) Name() string { return d.name }
func (d *Datasource) Type() string { return d.dialect.Name }

// Close closes the database connection.
func (d *Datasource) Close() error {
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing database connection")
	return d.db.Close()
}

// Tables returns the tables sorted by name.
func (d *Datasource) Tables() []core.ValueTable {
	tables := make([]core.ValueTable, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name() < tables[j].Name() })
	return tables
}

func (d *Datasource) Table(name string) (core.ValueTable, error) {
	if t, ok := d.tables[name]; ok {
		return t, nil
	}
	return nil, &core.NoSuchTableError{Datasource: d.name, Table: name}
}

func (d *Datasource) HasTable(name string) bool {
	_, ok := d.tables[name]
	return ok
}

// query runs a statement built from trusted identifiers.
func (d *Datasource) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.logger.Debug("query", "sql", strings.Join(strings.Fields(query), " "), "args", len(args))
	return d.db.QueryContext(ctx, query, args...)
}
