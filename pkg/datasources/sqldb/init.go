package sqldb

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasource"

	_ "github.com/jackc/pgx/v5/stdlib"  // pgx driver
	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	_ "modernc.org/sqlite"              // sqlite driver
)

func init() {
	for _, d := range []*Dialect{SQLite, DuckDB, Postgres} {
		datasource.Register(d.Name, Opener(d))
	}
}

// Opener returns the datasource factory of a dialect. spec.Params decode
// into Params.
func Opener(d *Dialect) datasource.Factory {
	return func(ctx context.Context, spec datasource.Spec, logger *slog.Logger) (core.Datasource, error) {
		var p Params
		if err := datasource.DecodeParams(spec, &p); err != nil {
			return nil, err
		}
		db, err := Connect(ctx, d, spec.DSN)
		if err != nil {
			return nil, err
		}
		ds, err := New(ctx, spec.Name, db, d, spec.EntityType, p, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return ds, nil
	}
}
