package generated

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasource"
)

func init() {
	datasource.Register(TypeName, Open)
}

// Open creates a generated datasource from spec.Params. spec.DSN is unused.
func Open(_ context.Context, spec datasource.Spec, logger *slog.Logger) (core.Datasource, error) {
	var p Params
	if err := datasource.DecodeParams(spec, &p); err != nil {
		return nil, err
	}
	entityType := spec.EntityType
	if entityType == "" {
		entityType = core.DefaultEntityType
	}
	ds, err := New(spec.Name, entityType, p)
	if err != nil {
		return nil, err
	}
	logger.Debug("table generated", "table", ds.table.name, "entities", len(ds.table.entities), "seed", p.Seed)
	return ds, nil
}
