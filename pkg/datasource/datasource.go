// Package datasource provides the factory registry through which configured
// datasources are created.
//
// Concrete datasource implementations are in pkg/datasources/ subdirectories
// and register themselves from their init functions. Import them with a blank
// identifier to make their type available:
//
//	import _ "github.com/leapstack-labs/harmonize/pkg/datasources/sqldb"
package datasource

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/harmonize/pkg/core"
)

// Spec describes one configured datasource.
type Spec struct {
	Name string `koanf:"name"`

	// Type selects the registered factory: memory, generated, sqlite, duckdb, postgres
	Type string `koanf:"type"`

	// DSN is the connection string or file path of the datasource
	DSN string `koanf:"dsn"`

	// EntityType is the default entity type of the datasource tables
	EntityType string `koanf:"entity_type"`

	// Params holds type-specific settings, decoded with DecodeParams
	Params map[string]any `koanf:"params"`
}

// Factory creates a datasource from its spec.
type Factory func(ctx context.Context, spec Spec, logger *slog.Logger) (core.Datasource, error)

// DecodeParams decodes spec.Params into a typed settings struct using
// mapstructure tags.
func DecodeParams(spec Spec, out any) error {
	if len(spec.Params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(spec.Params); err != nil {
		return fmt.Errorf("datasource %s: invalid params: %w", spec.Name, err)
	}
	return nil
}
