// Package config loads the harmonize configuration: the datasources to
// register, the views of derived variables to build over their tables, and
// evaluation settings.
//
// Values are layered, lowest precedence first: defaults, harmonize.yaml,
// HARMONIZE_* environment variables, command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasource"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// Config holds the complete configuration.
type Config struct {
	Datasources []datasource.Spec `koanf:"datasources"`
	Views       []ViewConfig      `koanf:"views"`

	// Parallelism bounds concurrent evaluations
	Parallelism int `koanf:"parallelism"`

	// Mode selects row or vector evaluation
	Mode string `koanf:"mode"`

	LogLevel string `koanf:"log_level"`
	Verbose  bool   `koanf:"verbose"`
	Output   string `koanf:"output"`

	// Root is the directory relative paths are resolved against
	Root string `koanf:"-"`
}

// ViewConfig declares derived variables over a table.
type ViewConfig struct {
	Name       string           `koanf:"name"`
	Datasource string           `koanf:"datasource"`
	Table      string           `koanf:"table"`
	Variables  []VariableConfig `koanf:"variables"`
}

// VariableConfig declares one derived variable.
type VariableConfig struct {
	Name            string           `koanf:"name"`
	Type            string           `koanf:"type"`
	Script          string           `koanf:"script"`
	Unit            string           `koanf:"unit"`
	MimeType        string           `koanf:"mime_type"`
	Repeatable      bool             `koanf:"repeatable"`
	OccurrenceGroup string           `koanf:"occurrence_group"`
	Categories      []core.Category  `koanf:"categories"`
	Attributes      []core.Attribute `koanf:"attributes"`
}

// Variable builds the variable metadata. An empty type means text.
func (v VariableConfig) Variable() (*core.Variable, error) {
	vt := value.Text
	if v.Type != "" {
		var err error
		if vt, err = value.ForName(v.Type); err != nil {
			return nil, fmt.Errorf("variable %s: %w", v.Name, err)
		}
	}
	return &core.Variable{
		Name:            v.Name,
		ValueType:       vt,
		Unit:            v.Unit,
		MimeType:        v.MimeType,
		Repeatable:      v.Repeatable,
		OccurrenceGroup: v.OccurrenceGroup,
		Categories:      v.Categories,
		Attributes:      v.Attributes,
		Script:          v.Script,
	}, nil
}

// Datasource returns the spec of the named datasource.
func (c *Config) Datasource(name string) (datasource.Spec, bool) {
	for _, spec := range c.Datasources {
		if spec.Name == name {
			return spec, true
		}
	}
	return datasource.Spec{}, false
}

// Level returns the log level; Verbose forces debug.
func (c *Config) Level() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
