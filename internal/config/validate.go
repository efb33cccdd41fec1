package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/harmonize/pkg/datasource"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// OutputFormats lists the accepted values of Output.
var OutputFormats = []string{"auto", "table", "json", "csv", "markdown"}

// Validate checks the configuration. Datasource types are checked against
// the factories registered at the time of the call. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism))
	}
	if c.Mode != ModeRow && c.Mode != ModeVector {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeRow, ModeVector, c.Mode))
	}
	if !slices.Contains(OutputFormats, c.Output) {
		errs = append(errs, fmt.Errorf("output must be one of %s, got %q", strings.Join(OutputFormats, ", "), c.Output))
	}

	names := make(map[string]bool, len(c.Datasources))
	for i, spec := range c.Datasources {
		switch {
		case spec.Name == "":
			errs = append(errs, fmt.Errorf("datasources[%d]: name is required", i))
		case names[spec.Name]:
			errs = append(errs, fmt.Errorf("datasources[%d]: duplicate name %q", i, spec.Name))
		}
		names[spec.Name] = true

		if spec.Type == "" {
			errs = append(errs, fmt.Errorf("datasource %s: type is required", spec.Name))
		} else if !datasource.IsRegistered(strings.ToLower(spec.Type)) {
			errs = append(errs, &datasource.UnknownTypeError{Type: spec.Type, Available: datasource.List()})
		}
	}

	for i, v := range c.Views {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("views[%d]: name is required", i))
		}
		if !names[v.Datasource] {
			errs = append(errs, fmt.Errorf("view %s: unknown datasource %q", v.Name, v.Datasource))
		}
		if v.Table == "" {
			errs = append(errs, fmt.Errorf("view %s: table is required", v.Name))
		}
		for j, variable := range v.Variables {
			if variable.Name == "" {
				errs = append(errs, fmt.Errorf("view %s: variables[%d]: name is required", v.Name, j))
			}
			if strings.TrimSpace(variable.Script) == "" {
				errs = append(errs, fmt.Errorf("view %s: variable %s: script is required", v.Name, variable.Name))
			}
			if variable.Type != "" {
				if _, err := value.ForName(variable.Type); err != nil {
					errs = append(errs, fmt.Errorf("view %s: variable %s: %w", v.Name, variable.Name, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}
