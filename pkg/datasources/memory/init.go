package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasource"
)

func init() {
	datasource.Register(TypeName, Open)
}

// Open creates a datasource from YAML table files. spec.DSN is a single
// file or a directory whose *.yaml and *.yml files are loaded; an empty DSN
// yields an empty datasource.
func Open(_ context.Context, spec datasource.Spec, logger *slog.Logger) (core.Datasource, error) {
	ds := NewDatasource(spec.Name)
	if spec.DSN == "" {
		return ds, nil
	}

	info, err := os.Stat(spec.DSN)
	if err != nil {
		return nil, fmt.Errorf("memory datasource %s: %w", spec.Name, err)
	}

	files := []string{spec.DSN}
	if info.IsDir() {
		entries, err := os.ReadDir(spec.DSN)
		if err != nil {
			return nil, fmt.Errorf("memory datasource %s: %w", spec.Name, err)
		}
		files = files[:0]
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(spec.DSN, e.Name()))
			}
		}
	}

	for _, path := range files {
		table, err := loadFile(path, spec.EntityType)
		if err != nil {
			return nil, err
		}
		ds.AddTable(table)
		logger.Debug("table loaded", "table", table.Name(), "path", path, "variables", len(table.Variables()))
	}
	return ds, nil
}

func loadFile(path, entityType string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	table, err := LoadTable(f, entityType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}
