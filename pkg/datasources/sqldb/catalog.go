package sqldb

import (
	"context"
	"fmt"
	"sort"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// catalog holds the declared variables per table, in position order.
type catalog struct {
	variables map[string][]*core.Variable
}

func newCatalog() *catalog {
	return &catalog{variables: make(map[string][]*core.Variable)}
}

func (c *catalog) has(table string) bool {
	return len(c.variables[table]) > 0
}

func (c *catalog) variable(table, name string) *core.Variable {
	for _, v := range c.variables[table] {
		if v.Name == name {
			return v
		}
	}
	return nil
}

type catalogRow struct {
	table    string
	position int
	variable *core.Variable
}

func (d *Datasource) readCatalog(ctx context.Context, withCategories bool) (*catalog, error) {
	rows, err := d.query(ctx, `
		SELECT table_name, name, value_type, entity_type, unit, mime_type,
		       repeatable, occurrence_group, position
		FROM `+VariablesTable)
	if err != nil {
		return nil, fmt.Errorf("failed to read variable catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []catalogRow
	for rows.Next() {
		var (
			r        catalogRow
			v        core.Variable
			typeName string
		)
		if err := rows.Scan(&r.table, &v.Name, &typeName, &v.EntityType, &v.Unit, &v.MimeType,
			&v.Repeatable, &v.OccurrenceGroup, &r.position); err != nil {
			return nil, fmt.Errorf("failed to scan variable catalog: %w", err)
		}
		if v.ValueType, err = value.ForName(typeName); err != nil {
			return nil, fmt.Errorf("catalog variable %s.%s: %w", r.table, v.Name, err)
		}
		r.variable = &v
		entries = append(entries, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variable catalog: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].table != entries[j].table {
			return entries[i].table < entries[j].table
		}
		if entries[i].position != entries[j].position {
			return entries[i].position < entries[j].position
		}
		return entries[i].variable.Name < entries[j].variable.Name
	})
	c := newCatalog()
	for _, e := range entries {
		c.variables[e.table] = append(c.variables[e.table], e.variable)
	}

	if withCategories {
		if err := d.readCategories(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (d *Datasource) readCategories(ctx context.Context, c *catalog) error {
	rows, err := d.query(ctx, `
		SELECT table_name, variable_name, name, missing
		FROM `+CategoriesTable+`
		ORDER BY table_name, variable_name, position, name`)
	if err != nil {
		return fmt.Errorf("failed to read category catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			table, variable string
			cat             core.Category
		)
		if err := rows.Scan(&table, &variable, &cat.Name, &cat.Missing); err != nil {
			return fmt.Errorf("failed to scan category catalog: %w", err)
		}
		if v := c.variable(table, variable); v != nil {
			v.Categories = append(v.Categories, cat)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating category catalog: %w", err)
	}
	return nil
}
