package view

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/harmonize/pkg/core"
)

// Datasource publishes views alongside the tables of a base datasource. It
// carries the name of the base, and a view hides a base table of the same
// name.
type Datasource struct {
	base core.Datasource

	mu    sync.RWMutex
	views map[string]*View
}

var _ core.Datasource = (*Datasource)(nil)

// NewDatasource wraps base.
func NewDatasource(base core.Datasource) *Datasource {
	return &Datasource{base: base, views: make(map[string]*View)}
}

// Base returns the wrapped datasource.
func (d *Datasource) Base() core.Datasource { return d.base }

// NewView creates a view over a table of the datasource, which may itself be
// a view, and publishes it. The view is empty until variables are added.
func (d *Datasource) NewView(name, table string, logger *slog.Logger) (*View, error) {
	base, err := d.Table(table)
	if err != nil {
		return nil, err
	}
	v := New(name, base, logger)
	d.AddView(v)
	return v, nil
}

// AddView publishes a view. The view belongs to d from then on.
func (d *Datasource) AddView(v *View) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v.datasource = d
	d.views[v.name] = v
}

func (d *Datasource) Name() string { return d.base.Name() }
func (d *Datasource) Type() string { return d.base.Type() }
func (d *Datasource) Close() error { return d.base.Close() }

// Views returns the published views sorted by name.
func (d *Datasource) Views() []*View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	views := make([]*View, 0, len(d.views))
	for _, v := range d.views {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].name < views[j].name })
	return views
}

// Tables returns the views and the base tables they do not hide, sorted by
// name.
func (d *Datasource) Tables() []core.ValueTable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var tables []core.ValueTable
	for _, t := range d.base.Tables() {
		if _, hidden := d.views[t.Name()]; !hidden {
			tables = append(tables, t)
		}
	}
	for _, v := range d.views {
		tables = append(tables, v)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name() < tables[j].Name() })
	return tables
}

func (d *Datasource) Table(name string) (core.ValueTable, error) {
	d.mu.RLock()
	v, ok := d.views[name]
	d.mu.RUnlock()
	if ok {
		return v, nil
	}
	t, err := d.base.Table(name)
	if err != nil {
		return nil, &core.NoSuchTableError{Datasource: d.Name(), Table: name}
	}
	return t, nil
}

func (d *Datasource) HasTable(name string) bool {
	d.mu.RLock()
	_, ok := d.views[name]
	d.mu.RUnlock()
	return ok || d.base.HasTable(name)
}
