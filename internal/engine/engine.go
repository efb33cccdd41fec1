// Package engine wires a configuration into a ready evaluation setup: it
// opens the configured datasources, registers them, builds the views of
// derived variables and evaluates scripts and variables over tables, row by
// row or in vector batches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/harmonize/internal/config"
	"github.com/leapstack-labs/harmonize/internal/dag"
	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/internal/registry"
	"github.com/leapstack-labs/harmonize/internal/resolver"
	"github.com/leapstack-labs/harmonize/internal/starlark"
	"github.com/leapstack-labs/harmonize/internal/view"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasource"
	gostarlark "go.starlark.net/starlark"
)

// Engine evaluates scripts against the configured datasources.
type Engine struct {
	cfg      *config.Config
	registry *registry.Registry
	library  *eval.Library
	globals  gostarlark.StringDict
	executor *starlark.ParallelExecutor
	logger   *slog.Logger

	graphMu sync.RWMutex
	graph   *dag.Graph
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	datasources []core.Datasource
	clock       func() time.Time
}

// WithDatasource registers a datasource built in code next to the
// configured ones. Views may be declared over its tables.
func WithDatasource(ds core.Datasource) Option {
	return func(o *options) { o.datasources = append(o.datasources, ds) }
}

// WithClock sets the clock read by now().
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// New opens the datasources of cfg and builds its views. On error every
// datasource opened so far is closed. A nil logger discards output.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	config.ApplyDefaults(cfg)
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reg := registry.New(logger)
	fail := func(err error) (*Engine, error) {
		return nil, errors.Join(err, reg.Close())
	}
	// every datasource, transient ones included, accepts views
	reg.AddDecorator(func(ds core.Datasource) core.Datasource { return view.NewDatasource(ds) })

	for _, spec := range cfg.Datasources {
		logger.Debug("opening datasource", "name", spec.Name, "type", spec.Type)
		ds, err := datasource.New(ctx, spec, logger)
		if err != nil {
			return fail(err)
		}
		if err := reg.Add(ds); err != nil {
			return fail(errors.Join(err, ds.Close()))
		}
	}
	for _, ds := range o.datasources {
		if err := reg.Add(ds); err != nil {
			return fail(err)
		}
	}

	var libOpts []eval.Option
	if o.clock != nil {
		libOpts = append(libOpts, eval.WithClock(o.clock))
	}
	e := &Engine{
		cfg:      cfg,
		registry: reg,
		library:  eval.NewLibrary(resolver.New(reg), libOpts...),
		executor: starlark.NewParallelExecutor(cfg.Parallelism, logger),
		logger:   logger,
	}
	e.globals = starlark.Predeclared(e.library)

	for _, vc := range cfg.Views {
		if err := e.buildView(vc); err != nil {
			return fail(fmt.Errorf("view %s: %w", vc.Name, err))
		}
	}
	graph, err := e.buildGraph()
	if err != nil {
		return fail(err)
	}
	e.graph = graph
	reg.OnRemove(e.datasourceRemoved)
	return e, nil
}

// datasourceRemoved drops the derived variables of a removed datasource from
// the dependency graph.
func (e *Engine) datasourceRemoved(ds core.Datasource) {
	graph, err := e.buildGraph()
	if err != nil {
		e.logger.Warn("dependency graph not rebuilt", "removed", ds.Name(), "error", err)
		return
	}
	e.graphMu.Lock()
	e.graph = graph
	e.graphMu.Unlock()
	e.logger.Debug("dependency graph rebuilt", "removed", ds.Name(), "variables", graph.NodeCount())
}

func (e *Engine) buildView(vc config.ViewConfig) error {
	ds, err := e.registry.Get(vc.Datasource)
	if err != nil {
		return err
	}
	overlay, ok := ds.(*view.Datasource)
	if !ok {
		return fmt.Errorf("datasource %s does not accept views", vc.Datasource)
	}
	v, err := overlay.NewView(vc.Name, vc.Table, e.logger)
	if err != nil {
		return err
	}
	for _, variable := range vc.Variables {
		def, err := variable.Variable()
		if err != nil {
			return err
		}
		if err := v.AddVariable(def, e.globals); err != nil {
			return err
		}
	}
	if err := v.Validate(); err != nil {
		return err
	}
	e.logger.Debug("view built", "view", vc.Name, "base", vc.Table, "variables", len(vc.Variables))
	return nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry returns the datasource registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Library returns the expression function library.
func (e *Engine) Library() *eval.Library { return e.library }

// Close closes every datasource.
func (e *Engine) Close() error {
	return e.registry.Close()
}

// Compile compiles an ad-hoc script.
func (e *Engine) Compile(name, source string) (*starlark.Script, error) {
	return starlark.Compile(name, source, e.globals)
}

// Tables returns every table sorted by qualified name.
func (e *Engine) Tables() []core.ValueTable {
	var tables []core.ValueTable
	for _, ds := range e.registry.Datasources() {
		tables = append(tables, ds.Tables()...)
	}
	sort.Slice(tables, func(i, j int) bool {
		return core.QualifiedName(tables[i]) < core.QualifiedName(tables[j])
	})
	return tables
}

// AmbiguousTableError is returned when an unqualified table name exists in
// several datasources.
type AmbiguousTableError struct {
	Table       string
	Datasources []string
}

func (e *AmbiguousTableError) Error() string {
	return fmt.Sprintf("table %q exists in datasources %s; qualify it as datasource.table",
		e.Table, strings.Join(e.Datasources, ", "))
}

// Table finds a table by "datasource.table" or by a table name that is
// unique across datasources.
func (e *Engine) Table(name string) (core.ValueTable, error) {
	if dsName, table, ok := strings.Cut(name, "."); ok && e.registry.Has(dsName) {
		ds, err := e.registry.Get(dsName)
		if err != nil {
			return nil, err
		}
		return ds.Table(table)
	}

	var (
		found core.ValueTable
		in    []string
	)
	for _, ds := range e.registry.Datasources() {
		if t, err := ds.Table(name); err == nil {
			found = t
			in = append(in, ds.Name())
		}
	}
	switch len(in) {
	case 0:
		return nil, &core.NoSuchTableError{Table: name}
	case 1:
		return found, nil
	}
	return nil, &AmbiguousTableError{Table: name, Datasources: in}
}
