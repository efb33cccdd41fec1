package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/harmonize/internal/config"
	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/internal/starlark"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"golang.org/x/sync/errgroup"
)

// Result is the value of a script for one entity. Err is set when the
// script failed for that entity.
type Result struct {
	Entity core.VariableEntity
	Value  value.Value
	Err    error
}

// Options selects entities and the evaluation mode.
type Options struct {
	// Entities lists identifiers; every entity of the table when empty
	Entities []string

	// Mode is config.ModeRow or config.ModeVector; the configured mode
	// when empty
	Mode string
}

// Entities returns the entities of a table with the given identifiers, or
// all of them.
func (e *Engine) Entities(ctx context.Context, table core.ValueTable, ids []string) ([]core.VariableEntity, error) {
	if len(ids) == 0 {
		return table.Entities(ctx)
	}
	entities := make([]core.VariableEntity, len(ids))
	for i, id := range ids {
		entities[i] = core.NewEntity(table.EntityType(), id)
	}
	return entities, nil
}

func (e *Engine) mode(opts Options) (string, error) {
	mode := opts.Mode
	if mode == "" {
		mode = e.cfg.Mode
	}
	if mode != config.ModeRow && mode != config.ModeVector {
		return "", fmt.Errorf("unknown evaluation mode %q", mode)
	}
	return mode, nil
}

// Eval runs a script for entities of a table. Failures of single entities
// are reported in their Result; the returned error covers setup failures
// and cancellation.
func (e *Engine) Eval(ctx context.Context, table core.ValueTable, script *starlark.Script, opts Options) ([]Result, error) {
	mode, err := e.mode(opts)
	if err != nil {
		return nil, err
	}
	entities, err := e.Entities(ctx, table, opts.Entities)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("evaluating", "script", script.Name(), "table", core.QualifiedName(table), "entities", len(entities), "mode", mode)

	var results []Result
	if mode == config.ModeRow {
		results = e.evalRows(ctx, table, script, entities)
	} else {
		results = e.evalVector(ctx, table, script, entities)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) evalRows(ctx context.Context, table core.ValueTable, script *starlark.Script, entities []core.VariableEntity) []Result {
	tasks := make([]starlark.EvalTask, len(entities))
	for i, entity := range entities {
		tasks[i] = starlark.EvalTask{Script: script, Table: table, Entity: entity}
	}
	results := make([]Result, len(entities))
	for i, r := range e.executor.Execute(ctx, tasks) {
		results[i] = Result{Entity: r.Entity, Err: r.Error}
		if r.Error == nil {
			results[i].Value, results[i].Err = starlark.InferValue(r.Value)
		}
	}
	return results
}

// evalVector runs the script for every position of one batch. Positions
// run concurrently, each with its own context, over a shared vector cache.
func (e *Engine) evalVector(ctx context.Context, table core.ValueTable, script *starlark.Script, entities []core.VariableEntity) []Result {
	cache := eval.NewVectorCache(entities)
	ctx = eval.WithCache(ctx, cache)
	results := make([]Result, len(entities))

	var g errgroup.Group
	g.SetLimit(e.cfg.Parallelism)
	for i, entity := range entities {
		g.Go(func() error {
			results[i] = Result{Entity: entity}
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			ec := eval.NewContext(ctx, e.logger.With("entity", entity.Identifier))
			leave := ec.Enter(append([]eval.Frame{
				{Kind: eval.KindTable, Value: table},
				{Kind: eval.KindVectorCache, Value: cache},
			}, eval.VectorFrames(i, cache)...)...)
			defer leave()

			out, err := script.Eval(ec)
			if err == nil {
				results[i].Value, err = starlark.InferValue(out)
			}
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Frame holds variable values for a batch of entities: Rows[i][j] is the
// value of Variables[j] for Entities[i].
type Frame struct {
	Entities  []core.VariableEntity
	Variables []*core.Variable
	Rows      [][]value.Value
}

// Read reads variables of a table, all of them when names is empty. In
// vector mode every variable is read as one column through a shared cache,
// variables concurrently; sources without batch reads are read row by row.
// The first failure aborts the read.
func (e *Engine) Read(ctx context.Context, table core.ValueTable, names []string, opts Options) (*Frame, error) {
	mode, err := e.mode(opts)
	if err != nil {
		return nil, err
	}
	entities, err := e.Entities(ctx, table, opts.Entities)
	if err != nil {
		return nil, err
	}

	variables := table.Variables()
	if len(names) > 0 {
		variables = make([]*core.Variable, len(names))
		for j, name := range names {
			if variables[j], err = table.Variable(name); err != nil {
				return nil, err
			}
		}
	}
	sources := make([]core.VariableValueSource, len(variables))
	for j, v := range variables {
		if sources[j], err = table.Source(v.Name); err != nil {
			return nil, err
		}
	}

	f := &Frame{Entities: entities, Variables: variables, Rows: make([][]value.Value, len(entities))}
	for i := range f.Rows {
		f.Rows[i] = make([]value.Value, len(variables))
	}
	if mode == config.ModeRow {
		err = e.readRows(ctx, table, sources, f)
	} else {
		err = e.readColumns(ctx, table, sources, f)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (e *Engine) readRows(ctx context.Context, table core.ValueTable, sources []core.VariableValueSource, f *Frame) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, entity := range f.Entities {
		g.Go(func() error {
			return readRow(ctx, table, sources, entity, f.Rows[i])
		})
	}
	return g.Wait()
}

// readRow reads one entity; entities without a row read nulls.
func readRow(ctx context.Context, table core.ValueTable, sources []core.VariableValueSource, entity core.VariableEntity, row []value.Value) error {
	vs, err := table.ValueSet(ctx, entity)
	var missing *core.NoSuchValueSetError
	switch {
	case errors.As(err, &missing):
		for j, src := range sources {
			row[j] = src.Variable().Null()
		}
		return nil
	case err != nil:
		return err
	}
	for j, src := range sources {
		if row[j], err = src.Value(ctx, vs); err != nil {
			return fmt.Errorf("%s of %s: %w", src.Variable().Name, entity, err)
		}
	}
	return nil
}

func (e *Engine) readColumns(ctx context.Context, table core.ValueTable, sources []core.VariableValueSource, f *Frame) error {
	cache := eval.NewVectorCache(f.Entities)
	g, ctx := errgroup.WithContext(ctx)
	ctx = eval.WithCache(ctx, cache)
	g.SetLimit(e.cfg.Parallelism)
	for j, src := range sources {
		g.Go(func() error {
			vec, ok := src.VectorSource()
			if !ok {
				return e.readColumnByRow(ctx, table, src, j, f)
			}
			column, err := cache.Get(ctx, vec)
			if err != nil {
				return fmt.Errorf("%s: %w", src.Variable().Name, err)
			}
			for i, v := range column {
				f.Rows[i][j] = v
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) readColumnByRow(ctx context.Context, table core.ValueTable, src core.VariableValueSource, j int, f *Frame) error {
	one := []core.VariableValueSource{src}
	cell := make([]value.Value, 1)
	for i, entity := range f.Entities {
		if err := readRow(ctx, table, one, entity, cell); err != nil {
			return err
		}
		f.Rows[i][j] = cell[0]
	}
	return nil
}
