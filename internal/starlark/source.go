package starlark

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"go.starlark.net/starlark"
)

// VariableSource computes a derived variable by running its script. Row
// reads evaluate the script for one value set; vector reads evaluate it for
// every entity of the batch against a shared vector cache.
type VariableSource struct {
	table    core.ValueTable
	variable *core.Variable
	script   *Script
	logger   *slog.Logger
}

var (
	_ core.VariableValueSource = (*VariableSource)(nil)
	_ core.VectorSource        = (*VariableSource)(nil)
)

// NewVariableSource binds a compiled script to the variable it computes.
// table is the table the variable belongs to; bare references in the
// script resolve against it.
func NewVariableSource(table core.ValueTable, variable *core.Variable, script *Script, logger *slog.Logger) *VariableSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VariableSource{
		table:    table,
		variable: variable,
		script:   script,
		logger:   logger.With("variable", variable.Name),
	}
}

func (s *VariableSource) Variable() *core.Variable { return s.variable }
func (s *VariableSource) ValueType() *value.Type   { return s.variable.ValueType }

// Table returns the table the variable belongs to.
func (s *VariableSource) Table() core.ValueTable { return s.table }

// Script returns the compiled script.
func (s *VariableSource) Script() *Script { return s.script }

// Value evaluates the script for one value set.
func (s *VariableSource) Value(ctx context.Context, vs core.ValueSet) (value.Value, error) {
	ctx, err := s.enter(ctx)
	if err != nil {
		return value.Value{}, err
	}
	ec := eval.NewContext(ctx, s.logger)
	leave := ec.Enter(eval.RowFrames(s.table, vs)...)
	defer leave()

	out, err := s.script.Eval(ec)
	if err != nil {
		return value.Value{}, err
	}
	return s.convert(out)
}

// VectorSource returns the source itself.
func (s *VariableSource) VectorSource() (core.VectorSource, bool) {
	return s, true
}

// Values evaluates the script for every entity. When ctx carries the vector
// cache of a batch over the same entities, the cache is shared; otherwise a
// cache is created for this call.
func (s *VariableSource) Values(ctx context.Context, entities []core.VariableEntity) ([]value.Value, error) {
	cache, ok := eval.CacheFromContext(ctx)
	if !ok || !cache.Covers(entities) {
		cache = eval.NewVectorCache(entities)
		ctx = eval.WithCache(ctx, cache)
	}
	return s.ValuesWith(ctx, cache)
}

// ValuesWith evaluates the script for every entity of the cache's batch.
func (s *VariableSource) ValuesWith(ctx context.Context, cache *eval.VectorCache) ([]value.Value, error) {
	ctx, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	ctx = eval.WithCache(ctx, cache)
	out := make([]value.Value, cache.Len())
	ec := eval.NewContext(ctx, s.logger)
	leave := ec.Enter(
		eval.Frame{Kind: eval.KindTable, Value: s.table},
		eval.Frame{Kind: eval.KindVectorCache, Value: cache},
	)
	defer leave()

	for i := range out {
		v, err := s.evalAt(ec, cache, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *VariableSource) evalAt(ec *eval.Context, cache *eval.VectorCache, i int) (value.Value, error) {
	leave := ec.Enter(eval.VectorFrames(i, cache)...)
	defer leave()

	res, err := s.script.Eval(ec)
	if err != nil {
		return value.Value{}, fmt.Errorf("entity %s: %w", cache.Entities()[i].Identifier, err)
	}
	return s.convert(res)
}

func (s *VariableSource) convert(out starlark.Value) (value.Value, error) {
	return ConvertResult(out, s.variable)
}

// ConvertResult converts a script result to a value of the variable: its
// type, and a sequence exactly when the variable is repeatable.
func ConvertResult(out starlark.Value, variable *core.Variable) (value.Value, error) {
	v, err := ToValue(out, variable.ValueType)
	if err != nil {
		return value.Value{}, fmt.Errorf("variable %s: %w", variable.Name, err)
	}
	switch {
	case variable.Repeatable:
		return v.AsSequence(), nil
	case v.IsSequence():
		return value.Value{}, fmt.Errorf("variable %s is not repeatable but its script returned a sequence", variable.Name)
	}
	return v, nil
}

func (s *VariableSource) enter(ctx context.Context) (context.Context, error) {
	return eval.Enter(ctx, s, s.variable.Name)
}
