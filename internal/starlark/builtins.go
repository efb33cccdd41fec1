package starlark

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"go.starlark.net/starlark"
)

// evalContextKey is the thread-local key holding the *eval.Context of a run.
const evalContextKey = "harmonize.eval"

var errNoEvalContext = errors.New("called outside of an evaluation")

// Predeclared returns the globals bound for derived-variable scripts:
// _ ($), _join, _var, _id, _group, now, newValue and log.
func Predeclared(lib *eval.Library) starlark.StringDict {
	b := builtins{lib: lib}
	globals := starlark.StringDict{
		"_":        starlark.NewBuiltin("$", b.value),
		"_join":    starlark.NewBuiltin("$join", b.join),
		"_var":     starlark.NewBuiltin("$var", b.variable),
		"_id":      starlark.NewBuiltin("$id", b.id),
		"_group":   starlark.NewBuiltin("$group", b.group),
		"now":      starlark.NewBuiltin("now", b.now),
		"newValue": starlark.NewBuiltin("newValue", b.newValue),
		"log":      starlark.NewBuiltin("log", b.log),
	}
	globals.Freeze()
	return globals
}

// SetEvalContext binds an evaluation context to a thread.
func SetEvalContext(thread *starlark.Thread, ec *eval.Context) {
	thread.SetLocal(evalContextKey, ec)
}

func evalContext(thread *starlark.Thread) (*eval.Context, error) {
	ec, ok := thread.Local(evalContextKey).(*eval.Context)
	if !ok || ec == nil {
		return nil, errNoEvalContext
	}
	return ec, nil
}

type builtins struct {
	lib *eval.Library
}

func (b builtins) value(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ref string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &ref); err != nil {
		return nil, err
	}
	ec, err := evalContext(thread)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	v, variable, err := b.lib.Value(ec, ref)
	if err != nil {
		return nil, err
	}
	return NewScriptableValue(v, variable.Unit), nil
}

func (b builtins) join(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var joined, identifier string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &joined, &identifier); err != nil {
		return nil, err
	}
	ec, err := evalContext(thread)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	v, variable, err := b.lib.Join(ec, joined, identifier)
	if err != nil {
		return nil, err
	}
	return NewScriptableValue(v, variable.Unit), nil
}

func (b builtins) variable(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ref string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &ref); err != nil {
		return nil, err
	}
	ec, err := evalContext(thread)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	variable, err := b.lib.Var(ec, ref)
	if err != nil {
		return nil, err
	}
	return GoToStarlark(variable)
}

func (b builtins) id(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	ec, err := evalContext(thread)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	v, err := b.lib.ID(ec)
	if err != nil {
		return nil, err
	}
	return GoToStarlark(v)
}

func (b builtins) group(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		ref      string
		criteria starlark.Value
	)
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &ref, &criteria); err != nil {
		return nil, err
	}
	ec, err := evalContext(thread)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}

	var c eval.Criteria
	switch cv := criteria.(type) {
	case *ScriptableValue:
		c = eval.EqualTo(cv.Value)
	case starlark.Callable:
		c = eval.MatchFunc(func(e value.Value) (bool, error) {
			res, err := starlark.Call(thread, cv, starlark.Tuple{NewScriptableValue(e, "")}, nil)
			if err != nil {
				return false, err
			}
			return bool(res.Truth()), nil
		})
	default:
		raw, err := ToGo(criteria)
		if err != nil {
			return nil, fmt.Errorf("%s: criteria: %w", fn.Name(), err)
		}
		c = eval.Literal(raw)
	}

	result, err := b.lib.Group(ec, ref, c)
	if err != nil {
		return nil, err
	}
	return GoToStarlark(result)
}

func (b builtins) now(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return GoToStarlark(b.lib.Now())
}

func (b builtins) newValue(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		raw      starlark.Value
		typeName string
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "value", &raw, "type?", &typeName); err != nil {
		return nil, err
	}
	var native any
	if sv, ok := raw.(*ScriptableValue); ok {
		if typeName == "" || sv.Value.Type().Name() == typeName {
			return sv, nil
		}
		native = sv.Value
	} else {
		var err error
		if native, err = ToGo(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
	}
	v, err := b.lib.NewValue(native, typeName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return NewScriptableValue(v, ""), nil
}

func (b builtins) log(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", fn.Name())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: expects a message and optional arguments, e.g. log('age {}', $('AGE'))", fn.Name())
	}
	ec, err := evalContext(thread)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}

	format, ok := starlark.AsString(args[0])
	if !ok {
		format = args[0].String()
	}
	rest := make([]any, len(args)-1)
	for i, arg := range args[1:] {
		if sv, ok := arg.(*ScriptableValue); ok {
			rest[i] = sv.Value
		} else if s, ok := starlark.AsString(arg); ok {
			rest[i] = s
		} else {
			rest[i] = arg.String()
		}
	}
	b.lib.Log(ec, format, rest...)
	return starlark.None, nil
}
