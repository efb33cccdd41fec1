package starlark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ResultVar is the global a statement script assigns its result to.
const ResultVar = "result"

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Script is a compiled derived-variable script. A script is either a single
// expression, whose value is the result, or a sequence of statements
// assigning the result to the global "result". Compiled scripts are
// immutable and may run concurrently.
type Script struct {
	name        string
	source      string
	predeclared starlark.StringDict

	fn   *starlark.Function
	prog *starlark.Program

	// refs lists the literal references passed to $, $join, $group and $var.
	refs []string
}

// Compile compiles a script against the predeclared globals.
func Compile(name, source string, predeclared starlark.StringDict) (*Script, error) {
	s := &Script{name: name, source: source, predeclared: predeclared}
	src := strings.TrimSpace(Rewrite(source))
	if src == "" {
		return nil, &EvalError{Script: name, Expr: source, Message: "empty script"}
	}

	if expr, err := fileOptions.ParseExpr(name, src, 0); err == nil {
		fn, err := starlark.ExprFuncOptions(fileOptions, name, expr, predeclared)
		if err != nil {
			return nil, compileError(name, source, err)
		}
		s.fn = fn
		s.refs = references(expr)
		return s, nil
	}

	f, err := fileOptions.Parse(name, src, 0)
	if err != nil {
		return nil, compileError(name, source, err)
	}
	prog, err := starlark.FileProgram(f, predeclared.Has)
	if err != nil {
		return nil, compileError(name, source, err)
	}
	s.prog = prog
	s.refs = references(f)
	return s, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(name, source string, predeclared starlark.StringDict) *Script {
	s, err := Compile(name, source, predeclared)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the script name used in errors.
func (s *Script) Name() string { return s.name }

// Source returns the script as written.
func (s *Script) Source() string { return s.source }

// References returns the variable references the script passes as string
// literals to $, $join, $group and $var, in source order. References built
// at run time are not included.
func (s *Script) References() []string {
	return append([]string(nil), s.refs...)
}

// Eval runs the script against an evaluation context.
func (s *Script) Eval(ec *eval.Context) (starlark.Value, error) {
	return s.run(newThread(s.name), ec)
}

func (s *Script) run(thread *starlark.Thread, ec *eval.Context) (starlark.Value, error) {
	SetEvalContext(thread, ec)
	defer SetEvalContext(thread, nil)

	stop := context.AfterFunc(ec.Context(), func() { thread.Cancel("context canceled") })
	defer stop()

	var (
		out starlark.Value
		err error
	)
	if s.fn != nil {
		out, err = starlark.Call(thread, s.fn, nil, nil)
	} else {
		var globals starlark.StringDict
		globals, err = s.prog.Init(thread, s.predeclared)
		out = globals[ResultVar]
	}
	if err != nil {
		return nil, &EvalError{Script: s.name, Expr: s.source, Message: err.Error(), Err: err}
	}
	if out == nil {
		out = starlark.None
	}
	return out, nil
}

// newThread creates a thread whose print output goes to the logger of the
// run bound to it.
func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			if ec, err := evalContext(thread); err == nil {
				ec.Logger().Debug(msg, "script", thread.Name)
			}
		},
	}
}

// EvalError represents an error compiling or running a script.
type EvalError struct {
	Script  string
	Line    int
	Expr    string
	Message string
	Err     error
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: error evaluating %q: %s", e.Script, e.Line, e.Expr, e.Message)
	}
	return fmt.Sprintf("%s: error evaluating %q: %s", e.Script, e.Expr, e.Message)
}

func (e *EvalError) Unwrap() error { return e.Err }

func compileError(name, source string, err error) *EvalError {
	ee := &EvalError{Script: name, Expr: source, Message: err.Error(), Err: err}
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		ee.Line = int(syntaxErr.Pos.Line)
		ee.Message = syntaxErr.Msg
	}
	return ee
}

// refArgs maps reference-taking builtins to the number of leading
// arguments that are references.
var refArgs = map[string]int{"_": 1, "_join": 2, "_group": 1, "_var": 1}

func references(root syntax.Node) []string {
	var refs []string
	syntax.Walk(root, func(n syntax.Node) bool {
		call, ok := n.(*syntax.CallExpr)
		if !ok {
			return true
		}
		ident, ok := call.Fn.(*syntax.Ident)
		if !ok {
			return true
		}
		count := refArgs[ident.Name]
		for i := 0; i < count && i < len(call.Args); i++ {
			if lit, ok := call.Args[i].(*syntax.Literal); ok && lit.Token == syntax.STRING {
				if ref, ok := lit.Value.(string); ok {
					refs = append(refs, ref)
				}
			}
		}
		return true
	})
	return refs
}
