package eval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/harmonize/pkg/core"
)

// Kind identifies one kind of value on the context stack.
type Kind int

const (
	KindTable Kind = iota
	KindValueSet
	KindEntity
	KindPosition
	KindVectorCache

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindValueSet:
		return "value set"
	case KindEntity:
		return "entity"
	case KindPosition:
		return "position"
	case KindVectorCache:
		return "vector cache"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Context is the evaluation context of one run: a stack per kind of
// context value. The innermost pushed value of a kind wins.
//
// A Context belongs to one goroutine. Concurrent runs each create their own
// and may share a VectorCache.
type Context struct {
	ctx    context.Context
	logger *slog.Logger
	stacks [kindCount][]any
}

// NewContext creates an empty evaluation context. ctx is handed to
// datasource reads; a nil logger discards output.
func NewContext(ctx context.Context, logger *slog.Logger) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Context{ctx: ctx, logger: logger}
}

// Context returns the context.Context of the run.
func (c *Context) Context() context.Context { return c.ctx }

// Logger returns the logger of the run.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Push pushes a value of the given kind. The value must match the kind:
// core.ValueTable, core.ValueSet, core.VariableEntity, int or *VectorCache.
func (c *Context) Push(kind Kind, v any) {
	if !kindAccepts(kind, v) {
		panic(fmt.Sprintf("eval: cannot push %T as %s", v, kind))
	}
	c.stacks[kind] = append(c.stacks[kind], v)
}

// Pop removes and returns the innermost value of a kind.
func (c *Context) Pop(kind Kind) (any, error) {
	stack := c.stacks[kind]
	if len(stack) == 0 {
		return nil, &ContextMissingError{Kind: kind}
	}
	v := stack[len(stack)-1]
	stack[len(stack)-1] = nil
	c.stacks[kind] = stack[:len(stack)-1]
	return v, nil
}

// Peek returns the innermost value of a kind.
func (c *Context) Peek(kind Kind) (any, error) {
	stack := c.stacks[kind]
	if len(stack) == 0 {
		return nil, &ContextMissingError{Kind: kind}
	}
	return stack[len(stack)-1], nil
}

// Has reports whether a value of the kind is on the stack.
func (c *Context) Has(kind Kind) bool {
	return len(c.stacks[kind]) > 0
}

// With pushes v for the duration of fn.
func (c *Context) With(kind Kind, v any, fn func() error) error {
	c.Push(kind, v)
	defer func() { _, _ = c.Pop(kind) }()
	return fn()
}

// Frame is one kind/value pair pushed by Enter.
type Frame struct {
	Kind  Kind
	Value any
}

// Enter pushes every frame in order and returns a function popping them.
func (c *Context) Enter(frames ...Frame) (leave func()) {
	for _, f := range frames {
		c.Push(f.Kind, f.Value)
	}
	return func() {
		for i := len(frames) - 1; i >= 0; i-- {
			_, _ = c.Pop(frames[i].Kind)
		}
	}
}

// Table returns the current table.
func (c *Context) Table() (core.ValueTable, error) {
	v, err := c.Peek(KindTable)
	if err != nil {
		return nil, err
	}
	return v.(core.ValueTable), nil
}

// ValueSet returns the current value set.
func (c *Context) ValueSet() (core.ValueSet, error) {
	v, err := c.Peek(KindValueSet)
	if err != nil {
		return nil, err
	}
	return v.(core.ValueSet), nil
}

// Entity returns the current entity.
func (c *Context) Entity() (core.VariableEntity, error) {
	v, err := c.Peek(KindEntity)
	if err != nil {
		return core.VariableEntity{}, err
	}
	return v.(core.VariableEntity), nil
}

// Position returns the position of the current entity in the batch.
func (c *Context) Position() (int, error) {
	v, err := c.Peek(KindPosition)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// VectorCache returns the cache of the current batch.
func (c *Context) VectorCache() (*VectorCache, error) {
	v, err := c.Peek(KindVectorCache)
	if err != nil {
		return nil, err
	}
	return v.(*VectorCache), nil
}

func kindAccepts(kind Kind, v any) bool {
	switch kind {
	case KindTable:
		_, ok := v.(core.ValueTable)
		return ok
	case KindValueSet:
		_, ok := v.(core.ValueSet)
		return ok
	case KindEntity:
		_, ok := v.(core.VariableEntity)
		return ok
	case KindPosition:
		_, ok := v.(int)
		return ok
	case KindVectorCache:
		_, ok := v.(*VectorCache)
		return ok
	default:
		return false
	}
}

// RowFrames returns the frames of a row-wise run of a table for one value
// set. The value set may belong to a table the given one wraps.
func RowFrames(table core.ValueTable, vs core.ValueSet) []Frame {
	return []Frame{
		{Kind: KindTable, Value: table},
		{Kind: KindValueSet, Value: vs},
		{Kind: KindEntity, Value: vs.Entity()},
	}
}

// VectorFrames returns the frames of a vector-wise run for the entity at
// position i of the cache's batch.
func VectorFrames(i int, cache *VectorCache) []Frame {
	return []Frame{
		{Kind: KindEntity, Value: cache.Entities()[i]},
		{Kind: KindPosition, Value: i},
	}
}
