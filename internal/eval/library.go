package eval

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/harmonize/internal/resolver"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// Library implements the expression functions bound by script hosts. It
// holds no per-run state: every call reads the given Context.
type Library struct {
	resolver *resolver.Resolver
	clock    func() time.Time
}

// Option configures a Library.
type Option func(*Library)

// WithClock replaces the wall clock read by Now.
func WithClock(clock func() time.Time) Option {
	return func(l *Library) { l.clock = clock }
}

// NewLibrary creates a library resolving references with r.
func NewLibrary(r *resolver.Resolver, opts ...Option) *Library {
	l := &Library{resolver: r, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolver returns the resolver of the library.
func (l *Library) Resolver() *resolver.Resolver {
	return l.resolver
}

// Value reads the referenced variable for the current row ($). It reads
// row-wise when a value set is on the context and from the batch vector
// cache otherwise. References to other tables read the row of the same
// entity identifier, null when there is none.
func (l *Library) Value(ec *Context, ref string) (value.Value, *core.Variable, error) {
	resolved, err := l.resolve(ec, ref)
	if err != nil {
		return value.Value{}, nil, err
	}
	v, err := l.read(ec, ref, resolved)
	if err != nil {
		return value.Value{}, nil, err
	}
	return v, resolved.Variable(), nil
}

func (l *Library) read(ec *Context, ref string, resolved *resolver.Resolved) (value.Value, error) {
	switch {
	case ec.Has(KindValueSet):
		vs, _ := ec.ValueSet()
		v, err := resolved.Read(ec.Context(), vs)
		if err != nil {
			return value.Value{}, fmt.Errorf("reading %q: %w", ref, err)
		}
		return v, nil
	case ec.Has(KindVectorCache):
		return l.readVector(ec, ref, resolved)
	default:
		return value.Value{}, &ContextMissingError{Kind: KindValueSet}
	}
}

func (l *Library) readVector(ec *Context, ref string, resolved *resolver.Resolved) (value.Value, error) {
	cache, _ := ec.VectorCache()
	pos, err := ec.Position()
	if err != nil {
		return value.Value{}, err
	}
	src, ok := resolved.Source.VectorSource()
	if !ok {
		return value.Value{}, &NotVectorizableError{Reference: ref}
	}

	var entityType string
	if batch := cache.Entities(); len(batch) > 0 && batch[0].Type != resolved.Table.EntityType() {
		entityType = resolved.Table.EntityType()
	}
	vec, err := cache.GetAs(ec.Context(), src, entityType)
	if err != nil {
		return value.Value{}, fmt.Errorf("reading %q: %w", ref, err)
	}
	if pos < 0 || pos >= len(vec) {
		return value.Value{}, fmt.Errorf("reading %q: position %d outside batch of %d", ref, pos, len(vec))
	}
	return vec[pos], nil
}

// Join reads joinedRef for the entity whose identifier is the value of
// identifierRef in the current row ($join). A null identifier or an
// identifier without a row in the joined table yields the joined variable's
// typed null.
func (l *Library) Join(ec *Context, joinedRef, identifierRef string) (value.Value, *core.Variable, error) {
	identifier, _, err := l.Value(ec, identifierRef)
	if err != nil {
		return value.Value{}, nil, err
	}
	joined, err := l.resolve(ec, joinedRef)
	if err != nil {
		return value.Value{}, nil, err
	}
	v, err := joined.JoinValue(ec.Context(), identifier)
	if err != nil {
		return value.Value{}, nil, fmt.Errorf("joining %q on %q: %w", joinedRef, identifierRef, err)
	}
	return v, joined.Variable(), nil
}

// Var returns the metadata of the referenced variable ($var).
func (l *Library) Var(ec *Context, ref string) (*core.Variable, error) {
	resolved, err := l.resolve(ec, ref)
	if err != nil {
		return nil, err
	}
	return resolved.Variable(), nil
}

// ID returns the identifier of the current entity as text ($id).
func (l *Library) ID(ec *Context) (value.Value, error) {
	entity, err := ec.Entity()
	if err != nil {
		return value.Value{}, err
	}
	return value.Text.Coerce(entity.Identifier)
}

// Now returns the current date-time.
func (l *Library) Now() value.Value {
	return value.DateTime.MustCoerce(l.clock())
}

// NewValue builds a value from a native scalar. Without a type name the
// type is inferred; with one, the scalar is converted through its text
// when the type does not take it as is.
func (l *Library) NewValue(raw any, typeName string) (value.Value, error) {
	if typeName == "" {
		return value.Infer(raw)
	}
	t, err := value.ForName(typeName)
	if err != nil {
		return value.Value{}, err
	}
	return t.Convert(raw)
}

// Log logs a message at info level. Each {} in format is replaced by the
// next argument; surplus arguments are ignored.
func (l *Library) Log(ec *Context, format string, args ...any) {
	ec.Logger().Info(FormatLog(format, args...))
}

// FormatLog substitutes {} placeholders in order.
func FormatLog(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	var b strings.Builder
	rest := format
	for _, arg := range args {
		i := strings.Index(rest, "{}")
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		b.WriteString(formatArg(arg))
		rest = rest[i+2:]
	}
	b.WriteString(rest)
	return b.String()
}

func formatArg(arg any) string {
	switch a := arg.(type) {
	case nil:
		return "null"
	case value.Value:
		if a.IsNull() {
			return "null"
		}
		return a.String()
	case fmt.Stringer:
		return a.String()
	default:
		return fmt.Sprint(a)
	}
}

func (l *Library) resolve(ec *Context, ref string) (*resolver.Resolved, error) {
	var table core.ValueTable
	if ec.Has(KindTable) {
		table, _ = ec.Table()
	}
	return l.resolver.Resolve(ref, table)
}
