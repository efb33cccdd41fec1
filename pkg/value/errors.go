package value

import (
	"errors"
	"fmt"
)

// ParseError is returned when text does not match a type's canonical grammar.
type ParseError struct {
	Type  string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot parse %q as %s: %v", e.Input, e.Type, e.Err)
	}
	return fmt.Sprintf("cannot parse %q as %s", e.Input, e.Type)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TypeMismatchError is returned when a native scalar is not accepted by a type.
type TypeMismatchError struct {
	Type  string
	Input any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type %s does not accept %T value %v", e.Type, e.Input, e.Input)
}

// UnknownTypeError is returned when a type name is not registered.
type UnknownTypeError struct {
	Name      string
	Available []string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown value type %q (available: %v)", e.Name, e.Available)
}

var (
	errUnexpectedQuote   = errors.New("unexpected quote in sequence element")
	errUnterminatedQuote = errors.New("unterminated quoted sequence element")
)
