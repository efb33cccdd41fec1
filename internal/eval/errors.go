package eval

import "fmt"

// ContextMissingError is returned when a primitive needs a context kind that
// nothing pushed.
type ContextMissingError struct {
	Kind Kind
}

func (e *ContextMissingError) Error() string {
	return fmt.Sprintf("no %s in evaluation context", e.Kind)
}

// NotVectorizableError is returned when vector-wise evaluation reads a
// source that cannot produce vectors.
type NotVectorizableError struct {
	Reference string
	Reason    string
}

func (e *NotVectorizableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("variable %q cannot be read as a vector", e.Reference)
	}
	return fmt.Sprintf("variable %q cannot be read as a vector: %s", e.Reference, e.Reason)
}

// ArgumentError is returned when a primitive is called with invalid
// arguments.
type ArgumentError struct {
	Function string
	Message  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s(): %s", e.Function, e.Message)
}
