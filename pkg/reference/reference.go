// Package reference parses variable references of the form
//
//	[datasource.][table:]name
//
// An omitted datasource means the datasource of the current table; an omitted
// table means the current table. Names are case-sensitive. A reference
// without ':' is a bare variable name, which may itself contain dots.
package reference

import (
	"fmt"
	"strings"
)

// Reference is a parsed variable reference.
type Reference struct {
	Datasource string
	Table      string
	Name       string
}

// SyntaxError is returned for malformed references.
type SyntaxError struct {
	Input  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid variable reference %q: %s", e.Input, e.Reason)
}

// Parse parses a reference string.
func Parse(s string) (Reference, error) {
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		if s == "" {
			return Reference{}, &SyntaxError{Input: s, Reason: "empty variable name"}
		}
		return Reference{Name: s}, nil
	}

	ref := Reference{Name: s[colon+1:]}
	if ref.Name == "" {
		return Reference{}, &SyntaxError{Input: s, Reason: "empty variable name"}
	}

	prefix := s[:colon]
	if dot := strings.IndexByte(prefix, '.'); dot >= 0 {
		ref.Datasource = prefix[:dot]
		ref.Table = prefix[dot+1:]
		if ref.Datasource == "" {
			return Reference{}, &SyntaxError{Input: s, Reason: "empty datasource name"}
		}
	} else {
		ref.Table = prefix
	}
	if ref.Table == "" {
		return Reference{}, &SyntaxError{Input: s, Reason: "empty table name"}
	}
	return ref, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Reference {
	ref, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// For builds the fully qualified reference of a variable.
func For(datasource, table, name string) Reference {
	return Reference{Datasource: datasource, Table: table, Name: name}
}

// IsQualified reports whether the reference names a table.
func (r Reference) IsQualified() bool {
	return r.Table != ""
}

// String formats the reference so that Parse(r.String()) == r.
func (r Reference) String() string {
	switch {
	case r.Table == "":
		return r.Name
	case r.Datasource == "":
		return r.Table + ":" + r.Name
	default:
		return r.Datasource + "." + r.Table + ":" + r.Name
	}
}
