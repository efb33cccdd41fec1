package core

import (
	"github.com/leapstack-labs/harmonize/pkg/value"
)

// Attribute is a locale-keyed annotation. An empty Locale means the
// attribute is not localized.
type Attribute struct {
	Name   string `yaml:"name" koanf:"name"`
	Locale string `yaml:"locale,omitempty" koanf:"locale"`
	Value  string `yaml:"value" koanf:"value"`
}

// Category is one admissible code of a categorical variable.
type Category struct {
	Name       string      `yaml:"name" koanf:"name"`
	Missing    bool        `yaml:"missing,omitempty" koanf:"missing"`
	Attributes []Attribute `yaml:"attributes,omitempty" koanf:"attributes"`
}

// Variable is the static metadata of one measured attribute of a table.
// Variables are created by datasources before evaluation and never mutated
// afterwards.
type Variable struct {
	Name       string
	EntityType string
	ValueType  *value.Type
	Unit       string
	MimeType   string

	// OccurrenceGroup tags sibling repeatable variables measured at the
	// same occasions.
	OccurrenceGroup string
	Repeatable      bool
	Index           int

	Attributes []Attribute
	Categories []Category

	// Script is the expression of a derived variable; empty otherwise.
	Script string
}

// Attribute returns the value of the named attribute for a locale. An
// attribute without locale matches any locale when no exact match exists.
func (v *Variable) Attribute(name, locale string) (string, bool) {
	fallback, found := "", false
	for _, a := range v.Attributes {
		if a.Name != name {
			continue
		}
		if a.Locale == locale {
			return a.Value, true
		}
		if a.Locale == "" {
			fallback, found = a.Value, true
		}
	}
	return fallback, found
}

// Category returns the named category.
func (v *Variable) Category(name string) (Category, bool) {
	for _, c := range v.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// IsDerived reports whether the variable is computed by a script.
func (v *Variable) IsDerived() bool {
	return v.Script != ""
}

// Null returns the typed null for this variable: the null sequence when the
// variable is repeatable, the null scalar otherwise.
func (v *Variable) Null() value.Value {
	if v.Repeatable {
		return v.ValueType.NullSequence()
	}
	return v.ValueType.Null()
}

// HasOccurrenceGroup reports whether both variables share an occurrence group.
func (v *Variable) HasOccurrenceGroup(other *Variable) bool {
	return v.OccurrenceGroup != "" && v.OccurrenceGroup == other.OccurrenceGroup
}
