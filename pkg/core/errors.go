package core

import "fmt"

// NoSuchDatasourceError is returned when a datasource name is unknown.
type NoSuchDatasourceError struct {
	Name string
}

func (e *NoSuchDatasourceError) Error() string {
	return fmt.Sprintf("no such datasource %q", e.Name)
}

// NoSuchTableError is returned when a table is not found in a datasource.
type NoSuchTableError struct {
	Datasource string
	Table      string
}

func (e *NoSuchTableError) Error() string {
	if e.Table == "" {
		return "no current table to resolve against"
	}
	if e.Datasource == "" {
		return fmt.Sprintf("no such table %q", e.Table)
	}
	return fmt.Sprintf("no such table %q in datasource %q", e.Table, e.Datasource)
}

// NoSuchVariableError is returned when a variable is not found in a table.
type NoSuchVariableError struct {
	Table    string
	Variable string
}

func (e *NoSuchVariableError) Error() string {
	return fmt.Sprintf("no such variable %q in table %q", e.Variable, e.Table)
}

// NoSuchValueSetError is returned when an entity has no row in a table.
type NoSuchValueSetError struct {
	Table  string
	Entity VariableEntity
}

func (e *NoSuchValueSetError) Error() string {
	return fmt.Sprintf("no value set for entity %s in table %q", e.Entity, e.Table)
}
