// Package core defines the shared language of harmonize.
//
// This package contains:
//   - Domain entities (VariableEntity, Variable, Category, Attribute)
//   - Collaborator interfaces (Datasource, ValueTable, ValueSet,
//     VariableValueSource, VectorSource)
//   - The name-resolution error taxonomy
//
// The Golden Rule: pkg/core imports ONLY pkg/value and stdlib.
// All other packages depend on core, not the reverse.
package core
