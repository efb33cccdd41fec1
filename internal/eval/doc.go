// Package eval implements expression evaluation against a datasource model:
// the evaluation context stack, the batch vector cache and the expression
// function library that script hosts bind.
//
// # Modes
//
// Row-wise evaluation pushes the current table, value set and entity on a
// Context and evaluates one script per entity. Vector-wise evaluation pushes
// the table and a VectorCache for the batch, then the entity and its
// position in the batch for each script run; column reads go through the
// cache so that every referenced source is computed once per batch.
//
// The library picks the mode from the context contents: a value set means
// row-wise, a vector cache without a value set means vector-wise.
package eval
