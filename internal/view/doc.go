// Package view adds derived variables to existing tables.
//
// A View wraps a base table and appends variables computed by scripts. A view
// is itself a table, so its scripts may read base variables, other derived
// variables of the same view, and variables of other tables through joins.
// Views are published through a Datasource that overlays them on the
// datasource of their base table.
package view
