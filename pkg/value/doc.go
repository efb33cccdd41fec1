// Package value defines the typed value system shared by every table,
// datasource and script in harmonize.
//
// A Type is a process-wide singleton identified by its name. A Value is an
// immutable (type, scalar) pair; a null Value is still typed. A sequence is a
// Value holding an ordered list of Values of one Type and models a repeated
// measurement.
//
// Native scalar representations:
//   - text:     string
//   - integer:  int64
//   - decimal:  float64
//   - boolean:  bool
//   - date:     time.Time at UTC midnight
//   - datetime: time.Time in UTC, millisecond precision
//   - binary:   []byte
//   - locale:   language.Tag
package value
