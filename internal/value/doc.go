// Package value is the typed value system for port data.
//
// Every value that crosses a port boundary is a cty.Value, which gives the
// engine structural typing (primitives, lists, maps, objects) plus exact
// JSON round-tripping for workflow persistence. This package holds the
// conversions between cty values and native Go values used by node handlers,
// and the parsing/printing of port type expressions.
package value
