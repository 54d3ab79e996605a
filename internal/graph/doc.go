// Package graph holds the workflow data model: nodes with typed input and
// output ports, directed edges between ports, validation, and compilation
// of a graph into the ordered ready-group plan consumed by the engine.
//
// The graph is a DAG over data dependencies. Repetition is modeled by
// nodes that own a subgraph (compiled into a nested plan and re-entered at
// runtime), never by a true cycle.
package graph
