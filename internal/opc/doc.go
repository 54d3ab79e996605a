// Package opc is the OPC-UA client subsystem: shared sessions keyed by
// endpoint and identity, the session state machine with automatic
// reconnection, subscriptions with bounded notification queues, and the
// read/write/browse/call primitives node handlers build on.
//
// The wire protocol itself lives behind the Transport interface. The
// production implementation (gopcua.go) adapts github.com/gopcua/opcua;
// tests substitute an in-memory transport.
package opc
