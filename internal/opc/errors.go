package opc

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a protocol failure.
type ErrorKind int

const (
	ErrEndpointUnreachable ErrorKind = iota
	ErrSecurityRejected
	ErrAuthFailed
	ErrSessionNotConnected
	ErrBrowseFailed
	ErrWriteRejected
	ErrCallFailed
	ErrTimeout
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case ErrEndpointUnreachable:
		return "endpoint unreachable"
	case ErrSecurityRejected:
		return "security rejected"
	case ErrAuthFailed:
		return "authentication failed"
	case ErrSessionNotConnected:
		return "session not connected"
	case ErrBrowseFailed:
		return "browse failed"
	case ErrWriteRejected:
		return "write rejected"
	case ErrCallFailed:
		return "call failed"
	case ErrTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("errorkind(%d)", int(k))
	}
}

// ProtocolError is a typed OPC-UA failure. ConnectionLost marks errors that
// indicate the transport itself is gone; the session reacts to those by
// entering the Reconnecting state instead of surfacing them to every
// dependent node individually.
type ProtocolError struct {
	Kind           ErrorKind
	Endpoint       string
	Status         uint32
	ConnectionLost bool
	Err            error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("opc: %s (endpoint %s)", e.Kind, e.Endpoint)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status 0x%08X)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is/As chains.
func (e *ProtocolError) Unwrap() error { return e.Err }

// KindOf extracts the protocol error kind, if err carries one.
func KindOf(err error) (ErrorKind, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return 0, false
}

// IsConnectionLoss reports whether err signals a lost transport.
func IsConnectionLoss(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.ConnectionLost
}
