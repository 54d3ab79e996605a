package graph

import "fmt"

// ErrorKind classifies a validation failure.
type ErrorKind int

const (
	ErrCycle ErrorKind = iota
	ErrDanglingEdge
	ErrTypeMismatch
	ErrMultipleInputs
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case ErrCycle:
		return "cycle"
	case ErrDanglingEdge:
		return "dangling edge"
	case ErrTypeMismatch:
		return "type mismatch"
	case ErrMultipleInputs:
		return "multiple inputs"
	default:
		return fmt.Sprintf("errorkind(%d)", int(k))
	}
}

// Error is a compile-time graph validation failure. A run never starts for
// a graph that fails validation.
type Error struct {
	Kind   ErrorKind
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("invalid graph: %s: %s", e.Kind, e.Detail)
}
