// internal/fault/fault.go
package fault

import (
	"errors"
	"fmt"
)

// Class is the failure category. It decides who recovers:
// the link (reconnect policy), the next content cycle, or the user.
type Class uint8

const (
	ClassUnknown Class = iota

	// ClassTransportUnavailable: radio off, permission denied. Fatal until user intervenes.
	ClassTransportUnavailable

	// ClassConnection: discovery or connect failure. Retried by the reconnect policy.
	ClassConnection

	// ClassWrite: one command failed to send. Logged, batch continues.
	ClassWrite

	// ClassIntegrity: checksum or length mismatch. Packet discarded.
	ClassIntegrity

	// ClassValidation: command rejected before any bytes were built. Never retried as-is.
	ClassValidation
)

func (c Class) String() string {
	switch c {
	case ClassTransportUnavailable:
		return "transport-unavailable"
	case ClassConnection:
		return "connection"
	case ClassWrite:
		return "write"
	case ClassIntegrity:
		return "integrity"
	case ClassValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error carries a Class and the operation that failed.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code is the numeric form published in status snapshots.
// 0 is reserved for "no error".
func (e *Error) Code() uint16 {
	return 0x100 + uint16(e.Class)
}

// New wraps err with class and op. A nil err still produces a fault.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of the first fault in err's chain.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ClassUnknown
}

// Is reports whether err carries the given class.
func Is(err error, class Class) bool {
	return err != nil && ClassOf(err) == class
}
