// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"

	"github.com/tamzrod/display-link/internal/fault"
)

var (
	// Integrity failures. The packet is discarded, never partially applied.
	ErrShortPacket      = errors.New("protocol: packet shorter than minimum frame")
	ErrBadHeader        = errors.New("protocol: bad header byte")
	ErrLengthMismatch   = errors.New("protocol: declared length does not match payload")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrMalformed        = errors.New("protocol: malformed payload")
	ErrUnknownType      = errors.New("protocol: unknown command type")

	// ErrInvalidCommand is the root of every validation failure.
	ErrInvalidCommand = errors.New("protocol: invalid command")
)

// ValidationError names the offending field.
type ValidationError struct {
	Command Type
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid %s: %s %s", e.Command, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidCommand }

func invalid(t Type, field, format string, args ...any) error {
	return fault.New(fault.ClassValidation, "encode", &ValidationError{
		Command: t,
		Field:   field,
		Reason:  fmt.Sprintf(format, args...),
	})
}

func integrity(err error, format string, args ...any) error {
	if format == "" {
		return fault.New(fault.ClassIntegrity, "decode", err)
	}
	return fault.New(fault.ClassIntegrity, "decode", fmt.Errorf("%w: "+format, append([]any{err}, args...)...))
}

// IsIntegrity reports whether err is a decode/integrity failure.
func IsIntegrity(err error) bool {
	return fault.Is(err, fault.ClassIntegrity)
}
