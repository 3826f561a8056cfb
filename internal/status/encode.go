// internal/status/encode.go
package status

import (
	"encoding/json"
	"errors"
)

// Encode converts a Snapshot into its JSON wire form with a readable health name.
// No IO. No side effects.
func Encode(s Snapshot) ([]byte, error) {
	type wire struct {
		Snapshot
		HealthName string `json:"health_name"`
	}
	return json.Marshal(wire{Snapshot: s, HealthName: HealthName(s.Health)})
}

// ErrorCode extracts a best-effort uint16 code from an error without assuming concrete types.
// If the error does not expose a code, returns 1 (generic error).
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }

	var a coderA
	if errors.As(err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(err, &b) {
		return b.ErrorCode()
	}

	return 1
}
