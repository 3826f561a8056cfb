// internal/status/constants.go
package status

// ---- HEALTH CODES ----

// HealthUnknown represents the boot state before the first content cycle.
const HealthUnknown uint16 = 0

// HealthOK represents a display in sync with its content.
const HealthOK uint16 = 1

// HealthError represents a failure that recurred or needs the user.
const HealthError uint16 = 2

// HealthStale represents a single failed cycle: the screen shows older content.
const HealthStale uint16 = 3

// HealthDisabled represents a powered-off radio.
const HealthDisabled uint16 = 4

// ---- LIMITS ----

// MaxSecondsInError is where the error counter saturates.
const MaxSecondsInError = 65535

// DefaultErrorAfter is how many consecutive failed cycles turn Stale into Error.
const DefaultErrorAfter = 2

// HealthName renders a health code for humans.
func HealthName(h uint16) string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}
