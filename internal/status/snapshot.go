// internal/status/snapshot.go
package status

import "time"

// Snapshot is the externally visible health of the display link.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16 `json:"health"`
	LastErrorCode  uint16 `json:"last_error_code"`
	SecondsInError uint16 `json:"seconds_in_error"`
	LastError      string `json:"last_error,omitempty"`

	Link     string `json:"link"`
	DeviceID string `json:"device_id,omitempty"`

	BatteryPercent int    `json:"battery_percent"` // -1 when unknown
	Firmware       string `json:"firmware,omitempty"`

	LastBatchID  string    `json:"last_batch_id,omitempty"`
	LastUpdateAt time.Time `json:"last_update_at,omitempty"`
}
