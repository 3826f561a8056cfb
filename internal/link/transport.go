// internal/link/transport.go
package link

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transport is the wireless boundary supplied by the platform layer.
// Implementations must be safe for concurrent use; the Machine is the
// only caller that opens and closes handles.
type Transport interface {
	// Scan streams discovered peripherals until timeout or ctx ends,
	// then closes the channel.
	Scan(ctx context.Context, timeout time.Duration) (<-chan DeviceRecord, error)

	// Connect opens a handle and resolves the peripheral's services.
	Connect(ctx context.Context, id string, timeout time.Duration) (Handle, error)

	// Write sends one frame to a characteristic. Returns after the link layer acknowledged it.
	Write(ctx context.Context, h Handle, service, char uuid.UUID, data []byte) error

	// Subscribe streams notifications until the handle is closed or ctx ends.
	Subscribe(ctx context.Context, h Handle, service, char uuid.UUID) (<-chan []byte, error)

	// Disconnect releases h. It is best-effort.
	Disconnect(h Handle) error

	// Events reports link loss and radio power changes.
	Events() <-chan TransportEvent
}

// Handle identifies an open connection.
type Handle interface {
	DeviceID() string
}

// DeviceRecord is one peripheral seen during the current scan cycle.
type DeviceRecord struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	SignalStrength int16     `json:"signal_strength"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	Connected      bool      `json:"connected"`
}

// TransportEventKind classifies platform notifications.
type TransportEventKind uint8

const (
	LinkLostEvent TransportEventKind = iota + 1
	RadioOffEvent
	RadioOnEvent
)

// TransportEvent is pushed by the transport outside any request.
type TransportEvent struct {
	Kind     TransportEventKind
	DeviceID string
	Err      error
}

// GATT identifiers. Defaults follow the Nordic UART service layout.
var (
	DefaultServiceUUID    = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	DefaultWriteCharUUID  = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	DefaultNotifyCharUUID = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)
