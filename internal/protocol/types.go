// internal/protocol/types.go
package protocol

import "fmt"

// Type is the command-type byte of a packet.
type Type uint8

// Host -> peripheral.
const (
	TypeText       Type = 0x01
	TypeClear      Type = 0x02
	TypeGraphics   Type = 0x03
	TypeBrightness Type = 0x04
	TypeRefresh    Type = 0x05
)

// Peripheral -> host.
const (
	TypeAck      Type = 0x80
	TypeBattery  Type = 0x81
	TypeFirmware Type = 0x82
	TypeInput    Type = 0x83
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "TEXT"
	case TypeClear:
		return "CLEAR"
	case TypeGraphics:
		return "GRAPHICS"
	case TypeBrightness:
		return "BRIGHTNESS"
	case TypeRefresh:
		return "REFRESH"
	case TypeAck:
		return "ACK"
	case TypeBattery:
		return "BATTERY"
	case TypeFirmware:
		return "FIRMWARE"
	case TypeInput:
		return "INPUT"
	default:
		return fmt.Sprintf("TYPE(0x%02x)", uint8(t))
	}
}

// Alignment is the horizontal anchor of a Text command.
type Alignment uint8

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// Rect is a display-space rectangle in pixels.
type Rect struct {
	X, Y          uint16
	Width, Height uint16
}

// Message is anything that travels inside a packet.
// The set is closed: only this package implements it.
type Message interface {
	Type() Type
	message()
}

// Command is a host -> peripheral message.
type Command interface {
	Message
	command()
}

// Notification is a peripheral -> host message.
type Notification interface {
	Message
	notification()
}

// ---- commands ----

// Text draws a string. FontSize is 1..127; Bold travels in bit 7 of the size byte.
type Text struct {
	X, Y     uint16
	Align    Alignment
	FontSize uint8
	Bold     bool
	Text     string
}

// Clear blanks the whole screen, or only Region when set.
type Clear struct {
	Region *Rect
}

// Graphics blits a 1-bit bitmap, row-major, MSB first.
type Graphics struct {
	X, Y          uint16
	Width, Height uint16
	Bitmap        []byte
}

// Brightness sets the backlight level 0..100 or hands control to the ambient sensor.
type Brightness struct {
	Level uint8
	Auto  bool
}

// Refresh commits the frame buffer to the panel.
type Refresh struct{}

func (Text) Type() Type       { return TypeText }
func (Clear) Type() Type      { return TypeClear }
func (Graphics) Type() Type   { return TypeGraphics }
func (Brightness) Type() Type { return TypeBrightness }
func (Refresh) Type() Type    { return TypeRefresh }

func (Text) message()       {}
func (Clear) message()      {}
func (Graphics) message()   {}
func (Brightness) message() {}
func (Refresh) message()    {}

func (Text) command()       {}
func (Clear) command()      {}
func (Graphics) command()   {}
func (Brightness) command() {}
func (Refresh) command()    {}

// ---- notifications ----

// EventKind classifies an input event.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventButtonShort
	EventButtonLong
	EventButtonDouble
	EventWake
	EventSleep
)

func (k EventKind) String() string {
	switch k {
	case EventButtonShort:
		return "button-short"
	case EventButtonLong:
		return "button-long"
	case EventButtonDouble:
		return "button-double"
	case EventWake:
		return "wake"
	case EventSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// Ack confirms receipt of a command type.
type Ack struct {
	Of Type
}

// BatteryLevel is clamped to 0..100.
type BatteryLevel struct {
	Percent uint8
}

// FirmwareVersion is the trimmed version string reported by the peripheral.
type FirmwareVersion struct {
	Version string
}

// InputEvent is a button or power event. Code keeps the raw byte
// so that EventUnknown can still be logged meaningfully.
type InputEvent struct {
	Kind      EventKind
	Code      uint8
	Timestamp uint32
}

func (Ack) Type() Type             { return TypeAck }
func (BatteryLevel) Type() Type    { return TypeBattery }
func (FirmwareVersion) Type() Type { return TypeFirmware }
func (InputEvent) Type() Type      { return TypeInput }

func (Ack) message()             {}
func (BatteryLevel) message()    {}
func (FirmwareVersion) message() {}
func (InputEvent) message()      {}

func (Ack) notification()             {}
func (BatteryLevel) notification()    {}
func (FirmwareVersion) notification() {}
func (InputEvent) notification()      {}
