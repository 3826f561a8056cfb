// internal/protocol/codec.go
package protocol

import (
	"encoding/binary"
	"errors"
	"strings"
	"unicode/utf8"
)

// Defaults match the 2.9" 296x128 monochrome panel.
const (
	DefaultWidth        = 296
	DefaultHeight       = 128
	DefaultMaxTextBytes = 200

	MaxFontSize   = 0x7F
	boldFlag      = 0x80
	MaxBrightness = 100
)

// Limits are the display extents and text budget a Codec validates against.
type Limits struct {
	Width        uint16
	Height       uint16
	MaxTextBytes int
}

// DefaultLimits returns the limits of the stock panel.
func DefaultLimits() Limits {
	return Limits{Width: DefaultWidth, Height: DefaultHeight, MaxTextBytes: DefaultMaxTextBytes}
}

// Codec encodes and decodes packets for one display geometry.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	lim Limits
}

// NewCodec builds a codec. Zero fields in lim fall back to defaults.
func NewCodec(lim Limits) *Codec {
	def := DefaultLimits()
	if lim.Width == 0 {
		lim.Width = def.Width
	}
	if lim.Height == 0 {
		lim.Height = def.Height
	}
	if lim.MaxTextBytes <= 0 {
		lim.MaxTextBytes = def.MaxTextBytes
	}
	return &Codec{lim: lim}
}

// Limits returns the codec's validation limits.
func (c *Codec) Limits() Limits { return c.lim }

// ---- encode ----

// Encode validates cmd and returns its framed wire bytes.
// On validation failure no bytes are produced.
func (c *Codec) Encode(cmd Command) ([]byte, error) {
	if err := c.Validate(cmd); err != nil {
		return nil, err
	}

	var payload []byte
	switch v := cmd.(type) {
	case Text:
		payload = textPayload(v)
	case *Text:
		payload = textPayload(*v)
	case Clear:
		payload = clearPayload(v)
	case *Clear:
		payload = clearPayload(*v)
	case Graphics:
		payload = graphicsPayload(v)
	case *Graphics:
		payload = graphicsPayload(*v)
	case Brightness:
		payload = brightnessPayload(v)
	case *Brightness:
		payload = brightnessPayload(*v)
	case Refresh, *Refresh:
		payload = nil
	}

	return Frame(cmd.Type(), payload), nil
}

// Validate checks cmd against the codec limits without encoding it.
func (c *Codec) Validate(cmd Command) error {
	switch v := cmd.(type) {
	case Text:
		return c.validateText(v)
	case *Text:
		return c.validateText(*v)
	case Clear:
		return c.validateClear(v)
	case *Clear:
		return c.validateClear(*v)
	case Graphics:
		return c.validateGraphics(v)
	case *Graphics:
		return c.validateGraphics(*v)
	case Brightness:
		return validateBrightness(v)
	case *Brightness:
		return validateBrightness(*v)
	case Refresh, *Refresh:
		return nil
	case nil:
		return invalid(0, "command", "is nil")
	}
	// Unreachable: Command is sealed.
	return invalid(cmd.Type(), "command", "unsupported")
}

func (c *Codec) validateText(t Text) error {
	if t.X >= c.lim.Width {
		return invalid(TypeText, "x", "%d outside [0,%d)", t.X, c.lim.Width)
	}
	if t.Y >= c.lim.Height {
		return invalid(TypeText, "y", "%d outside [0,%d)", t.Y, c.lim.Height)
	}
	if t.Align > AlignRight {
		return invalid(TypeText, "alignment", "%d unknown", t.Align)
	}
	if t.FontSize == 0 || t.FontSize > MaxFontSize {
		return invalid(TypeText, "fontSize", "%d outside [1,%d]", t.FontSize, MaxFontSize)
	}
	if !utf8.ValidString(t.Text) {
		return invalid(TypeText, "text", "is not valid UTF-8")
	}
	if n := len(t.Text); n > c.lim.MaxTextBytes {
		return invalid(TypeText, "text", "%d bytes exceeds %d", n, c.lim.MaxTextBytes)
	}
	return nil
}

func (c *Codec) validateRect(t Type, r Rect) error {
	if r.Width == 0 || r.Height == 0 {
		return invalid(t, "region", "has zero area")
	}
	if uint32(r.X)+uint32(r.Width) > uint32(c.lim.Width) {
		return invalid(t, "region", "x+width %d exceeds %d", uint32(r.X)+uint32(r.Width), c.lim.Width)
	}
	if uint32(r.Y)+uint32(r.Height) > uint32(c.lim.Height) {
		return invalid(t, "region", "y+height %d exceeds %d", uint32(r.Y)+uint32(r.Height), c.lim.Height)
	}
	return nil
}

func (c *Codec) validateClear(cl Clear) error {
	if cl.Region == nil {
		return nil
	}
	return c.validateRect(TypeClear, *cl.Region)
}

func (c *Codec) validateGraphics(g Graphics) error {
	if err := c.validateRect(TypeGraphics, Rect{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height}); err != nil {
		return err
	}
	want := BitmapLen(g.Width, g.Height)
	if len(g.Bitmap) != want {
		return invalid(TypeGraphics, "bitmap", "length %d, want %d", len(g.Bitmap), want)
	}
	if 8+want > MaxPayloadLen {
		return invalid(TypeGraphics, "bitmap", "payload exceeds %d bytes", MaxPayloadLen)
	}
	return nil
}

func validateBrightness(b Brightness) error {
	if b.Level > MaxBrightness {
		return invalid(TypeBrightness, "level", "%d outside [0,100]", b.Level)
	}
	return nil
}

// BitmapLen is ceil(w*h/8).
func BitmapLen(w, h uint16) int {
	return (int(w)*int(h) + 7) / 8
}

func textPayload(t Text) []byte {
	p := make([]byte, 6+len(t.Text))
	binary.LittleEndian.PutUint16(p[0:2], t.X)
	binary.LittleEndian.PutUint16(p[2:4], t.Y)
	p[4] = byte(t.Align)
	p[5] = t.FontSize
	if t.Bold {
		p[5] |= boldFlag
	}
	copy(p[6:], t.Text)
	return p
}

func clearPayload(cl Clear) []byte {
	if cl.Region == nil {
		return nil
	}
	return rectBytes(*cl.Region)
}

func graphicsPayload(g Graphics) []byte {
	p := make([]byte, 0, 8+len(g.Bitmap))
	p = append(p, rectBytes(Rect{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height})...)
	return append(p, g.Bitmap...)
}

func brightnessPayload(b Brightness) []byte {
	auto := byte(0)
	if b.Auto {
		auto = 1
	}
	return []byte{b.Level, auto}
}

func rectBytes(r Rect) []byte {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint16(p[0:2], r.X)
	binary.LittleEndian.PutUint16(p[2:4], r.Y)
	binary.LittleEndian.PutUint16(p[4:6], r.Width)
	binary.LittleEndian.PutUint16(p[6:8], r.Height)
	return p
}

// EncodeNotification frames a peripheral -> host message.
// Only simulated peripherals and tests need this direction.
func (c *Codec) EncodeNotification(n Notification) ([]byte, error) {
	var payload []byte
	switch v := n.(type) {
	case Ack:
		payload = []byte{byte(v.Of)}
	case BatteryLevel:
		if v.Percent > 100 {
			return nil, invalid(TypeBattery, "percent", "%d outside [0,100]", v.Percent)
		}
		payload = []byte{v.Percent}
	case FirmwareVersion:
		payload = []byte(v.Version)
	case InputEvent:
		payload = make([]byte, 5)
		payload[0] = v.Code
		binary.LittleEndian.PutUint32(payload[1:5], v.Timestamp)
	default:
		return nil, invalid(0, "notification", "unsupported %T", n)
	}
	if len(payload) > MaxPayloadLen {
		return nil, invalid(n.Type(), "payload", "exceeds %d bytes", MaxPayloadLen)
	}
	return Frame(n.Type(), payload), nil
}

// ---- decode ----

// Decode checks framing and integrity, then parses the payload.
// Unknown input-event codes decode to EventUnknown; the caller should log them.
func (c *Codec) Decode(pkt []byte) (Message, error) {
	t, payload, err := Unframe(pkt)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeText:
		return decodeText(payload)
	case TypeClear:
		return decodeClear(payload)
	case TypeGraphics:
		return decodeGraphics(payload)
	case TypeBrightness:
		return decodeBrightness(payload)
	case TypeRefresh:
		if len(payload) != 0 {
			return nil, integrity(ErrMalformed, "refresh carries %d bytes", len(payload))
		}
		return Refresh{}, nil
	case TypeAck:
		if len(payload) != 1 {
			return nil, integrity(ErrMalformed, "ack payload %d bytes", len(payload))
		}
		return Ack{Of: Type(payload[0])}, nil
	case TypeBattery:
		return decodeBattery(payload)
	case TypeFirmware:
		return decodeFirmware(payload), nil
	case TypeInput:
		return decodeInput(payload)
	default:
		return nil, integrity(ErrUnknownType, "0x%02x", uint8(t))
	}
}

// DecodeNotification decodes pkt and requires a peripheral -> host message.
func (c *Codec) DecodeNotification(pkt []byte) (Notification, error) {
	m, err := c.Decode(pkt)
	if err != nil {
		return nil, err
	}
	n, ok := m.(Notification)
	if !ok {
		return nil, integrity(ErrUnknownType, "%s is not a notification", m.Type())
	}
	return n, nil
}

func decodeText(p []byte) (Message, error) {
	if len(p) < 6 {
		return nil, integrity(ErrMalformed, "text payload %d bytes", len(p))
	}
	text := p[6:]
	if !utf8.Valid(text) {
		return nil, integrity(ErrMalformed, "text is not valid UTF-8")
	}
	return Text{
		X:        binary.LittleEndian.Uint16(p[0:2]),
		Y:        binary.LittleEndian.Uint16(p[2:4]),
		Align:    Alignment(p[4]),
		FontSize: p[5] &^ boldFlag,
		Bold:     p[5]&boldFlag != 0,
		Text:     string(text),
	}, nil
}

func decodeRect(p []byte) Rect {
	return Rect{
		X:      binary.LittleEndian.Uint16(p[0:2]),
		Y:      binary.LittleEndian.Uint16(p[2:4]),
		Width:  binary.LittleEndian.Uint16(p[4:6]),
		Height: binary.LittleEndian.Uint16(p[6:8]),
	}
}

func decodeClear(p []byte) (Message, error) {
	switch len(p) {
	case 0:
		return Clear{}, nil
	case 8:
		r := decodeRect(p)
		return Clear{Region: &r}, nil
	default:
		return nil, integrity(ErrMalformed, "clear payload %d bytes", len(p))
	}
}

func decodeGraphics(p []byte) (Message, error) {
	if len(p) < 8 {
		return nil, integrity(ErrMalformed, "graphics payload %d bytes", len(p))
	}
	r := decodeRect(p)
	bm := p[8:]
	if len(bm) != BitmapLen(r.Width, r.Height) {
		return nil, integrity(ErrMalformed, "bitmap %d bytes for %dx%d", len(bm), r.Width, r.Height)
	}
	out := make([]byte, len(bm))
	copy(out, bm)
	return Graphics{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Bitmap: out}, nil
}

func decodeBrightness(p []byte) (Message, error) {
	if len(p) != 2 {
		return nil, integrity(ErrMalformed, "brightness payload %d bytes", len(p))
	}
	return Brightness{Level: p[0], Auto: p[1] != 0}, nil
}

func decodeBattery(p []byte) (Message, error) {
	if len(p) != 1 {
		return nil, integrity(ErrMalformed, "battery payload %d bytes", len(p))
	}
	lvl := p[0]
	if lvl > 100 {
		lvl = 100
	}
	return BatteryLevel{Percent: lvl}, nil
}

func decodeFirmware(p []byte) Message {
	s := strings.ToValidUTF8(string(p), "")
	s = strings.Trim(s, " \t\r\n\x00")
	return FirmwareVersion{Version: s}
}

func decodeInput(p []byte) (Message, error) {
	if len(p) != 5 {
		return nil, integrity(ErrMalformed, "input payload %d bytes", len(p))
	}
	code := p[0]
	return InputEvent{
		Kind:      eventKindFor(code),
		Code:      code,
		Timestamp: binary.LittleEndian.Uint32(p[1:5]),
	}, nil
}

// eventKindFor maps the wire code. Unknown codes fall back to EventUnknown.
func eventKindFor(code uint8) EventKind {
	switch code {
	case 0x01:
		return EventButtonShort
	case 0x02:
		return EventButtonLong
	case 0x03:
		return EventButtonDouble
	case 0x10:
		return EventWake
	case 0x11:
		return EventSleep
	default:
		return EventUnknown
	}
}

// EventCode is the inverse of the wire mapping, used by simulators.
func EventCode(k EventKind) (uint8, error) {
	switch k {
	case EventButtonShort:
		return 0x01, nil
	case EventButtonLong:
		return 0x02, nil
	case EventButtonDouble:
		return 0x03, nil
	case EventWake:
		return 0x10, nil
	case EventSleep:
		return 0x11, nil
	default:
		return 0, errors.New("protocol: no wire code for unknown event")
	}
}
