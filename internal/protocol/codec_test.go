// internal/protocol/codec_test.go
package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/tamzrod/display-link/internal/fault"
)

func newTestCodec() *Codec {
	return NewCodec(Limits{Width: 296, Height: 128, MaxTextBytes: 64})
}

func validCommands() []Command {
	return []Command{
		Text{X: 10, Y: 20, Align: AlignLeft, FontSize: 18, Text: "Hello"},
		Text{X: 295, Y: 127, Align: AlignRight, FontSize: 127, Bold: true, Text: ""},
		Text{X: 0, Y: 0, Align: AlignCenter, FontSize: 12, Text: "Café Zürich"},
		Clear{},
		Clear{Region: &Rect{X: 4, Y: 8, Width: 100, Height: 20}},
		Graphics{X: 0, Y: 0, Width: 9, Height: 3, Bitmap: []byte{0xFF, 0x00, 0xAA, 0x55}},
		Brightness{Level: 0},
		Brightness{Level: 100, Auto: true},
		Refresh{},
	}
}

// ---- round trip ----

func TestEncodeDecode_RoundTrip(t *testing.T) {
	c := newTestCodec()

	for _, cmd := range validCommands() {
		pkt, err := c.Encode(cmd)
		if err != nil {
			t.Fatalf("%T encode err=%v", cmd, err)
		}
		got, err := c.Decode(pkt)
		if err != nil {
			t.Fatalf("%T decode err=%v", cmd, err)
		}
		if !reflect.DeepEqual(got, Message(cmd)) {
			t.Fatalf("round trip mismatch:\n got=%#v\nwant=%#v", got, cmd)
		}
	}
}

func TestEncode_HelloScenario(t *testing.T) {
	c := newTestCodec()
	cmd := Text{X: 10, Y: 20, Align: AlignLeft, FontSize: 18, Text: "Hello"}

	want := []byte{
		0xAA, 0x01, 0x0B, 0x00,
		0x0A, 0x00, 0x14, 0x00, 0x00, 0x12,
		'H', 'e', 'l', 'l', 'o',
		0xBB,
	}

	for run := 0; run < 3; run++ {
		pkt, err := c.Encode(cmd)
		if err != nil {
			t.Fatalf("encode err=%v", err)
		}
		if !bytes.Equal(pkt, want) {
			t.Fatalf("run %d: got % x want % x", run, pkt, want)
		}
	}

	got, err := c.Decode(want)
	if err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if got != Message(cmd) {
		t.Fatalf("decoded %#v", got)
	}
}

func TestEncode_TextLengthIsByteCount(t *testing.T) {
	c := NewCodec(Limits{Width: 100, Height: 100, MaxTextBytes: 5})

	// 3 characters, 6 bytes.
	if _, err := c.Encode(Text{FontSize: 10, Text: "äöü"}); err == nil {
		t.Fatalf("expected oversize text to be rejected")
	}

	pkt, err := c.Encode(Text{FontSize: 10, Text: "äö"})
	if err != nil {
		t.Fatalf("encode err=%v", err)
	}
	if declared := int(pkt[2]) | int(pkt[3])<<8; declared != 6+4 {
		t.Fatalf("declared length %d, want 10", declared)
	}
}

// ---- integrity ----

func TestDecode_SingleBitFlipDetected(t *testing.T) {
	c := newTestCodec()

	for _, cmd := range validCommands() {
		pkt, err := c.Encode(cmd)
		if err != nil {
			t.Fatalf("encode err=%v", err)
		}

		// payload starts at 4, checksum is last
		for i := 4; i < len(pkt); i++ {
			for bit := 0; bit < 8; bit++ {
				bad := append([]byte(nil), pkt...)
				bad[i] ^= 1 << bit

				m, err := c.Decode(bad)
				if err == nil {
					t.Fatalf("%T byte %d bit %d: decoded %#v", cmd, i, bit, m)
				}
				if !IsIntegrity(err) {
					t.Fatalf("%T byte %d bit %d: expected integrity error, got %v", cmd, i, bit, err)
				}
			}
		}
	}
}

func TestDecode_ChecksumIncremented(t *testing.T) {
	c := newTestCodec()
	pkt, _ := c.Encode(Text{X: 1, Y: 1, FontSize: 10, Text: "x"})
	pkt[len(pkt)-1]++

	m, err := c.Decode(pkt)
	if m != nil {
		t.Fatalf("expected no message, got %#v", m)
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestDecode_FramingErrors(t *testing.T) {
	c := newTestCodec()
	good, _ := c.Encode(Brightness{Level: 50})

	cases := []struct {
		name string
		pkt  []byte
		want error
	}{
		{"empty", nil, ErrShortPacket},
		{"four bytes", []byte{0xAA, 0x05, 0x00, 0x00}, ErrShortPacket},
		{"bad header", append([]byte{0x55}, good[1:]...), ErrBadHeader},
		{"truncated", good[:len(good)-2], ErrLengthMismatch},
		{"trailing", append(append([]byte(nil), good...), 0x00), ErrLengthMismatch},
		{"unknown type", Frame(Type(0x42), nil), ErrUnknownType},
		{"malformed brightness", Frame(TypeBrightness, []byte{1}), ErrMalformed},
	}

	for _, tc := range cases {
		_, err := c.Decode(tc.pkt)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if !IsIntegrity(err) {
			t.Fatalf("%s: expected integrity class", tc.name)
		}
	}
}

func TestDecode_EmptyRefreshIsMinimumFrame(t *testing.T) {
	c := newTestCodec()
	pkt, _ := c.Encode(Refresh{})
	if len(pkt) != MinFrameLen {
		t.Fatalf("refresh frame is %d bytes", len(pkt))
	}
	if _, err := c.Decode(pkt); err != nil {
		t.Fatalf("decode err=%v", err)
	}
}

// ---- validation ----

func TestEncode_RejectsOutOfBounds(t *testing.T) {
	c := newTestCodec()

	bad := []Command{
		Text{X: 296, Y: 0, FontSize: 10, Text: "a"},
		Text{X: 0, Y: 128, FontSize: 10, Text: "a"},
		Text{X: 0xFFFF, Y: 0xFFFF, FontSize: 10, Text: "a"},
		Text{FontSize: 0, Text: "a"},
		Text{FontSize: 10, Align: 3, Text: "a"},
		Text{FontSize: 10, Text: string([]byte{0xff, 0xfe})},
		Clear{Region: &Rect{X: 200, Y: 0, Width: 97, Height: 10}},
		Clear{Region: &Rect{X: 0, Y: 0, Width: 0, Height: 10}},
		Graphics{Width: 8, Height: 8, Bitmap: make([]byte, 7)},
		Brightness{Level: 101},
	}

	for _, cmd := range bad {
		pkt, err := c.Encode(cmd)
		if err == nil {
			t.Fatalf("%#v: expected rejection", cmd)
		}
		if pkt != nil {
			t.Fatalf("%#v: bytes produced on rejection", cmd)
		}
		if !errors.Is(err, ErrInvalidCommand) || fault.ClassOf(err) != fault.ClassValidation {
			t.Fatalf("%#v: expected validation error, got %v", cmd, err)
		}
	}
}

func TestEncode_AcceptsEveryInBoundsCoordinate(t *testing.T) {
	c := NewCodec(Limits{Width: 16, Height: 8, MaxTextBytes: 4})
	for x := uint16(0); x < 20; x++ {
		for y := uint16(0); y < 12; y++ {
			_, err := c.Encode(Text{X: x, Y: y, FontSize: 8, Text: "ok"})
			inBounds := x < 16 && y < 8
			if inBounds && err != nil {
				t.Fatalf("(%d,%d) rejected: %v", x, y, err)
			}
			if !inBounds && err == nil {
				t.Fatalf("(%d,%d) accepted", x, y)
			}
		}
	}
}

// ---- notifications ----

func TestDecode_Notifications(t *testing.T) {
	c := newTestCodec()

	cases := []struct {
		pkt  []byte
		want Notification
	}{
		{Frame(TypeBattery, []byte{87}), BatteryLevel{Percent: 87}},
		{Frame(TypeBattery, []byte{250}), BatteryLevel{Percent: 100}},
		{Frame(TypeFirmware, []byte("  v1.4.2\x00\x00")), FirmwareVersion{Version: "v1.4.2"}},
		{Frame(TypeInput, []byte{0x02, 0x10, 0x00, 0x00, 0x00}), InputEvent{Kind: EventButtonLong, Code: 2, Timestamp: 16}},
		{Frame(TypeInput, []byte{0x7E, 0x01, 0x00, 0x00, 0x00}), InputEvent{Kind: EventUnknown, Code: 0x7E, Timestamp: 1}},
		{Frame(TypeAck, []byte{byte(TypeText)}), Ack{Of: TypeText}},
	}

	for _, tc := range cases {
		got, err := c.DecodeNotification(tc.pkt)
		if err != nil {
			t.Fatalf("% x: err=%v", tc.pkt, err)
		}
		if got != tc.want {
			t.Fatalf("got %#v want %#v", got, tc.want)
		}
	}
}

func TestDecodeNotification_RejectsCommands(t *testing.T) {
	c := newTestCodec()
	pkt, _ := c.Encode(Refresh{})
	if _, err := c.DecodeNotification(pkt); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
}

func TestEncodeNotification_RoundTrip(t *testing.T) {
	c := newTestCodec()
	code, err := EventCode(EventButtonDouble)
	if err != nil {
		t.Fatalf("EventCode err=%v", err)
	}
	in := InputEvent{Kind: EventButtonDouble, Code: code, Timestamp: 123456}

	pkt, err := c.EncodeNotification(in)
	if err != nil {
		t.Fatalf("encode err=%v", err)
	}
	got, err := c.DecodeNotification(pkt)
	if err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if got != Notification(in) {
		t.Fatalf("got %#v", got)
	}
}
