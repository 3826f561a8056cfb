// internal/protocol/packet.go
package protocol

import (
	"encoding/binary"
	"math"
)

// Frame layout (bit-exact):
//
//	[header:1][type:1][payloadLen:2 LE][payload:payloadLen][checksum:1]
//
// checksum = 0xFF ^ type ^ len_lo ^ len_hi ^ payload...
const (
	Header        byte = 0xAA
	ChecksumSeed  byte = 0xFF
	frameOverhead      = 5 // header + type + len(2) + checksum
	MinFrameLen        = frameOverhead
	MaxPayloadLen      = math.MaxUint16

	// MaxStreamFrame bounds what SplitFrames will wait for. A header byte
	// announcing more than this is treated as line noise.
	MaxStreamFrame = 8192
)

// Checksum XOR-folds b starting from ChecksumSeed.
func Checksum(b []byte) byte {
	sum := ChecksumSeed
	for _, v := range b {
		sum ^= v
	}
	return sum
}

// Frame wraps payload into a packet. Caller guarantees len(payload) <= MaxPayloadLen.
func Frame(t Type, payload []byte) []byte {
	pkt := make([]byte, frameOverhead+len(payload))
	pkt[0] = Header
	pkt[1] = byte(t)
	binary.LittleEndian.PutUint16(pkt[2:4], uint16(len(payload)))
	copy(pkt[4:], payload)
	pkt[len(pkt)-1] = Checksum(pkt[1 : len(pkt)-1])
	return pkt
}

// Unframe checks framing and integrity of one complete packet and
// returns its type and payload. The payload aliases pkt.
func Unframe(pkt []byte) (Type, []byte, error) {
	if len(pkt) < MinFrameLen {
		return 0, nil, integrity(ErrShortPacket, "got %d bytes", len(pkt))
	}
	if pkt[0] != Header {
		return 0, nil, integrity(ErrBadHeader, "got 0x%02x", pkt[0])
	}

	declared := int(binary.LittleEndian.Uint16(pkt[2:4]))
	actual := len(pkt) - frameOverhead
	if declared != actual {
		return 0, nil, integrity(ErrLengthMismatch, "declared=%d actual=%d", declared, actual)
	}

	want := Checksum(pkt[1 : len(pkt)-1])
	if got := pkt[len(pkt)-1]; got != want {
		return 0, nil, integrity(ErrChecksumMismatch, "got=0x%02x want=0x%02x", got, want)
	}

	return Type(pkt[1]), pkt[4 : len(pkt)-1], nil
}

// SplitFrames cuts complete packets out of a byte stream.
// Bytes before a header are skipped. The returned rest must be
// prepended to the next read. Frames are not integrity-checked here.
func SplitFrames(stream []byte) (frames [][]byte, rest []byte) {
	for {
		i := 0
		for i < len(stream) && stream[i] != Header {
			i++
		}
		stream = stream[i:]

		if len(stream) < 4 {
			return frames, stream
		}
		n := frameOverhead + int(binary.LittleEndian.Uint16(stream[2:4]))
		if n > MaxStreamFrame {
			stream = stream[1:]
			continue
		}
		if len(stream) < n {
			return frames, stream
		}

		frame := make([]byte, n)
		copy(frame, stream[:n])
		frames = append(frames, frame)
		stream = stream[n:]
	}
}
