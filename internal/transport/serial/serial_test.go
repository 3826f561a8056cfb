// internal/transport/serial/serial_test.go
package serial

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/protocol"
)

// fakePort feeds queued reads and records writes. Methods the transport
// does not call are left to the embedded nil interface.
type fakePort struct {
	goserial.Port

	mu     sync.Mutex
	reads  chan []byte
	wrote  bytes.Buffer
	closed bool
}

func newFakePort() *fakePort { return &fakePort{reads: make(chan []byte, 8)} }

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk, ok := <-p.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(b, chunk), nil
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wrote.Write(b)
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error             { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func newTestTransport(port *fakePort, cfg Config) *Transport {
	t := New(cfg, nil)
	t.open = func(string, *goserial.Mode) (goserial.Port, error) { return port, nil }
	return t
}

func TestScan_EnumeratesUSBWithFilter(t *testing.T) {
	tr := New(Config{USBVID: "2341"}, nil)
	tr.list = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Display Bridge"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
		}, nil
	}

	ch, err := tr.Scan(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan err=%v", err)
	}
	var got []link.DeviceRecord
	for r := range ch {
		got = append(got, r)
	}
	if len(got) != 1 || got[0].ID != "/dev/ttyACM0" || got[0].DisplayName != "Display Bridge" {
		t.Fatalf("got %+v", got)
	}
}

func TestScan_StaysOpenUntilTimeoutOrCancel(t *testing.T) {
	tr := New(Config{Ports: []string{"/dev/ttyACM0"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := tr.Scan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Scan err=%v", err)
	}
	if r := <-ch; r.ID != "/dev/ttyACM0" {
		t.Fatalf("got %+v", r)
	}

	select {
	case r, ok := <-ch:
		t.Fatalf("scan ended early: %+v open=%v", r, ok)
	case <-time.After(30 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected record after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("scan did not end on cancel")
	}

	ch, err = tr.Scan(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan err=%v", err)
	}
	<-ch
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected record after timeout")
		}
	case <-time.After(time.Second):
		t.Fatal("scan did not end on timeout")
	}
}

func TestScan_EnumerationFailureIsUnavailable(t *testing.T) {
	tr := New(Config{}, nil)
	tr.list = func() ([]*enumerator.PortDetails, error) { return nil, io.ErrUnexpectedEOF }

	if _, err := tr.Scan(context.Background(), time.Second); !fault.Is(err, fault.ClassTransportUnavailable) {
		t.Fatalf("expected transport unavailable, got %v", err)
	}
}

func TestWriteAndSubscribe(t *testing.T) {
	port := newFakePort()
	tr := newTestTransport(port, Config{Ports: []string{"/dev/ttyACM0"}})
	ctx := context.Background()

	h, err := tr.Connect(ctx, "/dev/ttyACM0", time.Second)
	if err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	defer tr.Disconnect(h)

	frame := protocol.Frame(protocol.TypeRefresh, nil)
	if err := tr.Write(ctx, h, uuid.Nil, uuid.Nil, frame); err != nil {
		t.Fatalf("Write err=%v", err)
	}
	port.mu.Lock()
	if !bytes.Equal(port.wrote.Bytes(), frame) {
		t.Fatalf("wrote % x", port.wrote.Bytes())
	}
	port.mu.Unlock()

	sub, err := tr.Subscribe(ctx, h, uuid.Nil, uuid.Nil)
	if err != nil {
		t.Fatalf("Subscribe err=%v", err)
	}

	// A battery notification split across two reads, behind line noise.
	pkt := protocol.Frame(protocol.TypeBattery, []byte{77})
	port.reads <- append([]byte{0x00, 0x13}, pkt[:3]...)
	port.reads <- pkt[3:]

	select {
	case got := <-sub:
		if !bytes.Equal(got, pkt) {
			t.Fatalf("got % x want % x", got, pkt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no frame reassembled")
	}
}

func TestReadFailureIsLinkLoss(t *testing.T) {
	port := newFakePort()
	tr := newTestTransport(port, Config{})

	h, err := tr.Connect(context.Background(), "/dev/ttyACM0", time.Second)
	if err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	close(port.reads)

	select {
	case ev := <-tr.Events():
		if ev.Kind != link.LinkLostEvent || ev.DeviceID != "/dev/ttyACM0" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no link loss reported")
	}

	if err := tr.Write(context.Background(), h, uuid.Nil, uuid.Nil, []byte{1}); err == nil {
		t.Fatalf("write on dead port must fail")
	}
}

func TestClassify(t *testing.T) {
	denied := &goserial.PortError{}
	if fault.ClassOf(classify("write", io.ErrClosedPipe)) != fault.ClassWrite {
		t.Fatalf("write failure misclassified")
	}
	if fault.ClassOf(classify("connect", denied)) != fault.ClassConnection {
		t.Fatalf("generic port error misclassified")
	}
}
