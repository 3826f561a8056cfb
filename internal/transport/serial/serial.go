// internal/transport/serial/serial.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	goserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/protocol"
)

// Config selects and opens the UART bridge.
type Config struct {
	Ports       []string // fixed candidates; empty means enumerate USB ports
	BaudRate    int
	USBVID      string // optional VID filter for enumeration, hex
	ReadTimeout time.Duration
}

// Transport speaks the packet protocol over a USB UART bridge that relays
// to the peripheral. The bridge exposes one byte stream, so service and
// characteristic ids are not used.
type Transport struct {
	cfg    Config
	log    hclog.Logger
	open   func(name string, mode *goserial.Mode) (goserial.Port, error)
	list   func() ([]*enumerator.PortDetails, error)
	events chan link.TransportEvent
}

// New creates a serial transport.
func New(cfg Config, logger hclog.Logger) *Transport {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Transport{
		cfg:    cfg,
		log:    logger,
		open:   goserial.Open,
		list:   enumerator.GetDetailedPortsList,
		events: make(chan link.TransportEvent, 8),
	}
}

type handle struct {
	id     string
	port   goserial.Port
	wmu    sync.Mutex
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (h *handle) DeviceID() string { return h.id }

func (h *handle) close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		err = h.port.Close()
	})
	return err
}

func (h *handle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ---- link.Transport ----

func (t *Transport) Scan(ctx context.Context, timeout time.Duration) (<-chan link.DeviceRecord, error) {
	recs, err := t.candidates()
	if err != nil {
		return nil, err
	}

	out := make(chan link.DeviceRecord, len(recs))
	now := time.Now()
	for _, r := range recs {
		r.LastSeenAt = now
		out <- r
	}
	// The discovery window stays open so a candidate can still be chosen.
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}
	}()
	return out, nil
}

func (t *Transport) candidates() ([]link.DeviceRecord, error) {
	if len(t.cfg.Ports) > 0 {
		recs := make([]link.DeviceRecord, 0, len(t.cfg.Ports))
		for _, p := range t.cfg.Ports {
			recs = append(recs, link.DeviceRecord{ID: p, DisplayName: p})
		}
		return recs, nil
	}

	ports, err := t.list()
	if err != nil {
		return nil, fault.New(fault.ClassTransportUnavailable, "scan", err)
	}

	var recs []link.DeviceRecord
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if t.cfg.USBVID != "" && !strings.EqualFold(p.VID, t.cfg.USBVID) {
			continue
		}
		name := p.Product
		if name == "" {
			name = fmt.Sprintf("USB %s:%s", p.VID, p.PID)
		}
		t.log.Debug("usb serial port", "port", p.Name, "vid", p.VID, "pid", p.PID, "product", p.Product)
		recs = append(recs, link.DeviceRecord{ID: p.Name, DisplayName: name})
	}
	return recs, nil
}

func (t *Transport) Connect(ctx context.Context, id string, timeout time.Duration) (link.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := t.open(id, &goserial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, classify("connect", err)
	}
	if err := port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fault.New(fault.ClassConnection, "connect", err)
	}
	// Stale bytes from a previous session would desync framing.
	if err := port.ResetInputBuffer(); err != nil {
		t.log.Debug("input buffer reset failed", "port", id, "error", err)
	}

	h := &handle{
		id:     id,
		port:   port,
		frames: make(chan []byte, 32),
		done:   make(chan struct{}),
	}
	go t.readLoop(h)

	t.log.Info("serial port open", "port", id, "baud", t.cfg.BaudRate)
	return h, nil
}

func (t *Transport) Write(ctx context.Context, lh link.Handle, service, char uuid.UUID, data []byte) error {
	h, err := t.live(lh)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()

	for len(data) > 0 {
		n, err := h.port.Write(data)
		if err != nil {
			return classify("write", err)
		}
		data = data[n:]
		if err := ctx.Err(); err != nil && len(data) > 0 {
			return err
		}
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, lh link.Handle, service, char uuid.UUID) (<-chan []byte, error) {
	h, err := t.live(lh)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case f := <-h.frames:
				select {
				case out <- f:
				case <-ctx.Done():
					return
				case <-h.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Transport) Disconnect(lh link.Handle) error {
	h, ok := lh.(*handle)
	if !ok {
		return fmt.Errorf("serial: foreign handle %T", lh)
	}
	return h.close()
}

func (t *Transport) Events() <-chan link.TransportEvent { return t.events }

// ---- internals ----

func (t *Transport) live(lh link.Handle) (*handle, error) {
	h, ok := lh.(*handle)
	if !ok || h == nil {
		return nil, fmt.Errorf("serial: foreign handle %T", lh)
	}
	if h.closed() {
		return nil, link.ErrNotConnected
	}
	return h, nil
}

// readLoop cuts frames out of the byte stream until the port dies.
func (t *Transport) readLoop(h *handle) {
	buf := make([]byte, 256)
	var pending []byte

	for {
		n, err := h.port.Read(buf)
		if h.closed() {
			return
		}
		if err != nil {
			if !isDisconnect(err) {
				t.log.Warn("serial read failed", "port", h.id, "error", err)
			}
			_ = h.close()
			t.emit(link.TransportEvent{Kind: link.LinkLostEvent, DeviceID: h.id, Err: err})
			return
		}
		if n == 0 {
			continue // read timeout
		}

		pending = append(pending, buf[:n]...)
		frames, rest := protocol.SplitFrames(pending)
		pending = append(pending[:0], rest...)

		for _, f := range frames {
			select {
			case h.frames <- f:
			default:
				t.log.Debug("notification dropped, subscriber slow", "port", h.id)
			}
		}
	}
}

func (t *Transport) emit(ev link.TransportEvent) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("transport event dropped", "kind", ev.Kind)
	}
}

// classify maps serial library failures onto the error taxonomy.
func classify(op string, err error) error {
	var perr *goserial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case goserial.PermissionDenied, goserial.ErrorEnumeratingPorts, goserial.FunctionNotImplemented:
			return fault.New(fault.ClassTransportUnavailable, op, err)
		}
	}
	if op == "write" {
		return fault.New(fault.ClassWrite, op, err)
	}
	return fault.New(fault.ClassConnection, op, err)
}

// isDisconnect reports the ways an unplugged adapter shows up.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var perr *goserial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case goserial.PortNotFound, goserial.PortClosed, goserial.InvalidSerialPort:
			return true
		}
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "no such device") ||
		strings.Contains(s, "input/output error") ||
		strings.Contains(s, "device not configured")
}
