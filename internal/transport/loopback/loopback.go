// internal/transport/loopback/loopback.go
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/protocol"
)

// DefaultFirmware is what simulated peripherals report.
const DefaultFirmware = "sim-1.0.0"

var errClosed = errors.New("loopback: handle closed")

// Transport is an in-memory link.Transport backed by simulated peripherals.
// Frames written to it are decoded with the codec and applied to a Screen.
type Transport struct {
	codec *protocol.Codec
	log   hclog.Logger

	mu          sync.Mutex
	devices     map[string]*peripheral
	order       []string
	radioOff    bool
	failConnect int
	failWrites  int
	events      chan link.TransportEvent
}

type peripheral struct {
	rec      link.DeviceRecord
	screen   *Screen
	battery  uint8
	firmware string
	live     *handle
	frames   int
}

type handle struct {
	id     string
	notify chan []byte
	done   chan struct{}
	once   sync.Once
}

func (h *handle) DeviceID() string { return h.id }

func (h *handle) close() {
	h.once.Do(func() { close(h.done) })
}

// New builds a transport with the given simulated devices.
func New(codec *protocol.Codec, logger hclog.Logger, devices ...link.DeviceRecord) *Transport {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	t := &Transport{
		codec:   codec,
		log:     logger,
		devices: make(map[string]*peripheral),
		events:  make(chan link.TransportEvent, 16),
	}
	for _, d := range devices {
		t.Add(d)
	}
	return t
}

// Add registers another simulated peripheral.
func (t *Transport) Add(rec link.DeviceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.devices[rec.ID]; !ok {
		t.order = append(t.order, rec.ID)
	}
	t.devices[rec.ID] = &peripheral{rec: rec, screen: newScreen(), battery: 100, firmware: DefaultFirmware}
}

// ---- link.Transport ----

func (t *Transport) Scan(ctx context.Context, timeout time.Duration) (<-chan link.DeviceRecord, error) {
	t.mu.Lock()
	if t.radioOff {
		t.mu.Unlock()
		return nil, fault.New(fault.ClassTransportUnavailable, "scan", link.ErrRadioOff)
	}
	recs := make([]link.DeviceRecord, 0, len(t.order))
	for _, id := range t.order {
		recs = append(recs, t.devices[id].rec)
	}
	t.mu.Unlock()

	out := make(chan link.DeviceRecord)
	go func() {
		defer close(out)
		for _, r := range recs {
			r.LastSeenAt = time.Now()
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
		// A real radio keeps listening until the window closes.
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}
	}()
	return out, nil
}

func (t *Transport) Connect(ctx context.Context, id string, timeout time.Duration) (link.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.radioOff {
		return nil, fault.New(fault.ClassTransportUnavailable, "connect", link.ErrRadioOff)
	}
	if t.failConnect > 0 {
		t.failConnect--
		return nil, fault.New(fault.ClassConnection, "connect", fmt.Errorf("loopback: %s did not answer", id))
	}
	p, ok := t.devices[id]
	if !ok {
		return nil, fault.New(fault.ClassConnection, "connect", link.ErrUnknownDevice)
	}
	if p.live != nil {
		p.live.close()
	}
	h := &handle{id: id, notify: make(chan []byte, 16), done: make(chan struct{})}
	p.live = h
	t.log.Debug("peripheral connected", "device", id)
	return h, nil
}

func (t *Transport) Write(ctx context.Context, h link.Handle, service, char uuid.UUID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.liveLocked(h)
	if err != nil {
		return err
	}
	if t.failWrites > 0 {
		t.failWrites--
		return errors.New("loopback: write not acknowledged")
	}

	msg, err := t.codec.Decode(data)
	if err != nil {
		return err
	}
	cmd, ok := msg.(protocol.Command)
	if !ok {
		return fmt.Errorf("loopback: %s is not a command", msg.Type())
	}
	p.screen.apply(cmd)
	p.frames++

	t.notifyLocked(p, protocol.Ack{Of: cmd.Type()})
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, h link.Handle, service, char uuid.UUID) (<-chan []byte, error) {
	t.mu.Lock()
	p, err := t.liveLocked(h)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	lh := p.live
	// Answer battery and firmware right away, as the real peripheral does.
	t.notifyLocked(p, protocol.FirmwareVersion{Version: p.firmware})
	t.notifyLocked(p, protocol.BatteryLevel{Percent: p.battery})
	t.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-lh.done:
				return
			case pkt := <-lh.notify:
				select {
				case out <- pkt:
				case <-ctx.Done():
					return
				case <-lh.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Transport) Disconnect(h link.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.devices[h.DeviceID()]
	if !ok {
		return link.ErrUnknownDevice
	}
	lh, _ := h.(*handle)
	if p.live == nil || p.live != lh {
		return nil
	}
	p.live.close()
	p.live = nil
	return nil
}

func (t *Transport) Events() <-chan link.TransportEvent { return t.events }

// ---- simulation controls ----

// Screen returns a copy of the device's current frame buffer.
func (t *Transport) Screen(id string) (Screen, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.devices[id]
	if !ok {
		return Screen{}, false
	}
	return p.screen.clone(), true
}

// Frames is the number of commands the device accepted.
func (t *Transport) Frames(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.devices[id]; ok {
		return p.frames
	}
	return 0
}

// Input sends an input event notification from the device.
func (t *Transport) Input(id string, kind protocol.EventKind) error {
	code, err := protocol.EventCode(kind)
	if err != nil {
		return err
	}
	return t.inputCode(id, code)
}

func (t *Transport) inputCode(id string, code uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.devices[id]
	if !ok || p.live == nil {
		return errClosed
	}
	t.notifyLocked(p, protocol.InputEvent{Code: code, Timestamp: uint32(time.Now().Unix())})
	return nil
}

// SetBattery changes the level and notifies a connected host.
func (t *Transport) SetBattery(id string, percent uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.devices[id]; ok {
		p.battery = percent
		if p.live != nil {
			t.notifyLocked(p, protocol.BatteryLevel{Percent: percent})
		}
	}
}

// Drop severs the link from the device side.
func (t *Transport) Drop(id string) {
	t.mu.Lock()
	if p, ok := t.devices[id]; ok && p.live != nil {
		p.live.close()
		p.live = nil
	}
	t.mu.Unlock()
	t.emit(link.TransportEvent{Kind: link.LinkLostEvent, DeviceID: id, Err: errors.New("loopback: peer went away")})
}

// SetRadio switches the simulated adapter. Turning it off drops every link.
func (t *Transport) SetRadio(on bool) {
	t.mu.Lock()
	t.radioOff = !on
	if !on {
		for _, p := range t.devices {
			if p.live != nil {
				p.live.close()
				p.live = nil
			}
		}
	}
	t.mu.Unlock()

	if on {
		t.emit(link.TransportEvent{Kind: link.RadioOnEvent})
	} else {
		t.emit(link.TransportEvent{Kind: link.RadioOffEvent})
	}
}

// FailConnects makes the next n Connect calls fail.
func (t *Transport) FailConnects(n int) {
	t.mu.Lock()
	t.failConnect = n
	t.mu.Unlock()
}

// FailWrites makes the next n Write calls fail after the handle check.
func (t *Transport) FailWrites(n int) {
	t.mu.Lock()
	t.failWrites = n
	t.mu.Unlock()
}

// ---- internals ----

func (t *Transport) liveLocked(h link.Handle) (*peripheral, error) {
	if h == nil {
		return nil, errClosed
	}
	p, ok := t.devices[h.DeviceID()]
	if !ok {
		return nil, link.ErrUnknownDevice
	}
	lh, _ := h.(*handle)
	if p.live == nil || p.live != lh {
		return nil, errClosed
	}
	return p, nil
}

// notifyLocked queues a notification; a full queue drops it like a lossy radio.
func (t *Transport) notifyLocked(p *peripheral, n protocol.Notification) {
	pkt, err := t.codec.EncodeNotification(n)
	if err != nil {
		t.log.Warn("cannot encode notification", "type", n.Type(), "error", err)
		return
	}
	select {
	case p.live.notify <- pkt:
	default:
	}
}

func (t *Transport) emit(ev link.TransportEvent) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("transport event dropped", "kind", ev.Kind)
	}
}
