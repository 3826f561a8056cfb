// internal/transport/ble/ble.go
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"tinygo.org/x/bluetooth"

	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/protocol"
)

// reportEvery throttles repeated advertisements from one device.
const reportEvery = time.Second

// ErrNotResolved is returned when a write or subscribe names a characteristic
// the handle did not resolve on connect.
var ErrNotResolved = errors.New("ble: characteristic not resolved on this link")

// Config names the GATT layout resolved on connect. Nil ids use the link defaults.
type Config struct {
	Service    uuid.UUID
	WriteChar  uuid.UUID
	NotifyChar uuid.UUID
}

// Transport is a link.Transport on the host Bluetooth adapter.
type Transport struct {
	cfg     Config
	adapter *bluetooth.Adapter
	log     hclog.Logger
	events  chan link.TransportEvent

	enableMu sync.Mutex
	enabled  bool

	// One discovery session at a time on the adapter.
	scanMu sync.Mutex

	mu      sync.Mutex
	seen    map[string]bluetooth.Address
	handles map[string]*handle
}

// New wraps the default adapter. The radio is enabled on first use.
func New(cfg Config, logger hclog.Logger) *Transport {
	if cfg.Service == uuid.Nil {
		cfg.Service = link.DefaultServiceUUID
	}
	if cfg.WriteChar == uuid.Nil {
		cfg.WriteChar = link.DefaultWriteCharUUID
	}
	if cfg.NotifyChar == uuid.Nil {
		cfg.NotifyChar = link.DefaultNotifyCharUUID
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Transport{
		cfg:     cfg,
		adapter: bluetooth.DefaultAdapter,
		log:     logger,
		events:  make(chan link.TransportEvent, 8),
		seen:    make(map[string]bluetooth.Address),
		handles: make(map[string]*handle),
	}
}

type handle struct {
	id     string
	dev    bluetooth.Device
	gatt   Config // ids resolved on connect
	write  bluetooth.DeviceCharacteristic
	notify bluetooth.DeviceCharacteristic

	frames chan []byte
	done   chan struct{}
	once   sync.Once

	bufMu sync.Mutex
	buf   []byte
}

func (h *handle) DeviceID() string { return h.id }

func (h *handle) close() {
	h.once.Do(func() { close(h.done) })
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
	if err := t.enable(); err != nil {
		return nil, err
	}

	out := make(chan link.DeviceRecord, 16)
	go func() {
		defer close(out)

		t.scanMu.Lock()
		defer t.scanMu.Unlock()

		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			select {
			case <-sctx.Done():
			case <-stopped:
				return
			}
			if err := t.adapter.StopScan(); err != nil {
				t.log.Debug("stop scan failed", "error", err)
			}
		}()

		last := make(map[string]time.Time)
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			id := res.Address.String()
			now := time.Now()
			if at, ok := last[id]; ok && now.Sub(at) < reportEvery {
				return
			}
			last[id] = now

			t.mu.Lock()
			t.seen[id] = res.Address
			t.mu.Unlock()

			rec := link.DeviceRecord{
				ID:             id,
				DisplayName:    res.LocalName(),
				SignalStrength: res.RSSI,
				LastSeenAt:     now,
			}
			select {
			case out <- rec:
			default:
			}
		})
		close(stopped)

		if err != nil && sctx.Err() == nil {
			t.log.Warn("scan failed", "error", err)
			if radioOff(err) {
				t.emit(link.TransportEvent{Kind: link.RadioOffEvent, Err: err})
			}
		}
	}()
	return out, nil
}

func (t *Transport) Connect(ctx context.Context, id string, timeout time.Duration) (link.Handle, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	addr, ok := t.seen[id]
	t.mu.Unlock()
	if !ok {
		return nil, fault.New(fault.ClassConnection, "connect", link.ErrUnknownDevice)
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{dev: dev, err: err}
	}()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dev bluetooth.Device
	select {
	case r := <-done:
		if r.err != nil {
			return nil, t.classify("connect", r.err)
		}
		dev = r.dev
	case <-cctx.Done():
		// The adapter call cannot be cancelled; drop whatever it yields later.
		go func() {
			if r := <-done; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, fault.New(fault.ClassConnection, "connect", link.ErrConnectTimeout)
	}

	h, err := t.resolve(id, dev)
	if err != nil {
		_ = dev.Disconnect()
		return nil, err
	}

	t.mu.Lock()
	t.handles[id] = h
	t.mu.Unlock()

	t.log.Info("peripheral connected", "device", id)
	return h, nil
}

// resolve discovers the service and both characteristics.
func (t *Transport) resolve(id string, dev bluetooth.Device) (*handle, error) {
	svcID, writeID, notifyID, err := t.gattIDs()
	if err != nil {
		return nil, fault.New(fault.ClassConnection, "resolve", err)
	}

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcID})
	if err != nil || len(svcs) == 0 {
		return nil, fault.New(fault.ClassConnection, "resolve", fmt.Errorf("service %s: %w", svcID, errOr(err, "not found")))
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{writeID, notifyID})
	if err != nil {
		return nil, fault.New(fault.ClassConnection, "resolve", err)
	}

	h := &handle{id: id, dev: dev, gatt: t.cfg, frames: make(chan []byte, 32), done: make(chan struct{})}
	var haveW, haveN bool
	for _, c := range chars {
		switch c.UUID() {
		case writeID:
			h.write, haveW = c, true
		case notifyID:
			h.notify, haveN = c, true
		}
	}
	if !haveW || !haveN {
		return nil, fault.New(fault.ClassConnection, "resolve", errors.New("uart characteristics missing"))
	}
	return h, nil
}

// Write sends one packet without response. service and char must match the
// ids the handle resolved on connect.
func (t *Transport) Write(ctx context.Context, lh link.Handle, service, char uuid.UUID, data []byte) error {
	h, err := live(lh)
	if err != nil {
		return err
	}
	if service != h.gatt.Service || char != h.gatt.WriteChar {
		return fault.New(fault.ClassWrite, "write", fmt.Errorf("%s/%s: %w", service, char, ErrNotResolved))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := h.write.WriteWithoutResponse(data)
		done <- result{err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return t.classify("write", r.err)
		}
		return nil
	case <-ctx.Done():
		return fault.New(fault.ClassWrite, "write", ctx.Err())
	}
}

// Subscribe enables notifications on the resolved notify characteristic,
// which service and char must name.
func (t *Transport) Subscribe(ctx context.Context, lh link.Handle, service, char uuid.UUID) (<-chan []byte, error) {
	h, err := live(lh)
	if err != nil {
		return nil, err
	}
	if service != h.gatt.Service || char != h.gatt.NotifyChar {
		return nil, fault.New(fault.ClassConnection, "subscribe", fmt.Errorf("%s/%s: %w", service, char, ErrNotResolved))
	}

	// Packets may span several notifications; reassemble per handle.
	err = h.notify.EnableNotifications(func(b []byte) {
		h.bufMu.Lock()
		h.buf = append(h.buf, b...)
		frames, rest := protocol.SplitFrames(h.buf)
		h.buf = append(h.buf[:0], rest...)
		h.bufMu.Unlock()

		for _, f := range frames {
			select {
			case h.frames <- f:
			default:
			}
		}
	})
	if err != nil {
		return nil, fault.New(fault.ClassConnection, "subscribe", err)
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
		return fmt.Errorf("ble: foreign handle %T", lh)
	}

	t.mu.Lock()
	if t.handles[h.id] == h {
		delete(t.handles, h.id)
	}
	t.mu.Unlock()

	already := h.closed()
	h.close()
	if already {
		return nil
	}
	return h.dev.Disconnect()
}

func (t *Transport) Events() <-chan link.TransportEvent { return t.events }

// ---- internals ----

// enable powers the adapter once; a failure is retried on the next call.
func (t *Transport) enable() error {
	t.enableMu.Lock()
	defer t.enableMu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fault.New(fault.ClassTransportUnavailable, "enable", err)
	}
	t.adapter.SetConnectHandler(t.onConnectChange)
	t.enabled = true
	return nil
}

func (t *Transport) onConnectChange(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := dev.Address.String()

	t.mu.Lock()
	h, ok := t.handles[id]
	if ok {
		delete(t.handles, id)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	h.close()
	t.emit(link.TransportEvent{Kind: link.LinkLostEvent, DeviceID: id, Err: errors.New("ble: peripheral disconnected")})
}

func (t *Transport) emit(ev link.TransportEvent) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("transport event dropped", "kind", ev.Kind)
	}
}

func (t *Transport) classify(op string, err error) error {
	if radioOff(err) {
		t.emit(link.TransportEvent{Kind: link.RadioOffEvent, Err: err})
		return fault.New(fault.ClassTransportUnavailable, op, link.ErrRadioOff)
	}
	if op == "write" {
		return fault.New(fault.ClassWrite, op, err)
	}
	return fault.New(fault.ClassConnection, op, err)
}

// gattIDs converts the configured ids to the adapter's representation.
func (t *Transport) gattIDs() (svc, write, notify bluetooth.UUID, err error) {
	if svc, err = bluetooth.ParseUUID(t.cfg.Service.String()); err != nil {
		return
	}
	if write, err = bluetooth.ParseUUID(t.cfg.WriteChar.String()); err != nil {
		return
	}
	notify, err = bluetooth.ParseUUID(t.cfg.NotifyChar.String())
	return
}

func live(lh link.Handle) (*handle, error) {
	h, ok := lh.(*handle)
	if !ok || h == nil {
		return nil, fmt.Errorf("ble: foreign handle %T", lh)
	}
	if h.closed() {
		return nil, link.ErrNotConnected
	}
	return h, nil
}

// radioOff recognizes the adapter refusing work because it is powered down.
func radioOff(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "notready") ||
		strings.Contains(s, "not powered") ||
		strings.Contains(s, "powered off") ||
		strings.Contains(s, "resource not ready")
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
