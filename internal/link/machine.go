// internal/link/machine.go
package link

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/events"
	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/protocol"
)

// Config is the runtime config of a Machine.
type Config struct {
	Policy         Policy
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	Service    uuid.UUID
	WriteChar  uuid.UUID
	NotifyChar uuid.UUID

	// Auto-select: the first discovered device matching either is chosen.
	AutoSelectID   string
	AutoSelectName string

	// IntegrityWarnAfter consecutive bad inbound packets raise ErrProtocolMismatch.
	IntegrityWarnAfter int
}

// StateChange is published on every state transition.
type StateChange struct {
	From     State     `json:"from"`
	To       State     `json:"to"`
	DeviceID string    `json:"device_id,omitempty"`
	Attempts int       `json:"attempts"`
	Err      error     `json:"-"`
	At       time.Time `json:"at"`
}

// Alert is a surfaced error. Terminal alerts need user action.
type Alert struct {
	Err      error     `json:"-"`
	Terminal bool      `json:"terminal"`
	At       time.Time `json:"at"`
}

// Inbound is a decoded peripheral notification.
type Inbound struct {
	DeviceID     string
	Notification protocol.Notification
	At           time.Time
}

// ---- internal loop events (not seen by Transition) ----

type (
	scanRecord struct {
		gen uint64
		rec DeviceRecord
	}
	scanDone struct {
		gen uint64
		err error
	}
	connectDone struct {
		gen uint64
		h   Handle
		err error
	}
	transportNote struct{ ev TransportEvent }
)

func (scanRecord) event()    {}
func (scanDone) event()      {}
func (connectDone) event()   {}
func (transportNote) event() {}

// Machine drives a Transport through the connection lifecycle.
// Its Run goroutine is the sole writer of the snapshot and the handle.
type Machine struct {
	cfg   Config
	tr    Transport
	codec *protocol.Codec
	log   hclog.Logger

	queue chan Event
	done  chan struct{}

	// loop-owned
	snap          Snapshot
	handle        Handle
	runCtx        context.Context
	scanGen       uint64
	scanCancel    context.CancelFunc
	connGen       uint64
	connCancel    context.CancelFunc
	observeCancel context.CancelFunc
	reconnect     *time.Timer
	pending       []Event

	// read side
	mu      sync.RWMutex
	pub     Snapshot
	pubH    Handle
	devices map[string]DeviceRecord

	States        *events.Bus[StateChange]
	Alerts        *events.Bus[Alert]
	Discoveries   *events.Bus[DeviceRecord]
	Notifications *events.Bus[Inbound]
}

// New builds a Machine. Zero-valued config fields get defaults.
func New(cfg Config, tr Transport, codec *protocol.Codec, logger hclog.Logger) *Machine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Policy.ScanTimeout <= 0 {
		cfg.Policy.ScanTimeout = 15 * time.Second
	}
	if cfg.Service == uuid.Nil {
		cfg.Service = DefaultServiceUUID
	}
	if cfg.WriteChar == uuid.Nil {
		cfg.WriteChar = DefaultWriteCharUUID
	}
	if cfg.NotifyChar == uuid.Nil {
		cfg.NotifyChar = DefaultNotifyCharUUID
	}
	if cfg.IntegrityWarnAfter <= 0 {
		cfg.IntegrityWarnAfter = 3
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Machine{
		cfg:           cfg,
		tr:            tr,
		codec:         codec,
		log:           logger,
		queue:         make(chan Event, 64),
		done:          make(chan struct{}),
		devices:       make(map[string]DeviceRecord),
		States:        events.NewBus[StateChange](),
		Alerts:        events.NewBus[Alert](),
		Discoveries:   events.NewBus[DeviceRecord](),
		Notifications: events.NewBus[Inbound](),
	}
}

// ---- public API (any goroutine) ----

// StartScan begins discovery. Scanning while connected is refused.
func (m *Machine) StartScan() error { return m.submit(StartScan{}) }

// Choose connects to a device seen by the current scan.
func (m *Machine) Choose(id string) error { return m.submit(DeviceChosen{ID: id}) }

// Disconnect tears the connection down and cancels pending reconnects.
func (m *Machine) Disconnect() error { return m.submit(UserDisconnect{}) }

// Snapshot returns the last published state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pub
}

// State returns the current connection state.
func (m *Machine) State() State { return m.Snapshot().State }

// Connected reports whether a write would be attempted right now.
func (m *Machine) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pub.State == Connected && m.pubH != nil
}

// Devices lists the current scan cycle's records, strongest signal first.
func (m *Machine) Devices() []DeviceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeviceRecord, 0, len(m.devices))
	for _, d := range m.devices {
		d.Connected = m.pubH != nil && m.pubH.DeviceID() == d.ID
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalStrength != out[j].SignalStrength {
			return out[i].SignalStrength > out[j].SignalStrength
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Send writes one frame on the active connection. The handle is
// looked up per call and never held across calls.
func (m *Machine) Send(ctx context.Context, frame []byte) error {
	m.mu.RLock()
	state, h := m.pub.State, m.pubH
	m.mu.RUnlock()

	if state != Connected || h == nil {
		return fault.New(fault.ClassWrite, "send", ErrNotConnected)
	}

	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()

	if err := m.tr.Write(wctx, h, m.cfg.Service, m.cfg.WriteChar, frame); err != nil {
		return fault.New(fault.ClassWrite, "send", err)
	}
	return nil
}

// Run owns the state until ctx ends. It must be called exactly once.
func (m *Machine) Run(ctx context.Context) error {
	m.runCtx = ctx
	defer m.shutdown()

	m.publish()
	trEvents := m.tr.Events()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-m.queue:
			m.dispatch(ev)

		case te, ok := <-trEvents:
			if !ok {
				trEvents = nil
				continue
			}
			m.dispatch(transportNote{ev: te})
		}
	}
}

func (m *Machine) submit(ev Event) error {
	select {
	case m.queue <- ev:
		return nil
	case <-m.done:
		return ErrMachineStopped
	}
}

// enqueue is used by worker goroutines; it gives up once the machine stopped.
func (m *Machine) enqueue(ev Event) {
	select {
	case m.queue <- ev:
	case <-m.done:
	}
}

// ---- loop ----

func (m *Machine) dispatch(ev Event) {
	switch e := ev.(type) {
	case scanRecord:
		m.onScanRecord(e)
	case scanDone:
		if e.gen != m.scanGen {
			return
		}
		m.scanCancel = nil
		m.apply(ScanEnded{Err: e.err})
	case connectDone:
		m.onConnectDone(e)
	case transportNote:
		m.onTransportEvent(e.ev)
	default:
		m.apply(ev)
	}
}

func (m *Machine) apply(ev Event) {
	m.pending = append(m.pending, ev)
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]

		snap, effects := Transition(m.snap, m.cfg.Policy, next)
		m.snap = snap
		m.publish()

		for _, eff := range effects {
			m.execute(eff)
		}
	}
}

func (m *Machine) execute(eff Effect) {
	switch e := eff.(type) {
	case StartDiscovery:
		m.startDiscovery(e.Timeout)

	case StopDiscovery:
		if m.scanCancel != nil {
			m.scanCancel()
			m.scanCancel = nil
		}
		m.scanGen++

	case OpenConnection:
		m.openConnection(e.ID)

	case BeginObserving:
		m.beginObserving()

	case CloseConnection:
		m.closeConnection()

	case ScheduleReconnect:
		m.stopReconnectTimer()
		m.log.Info("link lost, reconnect scheduled", "device", m.snap.DeviceID, "attempt", e.Attempt, "delay", e.Delay)
		m.reconnect = time.AfterFunc(e.Delay, func() { m.enqueue(ReconnectDue{}) })

	case CancelReconnect:
		m.stopReconnectTimer()

	case Notify:
		m.log.Debug("state changed", "from", e.From, "to", e.To, "device", m.snap.DeviceID, "attempts", m.snap.Attempts)
		m.States.Publish(StateChange{
			From:     e.From,
			To:       e.To,
			DeviceID: m.snap.DeviceID,
			Attempts: m.snap.Attempts,
			Err:      e.Err,
			At:       time.Now(),
		})

	case Surface:
		if e.Terminal {
			m.log.Error("link failure needs attention", "error", e.Err)
		} else {
			m.log.Warn("link request failed", "error", e.Err)
		}
		m.Alerts.Publish(Alert{Err: e.Err, Terminal: e.Terminal, At: time.Now()})

	case Feed:
		m.pending = append(m.pending, e.Event)
	}
}

func (m *Machine) startDiscovery(timeout time.Duration) {
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.scanGen++
	gen := m.scanGen

	ctx, cancel := context.WithCancel(m.runCtx)
	m.scanCancel = cancel

	// Records are rebuilt every scan cycle.
	m.mu.Lock()
	m.devices = make(map[string]DeviceRecord)
	m.mu.Unlock()

	m.log.Info("scan started", "timeout", timeout)

	go func() {
		ch, err := m.tr.Scan(ctx, timeout)
		if err != nil {
			m.enqueue(scanDone{gen: gen, err: err})
			return
		}
		for rec := range ch {
			m.enqueue(scanRecord{gen: gen, rec: rec})
		}
		m.enqueue(scanDone{gen: gen})
	}()
}

func (m *Machine) onScanRecord(e scanRecord) {
	if e.gen != m.scanGen || m.snap.State != Scanning {
		return
	}
	rec := e.rec
	if rec.LastSeenAt.IsZero() {
		rec.LastSeenAt = time.Now()
	}

	m.mu.Lock()
	_, seen := m.devices[rec.ID]
	m.devices[rec.ID] = rec
	m.mu.Unlock()

	if !seen {
		m.log.Debug("device found", "id", rec.ID, "name", rec.DisplayName, "rssi", rec.SignalStrength)
	}
	m.Discoveries.Publish(rec)

	if m.matchesAutoSelect(rec) {
		m.log.Info("auto-selecting device", "id", rec.ID, "name", rec.DisplayName)
		m.apply(DeviceChosen{ID: rec.ID})
	}
}

func (m *Machine) matchesAutoSelect(rec DeviceRecord) bool {
	if m.cfg.AutoSelectID != "" && strings.EqualFold(rec.ID, m.cfg.AutoSelectID) {
		return true
	}
	return m.cfg.AutoSelectName != "" && strings.EqualFold(rec.DisplayName, m.cfg.AutoSelectName)
}

func (m *Machine) openConnection(id string) {
	if m.connCancel != nil {
		m.connCancel()
	}
	m.connGen++
	gen := m.connGen

	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.ConnectTimeout)
	m.connCancel = cancel

	m.log.Info("connecting", "device", id, "attempt", m.snap.Attempts, "timeout", m.cfg.ConnectTimeout)

	go func() {
		defer cancel()
		h, err := m.tr.Connect(ctx, id, m.cfg.ConnectTimeout)
		if err == nil && h == nil {
			err = ErrTransportNoResponse
		}
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrConnectTimeout
		}
		if err != nil && fault.ClassOf(err) == fault.ClassUnknown {
			err = connection("connect", err)
		}
		m.enqueue(connectDone{gen: gen, h: h, err: err})
	}()
}

func (m *Machine) onConnectDone(e connectDone) {
	stale := e.gen != m.connGen || m.snap.State != Connecting
	if stale {
		if e.h != nil {
			if err := m.tr.Disconnect(e.h); err != nil {
				m.log.Debug("closing stale handle failed", "error", err)
			}
		}
		return
	}
	m.connCancel = nil

	if e.err != nil {
		m.apply(ConnectFailed{Err: e.err})
		return
	}

	m.handle = e.h
	m.log.Info("connected", "device", e.h.DeviceID())
	m.apply(ServicesResolved{})
}

func (m *Machine) closeConnection() {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.connGen++

	if m.observeCancel != nil {
		m.observeCancel()
		m.observeCancel = nil
	}

	h := m.handle
	m.handle = nil
	m.publish()
	if h == nil {
		return
	}
	if err := m.tr.Disconnect(h); err != nil {
		// The end state is the same either way.
		m.log.Warn("transport teardown failed", "device", h.DeviceID(), "error", err)
	}
}

func (m *Machine) beginObserving() {
	h := m.handle
	if h == nil {
		return
	}
	ctx, cancel := context.WithCancel(m.runCtx)
	m.observeCancel = cancel

	go m.observe(ctx, h)
}

func (m *Machine) observe(ctx context.Context, h Handle) {
	ch, err := m.tr.Subscribe(ctx, h, m.cfg.Service, m.cfg.NotifyChar)
	if err != nil {
		m.log.Warn("notification subscribe failed", "device", h.DeviceID(), "error", err)
		return
	}

	bad := 0
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-ch:
			if !ok {
				return
			}
			n, err := m.codec.DecodeNotification(pkt)
			if err != nil {
				bad++
				m.log.Debug("discarding inbound packet", "device", h.DeviceID(), "error", err)
				if bad == m.cfg.IntegrityWarnAfter {
					perr := fault.New(fault.ClassIntegrity, "observe", ErrProtocolMismatch)
					m.log.Warn("possible protocol mismatch", "device", h.DeviceID(), "failures", bad)
					m.Alerts.Publish(Alert{Err: perr, At: time.Now()})
				}
				continue
			}
			bad = 0

			if ie, ok := n.(protocol.InputEvent); ok && ie.Kind == protocol.EventUnknown {
				m.log.Warn("unknown input event code", "device", h.DeviceID(), "code", ie.Code)
			}
			m.Notifications.Publish(Inbound{DeviceID: h.DeviceID(), Notification: n, At: time.Now()})
		}
	}
}

func (m *Machine) onTransportEvent(te TransportEvent) {
	switch te.Kind {
	case LinkLostEvent:
		if m.handle == nil && m.snap.State != Connecting {
			return
		}
		if m.handle != nil && te.DeviceID != "" && te.DeviceID != m.handle.DeviceID() {
			return
		}
		cause := te.Err
		if cause == nil {
			cause = errors.New("link lost")
		}
		m.apply(LinkLost{Err: connection("link", cause)})
	case RadioOffEvent:
		m.apply(RadioOff{})
	case RadioOnEvent:
		m.log.Info("radio back on; re-scan to reconnect")
		m.apply(RadioOn{})
	}
}

func (m *Machine) stopReconnectTimer() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Machine) publish() {
	m.mu.Lock()
	m.pub = m.snap
	m.pubH = m.handle
	m.mu.Unlock()
}

func (m *Machine) shutdown() {
	close(m.done)
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.stopReconnectTimer()
	m.closeConnection()

	m.States.Close()
	m.Alerts.Close()
	m.Discoveries.Close()
	m.Notifications.Close()
}
