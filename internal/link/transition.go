// internal/link/transition.go
package link

import (
	"fmt"
	"time"

	"github.com/tamzrod/display-link/internal/fault"
)

// Policy is the immutable reconnect and discovery policy.
type Policy struct {
	AutoReconnect  bool
	MaxAttempts    int
	ReconnectDelay time.Duration
	ScanTimeout    time.Duration
}

// Snapshot is everything Transition needs to decide the next state.
type Snapshot struct {
	State            State
	Attempts         int    // reconnect attempts since the last successful connect
	DeviceID         string // target of the current or last connection
	RadioOff         bool
	Terminal         bool // Error that only a manual re-scan clears
	ReconnectPending bool
	Err              error // last error that moved the state
}

// ---- events ----

// Event is an input to Transition.
type Event interface{ event() }

type (
	StartScan        struct{}
	ScanEnded        struct{ Err error }
	DeviceChosen     struct{ ID string }
	ServicesResolved struct{}
	ConnectFailed    struct{ Err error }
	LinkLost         struct{ Err error }
	RadioOff         struct{}
	RadioOn          struct{}
	UserDisconnect   struct{}
	TeardownDone     struct{}
	ReconnectDue     struct{}
	Fatal            struct{ Err error }
	Settle           struct{}
)

func (StartScan) event()        {}
func (ScanEnded) event()        {}
func (DeviceChosen) event()     {}
func (ServicesResolved) event() {}
func (ConnectFailed) event()    {}
func (LinkLost) event()         {}
func (RadioOff) event()         {}
func (RadioOn) event()          {}
func (UserDisconnect) event()   {}
func (TeardownDone) event()     {}
func (ReconnectDue) event()     {}
func (Fatal) event()            {}
func (Settle) event()           {}

// ---- effects ----

// Effect is a side effect the Machine must carry out, in order.
type Effect interface{ effect() }

type (
	StartDiscovery    struct{ Timeout time.Duration }
	StopDiscovery     struct{}
	OpenConnection    struct{ ID string }
	BeginObserving    struct{}
	CloseConnection   struct{}
	ScheduleReconnect struct {
		Delay   time.Duration
		Attempt int
	}
	CancelReconnect struct{}
	Notify          struct {
		From, To State
		Err      error
	}
	Surface struct {
		Err      error
		Terminal bool
	}
	// Feed queues a follow-up event after the current effects ran.
	Feed struct{ Event Event }
)

func (StartDiscovery) effect()    {}
func (StopDiscovery) effect()     {}
func (OpenConnection) effect()    {}
func (BeginObserving) effect()    {}
func (CloseConnection) effect()   {}
func (ScheduleReconnect) effect() {}
func (CancelReconnect) effect()   {}
func (Notify) effect()            {}
func (Surface) effect()           {}
func (Feed) effect()              {}

// Transition is the only place connection state changes.
// It is pure: no I/O, no clock. The Machine executes the returned effects.
func Transition(s Snapshot, p Policy, ev Event) (Snapshot, []Effect) {
	switch e := ev.(type) {
	case StartScan:
		return onStartScan(s, p)

	case ScanEnded:
		if s.State != Scanning {
			return s, nil
		}
		effs := []Effect{StopDiscovery{}}
		if e.Err != nil {
			effs = append(effs, Surface{Err: e.Err, Terminal: fault.Is(e.Err, fault.ClassTransportUnavailable)})
		}
		return moveTo(s, Disconnected, e.Err, effs...)

	case DeviceChosen:
		if s.State != Scanning {
			return s, []Effect{Surface{Err: connection("choose", ErrNotScanning)}}
		}
		s.DeviceID = e.ID
		s.Attempts = 0
		return moveTo(s, Connecting, nil, StopDiscovery{}, OpenConnection{ID: e.ID})

	case ServicesResolved:
		if s.State != Connecting {
			return s, nil
		}
		s.Attempts = 0
		s.Terminal = false
		return moveTo(s, Connected, nil, BeginObserving{})

	case ConnectFailed:
		if s.State != Connecting {
			return s, nil
		}
		return onConnectFailed(s, p, e.Err)

	case LinkLost:
		switch s.State {
		case Connected:
			return reconnectOrGiveUp(s, p, e.Err, CloseConnection{})
		case Connecting:
			return onConnectFailed(s, p, e.Err)
		}
		return s, nil

	case RadioOff:
		return onRadioOff(s)

	case RadioOn:
		s.RadioOff = false
		return s, nil

	case UserDisconnect:
		if s.State == Disconnecting {
			return s, nil
		}
		var effs []Effect
		switch s.State {
		case Scanning:
			effs = append(effs, StopDiscovery{})
		case Connecting, Connected:
			effs = append(effs, CloseConnection{})
		}
		if s.ReconnectPending {
			effs = append(effs, CancelReconnect{})
		}
		effs = append(effs, Feed{Event: TeardownDone{}})
		s.Attempts = 0
		s.Terminal = false
		s.ReconnectPending = false
		return moveTo(s, Disconnecting, nil, effs...)

	case TeardownDone:
		if s.State != Disconnecting {
			return s, nil
		}
		return moveTo(s, Disconnected, nil)

	case ReconnectDue:
		if s.State != Disconnected || !s.ReconnectPending || s.RadioOff {
			return s, nil
		}
		s.ReconnectPending = false
		return moveTo(s, Connecting, nil, OpenConnection{ID: s.DeviceID})

	case Fatal:
		var effs []Effect
		switch s.State {
		case Scanning:
			effs = append(effs, StopDiscovery{})
		case Connecting, Connected:
			effs = append(effs, CloseConnection{})
		}
		if s.ReconnectPending {
			effs = append(effs, CancelReconnect{})
		}
		effs = append(effs, Surface{Err: e.Err, Terminal: true})
		s.Terminal = true
		s.ReconnectPending = false
		return moveTo(s, Error, e.Err, effs...)

	case Settle:
		if s.State != Error || s.Terminal {
			return s, nil
		}
		return moveTo(s, Disconnected, s.Err)
	}

	return s, nil
}

func onStartScan(s Snapshot, p Policy) (Snapshot, []Effect) {
	if s.RadioOff {
		return s, []Effect{Surface{Err: unavailable("scan", ErrRadioOff), Terminal: true}}
	}

	switch s.State {
	case Disconnected, Error:
		var effs []Effect
		if s.ReconnectPending {
			effs = append(effs, CancelReconnect{})
		}
		effs = append(effs, StartDiscovery{Timeout: p.ScanTimeout})
		s.Attempts = 0
		s.Terminal = false
		s.ReconnectPending = false
		return moveTo(s, Scanning, nil, effs...)

	case Scanning:
		// One discovery session at a time: the new scan replaces the old one.
		return s, []Effect{StopDiscovery{}, StartDiscovery{Timeout: p.ScanTimeout}}

	case Connected:
		// Discovery and the connection are independent; only discovery is touched.
		return s, []Effect{StopDiscovery{}, Surface{Err: connection("scan", ErrScanWhileConnected)}}

	default:
		return s, []Effect{Surface{Err: connection("scan", ErrBusy)}}
	}
}

func onConnectFailed(s Snapshot, p Policy, err error) (Snapshot, []Effect) {
	if fault.Is(err, fault.ClassTransportUnavailable) {
		s.Terminal = true
		s.ReconnectPending = false
		return moveTo(s, Error, err, Surface{Err: err, Terminal: true})
	}

	if s.Attempts > 0 {
		return reconnectOrGiveUp(s, p, err)
	}

	// Manual connect: report through Error, then settle back to Disconnected.
	s.Terminal = false
	return moveTo(s, Error, err, Surface{Err: err}, Feed{Event: Settle{}})
}

func reconnectOrGiveUp(s Snapshot, p Policy, cause error, pre ...Effect) (Snapshot, []Effect) {
	effs := append([]Effect(nil), pre...)

	if !p.AutoReconnect {
		s.Attempts = 0
		return moveTo(s, Disconnected, cause, effs...)
	}

	if s.Attempts < p.MaxAttempts {
		s.Attempts++
		s.ReconnectPending = true
		effs = append(effs, ScheduleReconnect{Delay: p.ReconnectDelay, Attempt: s.Attempts})
		return moveTo(s, Disconnected, cause, effs...)
	}

	err := connection("reconnect", fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, s.Attempts, cause))
	s.Terminal = true
	s.ReconnectPending = false
	effs = append(effs, Surface{Err: err, Terminal: true})
	return moveTo(s, Error, err, effs...)
}

func onRadioOff(s Snapshot) (Snapshot, []Effect) {
	wasOff := s.RadioOff
	s.RadioOff = true

	var effs []Effect
	switch s.State {
	case Scanning:
		effs = append(effs, StopDiscovery{})
	case Connecting, Connected:
		effs = append(effs, CloseConnection{})
	}
	if s.ReconnectPending {
		effs = append(effs, CancelReconnect{})
	}
	s.ReconnectPending = false
	s.Attempts = 0

	err := unavailable("radio", ErrRadioOff)
	if !wasOff {
		effs = append(effs, Surface{Err: err, Terminal: true})
	}

	switch s.State {
	case Scanning, Connecting, Connected:
		return moveTo(s, Disconnected, err, effs...)
	}
	return s, effs
}

// moveTo sets the state and prepends a Notify when it actually changed.
func moveTo(s Snapshot, to State, err error, effs ...Effect) (Snapshot, []Effect) {
	from := s.State
	s.State = to
	s.Err = err
	if from == to {
		return s, effs
	}
	return s, append([]Effect{Notify{From: from, To: to, Err: err}}, effs...)
}
