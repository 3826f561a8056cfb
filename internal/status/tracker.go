// internal/status/tracker.go
package status

import (
	"context"
	"sync"
	"time"

	"github.com/tamzrod/display-link/internal/events"
)

// Tracker owns the Snapshot. Cycle outcomes and link facts flow in;
// changed snapshots flow out on Changes.
type Tracker struct {
	mu         sync.Mutex
	snap       Snapshot
	streak     int
	errorAfter int

	Changes *events.Bus[Snapshot]
}

// NewTracker starts in HealthUnknown. errorAfter <= 0 means DefaultErrorAfter.
func NewTracker(errorAfter int) *Tracker {
	if errorAfter <= 0 {
		errorAfter = DefaultErrorAfter
	}
	return &Tracker{
		snap:       Snapshot{Health: HealthUnknown, BatteryPercent: -1, Link: "disconnected"},
		errorAfter: errorAfter,
		Changes:    events.NewBus[Snapshot](),
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// update applies fn and publishes when the snapshot changed.
func (t *Tracker) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	before := t.snap
	fn(&t.snap)
	after := t.snap
	t.mu.Unlock()

	if after != before {
		t.Changes.Publish(after)
	}
}

// Cycle records the outcome of one content -> display cycle.
// A single failure marks the display stale; errorAfter in a row is an error.
func (t *Tracker) Cycle(err error, batchID string) {
	t.update(func(s *Snapshot) {
		if batchID != "" {
			s.LastBatchID = batchID
		}
		if err == nil {
			t.streak = 0
			s.LastUpdateAt = time.Now()
			if s.Health != HealthDisabled {
				markHealthy(s)
			}
			return
		}

		t.streak++
		s.LastErrorCode = ErrorCode(err)
		s.LastError = err.Error()
		if s.Health == HealthDisabled || s.Health == HealthError {
			return
		}
		if t.streak >= t.errorAfter {
			s.Health = HealthError
		} else {
			s.Health = HealthStale
		}
	})
}

// Fail raises health to Error at once. Used for terminal link failures.
func (t *Tracker) Fail(err error) {
	t.update(func(s *Snapshot) {
		if s.Health != HealthDisabled {
			s.Health = HealthError
		}
		s.LastErrorCode = ErrorCode(err)
		s.LastError = err.Error()
	})
}

// Disable marks the radio off; Enable lifts it back to Unknown.
func (t *Tracker) Disable(err error) {
	t.update(func(s *Snapshot) {
		s.Health = HealthDisabled
		if err != nil {
			s.LastErrorCode = ErrorCode(err)
			s.LastError = err.Error()
		}
	})
}

func (t *Tracker) Enable() {
	t.update(func(s *Snapshot) {
		if s.Health == HealthDisabled {
			s.Health = HealthUnknown
		}
	})
}

// Link records the connection state and device.
func (t *Tracker) Link(state, deviceID string) {
	t.update(func(s *Snapshot) {
		s.Link = state
		s.DeviceID = deviceID
	})
}

// Battery records the last reported charge.
func (t *Tracker) Battery(percent uint8) {
	t.update(func(s *Snapshot) { s.BatteryPercent = int(percent) })
}

// Firmware records the peripheral firmware string.
func (t *Tracker) Firmware(v string) {
	t.update(func(s *Snapshot) { s.Firmware = v })
}

// Tick advances seconds-in-error while not OK.
func (t *Tracker) Tick() {
	t.update(func(s *Snapshot) {
		if s.Health == HealthOK || s.Health == HealthUnknown {
			return
		}
		if s.SecondsInError < MaxSecondsInError {
			s.SecondsInError++
		}
	})
}

// Run ticks at 1 Hz until ctx ends.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Close releases Changes subscribers.
func (t *Tracker) Close() { t.Changes.Close() }

// markHealthy resets the error fields on a healthy cycle.
func markHealthy(s *Snapshot) {
	s.Health = HealthOK
	s.LastErrorCode = 0
	s.LastError = ""
	s.SecondsInError = 0
}
