// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/content"
	"github.com/tamzrod/display-link/internal/dispatch"
	"github.com/tamzrod/display-link/internal/display"
	"github.com/tamzrod/display-link/internal/events"
	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/protocol"
	"github.com/tamzrod/display-link/internal/status"
)

// Config is the runtime config of a Runner.
type Config struct {
	// BrightnessSteps are cycled by a double press. Empty disables it.
	BrightnessSteps []uint8
}

// Deps are the components a Runner wires together. All are required.
type Deps struct {
	Poller     *content.Poller
	Composer   *display.Composer
	Engine     *display.Engine
	Dispatcher *dispatch.Dispatcher
	Link       *link.Machine
	Tracker    *status.Tracker
}

// Runner owns the content -> layout -> diff -> dispatch cycle and reacts
// to link and peripheral events. Everything it does runs on one goroutine.
type Runner struct {
	cfg Config
	d   Deps
	log hclog.Logger

	refresh chan struct{}
	redraw  atomic.Bool

	states  *events.Subscription[link.StateChange]
	alerts  *events.Subscription[link.Alert]
	inbound *events.Subscription[link.Inbound]

	// loop-owned
	brightness int
}

// New checks deps and builds a Runner. It subscribes to the link right
// away, so build it before the link is started.
func New(cfg Config, d Deps, logger hclog.Logger) (*Runner, error) {
	switch {
	case d.Poller == nil:
		return nil, errors.New("runner: poller required")
	case d.Composer == nil:
		return nil, errors.New("runner: composer required")
	case d.Engine == nil:
		return nil, errors.New("runner: diff engine required")
	case d.Dispatcher == nil:
		return nil, errors.New("runner: dispatcher required")
	case d.Link == nil:
		return nil, errors.New("runner: link machine required")
	case d.Tracker == nil:
		return nil, errors.New("runner: status tracker required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Runner{
		cfg:        cfg,
		d:          d,
		log:        logger,
		refresh:    make(chan struct{}, 1),
		brightness: len(cfg.BrightnessSteps) - 1,
		states:     d.Link.States.Subscribe(16),
		alerts:     d.Link.Alerts.Subscribe(16),
		inbound:    d.Link.Notifications.Subscribe(16),
	}, nil
}

// Refresh asks for an out-of-band content poll. Requests coalesce.
func (r *Runner) Refresh() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

// Redraw forces the next cycle to repaint every region.
func (r *Runner) Redraw() {
	r.redraw.Store(true)
	r.Refresh()
}

// Run blocks until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	defer r.states.Unsubscribe()
	defer r.alerts.Unsubscribe()
	defer r.inbound.Unsubscribe()

	polls := make(chan content.PollResult)
	go r.d.Poller.Run(ctx, polls, r.refresh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-polls:
			r.cycle(ctx, res)

		case sc, ok := <-r.states.C():
			if !ok {
				return stopped(ctx)
			}
			r.onState(sc)

		case a, ok := <-r.alerts.C():
			if !ok {
				return stopped(ctx)
			}
			r.onAlert(a)

		case in, ok := <-r.inbound.C():
			if !ok {
				return stopped(ctx)
			}
			r.onNotification(ctx, in)
		}
	}
}

// ---- content cycle ----

func (r *Runner) cycle(ctx context.Context, res content.PollResult) {
	if res.Err != nil {
		r.log.Warn("content poll failed", "error", res.Err)
		r.d.Tracker.Cycle(res.Err, "")
		return
	}

	if !r.d.Link.Connected() {
		// The reconnect path repaints from scratch.
		r.log.Debug("not connected, update deferred")
		return
	}

	if r.redraw.Swap(false) {
		r.d.Engine.Invalidate()
	}
	layout := r.d.Composer.CreateLayout(res.Item, res.At)
	diff := r.d.Engine.Next(layout)
	if diff.Empty() {
		r.d.Tracker.Cycle(nil, "")
		return
	}

	rep := r.d.Dispatcher.Dispatch(ctx, diff)
	err := rep.Err()
	if err != nil {
		// What the panel shows is unknown; repaint everything next time.
		r.d.Engine.Invalidate()
		r.log.Warn("display update incomplete",
			"batch", rep.BatchID, "kind", rep.Kind, "sent", rep.Sent,
			"failed", len(rep.Failed), "skipped", rep.Skipped, "error", err)
	} else {
		r.log.Debug("display updated", "batch", rep.BatchID, "kind", rep.Kind, "sent", rep.Sent)
	}
	r.d.Tracker.Cycle(err, rep.BatchID)
}

// ---- link events ----

func (r *Runner) onState(sc link.StateChange) {
	r.d.Tracker.Link(sc.To.String(), sc.DeviceID)

	switch sc.To {
	case link.Connected:
		r.log.Info("display connected", "device", sc.DeviceID)
		r.d.Tracker.Enable()
		r.Redraw()
	case link.Disconnected:
		if sc.From == link.Connected {
			r.log.Info("display disconnected", "device", sc.DeviceID, "attempts", sc.Attempts)
		}
	}
}

func (r *Runner) onAlert(a link.Alert) {
	switch {
	case fault.Is(a.Err, fault.ClassTransportUnavailable):
		r.log.Error("transport unavailable", "error", a.Err)
		r.d.Tracker.Disable(a.Err)
	case a.Terminal:
		r.log.Error("link failed", "error", a.Err)
		r.d.Tracker.Fail(a.Err)
	default:
		r.log.Warn("link warning", "error", a.Err)
	}
}

// ---- peripheral notifications ----

func (r *Runner) onNotification(ctx context.Context, in link.Inbound) {
	switch n := in.Notification.(type) {
	case protocol.BatteryLevel:
		r.d.Tracker.Battery(n.Percent)
	case protocol.FirmwareVersion:
		r.log.Info("peripheral firmware", "device", in.DeviceID, "version", n.Version)
		r.d.Tracker.Firmware(n.Version)
	case protocol.InputEvent:
		r.onInput(ctx, n)
	case protocol.Ack:
		r.log.Trace("ack", "of", n.Of)
	}
}

func (r *Runner) onInput(ctx context.Context, ev protocol.InputEvent) {
	r.log.Debug("input event", "kind", ev.Kind, "code", ev.Code)

	switch ev.Kind {
	case protocol.EventButtonShort, protocol.EventWake:
		r.Refresh()
	case protocol.EventButtonLong:
		r.Redraw()
	case protocol.EventButtonDouble:
		r.cycleBrightness(ctx)
	}
}

func (r *Runner) cycleBrightness(ctx context.Context) {
	steps := r.cfg.BrightnessSteps
	if len(steps) == 0 {
		return
	}
	next := (r.brightness + 1) % len(steps)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rep := r.d.Dispatcher.Send(sctx, protocol.Brightness{Level: steps[next]})
	if err := rep.Err(); err != nil {
		r.log.Warn("brightness change failed", "level", steps[next], "error", err)
		return
	}
	r.brightness = next
	r.log.Info("brightness changed", "level", steps[next])
}

// stopped is the exit error once the link closed its buses.
func stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return link.ErrMachineStopped
}
