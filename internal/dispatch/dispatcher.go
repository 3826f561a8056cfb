// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/display"
	"github.com/tamzrod/display-link/internal/events"
	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/protocol"
)

// ErrConnectionLost aborts the rest of a batch once the link is gone.
var ErrConnectionLost = errors.New("dispatch: connection lost mid-batch")

// Sender is the exact contract the dispatcher uses to reach the wire.
// Connected is asked before every single send.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
	Connected() bool
}

// Config is the runtime config of a Dispatcher.
type Config struct {
	// Pacing is the gap between two writes; the peripheral has no flow control.
	Pacing time.Duration

	// RefreshAfter appends a Refresh to every batch that drew something.
	RefreshAfter bool

	// ClearRegions clears each element's rectangle before redrawing it
	// in incremental updates.
	ClearRegions bool
}

// Failure is one command that did not make it.
type Failure struct {
	Command string `json:"command"`
	Element string `json:"element,omitempty"`
	Err     error  `json:"-"`
	Message string `json:"error"`
}

// Report summarizes one batch.
type Report struct {
	BatchID  string    `json:"batch_id"`
	Kind     string    `json:"kind"`
	Sent     int       `json:"sent"`
	Failed   []Failure `json:"failed,omitempty"`
	Skipped  int       `json:"skipped"`
	Aborted  bool      `json:"aborted"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// OK reports whether every command was sent.
func (r Report) OK() bool { return len(r.Failed) == 0 && !r.Aborted && r.Skipped == 0 }

// Partial reports whether some but not all commands went out.
func (r Report) Partial() bool { return r.Sent > 0 && !r.OK() }

// Err aggregates every failure into one error, or nil.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	var parts []string
	for _, f := range r.Failed {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Command, f.Element, f.Err))
	}
	if r.Aborted {
		parts = append(parts, fmt.Sprintf("%v (%d skipped)", ErrConnectionLost, r.Skipped))
	}
	return fault.New(fault.ClassWrite, "dispatch "+r.BatchID, errors.New(strings.Join(parts, " | ")))
}

// Dispatcher is the single path to the wire. Batches never interleave.
type Dispatcher struct {
	cfg    Config
	codec  *protocol.Codec
	sender Sender
	log    hclog.Logger

	mu sync.Mutex

	// Reports carries every finished batch.
	Reports *events.Bus[Report]
}

// New creates a dispatcher.
func New(cfg Config, codec *protocol.Codec, sender Sender, logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dispatcher{
		cfg:     cfg,
		codec:   codec,
		sender:  sender,
		log:     logger,
		Reports: events.NewBus[Report](),
	}
}

// step is one command plus the element it came from, for reporting.
type step struct {
	cmd     protocol.Command
	element string
}

// Dispatch sends a diff: optional full clear, one Text per element line,
// then an optional Refresh.
func (d *Dispatcher) Dispatch(ctx context.Context, diff display.DiffResult) Report {
	var steps []step
	if diff.ClearBeforeWrite {
		steps = append(steps, step{cmd: protocol.Clear{}})
	}
	for _, el := range diff.Elements {
		if !el.Visible {
			continue
		}
		if d.cfg.ClearRegions && diff.Kind == display.Incremental {
			r := el.Region
			steps = append(steps, step{cmd: protocol.Clear{Region: &r}, element: el.ID.String()})
		}
		for i, line := range el.Lines() {
			steps = append(steps, step{cmd: el.Text(i, line), element: el.ID.String()})
		}
	}
	if d.cfg.RefreshAfter && len(steps) > 0 {
		steps = append(steps, step{cmd: protocol.Refresh{}})
	}
	return d.run(ctx, diff.Kind.String(), steps)
}

// Send dispatches ad-hoc commands through the same serialized path.
func (d *Dispatcher) Send(ctx context.Context, cmds ...protocol.Command) Report {
	steps := make([]step, 0, len(cmds))
	for _, c := range cmds {
		steps = append(steps, step{cmd: c})
	}
	return d.run(ctx, "adhoc", steps)
}

func (d *Dispatcher) run(ctx context.Context, kind string, steps []step) Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	rep := Report{BatchID: uuid.NewString(), Kind: kind, Started: time.Now()}
	log := d.log.With("batch", rep.BatchID)

	for i, s := range steps {
		if i > 0 && d.cfg.Pacing > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.cfg.Pacing):
			}
		}

		// The link may have dropped since the previous write.
		if ctx.Err() != nil || !d.sender.Connected() {
			rep.Aborted = true
			rep.Skipped = len(steps) - i
			log.Warn("batch aborted", "kind", kind, "sent", rep.Sent, "skipped", rep.Skipped)
			break
		}

		if err := d.send(ctx, s.cmd); err != nil {
			log.Warn("command failed", "type", s.cmd.Type(), "element", s.element, "error", err)
			rep.Failed = append(rep.Failed, Failure{
				Command: s.cmd.Type().String(),
				Element: s.element,
				Err:     err,
				Message: err.Error(),
			})
			continue
		}
		rep.Sent++
	}

	rep.Finished = time.Now()
	if rep.OK() {
		log.Debug("batch sent", "kind", kind, "commands", rep.Sent, "took", rep.Finished.Sub(rep.Started))
	}
	d.Reports.Publish(rep)
	return rep
}

func (d *Dispatcher) send(ctx context.Context, cmd protocol.Command) error {
	frame, err := d.codec.Encode(cmd)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, frame)
}

// Close releases report subscribers.
func (d *Dispatcher) Close() { d.Reports.Close() }
