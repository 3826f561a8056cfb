// internal/content/poller.go
package content

import (
	"context"
	"errors"
	"time"
)

// PollResult is what one poll cycle produced.
type PollResult struct {
	At   time.Time
	Item *Item // nil means nothing to show
	Err  error // non-nil means the cycle failed and Item is meaningless
}

// Poller is a dumb, clock-driven reader of a Source.
type Poller struct {
	src      Source
	interval time.Duration
	now      func() time.Time
}

// NewPoller creates a poller with an immutable interval.
func NewPoller(src Source, interval time.Duration) (*Poller, error) {
	if src == nil {
		return nil, errors.New("content: source required")
	}
	if interval <= 0 {
		return nil, errors.New("content: poll interval must be > 0")
	}
	return &Poller{src: src, interval: interval, now: time.Now}, nil
}

// PollOnce performs exactly one poll cycle.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	now := p.now()
	it, err := p.src.Next(ctx, now)
	if err != nil {
		return PollResult{At: now, Err: err}
	}
	return PollResult{At: now, Item: it}
}

// Run polls once immediately, then on every tick and on every refresh
// request, and emits each result on out. No overlap. No retries.
func (p *Poller) Run(ctx context.Context, out chan<- PollResult, refresh <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	emit := func() bool {
		res := p.PollOnce(ctx)
		select {
		case out <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !emit() {
				return
			}
		case <-refresh:
			if !emit() {
				return
			}
		}
	}
}
