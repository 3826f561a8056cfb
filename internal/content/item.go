// internal/content/item.go
package content

import (
	"context"
	"time"
)

// Item is the one thing the display should show right now.
// Content-agnostic beyond the fields the layout needs.
type Item struct {
	Title    string
	Start    time.Time
	End      time.Time
	Location string
	AllDay   bool
}

// Finished reports whether the item is over at now.
func (it Item) Finished(now time.Time) bool {
	return !now.Before(it.until())
}

// until is the effective end. All-day items without an end last one day.
func (it Item) until() time.Time {
	switch {
	case !it.End.IsZero():
		return it.End
	case it.AllDay:
		return it.Start.Add(24 * time.Hour)
	default:
		return it.Start
	}
}

// InProgress reports whether now falls inside [Start, End).
func (it Item) InProgress(now time.Time) bool {
	return !now.Before(it.Start) && !it.Finished(now)
}

// Duration is End-Start, or zero when End is unknown.
func (it Item) Duration() time.Duration {
	if it.End.IsZero() || it.End.Before(it.Start) {
		return 0
	}
	return it.End.Sub(it.Start)
}

// Equal compares the fields that affect rendering.
func (it *Item) Equal(o *Item) bool {
	if it == nil || o == nil {
		return it == o
	}
	return it.Title == o.Title &&
		it.Start.Equal(o.Start) &&
		it.End.Equal(o.End) &&
		it.Location == o.Location &&
		it.AllDay == o.AllDay
}

// Source produces the current item to display, or nil when there is none.
type Source interface {
	Next(ctx context.Context, now time.Time) (*Item, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, now time.Time) (*Item, error)

func (f SourceFunc) Next(ctx context.Context, now time.Time) (*Item, error) { return f(ctx, now) }
