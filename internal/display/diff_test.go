// internal/display/diff_test.go
package display

import (
	"testing"
	"time"

	"github.com/tamzrod/display-link/internal/content"
	"github.com/tamzrod/display-link/internal/protocol"
)

var now = time.Date(2026, 10, 19, 13, 30, 0, 0, time.UTC)

func testComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(protocol.DefaultLimits(), Budgets{})
	if err != nil {
		t.Fatalf("NewComposer err=%v", err)
	}
	return c
}

func review() *content.Item {
	return &content.Item{
		Title:    "Design review",
		Start:    time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC),
		Location: "Room 4",
	}
}

func ids(els []Element) []RegionID {
	out := make([]RegionID, 0, len(els))
	for _, e := range els {
		out = append(out, e.ID)
	}
	return out
}

func TestDiff_NilPreviousIsFull(t *testing.T) {
	c := testComposer(t)
	l := c.CreateLayout(review(), now)

	d := NewEngine(0).Diff(nil, l)
	if d.Kind != Full || !d.ClearBeforeWrite {
		t.Fatalf("got %s clear=%v", d.Kind, d.ClearBeforeWrite)
	}
	if len(d.Elements) != len(l.Visible()) || len(d.Elements) != 5 {
		t.Fatalf("expected every visible element, got %v", ids(d.Elements))
	}
}

func TestDiff_NilPreviousSkipsInvisible(t *testing.T) {
	c := testComposer(t)
	it := review()
	it.Location = ""
	l := c.CreateLayout(it, now)

	d := NewEngine(0).Diff(nil, l)
	for _, e := range d.Elements {
		if e.ID == Location {
			t.Fatalf("invisible location was drawn")
		}
	}
	if len(d.Elements) != 4 {
		t.Fatalf("got %v", ids(d.Elements))
	}
}

func TestDiff_IdenticalIsEmptyIncremental(t *testing.T) {
	c := testComposer(t)
	a := c.CreateLayout(review(), now)
	b := c.CreateLayout(review(), now)

	d := NewEngine(0).Diff(a, b)
	if d.Kind != Incremental || len(d.Elements) != 0 || d.ClearBeforeWrite || !d.Empty() {
		t.Fatalf("got %+v", d)
	}
}

func TestDiff_OneRegionChanged(t *testing.T) {
	c := testComposer(t)
	a := c.CreateLayout(review(), now)
	// A minute later only the countdown moves.
	b := c.CreateLayout(review(), now.Add(time.Minute))

	d := NewEngine(0).Diff(a, b)
	if d.Kind != Incremental || d.ClearBeforeWrite {
		t.Fatalf("got %s clear=%v", d.Kind, d.ClearBeforeWrite)
	}
	if len(d.Elements) != 1 || d.Elements[0].ID != Countdown {
		t.Fatalf("got %v", ids(d.Elements))
	}
}

func TestDiff_FourRegionsChangedIsFull(t *testing.T) {
	c := testComposer(t)
	a := c.CreateLayout(review(), now)

	other := &content.Item{
		Title:    "Budget sync",
		Start:    time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 10, 19, 16, 30, 0, 0, time.UTC),
		Location: "Room 4",
	}
	b := c.CreateLayout(other, now)

	d := NewEngine(0).Diff(a, b)
	if d.Kind != Full || !d.ClearBeforeWrite || len(d.Elements) != 5 {
		t.Fatalf("got %s clear=%v %v", d.Kind, d.ClearBeforeWrite, ids(d.Elements))
	}
}

func TestDiff_RemovedRegionForcesFull(t *testing.T) {
	c := testComposer(t)
	a := c.CreateLayout(review(), now)

	it := review()
	it.Location = ""
	b := c.CreateLayout(it, now)

	d := NewEngine(0).Diff(a, b)
	if d.Kind != Full || !d.ClearBeforeWrite {
		t.Fatalf("stale region must escalate, got %s", d.Kind)
	}
	for _, e := range d.Elements {
		if e.ID == Location {
			t.Fatalf("vanished region was redrawn")
		}
	}
}

func TestDiff_RegionAppearingIsIncremental(t *testing.T) {
	c := testComposer(t)
	it := review()
	it.Location = ""
	a := c.CreateLayout(it, now)
	b := c.CreateLayout(review(), now)

	d := NewEngine(0).Diff(a, b)
	if d.Kind != Incremental || len(d.Elements) != 1 || d.Elements[0].ID != Location {
		t.Fatalf("got %s %v", d.Kind, ids(d.Elements))
	}
}

func TestDiff_ThresholdIsTunable(t *testing.T) {
	c := testComposer(t)
	a := c.CreateLayout(review(), now)
	b := c.CreateLayout(review(), now.Add(time.Minute))

	// Zero changes allowed: even one region escalates.
	strict := &Engine{threshold: 0}
	if d := strict.Diff(a, b); d.Kind != Full {
		t.Fatalf("got %s", d.Kind)
	}
	if NewEngine(-1).Threshold() != DefaultThreshold {
		t.Fatalf("default threshold not applied")
	}
}

func TestEngine_NextAndInvalidate(t *testing.T) {
	c := testComposer(t)
	e := NewEngine(0)

	if d := e.Next(c.CreateLayout(review(), now)); d.Kind != Full {
		t.Fatalf("first update must be full")
	}
	if d := e.Next(c.CreateLayout(review(), now)); !d.Empty() {
		t.Fatalf("repeat must be empty, got %+v", d)
	}
	e.Invalidate()
	if d := e.Next(c.CreateLayout(review(), now)); d.Kind != Full {
		t.Fatalf("invalidate must force full")
	}
}
