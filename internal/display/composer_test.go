// internal/display/composer_test.go
package display

import (
	"strings"
	"testing"
	"time"

	"github.com/tamzrod/display-link/internal/content"
	"github.com/tamzrod/display-link/internal/protocol"
)

func TestCreateLayout_Regions(t *testing.T) {
	l := testComposer(t).CreateLayout(review(), now)

	want := map[RegionID]string{
		Title:     "Design review",
		Time:      "14:00 - 15:00",
		Countdown: "in 30m",
		Location:  "Room 4",
		Duration:  "1h",
	}
	for id, text := range want {
		e := l.Get(id)
		if e == nil || !e.Visible || e.Content != text {
			t.Fatalf("%s: got %+v, want %q", id, e, text)
		}
	}
}

func TestCreateLayout_Idle(t *testing.T) {
	l := testComposer(t).CreateLayout(nil, now)

	vis := l.Visible()
	if len(vis) != 1 || vis[0].ID != Title || vis[0].Content != IdleText {
		t.Fatalf("got %+v", vis)
	}
}

func TestCreateLayout_InProgressAndOtherDay(t *testing.T) {
	c := testComposer(t)
	it := review()

	l := c.CreateLayout(it, time.Date(2026, 10, 19, 14, 20, 0, 0, time.UTC))
	if got := l.Get(Countdown).Content; got != "ends in 40m" {
		t.Fatalf("countdown %q", got)
	}

	l = c.CreateLayout(it, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	if got := l.Get(Time).Content; got != "Mon 14:00-15:00" {
		t.Fatalf("time %q", got)
	}
	if got := l.Get(Countdown).Content; got != "in 1d 5h" {
		t.Fatalf("countdown %q", got)
	}
}

func TestCreateLayout_AllDay(t *testing.T) {
	it := &content.Item{Title: "Offsite", Start: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), AllDay: true}
	l := testComposer(t).CreateLayout(it, now)

	if got := l.Get(Time).Content; got != "All day" {
		t.Fatalf("time %q", got)
	}
	if l.Get(Duration).Visible {
		t.Fatalf("all-day duration should be hidden")
	}
	if got := l.Get(Countdown).Content; got != "now" {
		t.Fatalf("countdown %q", got)
	}
}

func TestFormatCountdown_OpenEndedTimedEvent(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	it := content.Item{Title: "Call", Start: start}

	if got := formatCountdown(it, start.Add(-5*time.Minute)); got != "in 5m" {
		t.Fatalf("before start: %q", got)
	}
	if got := formatCountdown(it, start); got != "ended" {
		t.Fatalf("at start: %q", got)
	}

	multi := content.Item{Title: "Trip", Start: start, End: start.Add(48 * time.Hour), AllDay: true}
	if got := formatCountdown(multi, start.Add(30*time.Hour)); got != "now" {
		t.Fatalf("multi-day all-day: %q", got)
	}
}

func TestCreateLayout_LongTitleWrapsAndFitsCodec(t *testing.T) {
	it := review()
	it.Title = "Quarterly “all-hands” planning and roadmap alignment for every team in the org"
	l := testComposer(t).CreateLayout(it, now)

	e := l.Get(Title)
	lines := e.Lines()
	if len(lines) == 0 || len(lines) > 2 {
		t.Fatalf("title lines %q", lines)
	}
	if !strings.HasSuffix(lines[len(lines)-1], Ellipsis) {
		t.Fatalf("expected ellipsis, got %q", lines)
	}
	if strings.Contains(e.Content, "“") {
		t.Fatalf("typographic quotes not sanitized: %q", e.Content)
	}

	codec := protocol.NewCodec(protocol.DefaultLimits())
	for _, el := range l.Visible() {
		for i, line := range el.Lines() {
			if _, err := codec.Encode(el.Text(i, line)); err != nil {
				t.Fatalf("%s line %d: %v", el.ID, i, err)
			}
		}
	}
}

func TestNewComposer_TooSmall(t *testing.T) {
	if _, err := NewComposer(protocol.Limits{Width: 100, Height: 64}, Budgets{}); err == nil {
		t.Fatalf("expected error")
	}
}
