// internal/display/composer.go
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/tamzrod/display-link/internal/content"
	"github.com/tamzrod/display-link/internal/protocol"
)

// IdleText is shown when there is nothing to display.
const IdleText = "No upcoming events"

// Budgets are per-field character limits applied after sanitizing.
type Budgets struct {
	Title     int
	Time      int
	Location  int
	Countdown int
	Duration  int
}

// DefaultBudgets fit the stock panel at the default font sizes.
func DefaultBudgets() Budgets {
	return Budgets{Title: 40, Time: 20, Location: 32, Countdown: 20, Duration: 16}
}

const (
	margin     = 4
	minWidth   = 120
	minHeight  = 116
	untitled   = "(untitled)"
	titleLines = 2
)

// Composer turns a content item into a Layout for one display geometry.
type Composer struct {
	budgets Budgets
	slots   [regionCount]Element
}

// NewComposer places the fixed regions inside lim. Zero budgets fall back to defaults.
func NewComposer(lim protocol.Limits, b Budgets) (*Composer, error) {
	if lim.Width < minWidth || lim.Height < minHeight {
		return nil, fmt.Errorf("display: %dx%d is smaller than the %dx%d layout", lim.Width, lim.Height, minWidth, minHeight)
	}
	def := DefaultBudgets()
	if b.Title <= 0 {
		b.Title = def.Title
	}
	if b.Time <= 0 {
		b.Time = def.Time
	}
	if b.Location <= 0 {
		b.Location = def.Location
	}
	if b.Countdown <= 0 {
		b.Countdown = def.Countdown
	}
	if b.Duration <= 0 {
		b.Duration = def.Duration
	}

	inner := lim.Width - 2*margin
	timeW := inner * 3 / 5

	c := &Composer{budgets: b}
	c.slots[Title] = Element{
		ID:     Title,
		Region: protocol.Rect{X: margin, Y: 2, Width: inner, Height: titleLines * 22},
		Style:  TextStyle{FontSize: 18, Bold: true, LineHeight: 22, MaxLines: titleLines},
	}
	c.slots[Time] = Element{
		ID:     Time,
		Region: protocol.Rect{X: margin, Y: 48, Width: timeW, Height: 20},
		Style:  TextStyle{FontSize: 16, LineHeight: 20, MaxLines: 1},
	}
	c.slots[Countdown] = Element{
		ID:     Countdown,
		Region: protocol.Rect{X: margin + timeW, Y: 48, Width: inner - timeW, Height: 20},
		Style:  TextStyle{FontSize: 14, Align: protocol.AlignRight, LineHeight: 20, MaxLines: 1},
	}
	c.slots[Location] = Element{
		ID:     Location,
		Region: protocol.Rect{X: margin, Y: 72, Width: inner, Height: 20},
		Style:  TextStyle{FontSize: 14, LineHeight: 20, MaxLines: 1},
	}
	c.slots[Duration] = Element{
		ID:     Duration,
		Region: protocol.Rect{X: margin, Y: 96, Width: inner, Height: 20},
		Style:  TextStyle{FontSize: 12, LineHeight: 20, MaxLines: 1},
	}
	return c, nil
}

// CreateLayout builds a fresh layout for item at now. A nil item yields
// the idle layout.
func (c *Composer) CreateLayout(item *content.Item, now time.Time) *Layout {
	l := &Layout{}

	if item == nil {
		l.set(c.fill(Title, IdleText, true))
		for _, id := range Regions[1:] {
			l.set(c.fill(id, "", false))
		}
		return l
	}

	title := Truncate(Sanitize(item.Title), c.budgets.Title)
	if title == "" {
		title = untitled
	}
	l.set(c.fill(Title, title, true))

	l.set(c.fill(Time, Truncate(formatWhen(*item, now), c.budgets.Time), true))
	l.set(c.fill(Countdown, Truncate(formatCountdown(*item, now), c.budgets.Countdown), true))

	loc := Truncate(Sanitize(item.Location), c.budgets.Location)
	l.set(c.fill(Location, loc, loc != ""))

	dur := ""
	if !item.AllDay {
		dur = formatSpan(item.Duration())
	}
	dur = Truncate(dur, c.budgets.Duration)
	l.set(c.fill(Duration, dur, dur != ""))

	return l
}

// fill wraps text into the slot. Invisible elements carry no content.
func (c *Composer) fill(id RegionID, text string, visible bool) Element {
	e := c.slots[id]
	e.Visible = visible && text != ""
	if !e.Visible {
		return e
	}
	lines := Wrap(text, int(e.Region.Width), e.Style.MaxLines, e.Style.FontSize)
	e.Content = strings.Join(lines, "\n")
	return e
}

// ---- formatting ----

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// formatWhen renders the start (and end) relative to now's day.
func formatWhen(it content.Item, now time.Time) string {
	start := it.Start.In(now.Location())
	today := sameDay(start, now)

	if it.AllDay {
		if today {
			return "All day"
		}
		return start.Format("Mon 2 Jan")
	}

	var b strings.Builder
	if !today {
		b.WriteString(start.Format("Mon "))
	}
	b.WriteString(start.Format("15:04"))
	if !it.End.IsZero() {
		end := it.End.In(now.Location())
		if today {
			b.WriteString(" - ")
		} else {
			b.WriteString("-")
		}
		b.WriteString(end.Format("15:04"))
	}
	return b.String()
}

func formatCountdown(it content.Item, now time.Time) string {
	switch {
	case now.Before(it.Start):
		return "in " + formatSpan(it.Start.Sub(now))
	case it.Finished(now):
		return "ended"
	case it.AllDay:
		return "now"
	default:
		return "ends in " + formatSpan(it.End.Sub(now))
	}
}

// formatSpan rounds up to whole minutes and keeps the two largest units.
func formatSpan(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	days, hours, m := mins/(24*60), (mins/60)%24, mins%60

	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", hours, m)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
