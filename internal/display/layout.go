// internal/display/layout.go
package display

import (
	"strings"

	"github.com/tamzrod/display-link/internal/protocol"
)

// RegionID names one fixed area of the screen.
type RegionID uint8

const (
	Title RegionID = iota
	Time
	Location
	Countdown
	Duration

	regionCount
)

// Regions lists every region in draw order.
var Regions = [regionCount]RegionID{Title, Time, Location, Countdown, Duration}

func (r RegionID) String() string {
	switch r {
	case Title:
		return "title"
	case Time:
		return "time"
	case Location:
		return "location"
	case Countdown:
		return "countdown"
	case Duration:
		return "duration"
	default:
		return "invalid"
	}
}

// TextStyle is how an element's text is drawn.
type TextStyle struct {
	FontSize   uint8
	Bold       bool
	Align      protocol.Alignment
	LineHeight uint16
	MaxLines   int
}

// Element is one region's content. Content holds one line per '\n'.
type Element struct {
	ID      RegionID
	Region  protocol.Rect
	Content string
	Style   TextStyle
	Visible bool
}

// Lines splits Content into the lines the dispatcher draws.
func (e Element) Lines() []string {
	if e.Content == "" {
		return nil
	}
	return strings.Split(e.Content, "\n")
}

// Text builds the draw command for line i of the element.
func (e Element) Text(i int, line string) protocol.Text {
	x := e.Region.X
	switch e.Style.Align {
	case protocol.AlignCenter:
		x += e.Region.Width / 2
	case protocol.AlignRight:
		x += e.Region.Width - 1
	}
	return protocol.Text{
		X:        x,
		Y:        e.Region.Y + uint16(i)*e.Style.LineHeight,
		Align:    e.Style.Align,
		FontSize: e.Style.FontSize,
		Bold:     e.Style.Bold,
		Text:     line,
	}
}

// Layout is the full screen for one content state. Absent regions are nil.
type Layout struct {
	elements [regionCount]*Element
}

// Get returns the element for id, or nil.
func (l *Layout) Get(id RegionID) *Element {
	if l == nil || id >= regionCount {
		return nil
	}
	return l.elements[id]
}

func (l *Layout) set(e Element) {
	l.elements[e.ID] = &e
}

// Visible returns the visible elements in draw order.
func (l *Layout) Visible() []Element {
	if l == nil {
		return nil
	}
	out := make([]Element, 0, regionCount)
	for _, e := range l.elements {
		if e != nil && e.Visible {
			out = append(out, *e)
		}
	}
	return out
}

// shows reports whether a region currently puts pixels on screen.
func shows(e *Element) bool {
	return e != nil && e.Visible && e.Content != ""
}
