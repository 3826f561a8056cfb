// internal/transport/loopback/screen.go
package loopback

import (
	"sort"
	"strings"

	"github.com/tamzrod/display-link/internal/protocol"
)

// Screen is the simulated panel's frame buffer, kept as draw commands.
type Screen struct {
	texts      map[[2]uint16]protocol.Text
	Clears     int
	Refreshes  int
	Brightness protocol.Brightness
	Bitmaps    int
}

func newScreen() *Screen {
	return &Screen{texts: make(map[[2]uint16]protocol.Text), Brightness: protocol.Brightness{Level: 100}}
}

func (s *Screen) apply(cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.Text:
		s.texts[[2]uint16{c.X, c.Y}] = c
	case protocol.Clear:
		s.Clears++
		if c.Region == nil {
			s.texts = make(map[[2]uint16]protocol.Text)
			return
		}
		r := *c.Region
		for k := range s.texts {
			x, y := uint32(k[0]), uint32(k[1])
			if x >= uint32(r.X) && x < uint32(r.X)+uint32(r.Width) && y >= uint32(r.Y) && y < uint32(r.Y)+uint32(r.Height) {
				delete(s.texts, k)
			}
		}
	case protocol.Graphics:
		s.Bitmaps++
	case protocol.Brightness:
		s.Brightness = c
	case protocol.Refresh:
		s.Refreshes++
	}
}

func (s *Screen) clone() Screen {
	out := *s
	out.texts = make(map[[2]uint16]protocol.Text, len(s.texts))
	for k, v := range s.texts {
		out.texts[k] = v
	}
	return out
}

// Texts lists what is drawn, top to bottom, left to right.
func (s Screen) Texts() []protocol.Text {
	out := make([]protocol.Text, 0, len(s.texts))
	for _, t := range s.texts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// Lines is Texts as plain strings.
func (s Screen) Lines() []string {
	ts := s.Texts()
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Text)
	}
	return out
}

// Shows reports whether any drawn line contains sub.
func (s Screen) Shows(sub string) bool {
	for _, t := range s.texts {
		if strings.Contains(t.Text, sub) {
			return true
		}
	}
	return false
}
