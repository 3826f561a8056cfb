// internal/display/text.go
package display

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis is three dots; the panel font has no U+2026 glyph.
const Ellipsis = "..."

var typographic = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`,
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2015", "-", "\u2212", "-",
	"…", Ellipsis,
	"•", "*", "·", "*",
	"\u00a0", " ", "\u2007", " ", "\u202f", " ", "\u2009", " ",
	"\t", " ", "\r", " ", "\n", " ",
)

// Renderable reports whether the panel font has a glyph for r:
// printable ASCII and the Latin-1 letters.
func Renderable(r rune) bool {
	switch {
	case r >= 0x20 && r <= 0x7E:
		return true
	case r >= 0xC0 && r <= 0xFF:
		return r != 0xD7 && r != 0xF7
	}
	return false
}

// Sanitize maps typographic punctuation to ASCII, drops glyphs the panel
// cannot draw and collapses runs of whitespace.
func Sanitize(s string) string {
	s = typographic.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError || !Renderable(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Truncate shortens s to at most max characters, ending in an ellipsis
// when anything was cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= len(Ellipsis) {
		return string([]rune(s)[:max])
	}
	cut := strings.TrimRight(string([]rune(s)[:max-len(Ellipsis)]), " ")
	return cut + Ellipsis
}

// CharWidth approximates the advance of one glyph at fontSize.
func CharWidth(fontSize uint8) int {
	w := int(fontSize) * 6 / 10
	if w < 1 {
		return 1
	}
	return w
}

// Columns is how many glyphs of fontSize fit in width pixels.
func Columns(width int, fontSize uint8) int {
	n := width / CharWidth(fontSize)
	if n < 1 {
		return 1
	}
	return n
}

// Wrap breaks text on word boundaries into lines no wider than maxWidth.
// Output never exceeds maxLines: the last kept line is cut and suffixed
// with an ellipsis and the rest is dropped. Words longer than a line are
// hard-broken.
func Wrap(text string, maxWidth, maxLines int, fontSize uint8) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxLines < 1 {
		maxLines = 1
	}
	cols := Columns(maxWidth, fontSize)

	var (
		lines []string
		cur   []rune
	)
	flush := func() {
		lines = append(lines, string(cur))
		cur = cur[:0]
	}

	for _, w := range words {
		rw := []rune(w)
		for len(rw) > 0 {
			need := len(rw)
			if len(cur) > 0 {
				need++
			}
			if len(cur)+need <= cols {
				if len(cur) > 0 {
					cur = append(cur, ' ')
				}
				cur = append(cur, rw...)
				rw = nil
				continue
			}
			if len(cur) > 0 {
				flush()
				continue
			}
			// Word alone is wider than the line.
			cur = append(cur, rw[:cols]...)
			rw = rw[cols:]
			flush()
		}
	}
	if len(cur) > 0 {
		flush()
	}

	if len(lines) <= maxLines {
		return lines
	}

	lines = lines[:maxLines]
	last := []rune(lines[maxLines-1])
	room := cols - len(Ellipsis)
	if room < 0 {
		room = 0
	}
	if len(last) > room {
		last = last[:room]
	}
	lines[maxLines-1] = strings.TrimRight(string(last), " ") + Ellipsis
	return lines
}
