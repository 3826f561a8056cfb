// internal/content/file.go
package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileSource reads a YAML list of events on every call, so edits on disk
// show up on the next poll.
//
//	events:
//	  - title: Design review
//	    start: 2026-10-19T14:00:00+02:00
//	    end:   2026-10-19T15:00:00+02:00
//	    location: Room 4
//	  - title: Offsite
//	    start: 2026-10-21
//	    all_day: true
type FileSource struct {
	path string
}

// NewFileSource returns a Source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ---- file schema ----

type fileDoc struct {
	Events []fileEvent `yaml:"events"`
}

type fileEvent struct {
	Title    string `yaml:"title"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Location string `yaml:"location"`
	AllDay   bool   `yaml:"all_day"`
}

// Next returns the earliest event that has not finished at now.
// An event already in progress wins over one that starts later.
func (s *FileSource) Next(ctx context.Context, now time.Time) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := s.Load()
	if err != nil {
		return nil, err
	}
	return NextOf(items, now), nil
}

// Load parses every event in the file, ordered by start.
func (s *FileSource) Load() ([]Item, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("content: read %s: %w", s.path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML event document.
func Parse(raw []byte) ([]Item, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("content: parse: %w", err)
	}

	items := make([]Item, 0, len(doc.Events))
	for i, ev := range doc.Events {
		it, err := ev.item()
		if err != nil {
			return nil, fmt.Errorf("content: event %d (%q): %w", i, ev.Title, err)
		}
		items = append(items, it)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Start.Before(items[j].Start) })
	return items, nil
}

// NextOf picks the first unfinished item. items must be ordered by start.
func NextOf(items []Item, now time.Time) *Item {
	for i := range items {
		if items[i].Finished(now) {
			continue
		}
		it := items[i]
		return &it
	}
	return nil
}

func (ev fileEvent) item() (Item, error) {
	if strings.TrimSpace(ev.Title) == "" {
		return Item{}, errors.New("title is required")
	}
	start, err := parseWhen(ev.Start)
	if err != nil {
		return Item{}, fmt.Errorf("start: %w", err)
	}

	var end time.Time
	if ev.End != "" {
		if end, err = parseWhen(ev.End); err != nil {
			return Item{}, fmt.Errorf("end: %w", err)
		}
		if end.Before(start) {
			return Item{}, errors.New("end before start")
		}
	}

	return Item{
		Title:    ev.Title,
		Start:    start,
		End:      end,
		Location: ev.Location,
		AllDay:   ev.AllDay,
	}, nil
}

var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseWhen accepts RFC 3339 or a local date/time.
func parseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing time")
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
