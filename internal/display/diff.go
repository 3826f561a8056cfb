// internal/display/diff.go
package display

// UpdateKind is how much of the screen a DiffResult redraws.
type UpdateKind uint8

const (
	Full UpdateKind = iota
	Incremental
)

func (k UpdateKind) String() string {
	if k == Full {
		return "full"
	}
	return "incremental"
}

// DiffResult is the ordered set of elements to (re)draw.
type DiffResult struct {
	Kind             UpdateKind
	Elements         []Element
	ClearBeforeWrite bool
}

// Empty reports whether nothing needs to be sent.
func (d DiffResult) Empty() bool {
	return d.Kind == Incremental && len(d.Elements) == 0
}

// DefaultThreshold is the number of changed regions an incremental
// update may carry; one more escalates to a full redraw.
const DefaultThreshold = 2

// Engine computes minimal updates between layouts. It remembers the last
// layout it handed out; it is not safe for concurrent use.
type Engine struct {
	threshold int
	last      *Layout
}

// NewEngine builds an engine. threshold <= 0 means DefaultThreshold.
func NewEngine(threshold int) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Threshold returns the escalation threshold in use.
func (e *Engine) Threshold() int { return e.threshold }

// Diff compares prev against cur. It does not touch the engine's memory.
//
// A region that stops showing while it still has pixels on screen forces
// a full redraw. Regions are never cleared one at a time.
func (e *Engine) Diff(prev, cur *Layout) DiffResult {
	if prev == nil {
		return full(cur)
	}

	var changed []Element
	for _, id := range Regions {
		p, c := prev.Get(id), cur.Get(id)

		if shows(p) && !shows(c) {
			return full(cur)
		}
		if !shows(c) {
			continue
		}
		if shows(p) && p.Content == c.Content && p.Region == c.Region && p.Style == c.Style {
			continue
		}
		changed = append(changed, *c)
	}

	if len(changed) > e.threshold {
		return full(cur)
	}
	return DiffResult{Kind: Incremental, Elements: changed}
}

// Next diffs cur against the last layout and remembers cur.
func (e *Engine) Next(cur *Layout) DiffResult {
	d := e.Diff(e.last, cur)
	e.last = cur
	return d
}

// Invalidate forgets the last layout so the next update is a full redraw.
func (e *Engine) Invalidate() { e.last = nil }

func full(cur *Layout) DiffResult {
	return DiffResult{Kind: Full, Elements: cur.Visible(), ClearBeforeWrite: true}
}
