// internal/dispatch/dispatcher_test.go
package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tamzrod/display-link/internal/display"
	"github.com/tamzrod/display-link/internal/fault"
	"github.com/tamzrod/display-link/internal/protocol"
)

type fakeSender struct {
	mu        sync.Mutex
	frames    [][]byte
	failOn    map[int]bool // 0-based send index
	dropAfter int          // Connected() turns false after this many sends; 0 = never
	calls     int
}

func (f *fakeSender) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if f.failOn[i] {
		return errors.New("write timeout")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropAfter == 0 || f.calls < f.dropAfter
}

func decodeAll(t *testing.T, frames [][]byte) []protocol.Message {
	t.Helper()
	c := protocol.NewCodec(protocol.DefaultLimits())
	out := make([]protocol.Message, 0, len(frames))
	for _, f := range frames {
		m, err := c.Decode(f)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func layoutDiff(t *testing.T) display.DiffResult {
	t.Helper()
	c, err := display.NewComposer(protocol.DefaultLimits(), display.Budgets{})
	if err != nil {
		t.Fatalf("NewComposer err=%v", err)
	}
	now := time.Date(2026, 10, 19, 13, 30, 0, 0, time.UTC)
	return display.NewEngine(0).Diff(nil, c.CreateLayout(nil, now))
}

func newTestDispatcher(s Sender, cfg Config) *Dispatcher {
	return New(cfg, protocol.NewCodec(protocol.DefaultLimits()), s, nil)
}

func TestDispatch_FullClearsFirst(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(s, Config{RefreshAfter: true})

	rep := d.Dispatch(context.Background(), layoutDiff(t))
	if !rep.OK() || rep.Sent != 3 || rep.BatchID == "" {
		t.Fatalf("unexpected report %+v", rep)
	}

	msgs := decodeAll(t, s.frames)
	if _, ok := msgs[0].(protocol.Clear); !ok {
		t.Fatalf("expected clear first, got %T", msgs[0])
	}
	txt, ok := msgs[1].(protocol.Text)
	if !ok || txt.Text != display.IdleText || !txt.Bold {
		t.Fatalf("expected idle title, got %#v", msgs[1])
	}
	if _, ok := msgs[2].(protocol.Refresh); !ok {
		t.Fatalf("expected trailing refresh, got %T", msgs[2])
	}
}

func TestDispatch_FailureDoesNotAbortBatch(t *testing.T) {
	diff := display.DiffResult{
		Kind: display.Incremental,
		Elements: []display.Element{
			{ID: display.Time, Visible: true, Content: "14:00", Style: display.TextStyle{FontSize: 16, LineHeight: 20}, Region: protocol.Rect{X: 4, Y: 48, Width: 100, Height: 20}},
			{ID: display.Countdown, Visible: true, Content: "in 5m", Style: display.TextStyle{FontSize: 14, LineHeight: 20}, Region: protocol.Rect{X: 180, Y: 48, Width: 100, Height: 20}},
			{ID: display.Duration, Visible: true, Content: "1h", Style: display.TextStyle{FontSize: 12, LineHeight: 20}, Region: protocol.Rect{X: 4, Y: 96, Width: 100, Height: 20}},
		},
	}
	s := &fakeSender{failOn: map[int]bool{1: true}}
	d := newTestDispatcher(s, Config{})

	rep := d.Dispatch(context.Background(), diff)
	if rep.Sent != 2 || len(rep.Failed) != 1 || rep.Aborted {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Failed[0].Element != "countdown" {
		t.Fatalf("wrong element recorded: %+v", rep.Failed[0])
	}
	if !rep.Partial() || !fault.Is(rep.Err(), fault.ClassWrite) {
		t.Fatalf("expected partial write failure, err=%v", rep.Err())
	}
}

func TestDispatch_ConnectionCheckedBeforeEverySend(t *testing.T) {
	diff := layoutDiff(t)
	s := &fakeSender{dropAfter: 1}
	d := newTestDispatcher(s, Config{RefreshAfter: true})

	rep := d.Dispatch(context.Background(), diff)
	if !rep.Aborted || rep.Sent != 1 || rep.Skipped != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if s.calls != 1 {
		t.Fatalf("sent after connection loss: %d calls", s.calls)
	}
}

func TestDispatch_ValidationFailureRecorded(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(s, Config{})

	rep := d.Send(context.Background(), protocol.Brightness{Level: 101}, protocol.Brightness{Level: 40})
	if rep.Sent != 1 || len(rep.Failed) != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if !errors.Is(rep.Failed[0].Err, protocol.ErrInvalidCommand) {
		t.Fatalf("expected validation error, got %v", rep.Failed[0].Err)
	}
	if s.calls != 1 {
		t.Fatalf("invalid command reached the wire")
	}
}

func TestDispatch_IncrementalRegionClear(t *testing.T) {
	diff := display.DiffResult{
		Kind: display.Incremental,
		Elements: []display.Element{
			{ID: display.Countdown, Visible: true, Content: "in 5m", Style: display.TextStyle{FontSize: 14, LineHeight: 20}, Region: protocol.Rect{X: 180, Y: 48, Width: 100, Height: 20}},
		},
	}
	s := &fakeSender{}
	d := newTestDispatcher(s, Config{ClearRegions: true})

	d.Dispatch(context.Background(), diff)
	msgs := decodeAll(t, s.frames)
	cl, ok := msgs[0].(protocol.Clear)
	if !ok || cl.Region == nil || *cl.Region != diff.Elements[0].Region {
		t.Fatalf("expected region clear, got %#v", msgs[0])
	}
}

func TestDispatch_Serialized(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(s, Config{Pacing: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Send(context.Background(), protocol.Clear{}, protocol.Refresh{})
		}()
	}
	wg.Wait()

	msgs := decodeAll(t, s.frames)
	for i := 0; i < len(msgs); i += 2 {
		if _, ok := msgs[i].(protocol.Clear); !ok {
			t.Fatalf("batches interleaved at %d: %T", i, msgs[i])
		}
		if _, ok := msgs[i+1].(protocol.Refresh); !ok {
			t.Fatalf("batches interleaved at %d: %T", i+1, msgs[i+1])
		}
	}
}

func TestDispatch_PublishesReports(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(s, Config{})
	sub := d.Reports.Subscribe(1)

	rep := d.Send(context.Background(), protocol.Refresh{})
	got := <-sub.C()
	if got.BatchID != rep.BatchID {
		t.Fatalf("report not published")
	}
}
