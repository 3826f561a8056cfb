// internal/content/poller_test.go
package content

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	item  *Item
	err   error
	calls int
}

func (f *fakeSource) Next(ctx context.Context, now time.Time) (*Item, error) {
	f.calls++
	return f.item, f.err
}

func TestNewPoller_Rejects(t *testing.T) {
	if _, err := NewPoller(nil, time.Second); err == nil {
		t.Fatalf("expected error for nil source")
	}
	if _, err := NewPoller(&fakeSource{}, 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestPollOnce_Success(t *testing.T) {
	src := &fakeSource{item: &Item{Title: "x"}}
	p, err := NewPoller(src, time.Second)
	if err != nil {
		t.Fatalf("NewPoller err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if res.Err != nil || res.Item == nil || res.Item.Title != "x" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPollOnce_Failure(t *testing.T) {
	p, _ := NewPoller(&fakeSource{err: errors.New("boom")}, time.Second)
	if res := p.PollOnce(context.Background()); res.Err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestRun_ImmediateAndOnRefresh(t *testing.T) {
	src := &fakeSource{item: &Item{Title: "x"}}
	p, _ := NewPoller(src, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan PollResult)
	refresh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Run(ctx, out, refresh)
		close(done)
	}()

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatalf("no initial poll")
	}

	refresh <- struct{}{}
	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatalf("no poll after refresh")
	}

	cancel()
	<-done
	if src.calls != 2 {
		t.Fatalf("expected 2 polls, got %d", src.calls)
	}
}
