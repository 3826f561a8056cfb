// internal/events/bus_test.go
package events

import "testing"

func TestBus_FanOut(t *testing.T) {
	b := NewBus[int]()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)

	b.Publish(7)

	if v := <-s1.C(); v != 7 {
		t.Fatalf("s1 got %d", v)
	}
	if v := <-s2.C(); v != 7 {
		t.Fatalf("s2 got %d", v)
	}
}

func TestBus_DropOnFull(t *testing.T) {
	b := NewBus[string]()
	s := b.Subscribe(1)

	b.Publish("a")
	b.Publish("b")

	if s.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", s.Dropped())
	}
	if v := <-s.C(); v != "a" {
		t.Fatalf("got %q", v)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus[int]()
	s := b.Subscribe(2)
	s.Unsubscribe()
	s.Unsubscribe()

	if b.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Len())
	}

	b.Publish(1)
	if _, ok := <-s.C(); ok {
		t.Fatalf("expected closed channel")
	}
}

func TestBus_CloseEndsSubscriptions(t *testing.T) {
	b := NewBus[int]()
	s := b.Subscribe(1)
	b.Close()

	if _, ok := <-s.C(); ok {
		t.Fatalf("expected closed channel")
	}

	late := b.Subscribe(1)
	if _, ok := <-late.C(); ok {
		t.Fatalf("late subscription must be closed")
	}
	b.Publish(1)
	s.Unsubscribe()
}
