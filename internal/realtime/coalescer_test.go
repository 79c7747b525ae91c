package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// captureSink records flushed batches and signals arrival.
type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	arrived chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{arrived: make(chan struct{}, 16)}
}

func (s *captureSink) sink(batch []Event) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	s.arrived <- struct{}{}
}

func (s *captureSink) all() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *captureSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.arrived:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a flush")
	}
}

func skuEvent(id string, version int, action domain.Action) Event {
	return Event{Type: domain.EntitySKU, ID: id, FactoryID: "fac-1", Action: action, Version: version}
}

func TestClampWindow(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultWindow},
		{-time.Second, DefaultWindow},
		{100 * time.Millisecond, MinWindow},
		{time.Second, MaxWindow},
		{400 * time.Millisecond, 400 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := clampWindow(tc.in); got != tc.want {
			t.Fatalf("clampWindow(%v): want %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestCoalescerKeepsHighestVersionPerKey(t *testing.T) {
	sink := newCaptureSink()
	co := NewCoalescer(DefaultWindow, sink.sink)

	co.Add(skuEvent("sku-1", 2, domain.ActionUpdate))
	co.Add(skuEvent("sku-1", 4, domain.ActionUpdate))
	co.Add(skuEvent("sku-1", 3, domain.ActionUpdate))
	co.Add(skuEvent("sku-2", 1, domain.ActionUpdate))
	co.Flush()

	batches := sink.all()
	if len(batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(batches))
	}
	batch := batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected two coalesced events, got %+v", batch)
	}
	if batch[0].ID != "sku-1" || batch[0].Version != 4 {
		t.Fatalf("expected sku-1 at version 4 first, got %+v", batch[0])
	}
	if batch[1].ID != "sku-2" {
		t.Fatalf("expected sku-2 second, got %+v", batch[1])
	}
}

func TestCoalescerSeparatesActions(t *testing.T) {
	sink := newCaptureSink()
	co := NewCoalescer(DefaultWindow, sink.sink)

	co.Add(skuEvent("sku-1", 3, domain.ActionUpdate))
	co.Add(skuEvent("sku-1", 4, domain.ActionDelete))
	co.Flush()

	batches := sink.all()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected one batch with both actions, got %+v", batches)
	}
}

func TestCoalescerTimerFlushesOnce(t *testing.T) {
	sink := newCaptureSink()
	co := NewCoalescer(MinWindow, sink.sink)

	for i := 0; i < 10; i++ {
		co.Add(Event{Type: domain.EntityWorkOrder, ID: string(rune('a' + i)), FactoryID: "fac-1", Action: domain.ActionCreate, Version: 1})
	}
	sink.wait(t)

	batches := sink.all()
	if len(batches) != 1 {
		t.Fatalf("burst inside one window must flush once, got %d batches", len(batches))
	}
	if len(batches[0]) != 10 {
		t.Fatalf("expected all ten creates in the batch, got %d", len(batches[0]))
	}
}

func TestCoalescerFlushDeliversEarlyAndDisarmsTimer(t *testing.T) {
	sink := newCaptureSink()
	co := NewCoalescer(MinWindow, sink.sink)

	co.Add(skuEvent("sku-1", 1, domain.ActionCreate))
	co.Flush()
	sink.wait(t)

	// The window timer was disarmed by the flush; nothing else arrives.
	select {
	case <-sink.arrived:
		t.Fatalf("timer fired after explicit flush")
	case <-time.After(2 * MinWindow):
	}
	if batches := sink.all(); len(batches) != 1 {
		t.Fatalf("expected exactly one batch, got %d", len(batches))
	}
}

func TestCoalescerEmptyFlushIsSilent(t *testing.T) {
	sink := newCaptureSink()
	co := NewCoalescer(DefaultWindow, sink.sink)
	co.Flush()
	co.Close()
	if batches := sink.all(); len(batches) != 0 {
		t.Fatalf("empty coalescer must not call the sink, got %+v", batches)
	}
}

func TestCoalescerCloseFlushesAndRejects(t *testing.T) {
	sink := newCaptureSink()
	co := NewCoalescer(DefaultWindow, sink.sink)

	co.Add(skuEvent("sku-1", 1, domain.ActionCreate))
	co.Close()
	sink.wait(t)

	co.Add(skuEvent("sku-2", 1, domain.ActionCreate))
	co.Flush()
	co.Close()

	batches := sink.all()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0].ID != "sku-1" {
		t.Fatalf("events after close must be dropped, got %+v", batches)
	}
}
