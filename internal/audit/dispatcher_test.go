package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// collectSink records events and can stall on demand.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *collectSink) Emit(_ context.Context, event Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	d.Emit(context.Background(), Event{EventType: "login", PrincipalID: "p1", Success: true})
	d.Emit(context.Background(), Event{EventType: "logout", PrincipalID: "p1", Success: true})
	d.Close()

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("delivered %d events, want 2", len(events))
	}
	if events[0].EventType != "login" || events[1].EventType != "logout" {
		t.Fatalf("wrong order: %v, %v", events[0].EventType, events[1].EventType)
	}
	if events[0].ID == "" {
		t.Fatal("dispatcher did not assign an event id")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled config should yield a nil dispatcher")
	}

	// All methods are safe on nil.
	d.Emit(context.Background(), Event{EventType: "login"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &collectSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest
	// must be shed without blocking.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login"})
	}

	deadline := time.After(time.Second)
	for d.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("no events dropped")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(sink.block)
	d.Close()

	if got := int(d.Dropped()) + len(sink.snapshot()); got != 5 {
		t.Fatalf("delivered+dropped = %d, want 5", got)
	}
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Close()

	d.Emit(context.Background(), Event{EventType: "login"})
	if len(sink.snapshot()) != 0 {
		t.Fatal("event delivered after Close")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		ID:          "e1",
		EventType:   "login",
		PrincipalID: "p1",
		Success:     true,
		Metadata:    map[string]string{"reason": "ok"},
	})
	sink.Emit(context.Background(), Event{ID: "e2", EventType: "logout"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}

	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if decoded.ID != "e1" || decoded.EventType != "login" || !decoded.Success {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Metadata["reason"] != "ok" {
		t.Fatalf("metadata lost: %+v", decoded.Metadata)
	}
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(2)
	sink.Emit(context.Background(), Event{EventType: "login"})

	select {
	case event := <-sink.Events():
		if event.EventType != "login" {
			t.Fatalf("EventType = %q", event.EventType)
		}
	default:
		t.Fatal("no event on channel")
	}

	// A full channel respects context cancellation instead of blocking.
	sink.Emit(context.Background(), Event{EventType: "a"})
	sink.Emit(context.Background(), Event{EventType: "b"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, Event{EventType: "c"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on full channel despite cancelled context")
	}
}
