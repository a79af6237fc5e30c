package bus

import (
	"context"
	"testing"
)

func TestPublishReachesSubjectAndWildcard(t *testing.T) {
	b := NewMemoryEventBus()
	defer b.Close()

	var subject, wildcard, other int
	b.Subscribe("task.completed", func(ctx context.Context, e *Event) { subject++ })
	b.Subscribe("*", func(ctx context.Context, e *Event) { wildcard++ })
	b.Subscribe("task.started", func(ctx context.Context, e *Event) { other++ })

	b.Publish(context.Background(), "task.completed", NewEvent("task.completed", "test", nil))

	if subject != 1 || wildcard != 1 || other != 0 {
		t.Errorf("delivery counts subject=%d wildcard=%d other=%d", subject, wildcard, other)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus()
	defer b.Close()

	var n int
	unsub, err := b.Subscribe("s", func(ctx context.Context, e *Event) { n++ })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish(context.Background(), "s", NewEvent("s", "test", nil))
	unsub()
	b.Publish(context.Background(), "s", NewEvent("s", "test", nil))

	if n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := NewMemoryEventBus()

	var n int
	b.Subscribe("s", func(ctx context.Context, e *Event) { n++ })
	b.Close()

	if err := b.Publish(context.Background(), "s", NewEvent("s", "test", nil)); err != nil {
		t.Fatalf("Publish after close must not fail: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no delivery after close, got %d", n)
	}
}

func TestNewEventFillsEnvelope(t *testing.T) {
	e := NewEvent("session.created", "session-manager", map[string]interface{}{"k": "v"})
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("incomplete envelope %+v", e)
	}
	if e.Type != "session.created" || e.Source != "session-manager" {
		t.Errorf("unexpected envelope %+v", e)
	}
}
