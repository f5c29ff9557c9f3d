package events

import (
	"testing"
	"time"
)

func TestPublishDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TypeSignal, 4)
	defer unsub()

	bus.Publish(TypeSignal, "sess-1", map[string]string{"symbol": "BTCUSD"})

	select {
	case ev := <-ch:
		if ev.Type != TypeSignal {
			t.Fatalf("Type=%s, expected %s", ev.Type, TypeSignal)
		}
		if ev.Session != "sess-1" {
			t.Fatalf("Session=%s, expected sess-1", ev.Session)
		}
		if ev.Time.IsZero() {
			t.Fatal("event time not set")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TypeLog, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Second publish would block on an unbuffered path; it must drop.
		bus.Publish(TypeLog, "", LogPayload{Level: "info", Message: "a"})
		bus.Publish(TypeLog, "", LogPayload{Level: "info", Message: "b"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := len(ch); got != 1 {
		t.Fatalf("buffered events=%d, expected 1 (second dropped)", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TypeBalanceUpdate, 1)
	unsub()

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(TypeBalanceUpdate, "", nil)
}
