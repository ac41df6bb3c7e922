package stream

import (
	"context"
	"testing"
	"time"

	"bazaar.org/internal/audit"
)

func TestHubFanOut(t *testing.T) {
	h := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)
	if err := h.Append(context.Background(), audit.Entry{ID: "1", Action: "auth.login"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for _, ch := range []<-chan audit.Entry{a, b} {
		select {
		case e := <-ch:
			if e.ID != "1" {
				t.Fatalf("unexpected entry %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive entry")
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = h.Subscribe(ctx)

	for i := 0; i < 3; i++ {
		_ = h.Append(context.Background(), audit.Entry{Action: "x"})
	}
	if h.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", h.Dropped())
	}
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	h := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if n := h.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}
