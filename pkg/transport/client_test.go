package transport

import (
	"testing"
	"time"
)

// TestDeliveryQueueDropsOldestOnOverflow exercises spec §8 scenario 4:
// a queue of size 3 receiving 5 events delivers only the last 3 and
// signals message-dropped exactly twice.
func TestDeliveryQueueDropsOldestOnOverflow(t *testing.T) {
	drops := 0
	q := newDeliveryQueue(3, func() { drops++ })

	for i := 0; i < 5; i++ {
		q.push(Message{ID: string(rune('a' + i))})
	}

	if drops != 2 {
		t.Fatalf("expected 2 drop signals, got %d", drops)
	}
	remaining := q.drain()
	if len(remaining) != 3 {
		t.Fatalf("expected 3 remaining messages, got %d", len(remaining))
	}
	want := []string{"c", "d", "e"}
	for i, m := range remaining {
		if m.ID != want[i] {
			t.Fatalf("position %d: want %s, got %s", i, want[i], m.ID)
		}
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := newRateLimiter(2, 50*time.Millisecond)

	if !rl.Allow() || !rl.Allow() {
		t.Fatalf("first two messages within window should be allowed")
	}
	if rl.Allow() {
		t.Fatalf("third message within window should be rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow() {
		t.Fatalf("message after window elapses should be allowed again")
	}
}

func TestClientSubscriptionBookkeeping(t *testing.T) {
	c := newClient("c1", 10, 100, time.Second, nil, nil, nil)
	c.addSubscription("a/b")
	c.addSubscription("a/c")
	if c.subscriptionCount() != 2 {
		t.Fatalf("expected 2 subscriptions")
	}
	c.removeSubscription("a/b")
	if c.subscriptionCount() != 1 {
		t.Fatalf("expected 1 subscription after removal")
	}
}
