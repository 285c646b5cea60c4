package transport

import "testing"

func TestRouterExactSubscription(t *testing.T) {
	r := NewRouter()
	r.Subscribe("c1", "swarm.events")
	r.Subscribe("c2", "swarm.metrics")

	recipients := r.Recipients("swarm.events")
	if _, ok := recipients["c1"]; !ok {
		t.Fatalf("expected c1 subscribed to swarm.events")
	}
	if _, ok := recipients["c2"]; ok {
		t.Fatalf("c2 should not receive swarm.events")
	}
}

func TestRouterStarMatchesExactlyOneSegment(t *testing.T) {
	r := NewRouter()
	r.Subscribe("c1", "a/*/c")

	if _, ok := r.Recipients("a/b/c")["c1"]; !ok {
		t.Fatalf("a/*/c should match a/b/c")
	}
	if _, ok := r.Recipients("a/b/x/c")["c1"]; ok {
		t.Fatalf("a/*/c must not match a/b/x/c (one segment only)")
	}
}

func TestRouterHashMatchesOneOrMoreTrailingSegments(t *testing.T) {
	r := NewRouter()
	r.Subscribe("c1", "a/#")

	for _, topic := range []string{"a/b", "a/b/c", "a/b/c/d"} {
		if _, ok := r.Recipients(topic)["c1"]; !ok {
			t.Fatalf("a/# should match %s", topic)
		}
	}
	if _, ok := r.Recipients("a")["c1"]; ok {
		t.Fatalf("a/# requires at least one trailing segment, must not match bare \"a\"")
	}
}

func TestRouterDotDelimiter(t *testing.T) {
	r := NewRouter()
	r.Subscribe("c1", "swarm.*.health")

	if _, ok := r.Recipients("swarm.alpha.health")["c1"]; !ok {
		t.Fatalf("swarm.*.health should match swarm.alpha.health")
	}
}

func TestRouterUnsubscribeAll(t *testing.T) {
	r := NewRouter()
	r.Subscribe("c1", "a/b")
	r.Subscribe("c1", "a/#")
	r.UnsubscribeAll("c1")

	if n := r.Subscriptions("c1"); n != 0 {
		t.Fatalf("expected 0 subscriptions after UnsubscribeAll, got %d", n)
	}
}

func TestHasMixedDelimiters(t *testing.T) {
	if !hasMixedDelimiters("a/b.c") {
		t.Fatalf("expected mixed delimiters to be detected")
	}
	if hasMixedDelimiters("a/b/c") {
		t.Fatalf("single-delimiter topic must not be flagged as mixed")
	}
}
