package transport

import (
	"strings"
	"sync"
)

// Router maintains the exact and pattern subscription indices of spec
// §4.F and performs segment-wise wildcard matching: "*" matches exactly
// one segment, "#" matches one-or-more trailing segments.
type Router struct {
	mu       sync.RWMutex
	exact    map[string]map[string]struct{} // topic -> clientIDs
	patterns map[string]map[string]struct{} // pattern -> clientIDs
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		exact:    make(map[string]map[string]struct{}),
		patterns: make(map[string]map[string]struct{}),
	}
}

// delimiter returns the first occurrence of '/' or '.' found in s, or 0
// if neither appears (single-segment topic). Per spec §4.F/§9, mixed
// delimiters within one topic are undefined; a wire publish frame with
// such a topic is rejected by Server.handleMessage before it reaches
// Server.Publish.
func delimiter(s string) byte {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' || s[i] == '.' {
			return s[i]
		}
	}
	return 0
}

func hasMixedDelimiters(s string) bool {
	sawSlash, sawDot := strings.ContainsRune(s, '/'), strings.ContainsRune(s, '.')
	return sawSlash && sawDot
}

func segments(s string) []string {
	d := delimiter(s)
	if d == 0 {
		return []string{s}
	}
	return strings.Split(s, string(d))
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*#")
}

// Subscribe registers clientID for topic, routing to the exact or
// pattern index depending on whether topic contains wildcards.
func (r *Router) Subscribe(clientID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.exact
	if isPattern(topic) {
		idx = r.patterns
	}
	if idx[topic] == nil {
		idx[topic] = make(map[string]struct{})
	}
	idx[topic][clientID] = struct{}{}
}

// Unsubscribe removes clientID from topic's subscriber set.
func (r *Router) Unsubscribe(clientID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.exact
	if isPattern(topic) {
		idx = r.patterns
	}
	if set, ok := idx[topic]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(idx, topic)
		}
	}
}

// UnsubscribeAll removes clientID from every topic/pattern it holds.
func (r *Router) UnsubscribeAll(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, idx := range []map[string]map[string]struct{}{r.exact, r.patterns} {
		for topic, set := range idx {
			delete(set, clientID)
			if len(set) == 0 {
				delete(idx, topic)
			}
		}
	}
}

// Subscriptions returns the count of topics+patterns clientID holds.
func (r *Router) Subscriptions(clientID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, idx := range []map[string]map[string]struct{}{r.exact, r.patterns} {
		for _, set := range idx {
			if _, ok := set[clientID]; ok {
				n++
			}
		}
	}
	return n
}

// Recipients returns the union of exact and pattern subscribers for topic.
func (r *Router) Recipients(topic string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{})
	if set, ok := r.exact[topic]; ok {
		for id := range set {
			out[id] = struct{}{}
		}
	}
	topicSegs := segments(topic)
	for pattern, set := range r.patterns {
		if matchPattern(segments(pattern), topicSegs) {
			for id := range set {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

// matchPattern is symmetric under either delimiter since both sides are
// pre-split into segments before comparison.
func matchPattern(pattern, topic []string) bool {
	for i := 0; i < len(pattern); i++ {
		seg := pattern[i]
		switch seg {
		case "#":
			// Matches one or more remaining segments: requires at least
			// one segment left in topic.
			return i < len(topic)
		case "*":
			if i >= len(topic) {
				return false
			}
		default:
			if i >= len(topic) || topic[i] != seg {
				return false
			}
		}
	}
	return len(pattern) == len(topic)
}
