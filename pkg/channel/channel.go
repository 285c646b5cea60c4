// Package channel implements the typed publish/subscribe facade of
// spec §3/§4.K over pkg/transport: agent-, task-, and swarm-scoped
// topic helpers that mirror every swarm-scoped publish to both its
// per-swarm and broadcast topic, plus idempotent swarm subscription
// tracking. Grounded on the teacher's pkg/api gateway-style thin
// wrapper over a transport core (named handlers delegating straight
// through to the underlying primitive), adapted here to wrap
// pkg/transport.Server instead of an HTTP mux.
package channel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/pkg/transport"
)

// Facade exposes domain-shaped publish/subscribe helpers over a
// transport.Server.
type Facade struct {
	server *transport.Server

	mu            sync.Mutex
	subscriptions map[string]map[string]struct{} // subscriberID -> topic set
}

// NewFacade wraps server.
func NewFacade(server *transport.Server) *Facade {
	return &Facade{server: server, subscriptions: make(map[string]map[string]struct{})}
}

// AgentTopic returns the scoped topic for an agent-id event.
func AgentTopic(agentID, event string) string {
	return fmt.Sprintf("agent.%s.%s", agentID, event)
}

// TaskTopic returns the scoped topic for a task-id event.
func TaskTopic(taskID, event string) string {
	return fmt.Sprintf("task.%s.%s", taskID, event)
}

// SwarmTopic returns the scoped topic for a swarm-id event, e.g.
// "swarm.<id>.topology".
func SwarmTopic(swarmID, event string) string {
	return fmt.Sprintf("swarm.%s.%s", swarmID, event)
}

// PublishAgentEvent publishes to both "agent.<id>.<event>" and the
// broadcast topic "agent.<event>".
func (f *Facade) PublishAgentEvent(agentID, event string, data interface{}, publisherID string) error {
	if _, err := f.server.Publish(AgentTopic(agentID, event), data, publisherID, false); err != nil {
		return err
	}
	_, err := f.server.Publish(fmt.Sprintf("agent.%s", event), data, publisherID, false)
	return err
}

// PublishTaskEvent publishes to both "task.<id>.<event>" and the
// broadcast topic "task.<event>".
func (f *Facade) PublishTaskEvent(taskID, event string, data interface{}, publisherID string) error {
	if _, err := f.server.Publish(TaskTopic(taskID, event), data, publisherID, false); err != nil {
		return err
	}
	_, err := f.server.Publish(fmt.Sprintf("task.%s", event), data, publisherID, false)
	return err
}

// PublishSwarmEvent mirrors data to both the per-swarm topic
// "swarm.<swarmID>.<event>" and the broadcast topic "swarm.<event>"
// (spec §4.K).
func (f *Facade) PublishSwarmEvent(swarmID, event string, data interface{}, publisherID string) error {
	if _, err := f.server.Publish(SwarmTopic(swarmID, event), data, publisherID, false); err != nil {
		return err
	}
	_, err := f.server.Publish(fmt.Sprintf("swarm.%s", event), data, publisherID, false)
	return err
}

// SubscribeAgent subscribes subscriberID to every event of agentID
// ("agent.<id>.*").
func (f *Facade) SubscribeAgent(subscriberID, agentID string) {
	f.subscribe(subscriberID, fmt.Sprintf("agent.%s.*", agentID))
}

// SubscribeTask subscribes subscriberID to every event of taskID
// ("task.<id>.*").
func (f *Facade) SubscribeTask(subscriberID, taskID string) {
	f.subscribe(subscriberID, fmt.Sprintf("task.%s.*", taskID))
}

// SubscribeToSwarm subscribes subscriberID to every event of swarmID
// ("swarm.<id>.*"). Idempotent: a subscriber already subscribed to
// that topic is left unchanged.
func (f *Facade) SubscribeToSwarm(subscriberID, swarmID string) {
	f.subscribe(subscriberID, fmt.Sprintf("swarm.%s.*", swarmID))
}

func (f *Facade) subscribe(subscriberID, topic string) {
	f.mu.Lock()
	set, ok := f.subscriptions[subscriberID]
	if !ok {
		set = make(map[string]struct{})
		f.subscriptions[subscriberID] = set
	}
	if _, already := set[topic]; already {
		f.mu.Unlock()
		return
	}
	set[topic] = struct{}{}
	f.mu.Unlock()
	f.server.Subscribe(subscriberID, topic)
}

// Unsubscribe releases only the topics subscriberID was previously
// subscribed to through this facade (not a blanket unsubscribe-all).
func (f *Facade) Unsubscribe(subscriberID string, topic string) error {
	f.mu.Lock()
	set, ok := f.subscriptions[subscriberID]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: subscriber %s has no subscriptions", errs.ErrNotFound, subscriberID)
	}
	if _, ok := set[topic]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: subscriber %s is not subscribed to %s", errs.ErrNotFound, subscriberID, topic)
	}
	delete(set, topic)
	if len(set) == 0 {
		delete(f.subscriptions, subscriberID)
	}
	f.mu.Unlock()
	f.server.Unsubscribe(subscriberID, topic)
	return nil
}

// Subscriptions returns the sorted set of topics subscriberID is
// currently subscribed to through this facade.
func (f *Facade) Subscriptions(subscriberID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.subscriptions[subscriberID]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
