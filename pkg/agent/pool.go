package agent

import (
	"fmt"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/internal/events"
	"github.com/hivemesh/swarmcore/pkg/id"
)

// ScalingConfig governs an AgentPool's elastic bounds per spec §3/§6.
type ScalingConfig struct {
	MinSize            int
	TargetSize         int
	MaxSize            int
	ScaleUpThreshold   float64 // default 0.8
	ScaleDownThreshold float64 // default 0.2
	CooldownPeriod     int64   // milliseconds, default 60000
}

// DefaultScalingConfig returns the spec §6 defaults for the threshold and
// cooldown fields, leaving min/target/max for the caller to set.
func DefaultScalingConfig() ScalingConfig {
	return ScalingConfig{
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		CooldownPeriod:     60000,
	}
}

// Pool is the AgentPool aggregate of spec §3/§4.C. It records scaling
// intent only; actual membership changes are the Lifecycle Service's job.
type Pool struct {
	ID      string
	Type    Type
	Name    string
	Size    int
	Members []string // ordered AgentIds
	Config  ScalingConfig

	domainEvents []events.Event
}

// NewPool creates a pool, validating the scaling config's ordering
// invariant minSize <= targetSize <= maxSize.
func NewPool(agentType Type, name string, cfg ScalingConfig) (*Pool, error) {
	if err := validateBounds(cfg.MinSize, cfg.TargetSize, cfg.MaxSize); err != nil {
		return nil, err
	}
	return &Pool{
		ID:     id.New("pool"),
		Type:   agentType,
		Name:   name,
		Config: cfg,
	}, nil
}

func validateBounds(minSize, target, maxSize int) error {
	if !(minSize <= target && target <= maxSize) {
		return fmt.Errorf("%w: expected minSize <= target <= maxSize, got %d <= %d <= %d", errs.ErrInvalidInput, minSize, target, maxSize)
	}
	return nil
}

func (p *Pool) emit(name string, data interface{}) {
	p.domainEvents = append(p.domainEvents, events.Event{Name: name, Data: data})
}

// DrainEvents returns and clears the accumulated domain events.
func (p *Pool) DrainEvents() []events.Event {
	out := p.domainEvents
	p.domainEvents = nil
	return out
}

// Scale validates min <= target <= max, records the new target, and emits
// PoolScaled. It does not itself spawn or terminate agents.
func (p *Pool) Scale(target int) error {
	if err := validateBounds(p.Config.MinSize, target, p.Config.MaxSize); err != nil {
		return err
	}
	previous := p.Config.TargetSize
	p.Config.TargetSize = target
	p.emit("PoolScaled", struct {
		PoolID       string
		PreviousSize int
		TargetSize   int
	}{p.ID, previous, target})
	return nil
}

// AddMember appends an agent id to the pool's membership, rejecting the
// add when it would take |members| above maxSize. The minSize bound is
// not checked here.
func (p *Pool) AddMember(agentID string) error {
	if len(p.Members)+1 > p.Config.MaxSize {
		return fmt.Errorf("%w: pool %s at max size %d", errs.ErrInvalidInput, p.ID, p.Config.MaxSize)
	}
	p.Members = append(p.Members, agentID)
	p.Size = len(p.Members)
	return nil
}

// RemoveMember drops an agent id from the pool's membership by value.
// Per the spec's open question, the pool itself never removes a member
// as a side effect of the agent's own Terminate(); that reconciliation is
// owned by the Lifecycle Service's periodic sweep (see DESIGN.md).
func (p *Pool) RemoveMember(agentID string) {
	for i, m := range p.Members {
		if m == agentID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			p.Size = len(p.Members)
			return
		}
	}
}

// EntityID implements repository.Identifiable.
func (p *Pool) EntityID() string { return p.ID }

// HealthStatus classifies a pool's aggregate health per spec §4.C.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// PoolHealth is the result of CalculateHealth.
type PoolHealth struct {
	Score  float64
	Status HealthStatus
}

// CalculateHealth returns the arithmetic mean of the supplied member
// scores and classifies it into healthy (>=0.7), degraded (>=0.4), or
// unhealthy (<0.4).
func CalculateHealth(scoresByAgent map[string]float64) PoolHealth {
	if len(scoresByAgent) == 0 {
		return PoolHealth{Score: 0, Status: HealthUnhealthy}
	}
	var sum float64
	for _, s := range scoresByAgent {
		sum += s
	}
	mean := sum / float64(len(scoresByAgent))
	status := HealthUnhealthy
	switch {
	case mean >= 0.7:
		status = HealthHealthy
	case mean >= 0.4:
		status = HealthDegraded
	}
	return PoolHealth{Score: mean, Status: status}
}
