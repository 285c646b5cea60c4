// Package lifecycle implements the Lifecycle Service of spec §4.E: spawn/
// terminate/scale orchestration, transactional with respect to repository
// writes and event emission. Grounded on the teacher's
// ollama-distributed/pkg/scheduler/scheduler_manager.go (service wired to
// an injected repository and event bus, statistics aggregation).
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/internal/events"
	"github.com/hivemesh/swarmcore/pkg/agent"
	"github.com/hivemesh/swarmcore/pkg/repository"
)

// Metrics are the audit/metric hooks SPEC_FULL.md permits for this
// component.
type Metrics struct {
	AgentsSpawned    prometheus.Counter
	AgentsTerminated prometheus.Counter
	PoolSize         *prometheus.GaugeVec
}

// NewMetrics builds and optionally registers the lifecycle metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AgentsSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agents_spawned_total", Help: "Total agents spawned.",
		}),
		AgentsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agents_terminated_total", Help: "Total agents terminated.",
		}),
		PoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_size", Help: "Current pool membership size.",
		}, []string{"pool_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.AgentsSpawned, m.AgentsTerminated, m.PoolSize)
	}
	return m
}

// Service is the Lifecycle Service.
type Service struct {
	mu      sync.Mutex
	agents  repository.Repository[*agent.Agent]
	pools   repository.Repository[*agent.Pool]
	bus     *events.Bus
	metrics *Metrics
	log     zerolog.Logger

	spawnOrder []string // insertion order, for reverse-order shutdown
}

// NewService wires a Lifecycle Service over the given repositories.
func NewService(agents repository.Repository[*agent.Agent], pools repository.Repository[*agent.Pool], bus *events.Bus, metrics *Metrics, log zerolog.Logger) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{agents: agents, pools: pools, bus: bus, metrics: metrics, log: log}
}

// publish drains and publishes an aggregate's accumulated domain events
// only after the triggering repository write has already succeeded
// (the emit-and-clear protocol of spec §9).
func (s *Service) publish(evts []events.Event) {
	for _, e := range evts {
		s.bus.Publish(e)
	}
}

// SpawnAgent creates and spawns a new agent of the template's type,
// persists it, and publishes its domain events.
func (s *Service) SpawnAgent(ctx context.Context, tpl agent.Template) (string, error) {
	a := agent.Create(tpl)
	if err := a.Spawn(); err != nil {
		return "", err
	}
	if err := s.agents.Save(ctx, a); err != nil {
		return "", fmt.Errorf("save spawned agent: %w", err)
	}
	s.mu.Lock()
	s.spawnOrder = append(s.spawnOrder, a.ID)
	s.mu.Unlock()
	s.metrics.AgentsSpawned.Inc()
	s.publish(a.DrainEvents())
	s.log.Info().Str("agent_id", a.ID).Str("type", string(a.Type)).Msg("agent spawned")
	return a.ID, nil
}

// TerminateAgent terminates an agent (idempotent) and persists the result.
func (s *Service) TerminateAgent(ctx context.Context, agentID string) error {
	a, err := repository.MustFindByID(ctx, s.agents, agentID)
	if err != nil {
		return err
	}
	if err := a.Terminate(); err != nil {
		return err
	}
	if err := s.agents.Save(ctx, a); err != nil {
		return fmt.Errorf("save terminated agent: %w", err)
	}
	s.metrics.AgentsTerminated.Inc()
	s.publish(a.DrainEvents())
	return nil
}

// SpawnOrder returns a snapshot of agent ids in spawn (insertion) order,
// letting a Supervisor terminate agents in reverse insertion order during
// graceful shutdown (spec §4.L).
func (s *Service) SpawnOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spawnOrder...)
}

// GetAgentHealth returns the current health score for an agent.
func (s *Service) GetAgentHealth(ctx context.Context, agentID string) (float64, error) {
	a, err := repository.MustFindByID(ctx, s.agents, agentID)
	if err != nil {
		return 0, err
	}
	score := a.ReportHealth()
	if err := s.agents.Save(ctx, a); err != nil {
		return 0, fmt.Errorf("save health-reported agent: %w", err)
	}
	s.publish(a.DrainEvents())
	return score, nil
}

// ListAgents returns every agent matching filter.
func (s *Service) ListAgents(ctx context.Context, filter repository.Filter[*agent.Agent]) ([]*agent.Agent, error) {
	return s.agents.FindAll(ctx, filter)
}

// CreatePool creates and persists a new pool.
func (s *Service) CreatePool(ctx context.Context, agentType agent.Type, cfg agent.ScalingConfig, name string) (string, error) {
	p, err := agent.NewPool(agentType, name, cfg)
	if err != nil {
		return "", err
	}
	if err := s.pools.Save(ctx, p); err != nil {
		return "", fmt.Errorf("save pool: %w", err)
	}
	s.metrics.PoolSize.WithLabelValues(p.ID).Set(float64(p.Size))
	s.publish(p.DrainEvents())
	return p.ID, nil
}

// ScalePool computes the delta against the pool's current membership
// and, depending on sign, spawns new agents of the pool's type or
// terminates the earliest members. Membership is tracked only in the
// pool's own Members slice, so a scale-down terminates at most the
// members that slice currently holds.
func (s *Service) ScalePool(ctx context.Context, poolID string, target int) error {
	p, err := repository.MustFindByID(ctx, s.pools, poolID)
	if err != nil {
		return err
	}
	if target < p.Config.MinSize || target > p.Config.MaxSize {
		return fmt.Errorf("%w: target %d out of [%d,%d]", errs.ErrInvalidInput, target, p.Config.MinSize, p.Config.MaxSize)
	}
	if err := p.Scale(target); err != nil {
		return err
	}
	delta := target - len(p.Members)
	switch {
	case delta > 0:
		for i := 0; i < delta; i++ {
			agentID, err := s.SpawnAgent(ctx, agent.Template{Type: p.Type})
			if err != nil {
				return err
			}
			if err := p.AddMember(agentID); err != nil {
				return err
			}
		}
	case delta < 0:
		toRemove := -delta
		if toRemove > len(p.Members) {
			toRemove = len(p.Members)
		}
		for i := 0; i < toRemove; i++ {
			earliest := p.Members[0]
			if err := s.TerminateAgent(ctx, earliest); err != nil {
				return err
			}
			p.RemoveMember(earliest)
		}
	}
	if err := s.pools.Save(ctx, p); err != nil {
		return fmt.Errorf("save scaled pool: %w", err)
	}
	s.metrics.PoolSize.WithLabelValues(p.ID).Set(float64(p.Size))
	s.publish(p.DrainEvents())
	return nil
}

// GetPoolHealth computes a pool's health from the current health score
// of each member agent found in the agent repository; members missing
// from the repository are skipped.
func (s *Service) GetPoolHealth(ctx context.Context, poolID string) (agent.PoolHealth, error) {
	p, err := repository.MustFindByID(ctx, s.pools, poolID)
	if err != nil {
		return agent.PoolHealth{}, err
	}
	scores := make(map[string]float64, len(p.Members))
	for _, memberID := range p.Members {
		a, ok, err := s.agents.FindByID(ctx, memberID)
		if err != nil {
			return agent.PoolHealth{}, err
		}
		if !ok {
			continue
		}
		scores[memberID] = a.ReportHealth()
	}
	return agent.CalculateHealth(scores), nil
}

// Statistics aggregates agent counts by type and status over the full
// population.
type Statistics struct {
	TotalAgents int
	ByType      map[agent.Type]int
	ByStatus    map[agent.Status]int
}

// GetStatistics computes aggregate counts over the full agent population.
func (s *Service) GetStatistics(ctx context.Context) (Statistics, error) {
	all, err := s.agents.FindAll(ctx, nil)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{TotalAgents: len(all), ByType: map[agent.Type]int{}, ByStatus: map[agent.Status]int{}}
	for _, a := range all {
		stats.ByType[a.Type]++
		stats.ByStatus[a.Status]++
	}
	return stats, nil
}

// ReconcilePools sweeps every pool and removes member ids whose backing
// agent has been terminated, addressing the Open Question in spec §9 on
// whether AgentPool.members ever shrinks when agents are terminated
// outside the pool: this repo's decision is to reconcile, not to leave
// stale membership in place (see DESIGN.md).
func (s *Service) ReconcilePools(ctx context.Context) error {
	pools, err := s.pools.FindAll(ctx, nil)
	if err != nil {
		return err
	}
	for _, p := range pools {
		changed := false
		kept := p.Members[:0:0]
		for _, memberID := range p.Members {
			a, ok, err := s.agents.FindByID(ctx, memberID)
			if err != nil {
				return err
			}
			if !ok || a.Status == agent.StatusTerminated {
				changed = true
				continue
			}
			kept = append(kept, memberID)
		}
		if changed {
			p.Members = kept
			p.Size = len(kept)
			if err := s.pools.Save(ctx, p); err != nil {
				return fmt.Errorf("save reconciled pool: %w", err)
			}
			s.metrics.PoolSize.WithLabelValues(p.ID).Set(float64(p.Size))
		}
	}
	return nil
}
