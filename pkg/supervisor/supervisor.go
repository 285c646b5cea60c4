// Package supervisor implements the Supervisor of spec §4.L: it wires
// every component in dependency order (A through L), subscribes the
// event bus to the channel facade, runs each component's long-running
// loop on its own goroutine (spec §5), and performs graceful shutdown.
// Grounded on the teacher's cmd/ollamacron/main.go Application struct
// (construct-in-order, initializeServices/startServices/shutdown
// phases, reverse-order teardown with a shutdown timeout).
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/events"
	"github.com/hivemesh/swarmcore/pkg/agent"
	"github.com/hivemesh/swarmcore/pkg/channel"
	"github.com/hivemesh/swarmcore/pkg/collective"
	"github.com/hivemesh/swarmcore/pkg/consensus"
	"github.com/hivemesh/swarmcore/pkg/hivemind"
	"github.com/hivemesh/swarmcore/pkg/lifecycle"
	"github.com/hivemesh/swarmcore/pkg/repository"
	"github.com/hivemesh/swarmcore/pkg/task"
	"github.com/hivemesh/swarmcore/pkg/topology"
	"github.com/hivemesh/swarmcore/pkg/transport"
)

// DefaultShutdownGrace is the spec §4.L default drain period.
const DefaultShutdownGrace = 5 * time.Second

// Supervisor owns every core component's lifecycle for one swarm node.
type Supervisor struct {
	cfg *config.SwarmConfig
	log zerolog.Logger

	Bus *events.Bus

	AgentRepo repository.Repository[*agent.Agent]
	PoolRepo  repository.Repository[*agent.Pool]

	Tasks     *task.Queue
	TaskGraph *task.Graph

	Lifecycle *lifecycle.Service
	Transport *transport.Server
	Topology  *topology.Manager
	Queen     *hivemind.Queen
	Consensus *consensus.Engine

	Memory      *collective.MemoryStore
	Patterns    *collective.PatternCatalog
	Decisions   *collective.ConsensusBuilder
	Emergence   *collective.PatternEmergence

	Channel *channel.Facade

	mu      sync.Mutex
	workers map[string]*hivemind.Worker

	httpServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component in dependency order per spec §2/§4.L, using
// in-memory repositories (component D is fully usable without a durable
// backend per spec §4.D).
func New(cfg *config.SwarmConfig, log zerolog.Logger) (*Supervisor, error) {
	bus := events.NewBus()

	agentRepo := repository.NewInMemory[*agent.Agent]()
	poolRepo := repository.NewInMemory[*agent.Pool]()

	taskQueue := task.NewQueue(task.QueueConfig{ID: cfg.Node.ID, MaxSize: 10000, Logger: log})
	taskGraph := task.NewGraph()

	lifecycleSvc := lifecycle.NewService(agentRepo, poolRepo, bus, lifecycle.NewMetrics(nil), log)

	transportCfg := transport.Config{
		HeartbeatInterval:         cfg.Transport.HeartbeatInterval,
		AuthTimeout:               cfg.Transport.AuthTimeout,
		MaxConnections:            cfg.Transport.MaxConnections,
		RateLimitMaxMessages:      cfg.Transport.RateLimit.MaxMessages,
		RateLimitWindow:           cfg.Transport.RateLimit.Window,
		QueueSize:                 cfg.Transport.QueueSize,
		MaxSubscriptionsPerClient: cfg.Transport.MaxSubscriptionsPerClient,
		EnablePatterns:            cfg.Transport.EnablePatterns,
	}
	if cfg.Transport.JWTSecret != "" {
		transportCfg.Authenticate = transport.NewJWTAuthenticator([]byte(cfg.Transport.JWTSecret))
	}
	transportSrv := transport.NewServer(transportCfg, transport.NewMetrics(nil), log)

	topoCfg := topology.Config{
		Type:                    topology.Type(cfg.Topology.Type),
		MaxConnectionsPerWorker: cfg.Topology.MaxConnectionsPerWorker,
		HierarchyLevels:         cfg.Topology.HierarchyLevels,
		AdaptIntervalMs:         cfg.Topology.AdaptIntervalMs,
	}
	if topoCfg.Type == "" {
		topoCfg = topology.DefaultConfig()
	}
	topoMgr := topology.NewManager(topoCfg, bus, log)

	queen := hivemind.NewQueen(cfg.Node.ID, bus, log)

	nodes := cfg.Consensus.Nodes
	if len(nodes) == 0 {
		nodes = []string{cfg.Node.ID}
	}
	consensusEngine, err := consensus.NewEngine(consensus.Config{
		NodeID:              cfg.Node.ID,
		Nodes:               nodes,
		MaxFaultyNodes:      cfg.Consensus.MaxFaultyNodes,
		TimeoutMs:           time.Duration(cfg.Consensus.TimeoutMs) * time.Millisecond,
		ViewChangeTimeoutMs: time.Duration(cfg.Consensus.ViewChangeTimeoutMs) * time.Millisecond,
	}, consensus.NewMetrics(nil), log)
	if err != nil {
		return nil, fmt.Errorf("wire consensus engine: %w", err)
	}

	facade := channel.NewFacade(transportSrv)

	sup := &Supervisor{
		cfg:       cfg,
		log:       log,
		Bus:       bus,
		AgentRepo: agentRepo,
		PoolRepo:  poolRepo,
		Tasks:     taskQueue,
		TaskGraph: taskGraph,
		Lifecycle: lifecycleSvc,
		Transport: transportSrv,
		Topology:  topoMgr,
		Queen:     queen,
		Consensus: consensusEngine,
		Memory:    collective.NewMemoryStore(cfg.Node.ID),
		Patterns:  collective.NewPatternCatalog(),
		Decisions: collective.NewConsensusBuilder(),
		Emergence: collective.NewPatternEmergence(bus),
		Channel:   facade,
		workers:   make(map[string]*hivemind.Worker),
	}

	queen.Initialize(len(nodes))
	selfRole := topology.RoleWorker
	switch cfg.Node.Role {
	case "queen":
		selfRole = topology.RoleQueen
	case "coordinator":
		selfRole = topology.RoleCoordinator
	}
	if err := topoMgr.AddNode(cfg.Node.ID, selfRole); err != nil {
		return nil, fmt.Errorf("seed topology with self: %w", err)
	}

	sup.bridgeEventsToChannel()
	return sup, nil
}

// bridgeEventsToChannel subscribes the event bus to the channel facade
// (spec §2: "events and state snapshots fan out via K -> F to subscribed
// clients"). Every domain event is mirrored onto this node's swarm-scoped
// topic swarm.<id>.<event name> and the broadcast topic swarm.<event name>,
// in addition to whatever scoped publish its own emitter already does. A
// subscriber of swarm.<id>.* receives the events whose name is a single
// segment; a dotted name such as topology.changed adds topic segments that
// "*" does not match.
func (s *Supervisor) bridgeEventsToChannel() {
	s.Bus.Subscribe("", func(evt events.Event) {
		if err := s.Channel.PublishSwarmEvent(s.cfg.Node.ID, evt.Name, evt.Data, "supervisor"); err != nil {
			s.log.Debug().Err(err).Str("event", evt.Name).Msg("swarm event publish failed")
		}
	})
}

// SpawnWorker creates a hivemind Worker for an already lifecycle-spawned
// agent and registers it with both the queen and the topology manager,
// then starts its task-processor and heartbeat loops.
func (s *Supervisor) SpawnWorker(ctx context.Context, agentID string, capabilities []string, exec hivemind.Executor, heartbeatInterval time.Duration) (*hivemind.Worker, error) {
	w := hivemind.NewWorker(agentID, exec, s.Bus, s.log)
	if err := s.Queen.RegisterWorker(agentID, capabilities); err != nil {
		return nil, err
	}
	if err := s.Topology.AddNode(agentID, topology.RoleWorker); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.workers[agentID] = w
	s.mu.Unlock()

	s.wg.Add(2)
	go func() { defer s.wg.Done(); w.RunLoop(ctx) }()
	go func() { defer s.wg.Done(); w.RunHeartbeatLoop(ctx, heartbeatInterval) }()
	return w, nil
}

// Worker returns a previously spawned worker by agent id.
func (s *Supervisor) Worker(agentID string) (*hivemind.Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[agentID]
	return w, ok
}

// Start launches every long-running component on its own goroutine
// (spec §5) and, if a listen address is configured, the transport
// websocket listener.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.cfg.Topology.Type == "adaptive" {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.Topology.RunAdaptiveLoop(ctx) }()
	}

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.runConsensusTimeoutSweep(ctx) }()
	go func() { defer s.wg.Done(); s.runDecisionTimeoutSweep(ctx) }()
	go func() { defer s.wg.Done(); s.runCoordinationSweep(ctx) }()

	if s.cfg.Transport.Port != 0 {
		mux := http.NewServeMux()
		mux.Handle("/", s.Transport.Handler())
		addr := fmt.Sprintf("%s:%d", s.cfg.Transport.Host, s.cfg.Transport.Port)
		s.httpServer = &http.Server{Addr: addr, Handler: mux}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error().Err(err).Msg("transport listener stopped")
			}
		}()
		s.log.Info().Str("addr", addr).Msg("transport listening")
	}

	s.log.Info().Str("node_id", s.cfg.Node.ID).Msg("supervisor started")
	return nil
}

// runConsensusTimeoutSweep periodically checks the PBFT engine's phase
// and view-change timeouts (spec §4.I, §5's "consensus phase waits").
func (s *Supervisor) runConsensusTimeoutSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if msg, fired := s.Consensus.CheckTimeouts(now); fired {
				s.Bus.Publish(events.Event{Name: "consensus.timeout", Data: msg})
			}
		}
	}
}

// runDecisionTimeoutSweep finalizes collective decisions whose timeout
// has elapsed (spec §4.J's ConsensusBuilder).
func (s *Supervisor) runDecisionTimeoutSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range s.Decisions.CheckTimeouts(now) {
				name := "consensus.failed"
				result, err := s.Decisions.Result(id)
				if err == nil && result.Consensus {
					name = "consensus.achieved"
				}
				s.Bus.Publish(events.Event{Name: name, Data: struct {
					DecisionID string
					Result     collective.Result
				}{id, result}})
			}
		}
	}
}

// runCoordinationSweep prunes stale workers, checks directive timeouts,
// and reconciles pool membership against terminated agents (spec §4.E's
// periodic reconciliation decision, §4.H's heartbeat-timeout pruning).
func (s *Supervisor) runCoordinationSweep(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Queen.PruneStaleWorkers(now, 30*time.Second)
			s.Queen.CheckDirectiveTimeouts(now)
			if err := s.Lifecycle.ReconcilePools(ctx); err != nil {
				s.log.Warn().Err(err).Msg("pool reconciliation failed")
			}
		}
	}
}

// Shutdown performs the graceful shutdown sequence of spec §4.L: stop
// accepting new clients, drain pending publishes up to grace, close
// client sockets, terminate agents in reverse insertion order, then
// stop every background loop.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	s.Transport.StopAccepting()
	if err := s.Transport.Shutdown(ctx, grace); err != nil {
		s.log.Warn().Err(err).Msg("transport drain error")
	}
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, grace)
		_ = s.httpServer.Shutdown(shutdownCtx)
		cancel()
	}

	order := s.Lifecycle.SpawnOrder()
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.Lifecycle.TerminateAgent(ctx, order[i]); err != nil {
			s.log.Warn().Err(err).Str("agent_id", order[i]).Msg("terminate on shutdown failed")
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.log.Info().Msg("supervisor shut down")
	return nil
}
