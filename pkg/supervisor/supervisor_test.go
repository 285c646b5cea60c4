package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/pkg/agent"
	"github.com/hivemesh/swarmcore/pkg/hivemind"
)

func newTestConfig() *config.SwarmConfig {
	cfg := config.DefaultConfig()
	cfg.Node.ID = "node-test"
	cfg.Node.Role = "queen"
	cfg.Transport.Port = 0 // no listener in unit tests
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	sup, err := New(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NotNil(t, sup.Lifecycle)
	require.NotNil(t, sup.Transport)
	require.NotNil(t, sup.Topology)
	require.NotNil(t, sup.Queen)
	require.NotNil(t, sup.Consensus)
	require.NotNil(t, sup.Memory)
	require.NotNil(t, sup.Patterns)
	require.NotNil(t, sup.Decisions)
	require.NotNil(t, sup.Emergence)
	require.NotNil(t, sup.Channel)

	_, ok := sup.Topology.Node("node-test")
	require.True(t, ok)
	require.Equal(t, "leader", string(sup.Queen.Status()))
}

func TestSpawnWorkerRegistersWithQueenAndTopology(t *testing.T) {
	sup, err := New(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	agentID, err := sup.Lifecycle.SpawnAgent(ctx, agent.Template{Type: agent.TypeCoder})
	require.NoError(t, err)

	exec := func(ctx context.Context, payload interface{}) (interface{}, error) { return payload, nil }
	w, err := sup.SpawnWorker(ctx, agentID, []string{"code"}, hivemind.Executor(exec), 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, w)

	got, ok := sup.Worker(agentID)
	require.True(t, ok)
	require.Same(t, w, got)

	_, ok = sup.Topology.Node(agentID)
	require.True(t, ok)

	info, ok := sup.Queen.WorkerInfo(agentID)
	require.True(t, ok)
	require.Equal(t, []string{"code"}, info.Capabilities)
}

func TestStartAndShutdownGraceful(t *testing.T) {
	sup, err := New(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sup.Start(ctx))

	agentID, err := sup.Lifecycle.SpawnAgent(ctx, agent.Template{Type: agent.TypeCoder})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(shutdownCtx, 50*time.Millisecond))

	a, ok, err := sup.AgentRepo.FindByID(ctx, agentID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, agent.StatusTerminated, a.Status)
}
