package lifecycle

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemesh/swarmcore/internal/events"
	"github.com/hivemesh/swarmcore/pkg/agent"
	"github.com/hivemesh/swarmcore/pkg/repository"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(
		repository.NewInMemory[*agent.Agent](),
		repository.NewInMemory[*agent.Pool](),
		events.NewBus(),
		NewMetrics(nil),
		zerolog.Nop(),
	)
}

func TestSpawnAndTerminateAgent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	agentID, err := svc.SpawnAgent(ctx, agent.Template{Type: agent.TypeCoder})
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	health, err := svc.GetAgentHealth(ctx, agentID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, health, 0.0)

	require.NoError(t, svc.TerminateAgent(ctx, agentID))

	agents, err := svc.ListAgents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, agent.StatusTerminated, agents[0].Status)
}

func TestScalePoolSpawnsAgents(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	cfg := agent.DefaultScalingConfig()
	cfg.MinSize, cfg.TargetSize, cfg.MaxSize = 0, 0, 5
	poolID, err := svc.CreatePool(ctx, agent.TypeResearcher, cfg, "researchers")
	require.NoError(t, err)

	require.NoError(t, svc.ScalePool(ctx, poolID, 3))

	stats, err := svc.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAgents)
	assert.Equal(t, 3, stats.ByType[agent.TypeResearcher])
}

func TestScalePoolRejectsOutOfBounds(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	cfg := agent.DefaultScalingConfig()
	cfg.MinSize, cfg.TargetSize, cfg.MaxSize = 1, 1, 2
	poolID, err := svc.CreatePool(ctx, agent.TypeCoder, cfg, "coders")
	require.NoError(t, err)

	err = svc.ScalePool(ctx, poolID, 10)
	assert.ErrorContains(t, err, "invalid input")
}

func TestReconcilePoolsRemovesTerminatedMembers(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	cfg := agent.DefaultScalingConfig()
	cfg.MinSize, cfg.TargetSize, cfg.MaxSize = 0, 2, 5
	poolID, err := svc.CreatePool(ctx, agent.TypeCoder, cfg, "coders")
	require.NoError(t, err)
	require.NoError(t, svc.ScalePool(ctx, poolID, 2))

	pools, err := svc.pools.FindAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	firstMember := pools[0].Members[0]

	// Terminate an agent outside the pool's own Scale path.
	require.NoError(t, svc.TerminateAgent(ctx, firstMember))
	require.NoError(t, svc.ReconcilePools(ctx))

	pools, err = svc.pools.FindAll(ctx, nil)
	require.NoError(t, err)
	assert.NotContains(t, pools[0].Members, firstMember)
	assert.Len(t, pools[0].Members, 1)
}
