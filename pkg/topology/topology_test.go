package topology

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, typ Type) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Type = typ
	return NewManager(cfg, nil, zerolog.Nop())
}

// TestHierarchicalTopologyHeal reproduces spec §8 scenario 6: hierarchical
// topology with queen Q and workers W1,W2,W3; removing Q yields three
// singleton partitions, and healing reconnects them into one partition
// of size 3, anchored on the first-listed (smallest id) partition.
func TestHierarchicalTopologyHeal(t *testing.T) {
	m := newTestManager(t, TypeHierarchical)
	require.NoError(t, m.AddNode("Q", RoleQueen))
	require.NoError(t, m.AddNode("W1", RoleWorker))
	require.NoError(t, m.AddNode("W2", RoleWorker))
	require.NoError(t, m.AddNode("W3", RoleWorker))

	require.True(t, m.Connected("Q", "W1"))
	require.True(t, m.Connected("Q", "W2"))
	require.True(t, m.Connected("Q", "W3"))
	require.False(t, m.Connected("W1", "W2"))

	require.NoError(t, m.RemoveNode("Q"))

	partitions := m.DetectPartitions()
	require.Equal(t, [][]string{{"W1"}, {"W2"}, {"W3"}}, partitions)

	m.HealPartitions()
	healed := m.DetectPartitions()
	require.Len(t, healed, 1)
	require.ElementsMatch(t, []string{"W1", "W2", "W3"}, healed[0])
}

func TestAddingSecondQueenFails(t *testing.T) {
	m := newTestManager(t, TypeHierarchical)
	require.NoError(t, m.AddNode("Q1", RoleQueen))
	err := m.AddNode("Q2", RoleQueen)
	require.Error(t, err)
}

func TestEdgesAreUndirected(t *testing.T) {
	m := newTestManager(t, TypeHierarchical)
	require.NoError(t, m.AddNode("Q", RoleQueen))
	require.NoError(t, m.AddNode("W1", RoleWorker))
	n, ok := m.Node("W1")
	require.True(t, ok)
	_, connected := n.Connections["Q"]
	require.True(t, connected)
}

func TestShortestPath(t *testing.T) {
	m := newTestManager(t, TypeHierarchical)
	require.NoError(t, m.AddNode("Q", RoleQueen))
	require.NoError(t, m.AddNode("W1", RoleWorker))
	require.NoError(t, m.AddNode("W2", RoleWorker))
	path := m.ShortestPath("W1", "W2")
	require.Equal(t, []string{"W1", "Q", "W2"}, path)
}

func TestMeshRespectsCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = TypeMesh
	cfg.MaxConnectionsPerWorker = 2
	m := NewManager(cfg, nil, zerolog.Nop())
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5"} {
		require.NoError(t, m.AddNode(id, RoleWorker))
	}
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5"} {
		n, _ := m.Node(id)
		require.LessOrEqual(t, len(n.Connections), cfg.MaxConnectionsPerWorker)
	}
}

func TestAdaptiveAdaptReturnsMetricsAndStrategy(t *testing.T) {
	m := newTestManager(t, TypeAdaptive)
	require.NoError(t, m.AddNode("Q", RoleQueen))
	for i := 0; i < 6; i++ {
		require.NoError(t, m.AddNode(string(rune('A'+i)), RoleWorker))
	}
	metrics, strategy := m.Adapt()
	require.GreaterOrEqual(t, metrics.NetworkDensity, 0.0)
	require.NotEmpty(t, strategy)
}
