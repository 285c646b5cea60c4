package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidatePoolSizeBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pools["workers"] = PoolConfig{MinSize: 5, MaxSize: 2, TargetSize: 3}
	err := cfg.Validate()
	require.Error(t, err)
	ve, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.NotEmpty(t, ve)
}

func TestValidateConsensusNodeCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Consensus.MaxFaultyNodes = 2
	cfg.Consensus.Nodes = []string{"n0", "n1", "n2"} // need >= 3f+1 = 7
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateTopologyType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topology.Type = "not-a-type"
	err := cfg.Validate()
	require.Error(t, err)
}
