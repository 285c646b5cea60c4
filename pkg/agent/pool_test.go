package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolScaleBounds(t *testing.T) {
	cfg := DefaultScalingConfig()
	cfg.MinSize, cfg.TargetSize, cfg.MaxSize = 1, 3, 5
	p, err := NewPool(TypeCoder, "pool-1", cfg)
	require.NoError(t, err)

	require.NoError(t, p.Scale(4))
	assert.Equal(t, 4, p.Config.TargetSize)

	err = p.Scale(10)
	assert.ErrorContains(t, err, "invalid input")
	assert.Equal(t, 4, p.Config.TargetSize, "state unchanged on rejected scale")

	err = p.Scale(0)
	assert.ErrorContains(t, err, "invalid input")
}

func TestPoolMembership(t *testing.T) {
	cfg := DefaultScalingConfig()
	cfg.MinSize, cfg.TargetSize, cfg.MaxSize = 0, 1, 2
	p, err := NewPool(TypeCoder, "pool-1", cfg)
	require.NoError(t, err)

	require.NoError(t, p.AddMember("a1"))
	require.NoError(t, p.AddMember("a2"))
	assert.ErrorContains(t, p.AddMember("a3"), "invalid input")

	p.RemoveMember("a1")
	assert.Equal(t, []string{"a2"}, p.Members)
}

func TestCalculateHealth(t *testing.T) {
	h := CalculateHealth(map[string]float64{"a1": 1.0, "a2": 0.6})
	assert.InDelta(t, 0.8, h.Score, 1e-9)
	assert.Equal(t, HealthHealthy, h.Status)

	h2 := CalculateHealth(map[string]float64{"a1": 0.3, "a2": 0.3})
	assert.Equal(t, HealthUnhealthy, h2.Status)
}
