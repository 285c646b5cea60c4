// Package config loads the layered SwarmConfig (defaults -> YAML file
// -> environment overrides) that seeds the Supervisor's component
// wiring (spec §6's "Configuration surface"). Grounded on the
// teacher's internal/config/config.go's struct-of-structs shape and
// viper-based Load/Validate/Save trio.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SwarmConfig is the complete configuration for a hivemesh node.
type SwarmConfig struct {
	Node       NodeConfig             `yaml:"node"`
	Transport  TransportConfig        `yaml:"transport"`
	Pools      map[string]PoolConfig  `yaml:"pools"`
	Consensus  ConsensusConfig        `yaml:"consensus"`
	Topology   TopologyConfig         `yaml:"topology"`
	Collective CollectiveConfig       `yaml:"collective"`
	Logging    LoggingConfig          `yaml:"logging"`
}

// NodeConfig identifies this process within the swarm.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

// RateLimitConfig bounds per-client publish rate (spec §6).
type RateLimitConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	Window      time.Duration `yaml:"window_ms"`
}

// TransportConfig configures the pub/sub transport server and router
// (spec §6: "Transport"/"Router").
type TransportConfig struct {
	Port                      int           `yaml:"port"`
	Host                      string        `yaml:"host"`
	HeartbeatInterval         time.Duration `yaml:"heartbeat_interval"`
	AuthTimeout               time.Duration `yaml:"auth_timeout"`
	MaxConnections            int           `yaml:"max_connections"`
	RateLimit                 RateLimitConfig `yaml:"rate_limit"`
	EnablePatterns            bool          `yaml:"enable_patterns"`
	MaxSubscriptionsPerClient int           `yaml:"max_subscriptions_per_client"`
	QueueSize                 int           `yaml:"queue_size"`
	JWTSecret                 string        `yaml:"jwt_secret"`
}

// PoolConfig is an agent pool's scaling configuration (spec §6: "Pools").
type PoolConfig struct {
	AgentType          string        `yaml:"agent_type"`
	MinSize            int           `yaml:"min_size"`
	MaxSize            int           `yaml:"max_size"`
	TargetSize         int           `yaml:"target_size"`
	ScaleUpThreshold   float64       `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64       `yaml:"scale_down_threshold"`
	CooldownPeriod     time.Duration `yaml:"cooldown_period"`
}

// ConsensusConfig configures the PBFT engine (spec §6: "Consensus").
type ConsensusConfig struct {
	NodeID              string   `yaml:"node_id"`
	Nodes               []string `yaml:"nodes"`
	MaxFaultyNodes      int      `yaml:"max_faulty_nodes"`
	TimeoutMs           int64    `yaml:"timeout_ms"`
	ViewChangeTimeoutMs int64    `yaml:"view_change_timeout_ms"`
}

// TopologyConfig configures the topology manager (spec §6: "Topology").
type TopologyConfig struct {
	Type                    string `yaml:"type"`
	MaxConnectionsPerWorker int    `yaml:"max_connections_per_worker"`
	HierarchyLevels         int    `yaml:"hierarchy_levels"`
	AdaptIntervalMs         int64  `yaml:"adapt_interval_ms"`
}

// CollectiveConfig configures the collective-intelligence layer.
type CollectiveConfig struct {
	MinConfidence        float64 `yaml:"min_confidence"`
	MaxObservationBuffer int     `yaml:"max_observation_buffer"`
}

// LoggingConfig configures the zerolog sink (spec §6).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultConfig returns spec §6's stated defaults.
func DefaultConfig() *SwarmConfig {
	return &SwarmConfig{
		Node: NodeConfig{Role: "worker"},
		Transport: TransportConfig{
			Port:                      7946,
			Host:                     "0.0.0.0",
			HeartbeatInterval:         30 * time.Second,
			AuthTimeout:               10 * time.Second,
			MaxConnections:            10000,
			RateLimit:                 RateLimitConfig{MaxMessages: 100, Window: time.Second},
			EnablePatterns:            true,
			MaxSubscriptionsPerClient: 100,
			QueueSize:                 1000,
		},
		Pools: map[string]PoolConfig{},
		Consensus: ConsensusConfig{
			MaxFaultyNodes:      0,
			TimeoutMs:           5000,
			ViewChangeTimeoutMs: 10000,
		},
		Topology: TopologyConfig{
			Type:                    "hierarchical",
			MaxConnectionsPerWorker: 5,
			AdaptIntervalMs:         60000,
		},
		Collective: CollectiveConfig{
			MinConfidence:        0.0,
			MaxObservationBuffer: 100,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load builds a SwarmConfig layered defaults -> configFile (if set, else
// the standard search path) -> SWARM_-prefixed environment overrides.
func Load(configFile string) (*SwarmConfig, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.hivemesh")
		v.AddConfigPath("/etc/hivemesh")
	}

	v.SetEnvPrefix("SWARM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to filename via viper's own marshaling.
func (c *SwarmConfig) Save(filename string) error {
	v := viper.New()
	v.Set("node", c.Node)
	v.Set("transport", c.Transport)
	v.Set("pools", c.Pools)
	v.Set("consensus", c.Consensus)
	v.Set("topology", c.Topology)
	v.Set("collective", c.Collective)
	v.Set("logging", c.Logging)
	return v.WriteConfigAs(filename)
}
