package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

var validTopologyTypes = map[string]bool{
	"hierarchical":      true,
	"mesh":              true,
	"hierarchical-mesh":  true,
	"adaptive":          true,
}

// Validate checks SwarmConfig for the invariants spec §6's
// configuration surface requires of each component.
func (c *SwarmConfig) Validate() error {
	var errs ValidationErrors

	if c.Transport.MaxConnections < 0 {
		errs = append(errs, ValidationError{Field: "transport.max_connections", Value: c.Transport.MaxConnections, Message: "must be >= 0"})
	}
	if c.Transport.RateLimit.MaxMessages <= 0 {
		errs = append(errs, ValidationError{Field: "transport.rate_limit.max_messages", Value: c.Transport.RateLimit.MaxMessages, Message: "must be > 0"})
	}

	for name, pool := range c.Pools {
		if pool.MinSize > pool.MaxSize {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("pools.%s", name), Value: pool, Message: "min_size must be <= max_size"})
		}
		if pool.TargetSize < pool.MinSize || pool.TargetSize > pool.MaxSize {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("pools.%s.target_size", name), Value: pool.TargetSize, Message: "must be within [min_size, max_size]"})
		}
	}

	if c.Consensus.MaxFaultyNodes < 0 {
		errs = append(errs, ValidationError{Field: "consensus.max_faulty_nodes", Value: c.Consensus.MaxFaultyNodes, Message: "must be >= 0"})
	}
	if n := len(c.Consensus.Nodes); n > 0 && n < 3*c.Consensus.MaxFaultyNodes+1 {
		errs = append(errs, ValidationError{Field: "consensus.nodes", Value: c.Consensus.Nodes, Message: "must satisfy n >= 3f+1"})
	}

	if c.Topology.Type != "" && !validTopologyTypes[c.Topology.Type] {
		errs = append(errs, ValidationError{Field: "topology.type", Value: c.Topology.Type, Message: "must be one of hierarchical, mesh, hierarchical-mesh, adaptive"})
	}
	if c.Topology.MaxConnectionsPerWorker <= 0 {
		errs = append(errs, ValidationError{Field: "topology.max_connections_per_worker", Value: c.Topology.MaxConnectionsPerWorker, Message: "must be > 0"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
