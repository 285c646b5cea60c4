// Package hivemind implements the queen/worker coordination layer of
// spec §3/§4.H: queen election, worker registration, directive dispatch,
// heartbeat ingestion, and graceful degradation. Queen and worker state
// communicate only through explicit HiveMindMessage values (spec §9) —
// neither side holds a shared mutable reference into the other.
// Grounded on the teacher's ollama-distributed/pkg/scheduler/worker_manager.go
// (worker registry, health/load tracking, capability-based selection)
// and pkg/scheduler/orchestration (directive-like dispatch/aggregation
// shape), generalized from LLM task routing to opaque directive payloads.
package hivemind

import "time"

// WorkerStatus is a Worker's coordination-layer state (spec §3).
type WorkerStatus string

const (
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerDegraded WorkerStatus = "degraded"
	WorkerFailed   WorkerStatus = "failed"
	WorkerOffline  WorkerStatus = "offline"
)

// QueenStatus is a Queen's election-protocol state (spec §3).
type QueenStatus string

const (
	QueenCandidate QueenStatus = "candidate"
	QueenLeader    QueenStatus = "leader"
	QueenFollower  QueenStatus = "follower"
)

// WorkerMetrics tracks a worker's directive outcomes as observed by the
// queen.
type WorkerMetrics struct {
	DirectivesCompleted int
	DirectivesFailed    int
}

// WorkerInfo is the queen's view of a registered worker (spec §3).
type WorkerInfo struct {
	Status          WorkerStatus
	Capabilities    []string
	Load            float64
	LastHeartbeat   time.Time
	Health          float64
	Metrics         WorkerMetrics
	CurrentTaskID   string
	QueueSize       int
}

// DirectiveType is a Directive's payload category (spec §3).
type DirectiveType string

const (
	DirectiveTask         DirectiveType = "task"
	DirectiveQuery        DirectiveType = "query"
	DirectiveCoordination DirectiveType = "coordination"
	DirectiveConsensus    DirectiveType = "consensus"
)

// DirectiveStatus is a Directive's lifecycle state (spec §3).
type DirectiveStatus string

const (
	DirectivePending    DirectiveStatus = "pending"
	DirectiveInProgress DirectiveStatus = "in-progress"
	DirectiveCompleted  DirectiveStatus = "completed"
	DirectiveFailed     DirectiveStatus = "failed"
	DirectiveTimeout    DirectiveStatus = "timeout"
)

// Directive is a unit of work issued by the queen to one or more
// workers (spec §3/§4.H).
type Directive struct {
	ID                string
	Type              DirectiveType
	IssuedBy          string
	IssuedAt          time.Time
	Priority          int
	Payload           interface{}
	TargetWorkers     []string
	RequiredResponses int
	Timeout           time.Duration
	Status            DirectiveStatus

	results map[string]DirectiveResult // by workerID, private bookkeeping
}

// DirectiveResult is a worker's reported outcome for a directive (spec §3).
type DirectiveResult struct {
	DirectiveID string
	WorkerID    string
	Success     bool
	Result      interface{}
	Error       string
	CompletedAt time.Time
	DurationMs  int64
}

// MessageType is a HiveMindMessage's kind (spec §9).
type MessageType string

const (
	MsgDirective MessageType = "directive"
	MsgAck       MessageType = "ack"
	MsgResult    MessageType = "result"
	MsgHeartbeat MessageType = "heartbeat"
)

// HiveMindMessage is the explicit message-passing envelope of spec §9:
// queen and worker state never share a mutable reference, only messages.
type HiveMindMessage struct {
	ID          string
	Type        MessageType
	From        string
	To          string
	Payload     interface{}
	Timestamp   time.Time
	Priority    int
	RequiresAck bool
}

// TaskAssignment is a directive queued on a worker for processing (spec §4.H).
type TaskAssignment struct {
	DirectiveID string
	Payload     interface{}
	Priority    int
	Timeout     time.Duration
	ReceivedAt  time.Time
}

// Heartbeat is what a worker reports every heartbeatIntervalMs (spec §4.H).
type Heartbeat struct {
	WorkerID      string
	Health        float64
	Status        WorkerStatus
	QueueSize     int
	CurrentTaskID string
	Timestamp     time.Time
}
