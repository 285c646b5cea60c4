// Package task implements the task aggregate, its priority/dependency
// queue, and the dependency DAG described in spec §3/§4.B. The shape
// (guarded state transitions, map+mutex bookkeeping, domain-event
// accumulation) is grounded on the teacher's
// ollama-distributed/pkg/scheduler/task_queue.go and task_tracker.go.
package task

import (
	"fmt"
	"time"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/internal/events"
	"github.com/hivemesh/swarmcore/pkg/id"
)

// Priority is a task's dispatch weight; higher sorts first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 10
	PriorityHigh     Priority = 100
	PriorityCritical Priority = 1000
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Metrics captures a task's execution timing.
type Metrics struct {
	QueueTime     time.Duration
	ExecutionTime time.Duration
}

// Input holds the fields a caller supplies to create a task.
type Input struct {
	Title       string
	Description string
	Type        string
	Priority    Priority
	BlockedBy   []string
	Input       interface{}
	MaxRetries  int
	Timeout     time.Duration
	Metadata    map[string]interface{}
}

const (
	defaultMaxRetries = 3
	defaultTimeout    = 300 * 1000 * time.Millisecond
)

// Task is the task aggregate. All mutation goes through its guarded
// transition methods; no field is ever set directly from outside the
// package once the task is created.
type Task struct {
	ID              string
	Title           string
	Description     string
	Type            string
	Priority        Priority
	Status          Status
	AssignedAgentID string
	BlockedBy       map[string]struct{}
	Blocks          map[string]struct{}
	Input           interface{}
	Output          interface{}
	Error           string
	Metrics         Metrics
	RetryCount      int
	MaxRetries      int
	Timeout         time.Duration
	Metadata        map[string]interface{}
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time

	startedMonotonic time.Time
	domainEvents     []events.Event
}

// New creates a pending task from the given input. Per spec §4.B, this
// initializes empty metrics, a BlockedBy set taken from in.BlockedBy and an
// empty Blocks set, and emits AgentCreated's task analogue, TaskCreated.
func New(in Input) (*Task, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title required", errs.ErrInvalidInput)
	}
	maxRetries := in.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := in.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	t := &Task{
		ID:          id.New("task"),
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		Priority:    in.Priority,
		Status:      StatusPending,
		BlockedBy:   toSet(in.BlockedBy),
		Blocks:      map[string]struct{}{},
		Input:       in.Input,
		MaxRetries:  maxRetries,
		Timeout:     timeout,
		Metadata:    in.Metadata,
		CreatedAt:   time.Now(),
	}
	for b := range t.BlockedBy {
		if _, clash := t.Blocks[b]; clash {
			return nil, fmt.Errorf("%w: task cannot both block and be blocked by %s", errs.ErrInvalidInput, b)
		}
	}
	t.emit("TaskCreated", t.ID)
	return t, nil
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, v := range ids {
		s[v] = struct{}{}
	}
	return s
}

func (t *Task) emit(name string, data interface{}) {
	t.domainEvents = append(t.domainEvents, events.Event{Name: name, Data: data})
}

// DrainEvents returns and clears the accumulated domain events. Services
// call this only after a successful repository write (the emit-and-clear
// protocol of spec §9).
func (t *Task) DrainEvents() []events.Event {
	out := t.domainEvents
	t.domainEvents = nil
	return out
}

func (t *Task) transitionErr(op string, from ...Status) error {
	for _, f := range from {
		if t.Status == f {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s task %s from status %s", errs.ErrInvalidStateTransition, op, t.ID, t.Status)
}

// Queue transitions pending -> queued.
func (t *Task) Queue() error {
	if err := t.transitionErr("queue", StatusPending); err != nil {
		return err
	}
	t.Status = StatusQueued
	t.emit("TaskQueued", t.ID)
	return nil
}

// Assign transitions queued -> assigned.
func (t *Task) Assign(agentID string) error {
	if err := t.transitionErr("assign", StatusQueued); err != nil {
		return err
	}
	t.Status = StatusAssigned
	t.AssignedAgentID = agentID
	t.emit("TaskAssignedToAgent", struct{ TaskID, AgentID string }{t.ID, agentID})
	return nil
}

// Start transitions assigned -> running and records the start time.
func (t *Task) Start() error {
	if err := t.transitionErr("start", StatusAssigned); err != nil {
		return err
	}
	t.Status = StatusRunning
	t.StartedAt = time.Now()
	t.startedMonotonic = t.StartedAt
	t.emit("TaskStarted", t.ID)
	return nil
}

// Complete transitions running -> completed.
func (t *Task) Complete(output interface{}) error {
	if err := t.transitionErr("complete", StatusRunning); err != nil {
		return err
	}
	t.Status = StatusCompleted
	t.Output = output
	t.CompletedAt = time.Now()
	if !t.startedMonotonic.IsZero() {
		t.Metrics.ExecutionTime = time.Since(t.startedMonotonic)
	}
	t.emit("AgentTaskCompleted", struct {
		TaskID  string
		Success bool
	}{t.ID, true})
	return nil
}

// Fail transitions running -> failed, applying the retry policy: if
// RetryCount < MaxRetries the task is reset to queued with RetryCount
// incremented and AssignedAgentID cleared; otherwise it remains failed.
func (t *Task) Fail(errMsg string) error {
	if err := t.transitionErr("fail", StatusRunning); err != nil {
		return err
	}
	t.Error = errMsg
	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = StatusQueued
		t.AssignedAgentID = ""
		t.emit("TaskRetried", struct {
			TaskID     string
			RetryCount int
		}{t.ID, t.RetryCount})
		return nil
	}
	t.Status = StatusFailed
	t.CompletedAt = time.Now()
	t.emit("AgentTaskCompleted", struct {
		TaskID  string
		Success bool
	}{t.ID, false})
	return nil
}

// Cancel is valid from any non-terminal state.
func (t *Task) Cancel() error {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return fmt.Errorf("%w: cannot cancel task %s from status %s", errs.ErrInvalidStateTransition, t.ID, t.Status)
	}
	t.Status = StatusCancelled
	t.emit("TaskCancelled", t.ID)
	return nil
}

// DependenciesSatisfied reports whether every id in BlockedBy is present
// in the completed set supplied by the caller.
func (t *Task) DependenciesSatisfied(completed map[string]struct{}) bool {
	for dep := range t.BlockedBy {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

// EntityID implements repository.Identifiable.
func (t *Task) EntityID() string { return t.ID }

// ComparePriority yields a total order: priority weight descending, then
// creation time ascending. It returns true if t should be dispatched
// before other.
func (t *Task) ComparePriority(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.CreatedAt.Before(other.CreatedAt)
}
