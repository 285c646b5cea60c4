// Package agent implements the agent aggregate and its elastic pool
// (spec §3/§4.C), grounded on the teacher's worker registry
// (ollama-distributed/pkg/scheduler/worker_manager.go) and connection
// pool (ollama-distributed/pkg/pool/connection.go).
package agent

import (
	"fmt"
	"time"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/internal/events"
	"github.com/hivemesh/swarmcore/pkg/id"
)

// Type is the agent's specialization.
type Type string

const (
	TypeCoder              Type = "coder"
	TypeResearcher          Type = "researcher"
	TypeReviewer            Type = "reviewer"
	TypeTester              Type = "tester"
	TypeArchitect           Type = "architect"
	TypePlanner             Type = "planner"
	TypeCoordinator         Type = "coordinator"
	TypeSecurityArchitect   Type = "security-architect"
	TypeSecurityAuditor     Type = "security-auditor"
	TypeMemorySpecialist    Type = "memory-specialist"
	TypePerformanceEngineer Type = "performance-engineer"
)

// Status is the agent's lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusBusy         Status = "busy"
	StatusTerminated   Status = "terminated"
	StatusError        Status = "error"
)

// Capabilities is the boolean flag table plus ordered specialization tags
// spec §9 models selection through ("Polymorphism over agent/task types").
type Capabilities struct {
	CanCode      bool
	CanReview    bool
	CanTest      bool
	CanResearch  bool
	CanPlan      bool
	CanCoordinate bool
	Specializations []string // ordered, uniqueness not required
}

// HasAll reports whether c is a superset of required.
func (c Capabilities) HasAll(required []string) bool {
	have := make(map[string]struct{}, len(c.Specializations))
	for _, s := range c.Specializations {
		have[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// Metrics tracks per-agent task outcomes.
type Metrics struct {
	TasksCompleted int
	TasksFailed    int
	Uptime         time.Duration
	TotalTime      time.Duration
	SuccessRate    float64
}

// Template is the factory input for creating an agent.
type Template struct {
	Type         Type
	Name         string
	Capabilities Capabilities
	Config       map[string]interface{}
}

// Agent is the agent aggregate. All mutation goes through guarded
// transition methods.
type Agent struct {
	ID           string
	Type         Type
	Status       Status
	Capabilities Capabilities
	Metrics      Metrics
	Name         string
	Config       map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartTime    time.Time

	domainEvents []events.Event
}

// Create is the factory; it yields an agent in initializing status and
// records AgentCreated.
func Create(tpl Template) *Agent {
	now := time.Now()
	a := &Agent{
		ID:           id.New("agent"),
		Type:         tpl.Type,
		Status:       StatusInitializing,
		Capabilities: tpl.Capabilities,
		Name:         tpl.Name,
		Config:       tpl.Config,
		Metrics:      Metrics{SuccessRate: 1.0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.emit("AgentCreated", a.ID)
	return a
}

func (a *Agent) emit(name string, data interface{}) {
	a.domainEvents = append(a.domainEvents, events.Event{Name: name, Data: data})
}

// DrainEvents returns and clears the accumulated domain events.
func (a *Agent) DrainEvents() []events.Event {
	out := a.domainEvents
	a.domainEvents = nil
	return out
}

func (a *Agent) touch() { a.UpdatedAt = time.Now() }

// Spawn is the first observable state transition: initializing -> idle,
// with StartTime recorded.
func (a *Agent) Spawn() error {
	if a.Status != StatusInitializing {
		return fmt.Errorf("%w: cannot spawn agent %s from status %s", errs.ErrInvalidStateTransition, a.ID, a.Status)
	}
	a.Status = StatusIdle
	a.StartTime = time.Now()
	a.touch()
	a.emit("AgentSpawned", a.ID)
	return nil
}

// AssignTask transitions idle -> busy.
func (a *Agent) AssignTask(taskID string) error {
	if a.Status != StatusIdle {
		return fmt.Errorf("%w: cannot assign task to agent %s from status %s", errs.ErrInvalidStateTransition, a.ID, a.Status)
	}
	a.Status = StatusBusy
	a.touch()
	a.emit("TaskAssignedToAgent", struct{ AgentID, TaskID string }{a.ID, taskID})
	return nil
}

// CompleteTask transitions busy -> idle and updates metrics. successRate
// is recomputed as tasksCompleted/(tasksCompleted+tasksFailed), defaulting
// to 1.0 when no tasks have been attempted.
func (a *Agent) CompleteTask(success bool) error {
	if a.Status != StatusBusy {
		return fmt.Errorf("%w: cannot complete task on agent %s from status %s", errs.ErrInvalidStateTransition, a.ID, a.Status)
	}
	if success {
		a.Metrics.TasksCompleted++
	} else {
		a.Metrics.TasksFailed++
	}
	total := a.Metrics.TasksCompleted + a.Metrics.TasksFailed
	if total == 0 {
		a.Metrics.SuccessRate = 1.0
	} else {
		a.Metrics.SuccessRate = float64(a.Metrics.TasksCompleted) / float64(total)
	}
	a.Status = StatusIdle
	a.touch()
	a.emit("AgentTaskCompleted", struct {
		AgentID string
		Success bool
	}{a.ID, success})
	return nil
}

// Terminate is idempotent: terminating an already-terminated agent is a
// no-op per spec §8's round-trip laws.
func (a *Agent) Terminate() error {
	if a.Status == StatusTerminated {
		return nil
	}
	a.Status = StatusTerminated
	a.touch()
	a.emit("AgentTerminated", a.ID)
	return nil
}

// MarkError forces the error status, used when the lifecycle service
// observes an unrecoverable condition.
func (a *Agent) MarkError() {
	a.Status = StatusError
	a.touch()
}

// ReportHealth recomputes uptime if StartTime is present and returns the
// health score in [0,1] per spec §4.C: terminated=0, error=0.2, otherwise
// 0.7*successRate + 0.3*min(uptime/60s, 1). It emits AgentHealthChanged
// on every call whose recomputed score is below 0.5, and not otherwise.
func (a *Agent) ReportHealth() float64 {
	if !a.StartTime.IsZero() {
		a.Metrics.Uptime = time.Since(a.StartTime)
	}
	score := a.healthScore()
	if score < 0.5 {
		a.emit("AgentHealthChanged", struct {
			AgentID string
			Score   float64
		}{a.ID, score})
	}
	return score
}

// EntityID implements repository.Identifiable.
func (a *Agent) EntityID() string { return a.ID }

func (a *Agent) healthScore() float64 {
	switch a.Status {
	case StatusTerminated:
		return 0
	case StatusError:
		return 0.2
	default:
		uptimeFactor := a.Metrics.Uptime.Seconds() / 60.0
		if uptimeFactor > 1 {
			uptimeFactor = 1
		}
		return 0.7*a.Metrics.SuccessRate + 0.3*uptimeFactor
	}
}
