package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/errs"
)

// QueueMetrics mirrors the teacher's QueueMetrics shape
// (ollama-distributed/pkg/scheduler/task_queue.go) but is backed by
// prometheus counters/gauges instead of a hand-rolled struct, since the
// core's audit/metric hooks are in scope per SPEC_FULL.md.
type QueueMetrics struct {
	Enqueued prometheus.Counter
	Dequeued prometheus.Counter
	Size     prometheus.Gauge
}

func newQueueMetrics(reg prometheus.Registerer, queueID string) *QueueMetrics {
	m := &QueueMetrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tasks_enqueued_total",
			Help:        "Total tasks enqueued.",
			ConstLabels: prometheus.Labels{"queue": queueID},
		}),
		Dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tasks_dequeued_total",
			Help:        "Total tasks dequeued.",
			ConstLabels: prometheus.Labels{"queue": queueID},
		}),
		Size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "task_queue_size",
			Help:        "Current queue size.",
			ConstLabels: prometheus.Labels{"queue": queueID},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Enqueued, m.Dequeued, m.Size)
	}
	return m
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	ID         string
	MaxSize    int
	Registerer prometheus.Registerer
	Logger     zerolog.Logger
}

// Queue is the bounded, priority/dependency-aware TaskQueue of spec §4.B.
type Queue struct {
	mu      sync.Mutex
	maxSize int
	tasks   map[string]*Task
	order   []string // insertion order, for FIFO tie-breaking
	metrics *QueueMetrics
	log     zerolog.Logger
}

// NewQueue creates an empty bounded queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	return &Queue{
		maxSize: cfg.MaxSize,
		tasks:   make(map[string]*Task),
		metrics: newQueueMetrics(cfg.Registerer, cfg.ID),
		log:     cfg.Logger,
	}
}

// Enqueue adds t to the queue. Fails with QueueFull on overflow and
// AlreadyQueued on duplicate id.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.tasks[t.ID]; exists {
		return fmt.Errorf("%w: task %s", errs.ErrAlreadyQueued, t.ID)
	}
	if len(q.tasks) >= q.maxSize {
		return fmt.Errorf("%w: max size %d", errs.ErrQueueFull, q.maxSize)
	}
	q.tasks[t.ID] = t
	q.order = append(q.order, t.ID)
	q.metrics.Enqueued.Inc()
	q.metrics.Size.Set(float64(len(q.tasks)))
	q.log.Debug().Str("task_id", t.ID).Msg("task enqueued")
	return nil
}

// dispatchable returns, among tasks in StatusQueued whose dependencies are
// satisfied by completed, the tasks sorted in dispatch order.
func (q *Queue) dispatchable(completed map[string]struct{}) []*Task {
	var ready []*Task
	for _, tid := range q.order {
		t, ok := q.tasks[tid]
		if !ok || t.Status != StatusQueued {
			continue
		}
		if !t.DependenciesSatisfied(completed) {
			continue
		}
		ready = append(ready, t)
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].ComparePriority(ready[j])
	})
	return ready
}

// Dequeue removes and returns the next dispatchable task given the set of
// completed task ids, or nil if none is dispatchable.
func (q *Queue) Dequeue(completed map[string]struct{}) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	ready := q.dispatchable(completed)
	if len(ready) == 0 {
		return nil
	}
	t := ready[0]
	delete(q.tasks, t.ID)
	q.removeFromOrder(t.ID)
	q.metrics.Dequeued.Inc()
	q.metrics.Size.Set(float64(len(q.tasks)))
	return t
}

// Peek returns the next dispatchable task without removing it.
func (q *Queue) Peek(completed map[string]struct{}) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	ready := q.dispatchable(completed)
	if len(ready) == 0 {
		return nil
	}
	return ready[0]
}

func (q *Queue) removeFromOrder(taskID string) {
	for i, tid := range q.order {
		if tid == taskID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// GetReady returns all queued tasks whose dependencies are satisfied.
func (q *Queue) GetReady(completed map[string]struct{}) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dispatchable(completed)
}

// GetBlocked returns queued tasks whose dependencies are not yet satisfied.
func (q *Queue) GetBlocked(completed map[string]struct{}) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var blocked []*Task
	for _, tid := range q.order {
		t := q.tasks[tid]
		if t.Status == StatusQueued && !t.DependenciesSatisfied(completed) {
			blocked = append(blocked, t)
		}
	}
	return blocked
}

// GetByPriority returns every queued task sorted by dispatch order,
// ignoring dependency state.
func (q *Queue) GetByPriority() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.tasks))
	for _, tid := range q.order {
		out = append(out, q.tasks[tid])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ComparePriority(out[j]) })
	return out
}

// GetByStatus returns every resident task with the given status.
func (q *Queue) GetByStatus(status Status) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Task
	for _, tid := range q.order {
		if t := q.tasks[tid]; t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Remove drops a task from the queue's bookkeeping without regard to
// status, used when a task is cancelled or otherwise leaves the queue.
func (q *Queue) Remove(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[taskID]; !ok {
		return
	}
	delete(q.tasks, taskID)
	q.removeFromOrder(taskID)
	q.metrics.Size.Set(float64(len(q.tasks)))
}

// Len returns the current resident task count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
