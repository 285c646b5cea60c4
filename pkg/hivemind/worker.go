package hivemind

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/internal/events"
)

// Executor runs a directive's payload and returns its result. Injected
// so Worker stays ignorant of what a directive actually does, mirroring
// the teacher's handler-injection pattern in pkg/scheduler.
type Executor func(ctx context.Context, payload interface{}) (interface{}, error)

// priorityQueue orders pending assignments by descending priority,
// FIFO within a priority tier.
type priorityQueue []TaskAssignment

func (p priorityQueue) Len() int { return len(p) }
func (p priorityQueue) Less(i, j int) bool {
	if p[i].Priority != p[j].Priority {
		return p[i].Priority > p[j].Priority
	}
	return p[i].ReceivedAt.Before(p[j].ReceivedAt)
}
func (p priorityQueue) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p *priorityQueue) Push(x interface{}) { *p = append(*p, x.(TaskAssignment)) }
func (p *priorityQueue) Pop() interface{} {
	old := *p
	n := len(old)
	item := old[n-1]
	*p = old[:n-1]
	return item
}

// Worker executes directives dispatched by a queen (spec §3/§4.H). A
// worker degrades to WorkerDegraded after three consecutive directive
// failures (errorRate >= 0.3) and recovers to idle after one subsequent
// success, and independently degrades whenever its queen becomes
// unreachable. Grounded on the teacher's pkg/scheduler worker-side
// execution loop, generalized to opaque directive payloads.
type Worker struct {
	mu sync.Mutex

	id       string
	queenID  *string
	status   WorkerStatus
	current  *string
	queue    priorityQueue
	lastHB   time.Time

	errorRate            float64
	consecutiveFailures  int
	consecutiveSuccesses int
	degradationReason    *string

	exec Executor
	bus  *events.Bus
	log  zerolog.Logger
}

// NewWorker creates a Worker identified by workerID.
func NewWorker(workerID string, exec Executor, bus *events.Bus, log zerolog.Logger) *Worker {
	return &Worker{
		id:     workerID,
		status: WorkerIdle,
		lastHB: time.Now(),
		exec:   exec,
		bus:    bus,
		log:    log,
	}
}

func (w *Worker) emit(name string, data interface{}) {
	if w.bus != nil {
		w.bus.Publish(events.Event{Name: name, Data: data})
	}
}

// ReceiveDirective enqueues assignment and returns an ack message. It
// is rejected when the worker is failed or offline.
func (w *Worker) ReceiveDirective(assignment TaskAssignment) (HiveMindMessage, error) {
	w.mu.Lock()
	if w.status == WorkerFailed || w.status == WorkerOffline {
		w.mu.Unlock()
		return HiveMindMessage{}, fmt.Errorf("%w: worker %s is %s", errs.ErrAgentNotAvailable, w.id, w.status)
	}
	if assignment.ReceivedAt.IsZero() {
		assignment.ReceivedAt = time.Now()
	}
	heap.Push(&w.queue, assignment)
	qid := w.queenID
	w.mu.Unlock()

	ack := HiveMindMessage{
		Type:      MsgAck,
		From:      w.id,
		Timestamp: time.Now(),
	}
	if qid != nil {
		ack.To = *qid
	}
	return ack, nil
}

// QueueSize returns the number of queued, not-yet-started assignments.
func (w *Worker) QueueSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// ProcessOnce dequeues and executes the highest-priority assignment, if
// the worker is idle or busy (never while degraded/failed/offline) and
// the queue is non-empty. It reports the outcome, bumping errorRate by
// 0.1 (clamped to 1.0) and the consecutive-failure counter on failure,
// or decaying errorRate by the same step and resetting the counter on
// success. Three consecutive failures move the worker to degraded; one
// subsequent success clears the degradation.
func (w *Worker) ProcessOnce(ctx context.Context) (*DirectiveResult, bool) {
	w.mu.Lock()
	if (w.status != WorkerIdle && w.status != WorkerBusy) || len(w.queue) == 0 || w.current != nil {
		w.mu.Unlock()
		return nil, false
	}
	assignment := heap.Pop(&w.queue).(TaskAssignment)
	cur := assignment.DirectiveID
	w.current = &cur
	w.status = WorkerBusy
	w.mu.Unlock()

	start := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if assignment.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, assignment.Timeout)
		defer cancel()
	}

	result, err := w.exec(runCtx, assignment.Payload)
	dr := DirectiveResult{
		DirectiveID: assignment.DirectiveID,
		WorkerID:    w.id,
		Success:     err == nil,
		Result:      result,
		CompletedAt: time.Now(),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		dr.Error = err.Error()
	}

	w.mu.Lock()
	w.current = nil
	if err != nil {
		w.consecutiveFailures++
		w.consecutiveSuccesses = 0
		w.errorRate = minF(1.0, w.errorRate+0.1)
		if w.consecutiveFailures >= 3 && w.errorRate >= 0.3 {
			w.status = WorkerDegraded
			reason := "error_rate"
			w.degradationReason = &reason
		}
	} else {
		w.consecutiveFailures = 0
		w.consecutiveSuccesses++
		w.errorRate = maxF(0, w.errorRate-0.1)
		if w.status == WorkerDegraded && w.degradationReason != nil && *w.degradationReason == "error_rate" && w.consecutiveSuccesses >= 1 {
			w.status = WorkerIdle
			w.degradationReason = nil
		}
		if w.status == WorkerBusy {
			w.status = WorkerIdle
		}
	}
	w.mu.Unlock()

	w.emit("directive.result", dr)
	return &dr, true
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// RunLoop polls ProcessOnce every 100ms until ctx is cancelled (spec
// §4.H's worker poll interval).
func (w *Worker) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// SetQueenUnavailable degrades the worker when its queen can no longer
// be reached, matching spec §9's worker-side half of the queen-loss
// handshake. The worker remains degraded until Reconnect.
func (w *Worker) SetQueenUnavailable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queenID = nil
	if w.status == WorkerFailed || w.status == WorkerOffline {
		return
	}
	w.status = WorkerDegraded
	reason := "queen_unavailable"
	w.degradationReason = &reason
}

// Reconnect restores the worker to idle/busy under a (possibly new)
// queenID, provided the degradation was due to queen loss.
func (w *Worker) Reconnect(queenID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queenID = &queenID
	if w.status != WorkerDegraded || w.degradationReason == nil || *w.degradationReason != "queen_unavailable" {
		return
	}
	w.degradationReason = nil
	if w.current != nil {
		w.status = WorkerBusy
	} else {
		w.status = WorkerIdle
	}
}

// Heartbeat builds this worker's heartbeat message (spec §4.H).
func (w *Worker) Heartbeat() Heartbeat {
	w.mu.Lock()
	defer w.mu.Unlock()
	health := 1.0 - w.errorRate
	hb := Heartbeat{
		WorkerID:  w.id,
		Health:    health,
		Status:    w.status,
		QueueSize: len(w.queue),
		Timestamp: time.Now(),
	}
	if w.current != nil {
		hb.CurrentTaskID = *w.current
	}
	return hb
}

// RunHeartbeatLoop emits a heartbeat event every interval until ctx is
// cancelled; a Supervisor wires this event to the transport/channel
// facade for delivery to the queen.
func (w *Worker) RunHeartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.emit("worker.heartbeat", w.Heartbeat())
		}
	}
}
