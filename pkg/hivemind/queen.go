package hivemind

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/internal/events"
	"github.com/hivemesh/swarmcore/pkg/id"
)

// Queen coordinates workers: election, registration, heartbeat ingestion,
// and directive dispatch (spec §3/§4.H). Grounded on the teacher's
// pkg/scheduler/worker_manager.go registry/health-tracking shape,
// generalized from LLM request routing to opaque directive payloads.
type Queen struct {
	mu sync.Mutex

	id     string
	term   uint64
	status QueenStatus

	votes   map[string]bool // candidacy votes received this term, by voter id
	quorum  int

	workers    map[string]*WorkerInfo
	directives map[string]*Directive

	bus *events.Bus
	log zerolog.Logger
}

// NewQueen creates a Queen identified by nodeID.
func NewQueen(nodeID string, bus *events.Bus, log zerolog.Logger) *Queen {
	return &Queen{
		id:         nodeID,
		status:     QueenCandidate,
		votes:      make(map[string]bool),
		workers:    make(map[string]*WorkerInfo),
		directives: make(map[string]*Directive),
		bus:        bus,
		log:        log,
	}
}

func (q *Queen) emit(name string, data interface{}) {
	if q.bus != nil {
		q.bus.Publish(events.Event{Name: name, Data: data})
	}
}

// Initialize starts the election protocol for a swarm of clusterSize
// nodes (spec §4.H). A single-node swarm self-elects immediately;
// otherwise the queen remains a candidate until ReceiveVote reaches
// quorum (ceil((n+1)/2)).
func (q *Queen) Initialize(clusterSize int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quorum = (clusterSize+1+1)/2
	if clusterSize <= 1 {
		q.becomeLeaderLocked()
		return
	}
	q.status = QueenCandidate
	q.votes[q.id] = true // a candidate votes for itself
}

func (q *Queen) becomeLeaderLocked() {
	q.status = QueenLeader
	q.term++
	q.emit("queen.elected", struct {
		QueenID string
		Term    uint64
	}{q.id, q.term})
}

// ReceiveVote records a candidacy vote from voterID. Returns true the
// moment quorum is reached and the queen transitions to leader.
func (q *Queen) ReceiveVote(voterID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status == QueenLeader {
		return false
	}
	q.votes[voterID] = true
	if len(q.votes) >= q.quorum {
		q.becomeLeaderLocked()
		return true
	}
	return false
}

// Status returns the queen's current election status.
func (q *Queen) Status() QueenStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Term returns the queen's current term.
func (q *Queen) Term() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.term
}

// RegisterWorker adds workerID with the given capabilities to the
// registry (spec §3).
func (q *Queen) RegisterWorker(workerID string, capabilities []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.workers[workerID]; exists {
		return fmt.Errorf("%w: worker %s already registered", errs.ErrDuplicateID, workerID)
	}
	q.workers[workerID] = &WorkerInfo{
		Status:        WorkerIdle,
		Capabilities:  capabilities,
		Health:        1.0,
		LastHeartbeat: time.Now(),
	}
	q.emit("worker.joined", workerID)
	return nil
}

// UnregisterWorker removes workerID from the registry.
func (q *Queen) UnregisterWorker(workerID string) {
	q.mu.Lock()
	if _, ok := q.workers[workerID]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.workers, workerID)
	q.mu.Unlock()
	q.emit("worker.left", workerID)
}

// ReceiveHeartbeat updates the queen's view of workerID (spec §4.H). A
// worker whose reported health drops below 0.5 is marked degraded but
// stays eligible for lower-priority directives; it recovers once health
// rises back to or above 0.5.
func (q *Queen) ReceiveHeartbeat(hb Heartbeat) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.workers[hb.WorkerID]
	if !ok {
		return fmt.Errorf("%w: worker %s", errs.ErrNotFound, hb.WorkerID)
	}
	w.LastHeartbeat = hb.Timestamp
	w.Health = hb.Health
	w.QueueSize = hb.QueueSize
	w.CurrentTaskID = hb.CurrentTaskID
	switch {
	case hb.Health < 0.5:
		w.Status = WorkerDegraded
	case hb.Status != "":
		w.Status = hb.Status
	}
	return nil
}

// PruneStaleWorkers unregisters every worker whose last heartbeat is
// older than timeout relative to now.
func (q *Queen) PruneStaleWorkers(now time.Time, timeout time.Duration) []string {
	q.mu.Lock()
	var stale []string
	for wid, w := range q.workers {
		if now.Sub(w.LastHeartbeat) > timeout {
			stale = append(stale, wid)
		}
	}
	for _, wid := range stale {
		delete(q.workers, wid)
	}
	q.mu.Unlock()
	for _, wid := range stale {
		q.emit("worker.left", wid)
	}
	return stale
}

// WorkerInfo returns a copy of the registry entry for workerID.
func (q *Queen) WorkerInfo(workerID string) (WorkerInfo, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.workers[workerID]
	if !ok {
		return WorkerInfo{}, false
	}
	return *w, true
}

func statusRank(s WorkerStatus) int {
	switch s {
	case WorkerIdle:
		return 0
	case WorkerBusy:
		return 1
	case WorkerDegraded:
		return 2
	default:
		return 3
	}
}

// IssueDirective selects workers whose capabilities are a superset of
// requiredCapabilities and whose status is idle or busy (degraded
// workers are only chosen once no healthier worker qualifies), ranks
// them by status then by ascending load, and dispatches to the top
// requiredResponses candidates (spec §3/§4.H).
func (q *Queen) IssueDirective(typ DirectiveType, payload interface{}, requiredCapabilities []string, priority int, timeout time.Duration, requiredResponses int) (*Directive, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []string
	for wid, w := range q.workers {
		if w.Status == WorkerFailed || w.Status == WorkerOffline {
			continue
		}
		if hasAllCapabilities(w.Capabilities, requiredCapabilities) {
			candidates = append(candidates, wid)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no worker satisfies required capabilities", errs.ErrAgentNotAvailable)
	}

	sort.Slice(candidates, func(i, j int) bool {
		wi, wj := q.workers[candidates[i]], q.workers[candidates[j]]
		if statusRank(wi.Status) != statusRank(wj.Status) {
			return statusRank(wi.Status) < statusRank(wj.Status)
		}
		if wi.Load != wj.Load {
			return wi.Load < wj.Load
		}
		return candidates[i] < candidates[j]
	})

	if requiredResponses <= 0 {
		requiredResponses = 1
	}
	if requiredResponses > len(candidates) {
		requiredResponses = len(candidates)
	}
	targets := append([]string(nil), candidates[:requiredResponses]...)

	d := &Directive{
		ID:                id.New("directive"),
		Type:              typ,
		IssuedBy:          q.id,
		IssuedAt:          time.Now(),
		Priority:          priority,
		Payload:           payload,
		TargetWorkers:     targets,
		RequiredResponses: requiredResponses,
		Timeout:           timeout,
		Status:            DirectiveInProgress,
		results:           make(map[string]DirectiveResult),
	}
	q.directives[d.ID] = d
	for _, wid := range targets {
		q.workers[wid].Status = WorkerBusy
	}
	q.emit("directive.issued", struct {
		DirectiveID string
		Targets     []string
	}{d.ID, targets})
	return d, nil
}

func hasAllCapabilities(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}

// ReceiveResult records workerID's outcome for directiveID. Per spec
// §4.H, the directive is marked completed as soon as the success count
// reaches RequiredResponses, or failed as soon as the still-pending
// workers can no longer possibly reach that threshold — it does not
// wait for every targeted worker to report in either case.
func (q *Queen) ReceiveResult(res DirectiveResult) error {
	q.mu.Lock()
	d, ok := q.directives[res.DirectiveID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: directive %s", errs.ErrNotFound, res.DirectiveID)
	}
	if d.Status != DirectiveInProgress && d.Status != DirectivePending {
		q.mu.Unlock()
		return fmt.Errorf("%w: directive %s already %s", errs.ErrInvalidStateTransition, res.DirectiveID, d.Status)
	}
	d.results[res.WorkerID] = res
	if w, ok := q.workers[res.WorkerID]; ok {
		w.Status = WorkerIdle
		if res.Success {
			w.Metrics.DirectivesCompleted++
		} else {
			w.Metrics.DirectivesFailed++
		}
	}

	successes := 0
	for _, r := range d.results {
		if r.Success {
			successes++
		}
	}
	pending := len(d.TargetWorkers) - len(d.results)

	settled := false
	if successes >= d.RequiredResponses {
		d.Status = DirectiveCompleted
		settled = true
	} else if successes+pending < d.RequiredResponses {
		d.Status = DirectiveFailed
		settled = true
	}
	q.mu.Unlock()

	if settled {
		q.emit("directive.completed", struct {
			DirectiveID string
			Status      DirectiveStatus
		}{d.ID, d.Status})
	}
	return nil
}

// CheckDirectiveTimeouts marks in-progress/pending directives whose
// deadline (IssuedAt+Timeout) has passed as timed out.
func (q *Queen) CheckDirectiveTimeouts(now time.Time) []string {
	q.mu.Lock()
	var timedOut []string
	for did, d := range q.directives {
		if d.Status != DirectiveInProgress && d.Status != DirectivePending {
			continue
		}
		if d.Timeout <= 0 {
			continue
		}
		if now.Sub(d.IssuedAt) > d.Timeout {
			d.Status = DirectiveTimeout
			timedOut = append(timedOut, did)
		}
	}
	q.mu.Unlock()
	for _, did := range timedOut {
		q.emit("directive.completed", struct {
			DirectiveID string
			Status      DirectiveStatus
		}{did, DirectiveTimeout})
	}
	return timedOut
}

// Directive returns a copy of the directive for inspection.
func (q *Queen) Directive(directiveID string) (Directive, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.directives[directiveID]
	if !ok {
		return Directive{}, false
	}
	cp := *d
	cp.results = nil
	return cp, true
}

// WorkerCount returns the number of registered workers.
func (q *Queen) WorkerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}
