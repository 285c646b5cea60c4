package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/pkg/id"
)

// Metrics are the audit/metric hooks SPEC_FULL.md permits for this
// component.
type Metrics struct {
	ProposalsCommitted prometheus.Counter
	ViewChanges        prometheus.Counter
}

// NewMetrics builds and optionally registers the consensus metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProposalsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proposals_committed_total", Help: "Total consensus proposals committed.",
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "view_changes_total", Help: "Total view changes installed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ProposalsCommitted, m.ViewChanges)
	}
	return m
}

// Config configures an Engine (spec §6's consensus configuration surface).
type Config struct {
	NodeID             string
	Nodes              []string // the full node set, given at initialization
	MaxFaultyNodes     int
	TimeoutMs          time.Duration
	ViewChangeTimeoutMs time.Duration
}

// Engine is one node's PBFT-style replica state machine (spec §4.I).
// n = len(Nodes), f = MaxFaultyNodes, and n must be >= 3f+1.
type Engine struct {
	mu   sync.Mutex
	cfg  Config
	nodes []string // sorted, stable primary-selection order

	view uint64
	seq  uint64

	proposals   map[string]*Proposal // by proposal id
	bySeqView   map[string]*Proposal // by "view:seq", the PBFT instance key
	viewVotes   map[uint64]map[string]bool
	lastCommitted uint64

	metrics *Metrics
	log     zerolog.Logger
}

// NewEngine creates an Engine. It returns InvalidInput if n < 3f+1.
func NewEngine(cfg Config, metrics *Metrics, log zerolog.Logger) (*Engine, error) {
	if len(cfg.Nodes) < 3*cfg.MaxFaultyNodes+1 {
		return nil, fmt.Errorf("%w: n=%d nodes insufficient for f=%d Byzantine faults (need n >= 3f+1)", errs.ErrInvalidInput, len(cfg.Nodes), cfg.MaxFaultyNodes)
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 5 * time.Second
	}
	if cfg.ViewChangeTimeoutMs == 0 {
		cfg.ViewChangeTimeoutMs = 10 * time.Second
	}
	nodes := append([]string(nil), cfg.Nodes...)
	sort.Strings(nodes)
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		cfg:       cfg,
		nodes:     nodes,
		proposals: make(map[string]*Proposal),
		bySeqView: make(map[string]*Proposal),
		viewVotes: make(map[uint64]map[string]bool),
		metrics:   metrics,
		log:       log,
	}, nil
}

// GetViewNumber is a read-only accessor.
func (e *Engine) GetViewNumber() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// GetPrimaryID returns the current primary by the rule "node at position
// v mod n of the sorted node list" (spec §4.I).
func (e *Engine) GetPrimaryID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primaryLocked(e.view)
}

func (e *Engine) primaryLocked(view uint64) string {
	return e.nodes[int(view)%len(e.nodes)]
}

// CanTolerateFaults reports whether k faulty nodes are within budget.
func (e *Engine) CanTolerateFaults(k int) bool {
	return k <= e.cfg.MaxFaultyNodes
}

// GetProposal is a read-only accessor returning a copy so inspectors
// never race the owning replica's single-writer vote maps (spec §5).
func (e *Engine) GetProposal(proposalID string) (Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return Proposal{}, false
	}
	return copyProposal(p), true
}

func copyProposal(p *Proposal) Proposal {
	out := *p
	out.Messages = append([]Message(nil), p.Messages...)
	out.PrepareVotes = copyVotes(p.PrepareVotes)
	out.CommitVotes = copyVotes(p.CommitVotes)
	return out
}

func copyVotes(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func digest(value interface{}) string {
	b, err := json.Marshal(value)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", value))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Propose is called on the primary to start a new consensus instance.
// It assigns the next sequence number, computes the digest, and returns
// the pre-prepare message the caller must multicast to every other
// replica's HandlePrePrepare. Only the primary for the current view may
// propose (spec §4.I invariant).
func (e *Engine) Propose(value interface{}) (*Proposal, Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.primaryLocked(e.view) != e.cfg.NodeID {
		return nil, Message{}, fmt.Errorf("%w: %s is not primary for view %d", errs.ErrInvalidInput, e.cfg.NodeID, e.view)
	}
	e.seq++
	d := digest(value)
	p := &Proposal{
		ID:             id.New("proposal"),
		ProposerID:     e.cfg.NodeID,
		Value:          value,
		ViewNumber:     e.view,
		SequenceNumber: e.seq,
		Digest:         d,
		PrepareVotes:   make(map[string]bool),
		CommitVotes:    make(map[string]bool),
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
	msg := newMessage(MsgPrePrepare, e.view, e.seq, d, e.cfg.NodeID, value)
	p.Messages = append(p.Messages, msg)
	e.proposals[p.ID] = p
	e.bySeqView[key(e.view, e.seq)] = p
	return p, msg, nil
}

// HandlePrePrepare validates an incoming pre-prepare (view matches,
// sender is the primary for that view, not already seen for (v,s)) and
// registers the proposal locally, returning this replica's prepare
// message to multicast.
func (e *Engine) HandlePrePrepare(proposalID string, msg Message) (Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if msg.ViewNumber != e.view {
		return Message{}, fmt.Errorf("%w: pre-prepare view %d does not match current view %d", errs.ErrInvalidInput, msg.ViewNumber, e.view)
	}
	if msg.SenderID != e.primaryLocked(msg.ViewNumber) {
		return Message{}, fmt.Errorf("%w: pre-prepare sender %s is not primary for view %d", errs.ErrInvalidInput, msg.SenderID, msg.ViewNumber)
	}
	k := key(msg.ViewNumber, msg.SequenceNumber)
	if existing, ok := e.bySeqView[k]; ok && existing.Digest != msg.Digest {
		return Message{}, fmt.Errorf("%w: a different value was already pre-prepared for (%d,%d)", errs.ErrInvalidInput, msg.ViewNumber, msg.SequenceNumber)
	} else if ok {
		// Already seen this exact pre-prepare; idempotent no-op prepare resend.
		return newMessage(MsgPrepare, msg.ViewNumber, msg.SequenceNumber, msg.Digest, e.cfg.NodeID, nil), nil
	}

	p := &Proposal{
		ID:             proposalID,
		ProposerID:     msg.SenderID,
		Value:          msg.Payload,
		ViewNumber:     msg.ViewNumber,
		SequenceNumber: msg.SequenceNumber,
		Digest:         msg.Digest,
		PrepareVotes:   make(map[string]bool),
		CommitVotes:    make(map[string]bool),
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
	p.Messages = append(p.Messages, msg)
	e.proposals[p.ID] = p
	e.bySeqView[k] = p

	return newMessage(MsgPrepare, msg.ViewNumber, msg.SequenceNumber, msg.Digest, e.cfg.NodeID, nil), nil
}

// HandlePrepare records a prepare vote from a distinct sender for the
// proposal at (view,seq). Once >= 2f distinct-sender prepares (excluding
// the pre-prepare) match (view,seq,digest), the proposal becomes
// prepared and the returned commit message should be multicast; ok is
// false until that threshold is first crossed (spec §4.I, adopting the
// classical "2f prepares excluding pre-prepare" reading per SPEC_FULL's
// Open Question decision).
func (e *Engine) HandlePrepare(msg Message) (commit Message, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, found := e.bySeqView[key(msg.ViewNumber, msg.SequenceNumber)]
	if !found {
		return Message{}, false, fmt.Errorf("%w: no pre-prepare seen for (%d,%d)", errs.ErrInvalidInput, msg.ViewNumber, msg.SequenceNumber)
	}
	if p.Digest != msg.Digest {
		return Message{}, false, fmt.Errorf("%w: prepare digest mismatch for (%d,%d)", errs.ErrInvalidInput, msg.ViewNumber, msg.SequenceNumber)
	}
	p.Messages = append(p.Messages, msg)
	p.PrepareVotes[msg.SenderID] = true
	if p.Status != StatusPending {
		return newMessage(MsgCommit, p.ViewNumber, p.SequenceNumber, p.Digest, e.cfg.NodeID, nil), false, nil
	}
	if len(p.PrepareVotes) >= 2*e.cfg.MaxFaultyNodes {
		p.Status = StatusPrepared
		return newMessage(MsgCommit, p.ViewNumber, p.SequenceNumber, p.Digest, e.cfg.NodeID, nil), true, nil
	}
	return Message{}, false, nil
}

// HandleCommit records a commit vote from a distinct sender. Once
// >= 2f+1 distinct-sender commits match (view,seq,digest), the proposal
// becomes committed and committed reports true exactly once (on the
// transition), with the reply message to return to the caller.
func (e *Engine) HandleCommit(msg Message) (reply Message, committed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, found := e.bySeqView[key(msg.ViewNumber, msg.SequenceNumber)]
	if !found {
		return Message{}, false, fmt.Errorf("%w: no pre-prepare seen for (%d,%d)", errs.ErrInvalidInput, msg.ViewNumber, msg.SequenceNumber)
	}
	if p.Digest != msg.Digest {
		return Message{}, false, fmt.Errorf("%w: commit digest mismatch for (%d,%d)", errs.ErrInvalidInput, msg.ViewNumber, msg.SequenceNumber)
	}
	p.Messages = append(p.Messages, msg)
	p.CommitVotes[msg.SenderID] = true
	if p.Status == StatusCommitted {
		return newMessage(MsgReply, p.ViewNumber, p.SequenceNumber, p.Digest, e.cfg.NodeID, p.Value), false, nil
	}
	if len(p.CommitVotes) >= 2*e.cfg.MaxFaultyNodes+1 {
		p.Status = StatusCommitted
		if p.SequenceNumber > e.lastCommitted {
			e.lastCommitted = p.SequenceNumber
		}
		if e.metrics != nil {
			e.metrics.ProposalsCommitted.Inc()
		}
		return newMessage(MsgReply, p.ViewNumber, p.SequenceNumber, p.Digest, e.cfg.NodeID, p.Value), true, nil
	}
	return Message{}, false, nil
}

// CheckTimeouts scans pending/prepared proposals for any older than
// TimeoutMs and, if found, initiates a view change (spec §4.I/§5).
func (e *Engine) CheckTimeouts(now time.Time) (Message, bool) {
	e.mu.Lock()
	timedOut := false
	for _, p := range e.proposals {
		if p.Status == StatusPending || p.Status == StatusPrepared {
			if now.Sub(p.CreatedAt) > e.cfg.TimeoutMs {
				timedOut = true
				break
			}
		}
	}
	e.mu.Unlock()
	if !timedOut {
		return Message{}, false
	}
	return e.InitiateViewChange("phase timeout")
}

// InitiateViewChange returns the view-change message for the next view
// (current view + 1) to multicast. The engine's own view number is left
// unchanged; it advances only when HandleViewChange installs the view.
func (e *Engine) InitiateViewChange(reason string) (Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	newView := e.view + 1
	msg := newMessage(MsgViewChange, newView, e.seq, "", e.cfg.NodeID, reason)
	return msg, true
}

// HandleViewChange records a view-change vote for msg.ViewNumber. Once
// >= 2f+1 distinct-sender votes are collected for that view, it is
// installed: view advances, the new primary is designated, and the
// engine resumes from the last committed sequence number.
func (e *Engine) HandleViewChange(msg Message) (installed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	votes, ok := e.viewVotes[msg.ViewNumber]
	if !ok {
		votes = make(map[string]bool)
		e.viewVotes[msg.ViewNumber] = votes
	}
	votes[msg.SenderID] = true
	if msg.ViewNumber <= e.view || len(votes) < 2*e.cfg.MaxFaultyNodes+1 {
		return false
	}
	e.view = msg.ViewNumber
	e.seq = e.lastCommitted
	if e.metrics != nil {
		e.metrics.ViewChanges.Inc()
	}
	if e.log.GetLevel() <= zerolog.InfoLevel {
		e.log.Info().Uint64("view", e.view).Str("primary", e.primaryLocked(e.view)).Msg("view change installed")
	}
	return true
}
