package collective

import (
	"fmt"
	"sync"
	"time"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/pkg/id"
)

// DecisionType selects the consensus predicate applied to a decision's
// votes (spec §4.J).
type DecisionType string

const (
	DecisionMajority      DecisionType = "majority"
	DecisionSupermajority DecisionType = "supermajority"
	DecisionUnanimous     DecisionType = "unanimous"
	DecisionWeighted      DecisionType = "weighted"
	DecisionByzantine     DecisionType = "byzantine"
)

// Vote is a single participant's position on a decision.
type Vote struct {
	VoterID    string
	Choice     string
	Confidence float64
}

// Decision is a proposed question under vote.
type Decision struct {
	ID         string
	Question   string
	ProposerID string
	Type       DecisionType
	CreatedAt  time.Time
	TimeoutAt  time.Time
	Finalized  bool
	Votes      map[string]Vote // by voterID, latest vote replaces prior
}

// Result is the outcome of calculateResult for a decision.
type Result struct {
	WinningChoice string
	Counts        map[string]int
	Confidences   map[string]float64
	TotalVoters   int
	Consensus     bool
}

// ConsensusBuilder proposes decisions and tallies votes per spec §4.J's
// five consensus predicates.
type ConsensusBuilder struct {
	mu        sync.Mutex
	decisions map[string]*Decision
}

// NewConsensusBuilder creates an empty builder.
func NewConsensusBuilder() *ConsensusBuilder {
	return &ConsensusBuilder{decisions: make(map[string]*Decision)}
}

// ProposeDecision arms a new decision and returns its id.
func (b *ConsensusBuilder) ProposeDecision(question, proposerID string, typ DecisionType, timeout time.Duration) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	d := &Decision{
		ID:         id.New("decision"),
		Question:   question,
		ProposerID: proposerID,
		Type:       typ,
		CreatedAt:  now,
		TimeoutAt:  now.Add(timeout),
		Votes:      make(map[string]Vote),
	}
	b.decisions[d.ID] = d
	return d.ID
}

// Vote records or replaces voterID's vote on decisionID.
func (b *ConsensusBuilder) Vote(decisionID string, v Vote) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.decisions[decisionID]
	if !ok {
		return fmt.Errorf("%w: decision %s", errs.ErrNotFound, decisionID)
	}
	if d.Finalized {
		return fmt.Errorf("%w: decision %s already finalized", errs.ErrInvalidStateTransition, decisionID)
	}
	d.Votes[v.VoterID] = v
	return nil
}

// Finalize marks decisionID finalized, whether due to timer or manual
// call, and returns its calculated result.
func (b *ConsensusBuilder) Finalize(decisionID string) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.decisions[decisionID]
	if !ok {
		return Result{}, fmt.Errorf("%w: decision %s", errs.ErrNotFound, decisionID)
	}
	d.Finalized = true
	return calculateResult(d), nil
}

// CheckTimeouts finalizes every decision whose deadline has passed as
// of now, returning their ids.
func (b *ConsensusBuilder) CheckTimeouts(now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var fired []string
	for did, d := range b.decisions {
		if !d.Finalized && now.After(d.TimeoutAt) {
			d.Finalized = true
			fired = append(fired, did)
		}
	}
	return fired
}

// Result returns the current (possibly not yet finalized) calculated
// result for decisionID.
func (b *ConsensusBuilder) Result(decisionID string) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.decisions[decisionID]
	if !ok {
		return Result{}, fmt.Errorf("%w: decision %s", errs.ErrNotFound, decisionID)
	}
	return calculateResult(d), nil
}

func calculateResult(d *Decision) Result {
	counts := make(map[string]int)
	confidences := make(map[string]float64)
	for _, v := range d.Votes {
		counts[v.Choice]++
		confidences[v.Choice] += v.Confidence
	}

	var winner string
	maxCount := -1
	for choice, c := range counts {
		switch {
		case c > maxCount:
			maxCount = c
			winner = choice
		case c == maxCount && confidences[choice] > confidences[winner]:
			winner = choice
		}
	}

	n := len(d.Votes)
	res := Result{WinningChoice: winner, Counts: counts, Confidences: confidences, TotalVoters: n}
	if n == 0 {
		return res
	}

	approvalRate := float64(maxCount) / float64(n)
	switch d.Type {
	case DecisionMajority:
		res.Consensus = approvalRate > 0.5
	case DecisionSupermajority:
		res.Consensus = approvalRate >= 0.67
	case DecisionUnanimous:
		res.Consensus = approvalRate == 1.0
	case DecisionWeighted:
		confidenceScore := confidences[winner] / float64(n)
		res.Consensus = confidenceScore >= 0.67
	case DecisionByzantine:
		f := (n - 1) / 3
		res.Consensus = maxCount >= 2*f+1
	}
	return res
}
