package collective

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hivemesh/swarmcore/internal/events"
)

func newCapturingBus(names *[]string) *events.Bus {
	bus := events.NewBus()
	bus.Subscribe("", func(e events.Event) { *names = append(*names, e.Name) })
	return bus
}

func TestMemoryStoreCreatesVersionOne(t *testing.T) {
	s := NewMemoryStore("ns")
	e := s.Store("k1", "v1", "alice", 0.8, nil)
	require.Equal(t, 1, e.Version)
	require.Equal(t, 0.8, e.Confidence)
	require.Equal(t, []string{"alice"}, e.Contributors)
}

func TestMemoryStoreMeanMergesConfidenceAndDeepMergesObjects(t *testing.T) {
	s := NewMemoryStore("ns")
	s.Store("k1", map[string]interface{}{"a": 1}, "alice", 0.6, nil)
	e := s.Store("k1", map[string]interface{}{"b": 2}, "bob", 0.8, nil)

	require.Equal(t, 0.7, e.Confidence)
	require.Equal(t, 2, e.Version)
	require.ElementsMatch(t, []string{"alice", "bob"}, e.Contributors)
	merged := e.Value.(map[string]interface{})
	require.Equal(t, 1, merged["a"])
	require.Equal(t, 2, merged["b"])
}

func TestMemoryStoreScalarHigherConfidenceWins(t *testing.T) {
	s := NewMemoryStore("ns")
	s.Store("k1", "low-confidence-value", "alice", 0.2, nil)
	e := s.Store("k1", "high-confidence-value", "bob", 0.9, nil)
	require.Equal(t, "high-confidence-value", e.Value)
}

func TestMemoryStoreSearch(t *testing.T) {
	s := NewMemoryStore("ns")
	s.Store("deployment-strategy", "blue-green", "alice", 0.9, nil)
	s.Store("other", "unrelated", "bob", 0.9, nil)
	results := s.Search("deployment", 0.5)
	require.Len(t, results, 1)
	require.Equal(t, "deployment-strategy", results[0].Key)
}

func TestPatternCatalogDetectAndRecordOccurrence(t *testing.T) {
	c := NewPatternCatalog()
	p := c.DetectPattern("retry-storm", "det1")
	require.Equal(t, 1, p.Occurrences)
	require.Equal(t, 1.0, p.Confidence)

	p2, err := c.RecordPatternOccurrence("retry-storm", "det2")
	require.NoError(t, err)
	require.Equal(t, 2, p2.Occurrences)
	require.Equal(t, 1.0, p2.Confidence) // already at cap
	require.ElementsMatch(t, []string{"det1", "det2"}, p2.Detectors)
}

func TestConsensusMajority(t *testing.T) {
	b := NewConsensusBuilder()
	id := b.ProposeDecision("deploy?", "alice", DecisionMajority, time.Minute)
	require.NoError(t, b.Vote(id, Vote{VoterID: "v1", Choice: "yes", Confidence: 0.9}))
	require.NoError(t, b.Vote(id, Vote{VoterID: "v2", Choice: "yes", Confidence: 0.8}))
	require.NoError(t, b.Vote(id, Vote{VoterID: "v3", Choice: "no", Confidence: 0.5}))

	res, err := b.Finalize(id)
	require.NoError(t, err)
	require.Equal(t, "yes", res.WinningChoice)
	require.True(t, res.Consensus)
}

func TestConsensusByzantineRequiresTwoFPlusOne(t *testing.T) {
	b := NewConsensusBuilder()
	id := b.ProposeDecision("commit?", "alice", DecisionByzantine, time.Minute)
	for i, voter := range []string{"v1", "v2", "v3", "v4"} {
		choice := "yes"
		if i == 3 {
			choice = "no"
		}
		require.NoError(t, b.Vote(id, Vote{VoterID: voter, Choice: choice, Confidence: 1}))
	}
	res, err := b.Finalize(id)
	require.NoError(t, err)
	// n=4, f=(4-1)/3=1, need maxCount>=2f+1=3; yes has 3 votes.
	require.True(t, res.Consensus)
}

func TestConsensusWeighted(t *testing.T) {
	b := NewConsensusBuilder()
	id := b.ProposeDecision("q", "alice", DecisionWeighted, time.Minute)
	require.NoError(t, b.Vote(id, Vote{VoterID: "v1", Choice: "yes", Confidence: 0.9}))
	require.NoError(t, b.Vote(id, Vote{VoterID: "v2", Choice: "no", Confidence: 0.1}))
	res, err := b.Finalize(id)
	require.NoError(t, err)
	require.Equal(t, "yes", res.WinningChoice)
	require.False(t, res.Consensus) // confidenceScore = 0.9/2 = 0.45 < 0.67
}

func TestAggregateInsightsMergesObjects(t *testing.T) {
	out := AggregateInsights([]Insight{
		{ContributorID: "a", Data: map[string]interface{}{"x": 1}},
		{ContributorID: "b", Data: map[string]interface{}{"y": 2}},
	})
	require.Equal(t, 1, out.Merged["x"])
	require.Equal(t, 2, out.Merged["y"])
}

func TestAggregateInsightsVotesOnNonObjects(t *testing.T) {
	out := AggregateInsights([]Insight{
		{ContributorID: "a", Data: "alpha", Confidence: 0.9},
		{ContributorID: "b", Data: "beta", Confidence: 0.1},
	})
	require.True(t, out.UsedVote)
	require.Equal(t, "alpha", out.Voted)
}

func TestCombineResults(t *testing.T) {
	out := CombineResults([]Insight{
		{Data: "A", Confidence: 0.6},
		{Data: "A", Confidence: 0.6},
		{Data: "B", Confidence: 0.9},
	})
	require.Equal(t, "A", out.Final)
	require.Equal(t, 2, out.Agreements)
	require.Equal(t, 1, out.Conflicts)
}

func TestPatternEmergenceObserveWithoutBus(t *testing.T) {
	p := NewPatternEmergence(nil)
	base := time.Now()
	for i := 0; i < 3; i++ {
		p.Observe("scale-up", "triggered", base.Add(time.Duration(i)*time.Second))
	}
	// no assertion on event delivery without a bus wired; exercised via
	// a bus-backed test below.
}

func TestPatternEmergenceEmitsPatternEvent(t *testing.T) {
	var got []string
	bus := newCapturingBus(&got)
	p := NewPatternEmergence(bus)
	base := time.Now()
	for i := 0; i < 3; i++ {
		p.Observe("scale-up", "triggered", base.Add(time.Duration(i)*time.Second))
	}
	require.Contains(t, got, "pattern.emerged")
	require.Contains(t, got, "temporal.pattern")
}
