package consensus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, nodeID string, nodes []string) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		NodeID:         nodeID,
		Nodes:          nodes,
		MaxFaultyNodes: 1,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	return e
}

// TestFourNodeCommit reproduces spec §8 scenario 5: four nodes, f=1,
// primary node0 proposes V at (view=0,seq=1); nodes 1,2,3 issue prepare
// and commit; node0 observes >=2f prepares and >=2f+1 commits and the
// proposal becomes committed.
func TestFourNodeCommit(t *testing.T) {
	nodes := []string{"node0", "node1", "node2", "node3"}
	engines := map[string]*Engine{}
	for _, n := range nodes {
		engines[n] = newTestEngine(t, n, nodes)
	}

	require.Equal(t, "node0", engines["node0"].GetPrimaryID())

	proposal, preprepare, err := engines["node0"].Propose("V")
	require.NoError(t, err)
	require.Equal(t, uint64(0), proposal.ViewNumber)
	require.Equal(t, uint64(1), proposal.SequenceNumber)

	// Replicas 1,2,3 receive the pre-prepare and each produce a prepare.
	var prepares []Message
	for _, n := range []string{"node1", "node2", "node3"} {
		prep, err := engines[n].HandlePrePrepare(proposal.ID, preprepare)
		require.NoError(t, err)
		prepares = append(prepares, prep)
	}

	// node0 observes prepares from the 3 replicas (>= 2f=2).
	var commits []Message
	preparedAt := -1
	for i, prep := range prepares {
		commit, nowPrepared, err := engines["node0"].HandlePrepare(prep)
		require.NoError(t, err)
		if nowPrepared {
			preparedAt = i
			commits = append(commits, commit)
		}
	}
	require.Equal(t, 1, preparedAt, "prepared should flip on the 2nd distinct prepare (2f=2)")

	p, ok := engines["node0"].GetProposal(proposal.ID)
	require.True(t, ok)
	require.Equal(t, StatusPrepared, p.Status)

	// Replicas also exchange prepares amongst themselves and commit; for
	// this scenario we only need node0's own commit view, so deliver
	// commits from all three replicas plus their own prepare/commit cycle.
	for _, n := range []string{"node1", "node2", "node3"} {
		for _, prep := range prepares {
			_, _, _ = engines[n].HandlePrepare(prep)
		}
	}
	for _, n := range []string{"node1", "node2", "node3"} {
		c := newMessage(MsgCommit, 0, 1, proposal.Digest, n, nil)
		commits = append(commits, c)
	}

	var committedAt = -1
	for i, c := range commits[len(commits)-3:] {
		_, committed, err := engines["node0"].HandleCommit(c)
		require.NoError(t, err)
		if committed {
			committedAt = i
		}
	}
	require.Equal(t, 2, committedAt, "committed should flip on the 3rd distinct commit (2f+1=3)")

	p, ok = engines["node0"].GetProposal(proposal.ID)
	require.True(t, ok)
	require.Equal(t, StatusCommitted, p.Status)
}

func TestDuplicateSenderVotesAreIdempotent(t *testing.T) {
	nodes := []string{"node0", "node1", "node2", "node3"}
	e := newTestEngine(t, "node0", nodes)
	proposal, _, err := e.Propose("V")
	require.NoError(t, err)

	prep := newMessage(MsgPrepare, 0, proposal.SequenceNumber, proposal.Digest, "node1", nil)
	_, _, err = e.HandlePrepare(prep)
	require.NoError(t, err)
	_, _, err = e.HandlePrepare(prep) // duplicate sender, idempotent
	require.NoError(t, err)

	p, _ := e.GetProposal(proposal.ID)
	require.Len(t, p.PrepareVotes, 1)
}

func TestOnlyPrimaryMayPropose(t *testing.T) {
	nodes := []string{"node0", "node1", "node2", "node3"}
	e := newTestEngine(t, "node1", nodes)
	_, _, err := e.Propose("V")
	require.Error(t, err)
}

func TestCanTolerateFaults(t *testing.T) {
	nodes := []string{"node0", "node1", "node2", "node3"}
	e := newTestEngine(t, "node0", nodes)
	require.True(t, e.CanTolerateFaults(1))
	require.False(t, e.CanTolerateFaults(2))
}

func TestViewChangeInstallsOnQuorum(t *testing.T) {
	nodes := []string{"node0", "node1", "node2", "node3"}
	e := newTestEngine(t, "node1", nodes)

	msg, ok := e.InitiateViewChange("primary unresponsive")
	require.True(t, ok)
	require.Equal(t, uint64(1), msg.ViewNumber)

	require.False(t, e.HandleViewChange(newMessage(MsgViewChange, 1, 0, "", "node0", nil)))
	require.False(t, e.HandleViewChange(newMessage(MsgViewChange, 1, 0, "", "node1", nil)))
	require.True(t, e.HandleViewChange(newMessage(MsgViewChange, 1, 0, "", "node2", nil)))

	require.Equal(t, uint64(1), e.GetViewNumber())
	require.Equal(t, "node1", e.GetPrimaryID())
}

func TestCheckTimeoutsTriggersViewChange(t *testing.T) {
	nodes := []string{"node0", "node1", "node2", "node3"}
	e, err := NewEngine(Config{
		NodeID:         "node1",
		Nodes:          nodes,
		MaxFaultyNodes: 1,
		TimeoutMs:      time.Millisecond,
	}, nil, zerolog.Nop())
	require.NoError(t, err)

	// node0 is primary in view 0; node1 locally tracks a pending proposal
	// it received a pre-prepare for, which then goes stale.
	pre := newMessage(MsgPrePrepare, 0, 1, digest("V"), "node0", "V")
	_, err = e.HandlePrePrepare("proposal-1", pre)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, fired := e.CheckTimeouts(time.Now())
	require.True(t, fired)
}

func TestRejectsInsufficientNodes(t *testing.T) {
	_, err := NewEngine(Config{NodeID: "node0", Nodes: []string{"a", "b"}, MaxFaultyNodes: 1}, nil, zerolog.Nop())
	require.Error(t, err)
}
