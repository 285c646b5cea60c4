// Package consensus implements the Byzantine-fault-tolerant, PBFT-style
// three-phase agreement of spec §3/§4.I: pre-prepare/prepare/commit over
// n >= 3f+1 nodes, with timeout-driven view change. Grounded on the
// teacher's ollama-distributed/pkg/consensus Engine/FSM shape (a single
// state machine applying agreed values, a leadership notion, an
// apply-event channel) generalized from crash-fault Raft to Byzantine
// PBFT per spec §4.I/§9 — hashicorp/raft itself is dropped (see
// DESIGN.md): it solves the wrong fault model (crash, not Byzantine) for
// a process model (multi-process log replication) this spec doesn't use.
package consensus

import (
	"strconv"
	"time"
)

// MessageType is the PBFT message discriminator of spec §3.
type MessageType string

const (
	MsgPrePrepare MessageType = "pre-prepare"
	MsgPrepare    MessageType = "prepare"
	MsgCommit     MessageType = "commit"
	MsgReply      MessageType = "reply"
	MsgViewChange MessageType = "view-change"
)

// Message is a ByzantineMessage of spec §3. Signature is an opaque string
// the implementer may ignore in non-production builds (spec §1); no
// signing/verification is performed here.
type Message struct {
	Type           MessageType
	ViewNumber     uint64
	SequenceNumber uint64
	Digest         string
	SenderID       string
	Timestamp      int64
	Payload        interface{}
	Signature      string
}

func newMessage(typ MessageType, view, seq uint64, digest, sender string, payload interface{}) Message {
	return Message{
		Type:           typ,
		ViewNumber:     view,
		SequenceNumber: seq,
		Digest:         digest,
		SenderID:       sender,
		Timestamp:      time.Now().UnixMilli(),
		Payload:        payload,
	}
}

// Status is a ConsensusProposal's lifecycle state per spec §3.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPrepared  Status = "prepared"
	StatusCommitted Status = "committed"
	StatusRejected  Status = "rejected"
)

// Proposal is the ConsensusProposal aggregate of spec §3. PrepareVotes
// and CommitVotes are disjoint per-phase vote maps keyed by sender id
// (spec §9): duplicate messages from the same sender are idempotent.
type Proposal struct {
	ID             string
	ProposerID     string
	Value          interface{}
	ViewNumber     uint64
	SequenceNumber uint64
	Digest         string
	Messages       []Message
	PrepareVotes   map[string]bool
	CommitVotes    map[string]bool
	Status         Status
	CreatedAt      time.Time
}

func key(view, seq uint64) string {
	return strconv.FormatUint(view, 10) + ":" + strconv.FormatUint(seq, 10)
}
