package paxos

import (
	"fmt"
	"math"
)

// NodeID uniquely identifies a cluster member. It must be stable across
// restarts: it is the tie-breaker in ballot ordering, so reusing an ID for a
// different process would break the at-most-one-leader-per-ballot guarantee.
type NodeID uint8

// SlotIndex is a position in the replicated log. Slots start at 1; slot 0 is
// the committed position of a freshly bootstrapped replica.
type SlotIndex int64

// BallotNumber orders proposals across the cluster. Higher Counter wins;
// equal counters are broken by higher NodeID, which gives a total order as
// long as NodeIDs are unique.
type BallotNumber struct {
	Counter int32  `json:"counter"`
	NodeID  NodeID `json:"node_id"`
}

// minBallot is reserved for the low prepare used to probe for a live leader.
// It compares below every ballot a node can legitimately promise.
var minBallot = BallotNumber{Counter: math.MinInt32, NodeID: 0}

// minSlot marks the low prepare's slot so it can never collide with a real
// log position.
const minSlot = SlotIndex(math.MinInt64)

// Compare returns -1, 0 or 1 as b orders before, equal to or after other.
func (b BallotNumber) Compare(other BallotNumber) int {
	if b.Counter != other.Counter {
		if b.Counter < other.Counter {
			return -1
		}
		return 1
	}
	if b.NodeID != other.NodeID {
		if b.NodeID < other.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// GreaterThan reports whether b orders strictly after other.
func (b BallotNumber) GreaterThan(other BallotNumber) bool {
	return b.Compare(other) > 0
}

// GreaterThanOrEqual reports whether b orders at or after other.
func (b BallotNumber) GreaterThanOrEqual(other BallotNumber) bool {
	return b.Compare(other) >= 0
}

func (b BallotNumber) String() string {
	return fmt.Sprintf("%d.%d", b.Counter, b.NodeID)
}

func maxBallot(a, b BallotNumber) BallotNumber {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Identifier addresses a single Paxos instance: the originating node, the
// ballot it was proposed under and the log slot it fills. Promise comparison
// uses the ballot ordering; sorted containers key on the slot ordering only.
type Identifier struct {
	From   NodeID       `json:"from"`
	Number BallotNumber `json:"number"`
	Slot   SlotIndex    `json:"slot"`
}

func (id Identifier) String() string {
	return fmt.Sprintf("%d@%s/%d", id.From, id.Number, id.Slot)
}

// Progress is the durable core of a replica: the highest ballot it has
// promised and the highest identifier it has committed. HighestCommitted.Slot
// never decreases, even across crashes.
type Progress struct {
	HighestPromised  BallotNumber `json:"highest_promised"`
	HighestCommitted Identifier   `json:"highest_committed"`
}

// InitialProgress is the progress of a replica that has never voted.
func InitialProgress() Progress {
	return Progress{
		HighestPromised:  BallotNumber{},
		HighestCommitted: Identifier{},
	}
}

func (p Progress) String() string {
	return fmt.Sprintf("promised=%s committed=%s", p.HighestPromised, p.HighestCommitted)
}

// ValueKind discriminates the payload carried in a log slot.
type ValueKind int

const (
	// NoOpValue fills a slot during recovery without client side-effects
	NoOpValue ValueKind = iota
	// ClientCommandValue carries an opaque host command
	ClientCommandValue
	// MembershipValue reserves the slot kind for cluster reconfiguration
	MembershipValue
)

func (k ValueKind) String() string {
	switch k {
	case NoOpValue:
		return "NoOp"
	case ClientCommandValue:
		return "ClientCommand"
	case MembershipValue:
		return "Membership"
	default:
		return "Unknown"
	}
}

// Value is the payload voted into a log slot.
type Value struct {
	Kind ValueKind `json:"kind"`
	// ClientMsgID deduplicates client retries; set only for ClientCommandValue
	ClientMsgID string `json:"client_msg_id,omitempty"`
	// Command is the opaque host command bytes; set only for ClientCommandValue
	Command []byte `json:"command,omitempty"`
}

// NoOp returns the value used to fill recovered slots.
func NoOp() Value {
	return Value{Kind: NoOpValue}
}

// Accept records a value voted at a slot under a ballot. At most one Accept
// per slot is durably stored for the node's current promise; a repromise may
// overwrite an Accept from a lower ballot.
type Accept struct {
	ID    Identifier `json:"id"`
	Value Value      `json:"value"`
}

// Role is the consensus role a replica currently plays.
type Role int

const (
	// Follower passively promises and votes
	Follower Role = iota
	// Recoverer is gathering prepare responses to take over leadership
	Recoverer
	// Leader sequences client commands
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Recoverer:
		return "Recoverer"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Tick is a logical clock reading in milliseconds. Handlers schedule work by
// computing absolute tick deadlines; they never read the wall clock.
type Tick int64

// Payload is what the host's deterministic executor receives for one
// committed client command. DeliveryID equals the slot and is the dedupe key
// that keeps re-delivery after a crash idempotent.
type Payload struct {
	DeliveryID  SlotIndex
	ClientMsgID string
	Command     []byte
}
