package paxos

import "sort"

// AcceptResponses tracks the votes for one in-flight Accept together with the
// tick at which it should be rebroadcast.
type AcceptResponses struct {
	// Timeout is the tick at which the accept is resent if still undecided
	Timeout Tick
	// Accept is the proposal being voted on, kept so resends need no journal read
	Accept Accept
	// Responses records each voter's verdict; true is an ack, false a nack
	Responses map[NodeID]bool
}

// ClientCommand remembers an intaken client value and where to send its
// reply once the slot commits.
type ClientCommand struct {
	Value Value
	Reply ReplyAddress
}

// PaxosData is the replica's consensus state besides its role. Progress is
// the only durable part; everything else is rebuilt after a restart.
type PaxosData struct {
	Progress        Progress
	ClusterSize     int
	LeaderHeartbeat int64
	// Timeout is the tick at which the current role times out
	Timeout Tick
	// PrepareResponses holds votes per outstanding prepare; slotOrdered walks it
	// in slot order
	PrepareResponses map[Identifier]map[NodeID]PrepareResponse
	// Epoch is the promise made while becoming leader; nil unless leading
	Epoch *BallotNumber
	// AcceptResponses holds votes per outstanding accept; slotOrdered walks it
	// in slot order
	AcceptResponses map[Identifier]*AcceptResponses
	// ClientCommands maps in-flight identifiers to the commands they carry
	ClientCommands map[Identifier]ClientCommand
}

// Agent is one replica's consensus engine state. The dispatcher owns it
// exclusively; handlers transform it in place on the dispatcher goroutine.
type Agent struct {
	NodeID NodeID
	Role   Role
	Data   PaxosData
}

// NewAgent boots an agent from journal-loaded progress. A fresh replica
// always starts as a follower with empty vote maps.
func NewAgent(nodeID NodeID, clusterSize int, progress Progress) *Agent {
	return &Agent{
		NodeID: nodeID,
		Role:   Follower,
		Data: PaxosData{
			Progress:         progress,
			ClusterSize:      clusterSize,
			PrepareResponses: make(map[Identifier]map[NodeID]PrepareResponse),
			AcceptResponses:  make(map[Identifier]*AcceptResponses),
			ClientCommands:   make(map[Identifier]ClientCommand),
		},
	}
}

// slotOrdered returns identifiers sorted by slot. Only the slot ordering keys
// sorted traversals of the vote maps.
func slotOrdered[V any](m map[Identifier]V) []Identifier {
	ids := make([]Identifier, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Slot < ids[j].Slot })
	return ids
}

// highestAcceptedSlot is the top of the journal's retained range, or the
// committed slot when the journal holds nothing newer.
func highestAcceptedSlot(j Journal, committed SlotIndex) (SlotIndex, error) {
	lo, hi, err := j.Bounds()
	if err != nil {
		return 0, err
	}
	if lo > hi || hi < committed {
		return committed, nil
	}
	return hi, nil
}
