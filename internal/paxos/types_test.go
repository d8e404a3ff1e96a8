package paxos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBallotNumber_Ordering(t *testing.T) {
	assert.True(t, ballot(2, 1).GreaterThan(ballot(1, 3)), "higher counter wins")
	assert.True(t, ballot(1, 3).GreaterThan(ballot(1, 1)), "equal counter broken by node id")
	assert.False(t, ballot(1, 1).GreaterThan(ballot(1, 1)))
	assert.True(t, ballot(1, 1).GreaterThanOrEqual(ballot(1, 1)))
	assert.Equal(t, 0, ballot(5, 2).Compare(ballot(5, 2)))
	assert.Equal(t, -1, ballot(4, 9).Compare(ballot(5, 0)))
}

func TestBallotNumber_MinBallotIsBelowEverything(t *testing.T) {
	assert.True(t, InitialProgress().HighestPromised.GreaterThan(minBallot))
	assert.True(t, ballot(1, 1).GreaterThan(minBallot))
}

func TestMaxBallot(t *testing.T) {
	assert.Equal(t, ballot(3, 1), maxBallot(ballot(3, 1), ballot(2, 9)))
	assert.Equal(t, ballot(2, 9), maxBallot(ballot(2, 1), ballot(2, 9)))
}

func TestLowPrepare_IsRecognized(t *testing.T) {
	p := Prepare{ID: lowPrepareID(3)}
	assert.True(t, p.IsLowPrepare())

	real := Prepare{ID: ident(3, ballot(1, 3), 1)}
	assert.False(t, real.IsLowPrepare())
}

func TestJournalBounds_Empty(t *testing.T) {
	assert.True(t, JournalBounds{Min: 1, Max: 0}.Empty())
	assert.False(t, JournalBounds{Min: 1, Max: 1}.Empty())
}

func TestSimpleMajority(t *testing.T) {
	q := SimpleMajority{}
	assert.False(t, q.Reached(1, 3))
	assert.True(t, q.Reached(2, 3))
	assert.True(t, q.Reached(3, 3))
	assert.False(t, q.Reached(2, 5))
	assert.True(t, q.Reached(3, 5))
	assert.False(t, q.Reached(2, 4))
	assert.True(t, q.Reached(3, 4))
}

func TestSlotOrdered(t *testing.T) {
	m := map[Identifier]int{
		ident(1, ballot(1, 1), 9): 0,
		ident(1, ballot(1, 1), 2): 0,
		ident(1, ballot(2, 1), 5): 0,
	}
	ids := slotOrdered(m)
	assert.Equal(t, []SlotIndex{2, 5, 9}, []SlotIndex{ids[0].Slot, ids[1].Slot, ids[2].Slot})
}

func TestRepliesDirectly(t *testing.T) {
	direct := []Message{
		PrepareAck{}, PrepareNack{}, AcceptAck{}, AcceptNack{},
		RetransmitRequest{}, RetransmitResponse{}, NotLeader{},
	}
	for _, msg := range direct {
		assert.True(t, repliesDirectly(msg), "%s should reply directly", msg.Kind())
	}

	broadcast := []Message{Prepare{}, Accept{}, Commit{}, Heartbeat{}}
	for _, msg := range broadcast {
		assert.False(t, repliesDirectly(msg), "%s should broadcast", msg.Kind())
	}
}
