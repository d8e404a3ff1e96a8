package paxos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverValue_NoOpHasNoSideEffects(t *testing.T) {
	f := newFixture(1, 3)

	result, err := f.alg.deliverValue(1, NoOp())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, f.deliver.payloads)
}

func TestDeliverValue_ClientCommandCarriesDedupeID(t *testing.T) {
	f := newFixture(1, 3)
	f.deliver.results[7] = []byte("done")

	result, err := f.alg.deliverValue(7, Value{
		Kind: ClientCommandValue, ClientMsgID: "c1", Command: []byte("set a 1"),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), result)

	require.Len(t, f.deliver.payloads, 1)
	p := f.deliver.payloads[0]
	assert.Equal(t, SlotIndex(7), p.DeliveryID, "slot is the dedupe id")
	assert.Equal(t, "c1", p.ClientMsgID)
}

func TestDeliverValue_MembershipIsUnimplemented(t *testing.T) {
	f := newFixture(1, 3)

	_, err := f.alg.deliverValue(1, Value{Kind: MembershipValue})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestDeliverContiguous_StopsAtRetentionGap(t *testing.T) {
	f := newFixture(1, 3)
	require.NoError(t, f.journal.Accept(acceptAt(1, ballot(1, 2))))
	f.ops = nil

	reached, err := f.alg.deliverContiguous(f.agent, 3, &event{})
	require.NoError(t, err)
	assert.Equal(t, SlotIndex(1), reached)
	assert.Equal(t, SlotIndex(1), f.agent.Data.Progress.HighestCommitted.Slot)
}

func TestDeliverContiguous_MissingInsideBoundsIsFatal(t *testing.T) {
	f := newFixture(1, 3)
	// bounds claim [1,3] but slot 2 is gone: journal corruption
	require.NoError(t, f.journal.Accept(acceptAt(1, ballot(1, 2)), acceptAt(3, ballot(1, 2))))

	_, err := f.alg.deliverContiguous(f.agent, 3, &event{})
	assert.ErrorIs(t, err, ErrMissingAccept)
	assert.Equal(t, SlotIndex(1), f.agent.Data.Progress.HighestCommitted.Slot,
		"the contiguous part was still delivered")
}

func TestDeliverContiguous_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(1, 3)
	require.NoError(t, f.journal.Accept(acceptAt(1, ballot(1, 2)), acceptAt(2, ballot(1, 2))))

	_, err := f.alg.deliverContiguous(f.agent, 2, &event{})
	require.NoError(t, err)
	first := f.agent.Data.Progress.HighestCommitted.Slot

	// a second pass with a lower target changes nothing
	_, err = f.alg.deliverContiguous(f.agent, 1, &event{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.agent.Data.Progress.HighestCommitted.Slot, first)
	assert.Len(t, f.deliver.payloads, 2)
}

func TestDeliverAccept_JournalFailureIsFatal(t *testing.T) {
	f := newFixture(1, 3)
	acc := acceptAt(1, ballot(1, 2))
	require.NoError(t, f.journal.Accept(acc))
	f.journal.failNext = true

	err := f.alg.deliverAccept(f.agent, acc, &event{})
	assert.ErrorIs(t, err, ErrJournalFailure)
}
