package paxos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T) (*Node, *memJournal) {
	t.Helper()
	config := DefaultConfig()
	config.NodeID = 1
	config.BindAddr = "127.0.0.1:0"
	config.Peers = map[NodeID]string{2: "127.0.0.1:19002", 3: "127.0.0.1:19003"}
	config.JournalPath = "unused-by-mem-journal"

	journal := newMemJournal(nil)
	node, err := New(config, journal, newRecordingDeliverer(nil))
	require.NoError(t, err)
	return node, journal
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	node, err := New(config, newMemJournal(nil), newRecordingDeliverer(nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, node)
}

func TestNode_StartsAsFollowerWithJournalProgress(t *testing.T) {
	node, journal := newTestNode(t)
	journal.progress = Progress{
		HighestPromised:  ballot(4, 2),
		HighestCommitted: ident(2, ballot(4, 2), 11),
	}

	require.NoError(t, node.Start())
	defer node.Stop()

	assert.Equal(t, Follower, node.Role())
	assert.Equal(t, journal.progress, node.Progress())
	assert.False(t, node.IsLeader())
}

func TestNode_SubmitBeforeStart(t *testing.T) {
	node, _ := newTestNode(t)
	_, err := node.Submit(context.Background(), []byte("set a 1"))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestNode_SubmitAsFollowerReturnsNotLeader(t *testing.T) {
	node, _ := newTestNode(t)
	require.NoError(t, node.Start())
	defer node.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := node.Submit(ctx, []byte("set a 1"))
	assert.ErrorIs(t, err, ErrNotLeader)
}

func TestNode_StartAndStopAreIdempotent(t *testing.T) {
	node, _ := newTestNode(t)
	require.NoError(t, node.Start())
	require.NoError(t, node.Start())
	require.NoError(t, node.Stop())
	require.NoError(t, node.Stop())
}

func TestDecodeClientError(t *testing.T) {
	assert.ErrorIs(t, decodeClientError(ErrNotLeader.Error()), ErrNotLeader)
	assert.ErrorIs(t, decodeClientError(ErrLostLeadership.Error()), ErrLostLeadership)
	assert.EqualError(t, decodeClientError("boom"), "command rejected: boom")
}
