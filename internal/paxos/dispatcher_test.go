package paxos

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures routed messages for assertions.
type recordingSender struct {
	mu        sync.Mutex
	direct    []Message
	directTo  []ReplyAddress
	broadcast []Message
}

func (s *recordingSender) Send(addr ReplyAddress, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = append(s.direct, msg)
	s.directTo = append(s.directTo, addr)
	return nil
}

func (s *recordingSender) Broadcast(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = append(s.broadcast, msg)
	return nil
}

func (s *recordingSender) snapshot() (direct []Message, to []ReplyAddress, broadcast []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.direct...), append([]ReplyAddress{}, s.directTo...), append([]Message{}, s.broadcast...)
}

func newTestDispatcher(f *fixture) (*dispatcher, *recordingSender) {
	sender := &recordingSender{}
	d := newDispatcher(f.agent, f.alg, sender, func(clientReply) {}, nil, &defaultLogger{}, NewMetrics())
	return d, sender
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

func TestDispatcher_DirectRepliesGoToTriggeringSender(t *testing.T) {
	f := newFixture(1, 3)
	d, sender := newTestDispatcher(f)
	d.start()
	defer d.stop()

	d.Dispatch("peer2:9002", Prepare{ID: ident(2, ballot(1, 2), 1)})

	eventually(t, func() bool {
		direct, _, _ := sender.snapshot()
		return len(direct) == 1
	}, "prepare ack sent")

	direct, to, broadcast := sender.snapshot()
	_, ok := direct[0].(PrepareAck)
	assert.True(t, ok)
	assert.Equal(t, ReplyAddress("peer2:9002"), to[0])
	assert.Empty(t, broadcast)
}

func TestDispatcher_BroadcastsProtocolMessages(t *testing.T) {
	f := newFixture(1, 3)
	d, sender := newTestDispatcher(f)
	d.start()
	defer d.stop()

	d.Tick(f.clock.now + 500)

	eventually(t, func() bool {
		_, _, broadcast := sender.snapshot()
		return len(broadcast) == 1
	}, "low prepare broadcast")

	_, _, broadcast := sender.snapshot()
	p, ok := broadcast[0].(Prepare)
	require.True(t, ok)
	assert.True(t, p.IsLowPrepare())
}

func TestDispatcher_SnapshotTracksAgent(t *testing.T) {
	f := newFixture(1, 3)
	d, _ := newTestDispatcher(f)
	d.start()
	defer d.stop()

	assert.Equal(t, Follower, d.Snapshot().Role)

	d.Dispatch("peer2", Prepare{ID: ident(2, ballot(3, 2), 1)})

	eventually(t, func() bool {
		return d.Snapshot().Progress.HighestPromised == ballot(3, 2)
	}, "snapshot shows the new promise")
}

func TestDispatcher_JournalFailureIsFatal(t *testing.T) {
	f := newFixture(1, 3)
	d, _ := newTestDispatcher(f)
	d.start()
	defer d.stop()

	f.journal.failNext = true
	d.Dispatch("peer2", Prepare{ID: ident(2, ballot(3, 2), 1)})

	select {
	case err := <-d.Fatal():
		assert.ErrorIs(t, err, ErrJournalFailure)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not surface the journal failure")
	}
}

func TestDispatcher_RoleChangeCallbackFires(t *testing.T) {
	f := newFixture(1, 3)
	sender := &recordingSender{}

	var mu sync.Mutex
	var transitions [][2]Role
	d := newDispatcher(f.agent, f.alg, sender, func(clientReply) {}, func(from, to Role) {
		mu.Lock()
		transitions = append(transitions, [2]Role{from, to})
		mu.Unlock()
	}, &defaultLogger{}, NewMetrics())
	d.start()
	defer d.stop()

	d.Tick(f.clock.now + 500)
	d.Dispatch("peer2", PrepareNack{ID: lowPrepareID(1), From: 2, Progress: InitialProgress()})

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 1
	}, "follower to recoverer transition observed")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [2]Role{Follower, Recoverer}, transitions[0])
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	f := newFixture(1, 3)
	d, _ := newTestDispatcher(f)
	d.start()
	d.stop()
	assert.NotPanics(t, func() { d.stop() })
}
