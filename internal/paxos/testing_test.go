package paxos

import (
	"errors"
	"fmt"
)

// memJournal is an in-memory Journal that records the order of its writes so
// tests can assert the deliver/save/accept ordering the safety argument
// depends on.
type memJournal struct {
	progress Progress
	accepts  map[SlotIndex]Accept
	ops      *[]string
	failNext bool
}

func newMemJournal(ops *[]string) *memJournal {
	return &memJournal{
		progress: InitialProgress(),
		accepts:  make(map[SlotIndex]Accept),
		ops:      ops,
	}
}

func (j *memJournal) record(op string) {
	if j.ops != nil {
		*j.ops = append(*j.ops, op)
	}
}

func (j *memJournal) LoadProgress() (Progress, error) {
	return j.progress, nil
}

func (j *memJournal) SaveProgress(p Progress) error {
	if j.failNext {
		return errors.New("disk gone")
	}
	j.record(fmt.Sprintf("save(%d)", p.HighestCommitted.Slot))
	j.progress = p
	return nil
}

func (j *memJournal) Accept(accepts ...Accept) error {
	if j.failNext {
		return errors.New("disk gone")
	}
	for _, a := range accepts {
		j.record(fmt.Sprintf("accept(%d)", a.ID.Slot))
		j.accepts[a.ID.Slot] = a
	}
	return nil
}

func (j *memJournal) Accepted(slot SlotIndex) (*Accept, error) {
	a, ok := j.accepts[slot]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (j *memJournal) Bounds() (SlotIndex, SlotIndex, error) {
	if len(j.accepts) == 0 {
		return 1, 0, nil
	}
	var lo, hi SlotIndex
	first := true
	for slot := range j.accepts {
		if first {
			lo, hi = slot, slot
			first = false
			continue
		}
		if slot < lo {
			lo = slot
		}
		if slot > hi {
			hi = slot
		}
	}
	return lo, hi, nil
}

func (j *memJournal) Close() error { return nil }

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	now Tick
}

func (c *fakeClock) Now() Tick { return c.now }

// fixedTimeoutSource always picks the lower bound, making deadlines
// predictable.
type fixedTimeoutSource struct{}

func (fixedTimeoutSource) RandomTimeout(now, min, _ Tick) Tick { return now + min }

// recordingDeliverer captures delivered payloads and appends to the shared
// op log alongside the journal writes.
type recordingDeliverer struct {
	payloads []Payload
	results  map[SlotIndex][]byte
	ops      *[]string
}

func newRecordingDeliverer(ops *[]string) *recordingDeliverer {
	return &recordingDeliverer{results: make(map[SlotIndex][]byte), ops: ops}
}

func (d *recordingDeliverer) Deliver(p Payload) ([]byte, error) {
	if d.ops != nil {
		*d.ops = append(*d.ops, fmt.Sprintf("deliver(%d)", p.DeliveryID))
	}
	d.payloads = append(d.payloads, p)
	if result, ok := d.results[p.DeliveryID]; ok {
		return result, nil
	}
	return []byte("applied"), nil
}

// fixture wires an algorithm with fakes plus a follower agent.
type fixture struct {
	alg     *algorithm
	agent   *Agent
	journal *memJournal
	clock   *fakeClock
	deliver *recordingDeliverer
	ops     []string
}

func newFixture(nodeID NodeID, clusterSize int) *fixture {
	f := &fixture{}
	f.journal = newMemJournal(&f.ops)
	f.clock = &fakeClock{now: 1000}
	f.deliver = newRecordingDeliverer(&f.ops)
	f.alg = &algorithm{
		journal:           f.journal,
		quorum:            SimpleMajority{},
		clock:             f.clock,
		timeouts:          fixedTimeoutSource{},
		deliver:           f.deliver,
		logger:            &defaultLogger{},
		metrics:           NewMetrics(),
		timeoutMin:        100,
		timeoutMax:        200,
		acceptTimeout:     50,
		heartbeatInterval: 25,
	}
	f.agent = NewAgent(nodeID, clusterSize, InitialProgress())
	f.agent.Data.Timeout = f.clock.now + 100
	return f
}

// handle runs one message through the role dispatch and returns the event.
func (f *fixture) handle(from ReplyAddress, msg Message) (*event, error) {
	ev := &event{sender: from, msg: msg}
	err := f.alg.handleMessage(f.agent, ev)
	return ev, err
}

// tick runs one timer check at the given tick.
func (f *fixture) tick(now Tick) (*event, error) {
	f.clock.now = now
	ev := &event{}
	err := f.alg.handleTick(f.agent, now, ev)
	return ev, err
}

// ballot is a shorthand constructor for tests.
func ballot(counter int32, node NodeID) BallotNumber {
	return BallotNumber{Counter: counter, NodeID: node}
}

// ident is a shorthand constructor for tests.
func ident(from NodeID, b BallotNumber, slot SlotIndex) Identifier {
	return Identifier{From: from, Number: b, Slot: slot}
}

// acceptAt builds a client-command accept for retransmission scenarios.
func acceptAt(slot SlotIndex, b BallotNumber) Accept {
	return Accept{
		ID:    ident(b.NodeID, b, slot),
		Value: Value{Kind: ClientCommandValue, ClientMsgID: fmt.Sprintf("cmd-%d", slot), Command: []byte("x")},
	}
}
