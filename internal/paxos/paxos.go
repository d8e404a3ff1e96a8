package paxos

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Clock supplies the logical tick handlers schedule against. Ticks are
// milliseconds, but nothing in the core depends on that beyond the config
// conversion in the node.
type Clock interface {
	Now() Tick
}

// TimeoutSource picks randomized follower timeouts. Production nodes use the
// unpredictable cryptoTimeoutSource so duelling candidates desynchronize;
// deterministic sources belong in tests only.
type TimeoutSource interface {
	// RandomTimeout returns an absolute deadline in [now+min, now+max)
	RandomTimeout(now, min, max Tick) Tick
}

type cryptoTimeoutSource struct{}

func (cryptoTimeoutSource) RandomTimeout(now, min, max Tick) Tick {
	span := int64(max - min)
	if span <= 0 {
		return now + min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken;
		// the midpoint keeps the replica running
		return now + min + Tick(span/2)
	}
	return now + min + Tick(n.Int64())
}

// Deliverer executes one committed client command. It must be deterministic
// and idempotent with respect to Payload.DeliveryID: a crash between deliver
// and the progress write causes exactly one re-delivery of the same payload.
type Deliverer interface {
	Deliver(p Payload) ([]byte, error)
}

// clientReply is a buffered response to a client, flushed by the dispatcher
// after the handler returns.
type clientReply struct {
	addr        ReplyAddress
	clientMsgID string
	result      []byte
	err         error
}

// event carries one input through a handler: the triggering message, the
// address its response goes to, and the buffered output. Nothing leaves the
// replica until the handler has returned and its journal writes are durable.
type event struct {
	sender  ReplyAddress
	msg     Message
	out     []Message
	replies []clientReply
}

func (e *event) send(m Message) {
	e.out = append(e.out, m)
}

func (e *event) replyToClient(addr ReplyAddress, clientMsgID string, result []byte, err error) {
	e.replies = append(e.replies, clientReply{addr: addr, clientMsgID: clientMsgID, result: result, err: err})
}

// algorithm holds the collaborators every handler needs. All its methods run
// on the dispatcher goroutine; none of its state is shared.
type algorithm struct {
	journal  Journal
	quorum   QuorumStrategy
	clock    Clock
	timeouts TimeoutSource
	deliver  Deliverer
	logger   Logger
	metrics  *Metrics

	// follower timeout range, accept resend interval and leader heartbeat
	// period, in ticks
	timeoutMin        Tick
	timeoutMax        Tick
	acceptTimeout     Tick
	heartbeatInterval Tick
}

// freshTimeout schedules the next follower/recoverer deadline.
func (a *algorithm) freshTimeout() Tick {
	return a.timeouts.RandomTimeout(a.clock.Now(), a.timeoutMin, a.timeoutMax)
}

// backdown returns the agent to follower: outstanding votes are dropped,
// waiting clients are told to retry elsewhere, and a fresh random timeout is
// armed. The observed leader heartbeat survives so the next failover decision
// still has its evidence.
func (a *algorithm) backdown(agent *Agent, ev *event) {
	for id, cmd := range agent.Data.ClientCommands {
		a.logger.Debugf("[paxos] node %d lost leadership with command %s in flight", agent.NodeID, id)
		ev.replyToClient(cmd.Reply, cmd.Value.ClientMsgID, nil, ErrLostLeadership)
	}
	agent.Role = Follower
	agent.Data.PrepareResponses = make(map[Identifier]map[NodeID]PrepareResponse)
	agent.Data.AcceptResponses = make(map[Identifier]*AcceptResponses)
	agent.Data.ClientCommands = make(map[Identifier]ClientCommand)
	agent.Data.Epoch = nil
	agent.Data.Timeout = a.freshTimeout()
	a.metrics.RecordBackdown()
}

// handleMessage routes one network message to the handler for the current
// role. Unknown (role, message) combinations are logged and dropped: a stale
// or reordered message is never fatal.
func (a *algorithm) handleMessage(agent *Agent, ev *event) error {
	switch agent.Role {
	case Follower:
		return a.followerHandle(agent, ev)
	case Recoverer:
		return a.recovererHandle(agent, ev)
	case Leader:
		return a.leaderHandle(agent, ev)
	default:
		return fmt.Errorf("unknown role %v", agent.Role)
	}
}

// handleTick routes a timer tick to the handler for the current role.
func (a *algorithm) handleTick(agent *Agent, now Tick, ev *event) error {
	switch agent.Role {
	case Follower:
		return a.followerTick(agent, now, ev)
	case Recoverer:
		return a.recovererTick(agent, now, ev)
	case Leader:
		return a.leaderTick(agent, now, ev)
	default:
		return fmt.Errorf("unknown role %v", agent.Role)
	}
}

// handleRetransmitRequest serves a lagging peer from the local journal. Any
// role answers: the journal is the acceptor's, not the leader's.
func (a *algorithm) handleRetransmitRequest(agent *Agent, req RetransmitRequest, ev *event) error {
	lo, hi, err := a.journal.Bounds()
	if err != nil {
		return fmt.Errorf("%w: bounds: %v", ErrJournalFailure, err)
	}
	resp, err := buildRetransmitResponse(
		JournalBounds{Min: lo, Max: hi},
		agent.Data.Progress.HighestCommitted.Slot,
		req.FromSlot,
		a.journal.Accepted,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJournalFailure, err)
	}
	if resp == nil {
		// the requester has fallen off retained history and needs a
		// higher-level resync
		a.logger.Warnf("[paxos] node %d cannot retransmit from slot %d, retained range is [%d,%d]",
			agent.NodeID, req.FromSlot, lo, hi)
		return nil
	}
	resp.From = agent.NodeID
	resp.To = req.From
	ev.send(*resp)
	a.metrics.RecordRetransmitResponse()
	return nil
}
