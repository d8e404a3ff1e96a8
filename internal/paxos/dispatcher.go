package paxos

import (
	"sync"
	"sync/atomic"
)

// Sender is the outbound half of the transport as the dispatcher sees it.
type Sender interface {
	// Send delivers a message to a single address
	Send(addr ReplyAddress, msg Message) error
	// Broadcast delivers a message to every peer
	Broadcast(msg Message) error
}

// AgentSnapshot is the externally visible slice of the agent, refreshed
// atomically after every event so hosts can observe it without touching the
// dispatcher goroutine.
type AgentSnapshot struct {
	NodeID          NodeID
	Role            Role
	Progress        Progress
	Epoch           *BallotNumber
	LeaderHeartbeat int64
}

type inbound struct {
	sender ReplyAddress
	msg    Message
	// tick inputs have msg == nil
	now Tick
}

// dispatcher is the single-threaded event pump that owns the agent. Every
// input funnels through its mailbox; the handler runs, its journal writes
// become durable, then and only then do the buffered messages reach the wire
// and the new agent becomes visible.
type dispatcher struct {
	agent     *Agent
	algorithm *algorithm
	sender    Sender
	// replyToClient resolves a buffered client reply; wired by the node
	replyToClient func(clientReply)
	// roleChanged fires outside the hot path when the role transitions
	roleChanged func(from, to Role)
	logger      Logger
	metrics     *Metrics

	snapshot atomic.Pointer[AgentSnapshot]

	mailbox chan inbound
	stopCh  chan struct{}
	// fatalCh surfaces the one error class that kills a replica
	fatalCh chan error
	wg      sync.WaitGroup
	started atomic.Bool
}

func newDispatcher(
	agent *Agent,
	alg *algorithm,
	sender Sender,
	replyToClient func(clientReply),
	roleChanged func(from, to Role),
	logger Logger,
	metrics *Metrics,
) *dispatcher {
	d := &dispatcher{
		agent:         agent,
		algorithm:     alg,
		sender:        sender,
		replyToClient: replyToClient,
		roleChanged:   roleChanged,
		logger:        logger,
		metrics:       metrics,
		mailbox:       make(chan inbound, 256),
		stopCh:        make(chan struct{}),
		fatalCh:       make(chan error, 1),
	}
	d.publishSnapshot()
	return d
}

func (d *dispatcher) start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	go d.run()
}

func (d *dispatcher) stop() {
	if !d.started.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

// Dispatch enqueues a network message. A full mailbox drops the message:
// the protocol treats it like any other transient transport loss.
func (d *dispatcher) Dispatch(sender ReplyAddress, msg Message) {
	select {
	case d.mailbox <- inbound{sender: sender, msg: msg}:
	default:
		d.logger.Warnf("[paxos] mailbox full, dropping %s", msg.Kind())
	}
}

// Tick enqueues a timer check.
func (d *dispatcher) Tick(now Tick) {
	select {
	case d.mailbox <- inbound{now: now}:
	default:
	}
}

// Snapshot returns the state as of the last completed event.
func (d *dispatcher) Snapshot() AgentSnapshot {
	return *d.snapshot.Load()
}

// Fatal reports the error that stopped the dispatcher, if any.
func (d *dispatcher) Fatal() <-chan error {
	return d.fatalCh
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case in := <-d.mailbox:
			if err := d.process(in); err != nil {
				d.logger.Errorf("[paxos] node %d dispatcher halting: %v", d.agent.NodeID, err)
				select {
				case d.fatalCh <- err:
				default:
				}
				return
			}
		case <-d.stopCh:
			return
		}
	}
}

// process runs one event to completion: handler, then sends, then client
// replies, then the published snapshot. Journal writes happened inside the
// handler, so everything a peer can observe is already backed by disk.
func (d *dispatcher) process(in inbound) error {
	ev := &event{sender: in.sender, msg: in.msg}
	oldRole := d.agent.Role

	var err error
	if in.msg == nil {
		err = d.algorithm.handleTick(d.agent, in.now, ev)
	} else {
		d.metrics.RecordMessageIn()
		err = d.algorithm.handleMessage(d.agent, ev)
	}
	if err != nil {
		return err
	}

	for _, msg := range ev.out {
		d.metrics.RecordMessageOut()
		if repliesDirectly(msg) {
			if sendErr := d.sender.Send(in.sender, msg); sendErr != nil {
				d.logger.Warnf("[paxos] send %s to %s failed: %v", msg.Kind(), in.sender, sendErr)
			}
		} else {
			if sendErr := d.sender.Broadcast(msg); sendErr != nil {
				d.logger.Warnf("[paxos] broadcast %s failed: %v", msg.Kind(), sendErr)
			}
		}
	}
	for _, reply := range ev.replies {
		d.replyToClient(reply)
	}

	d.publishSnapshot()
	if d.agent.Role != oldRole && d.roleChanged != nil {
		d.roleChanged(oldRole, d.agent.Role)
	}
	return nil
}

func (d *dispatcher) publishSnapshot() {
	snap := &AgentSnapshot{
		NodeID:          d.agent.NodeID,
		Role:            d.agent.Role,
		Progress:        d.agent.Data.Progress,
		LeaderHeartbeat: d.agent.Data.LeaderHeartbeat,
	}
	if d.agent.Data.Epoch != nil {
		epoch := *d.agent.Data.Epoch
		snap.Epoch = &epoch
	}
	d.snapshot.Store(snap)
}
