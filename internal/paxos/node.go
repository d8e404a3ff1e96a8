package paxos

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localReplyPrefix marks ReplyAddress tokens that resolve to an in-process
// Submit call instead of a network peer.
const localReplyPrefix = "local/"

// RoleChangeCallback is invoked after the replica transitions between roles.
type RoleChangeCallback func(from, to Role)

// wallClock maps the wall clock onto ticks; one tick is one millisecond.
type wallClock struct{}

func (wallClock) Now() Tick { return Tick(time.Now().UnixMilli()) }

// pendingReply is a local Submit waiting for its command to commit.
type pendingReply struct {
	result chan ClientResponse
}

// Node is one replica: the consensus dispatcher plus the transport, journal
// and tick drivers around it.
type Node struct {
	config    *Config
	journal   Journal
	transport Transport
	deliver   Deliverer
	metrics   *Metrics

	dispatcher *dispatcher

	mu                 sync.RWMutex
	pending            map[string]*pendingReply
	roleChangeCallback RoleChangeCallback

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a replica node. The journal and deliverer are the host's: the
// journal decides durability and retention, the deliverer applies committed
// commands deterministically.
func New(config *Config, journal Journal, deliver Deliverer) (*Node, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	peers := make([]string, 0, len(config.Peers))
	for _, addr := range config.Peers {
		peers = append(peers, addr)
	}

	n := &Node{
		config:    config,
		journal:   journal,
		transport: NewUDPTransport(config.BindAddr, peers, config.Logger),
		deliver:   deliver,
		metrics:   NewMetrics(),
		pending:   make(map[string]*pendingReply),
		stopCh:    make(chan struct{}),
	}
	return n, nil
}

// Start loads progress, boots the agent as a follower and begins pumping
// events.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}

	progress, err := n.journal.LoadProgress()
	if err != nil {
		return fmt.Errorf("%w: load progress: %v", ErrJournalFailure, err)
	}

	clock := wallClock{}
	alg := &algorithm{
		journal:           n.journal,
		quorum:            SimpleMajority{},
		clock:             clock,
		timeouts:          cryptoTimeoutSource{},
		deliver:           n.deliver,
		logger:            n.config.Logger,
		metrics:           n.metrics,
		timeoutMin:        Tick(n.config.LeaderTimeoutMin.Milliseconds()),
		timeoutMax:        Tick(n.config.LeaderTimeoutMax.Milliseconds()),
		acceptTimeout:     Tick(n.config.AcceptTimeout.Milliseconds()),
		heartbeatInterval: Tick(n.config.heartbeatPeriod().Milliseconds()),
	}

	agent := NewAgent(n.config.NodeID, n.config.clusterSize(), progress)
	agent.Data.Timeout = alg.freshTimeout()

	n.dispatcher = newDispatcher(agent, alg, n, n.resolveClientReply, n.notifyRoleChange,
		n.config.Logger, n.metrics)

	n.transport.SetMessageHandler(func(sender ReplyAddress, msg Message) {
		n.dispatcher.Dispatch(sender, msg)
	})
	if err := n.transport.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	n.dispatcher.start()

	n.wg.Add(2)
	go n.runTicker(clock)
	go n.watchFatal()

	n.started = true
	n.config.Logger.Infof("[paxos] node %d started on %s with %d peers",
		n.config.NodeID, n.config.BindAddr, len(n.config.Peers))
	return nil
}

// Stop shuts the replica down. Progress on disk is the only durable
// remainder; the node rejoins as a follower on the next Start.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	n.mu.Unlock()

	close(n.stopCh)
	n.dispatcher.stop()
	if err := n.transport.Stop(); err != nil {
		n.config.Logger.Errorf("[paxos] error stopping transport: %v", err)
	}
	n.wg.Wait()

	n.failPending(ErrNotStarted)
	n.config.Logger.Infof("[paxos] node %d stopped", n.config.NodeID)
	return nil
}

// Submit sequences one client command through the replicated log and returns
// the host executor's result. It fails with ErrNotLeader when this replica
// cannot sequence and ErrLostLeadership when leadership was lost with the
// command still in flight; clients retry both, protected by the dedupe id.
func (n *Node) Submit(ctx context.Context, command []byte) ([]byte, error) {
	n.mu.RLock()
	started := n.started
	n.mu.RUnlock()
	if !started {
		return nil, ErrNotStarted
	}

	msgID := uuid.New().String()
	waiter := &pendingReply{result: make(chan ClientResponse, 1)}
	n.mu.Lock()
	n.pending[msgID] = waiter
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, msgID)
		n.mu.Unlock()
	}()

	req := ClientRequest{Value: Value{
		Kind:        ClientCommandValue,
		ClientMsgID: msgID,
		Command:     command,
	}}
	n.dispatcher.Dispatch(ReplyAddress(localReplyPrefix+msgID), req)

	select {
	case resp := <-waiter.result:
		if resp.Error != "" {
			return nil, decodeClientError(resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stopCh:
		return nil, ErrNotStarted
	}
}

// Send implements Sender for the dispatcher, short-circuiting replies to
// in-process clients before falling through to the network transport.
func (n *Node) Send(addr ReplyAddress, msg Message) error {
	if strings.HasPrefix(string(addr), localReplyPrefix) {
		if nl, ok := msg.(NotLeader); ok {
			n.resolveClientReply(clientReply{
				addr:        addr,
				clientMsgID: nl.ClientMsgID,
				err:         ErrNotLeader,
			})
			return nil
		}
		n.config.Logger.Debugf("[paxos] dropping %s addressed to local client", msg.Kind())
		return nil
	}
	return n.transport.Send(addr, msg)
}

// Broadcast implements Sender for the dispatcher.
func (n *Node) Broadcast(msg Message) error {
	return n.transport.Broadcast(msg)
}

// resolveClientReply completes one buffered client reply: local submitters
// get their channel signalled, remote clients get a ClientResponse frame.
func (n *Node) resolveClientReply(reply clientReply) {
	resp := ClientResponse{ClientMsgID: reply.clientMsgID, Result: reply.result}
	if reply.err != nil {
		resp.Error = reply.err.Error()
	}

	if strings.HasPrefix(string(reply.addr), localReplyPrefix) {
		n.mu.RLock()
		waiter := n.pending[reply.clientMsgID]
		n.mu.RUnlock()
		if waiter != nil {
			select {
			case waiter.result <- resp:
			default:
			}
		}
		return
	}
	if err := n.transport.Send(reply.addr, resp); err != nil {
		n.config.Logger.Warnf("[paxos] client reply to %s failed: %v", reply.addr, err)
	}
}

// decodeClientError maps wire error strings back to the sentinel errors
// local callers match on.
func decodeClientError(s string) error {
	switch s {
	case ErrNotLeader.Error():
		return ErrNotLeader
	case ErrLostLeadership.Error():
		return ErrLostLeadership
	default:
		return fmt.Errorf("command rejected: %s", s)
	}
}

// failPending resolves every waiting Submit with err.
func (n *Node) failPending(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, waiter := range n.pending {
		select {
		case waiter.result <- ClientResponse{ClientMsgID: id, Error: err.Error()}:
		default:
		}
	}
}

// runTicker drives timer ticks into the dispatcher. The period is a
// quarter of the heartbeat interval so deadline checks never lag a beat.
func (n *Node) runTicker(clock Clock) {
	defer n.wg.Done()

	period := n.config.heartbeatPeriod() / 4
	if period < 5*time.Millisecond {
		period = 5 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.dispatcher.Tick(clock.Now())
		case <-n.stopCh:
			return
		}
	}
}

// watchFatal stops the replica when the dispatcher dies on a journal
// failure. Progress on disk is assumed correct; the operator restarts the
// process and the replica rejoins as a follower.
func (n *Node) watchFatal() {
	defer n.wg.Done()

	select {
	case err := <-n.dispatcher.Fatal():
		n.config.Logger.Errorf("[paxos] node %d fatal: %v", n.config.NodeID, err)
		go n.Stop()
	case <-n.stopCh:
	}
}

// notifyRoleChange runs the host callback registered for role transitions.
func (n *Node) notifyRoleChange(from, to Role) {
	n.mu.RLock()
	cb := n.roleChangeCallback
	n.mu.RUnlock()
	if cb != nil {
		cb(from, to)
	}
	n.config.Logger.Infof("[paxos] node %d role %s -> %s", n.config.NodeID, from, to)
}

// SetRoleChangeCallback registers a callback for role transitions. It runs
// on the dispatcher goroutine and must not block.
func (n *Node) SetRoleChangeCallback(cb RoleChangeCallback) {
	n.mu.Lock()
	n.roleChangeCallback = cb
	n.mu.Unlock()
}

// Role returns the role as of the last completed event.
func (n *Node) Role() Role {
	return n.dispatcher.Snapshot().Role
}

// Progress returns the durable progress as of the last completed event.
func (n *Node) Progress() Progress {
	return n.dispatcher.Snapshot().Progress
}

// IsLeader reports whether this replica currently sequences commands.
func (n *Node) IsLeader() bool {
	return n.Role() == Leader
}

// GetMetrics returns the node's metrics collector.
func (n *Node) GetMetrics() *Metrics {
	return n.metrics
}
