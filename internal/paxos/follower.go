package paxos

import "fmt"

// lowPrepareID is the probe identifier this node broadcasts when it suspects
// the leader is gone. It carries the reserved minimum ballot and slot so no
// acceptor can ever mistake it for a real promise request.
func lowPrepareID(nodeID NodeID) Identifier {
	return Identifier{From: nodeID, Number: minBallot, Slot: minSlot}
}

func (a *algorithm) followerHandle(agent *Agent, ev *event) error {
	switch msg := ev.msg.(type) {
	case Prepare:
		return a.handlePrepare(agent, msg, ev)
	case PrepareAck:
		return a.followerPrepareResponse(agent, msg, ev)
	case PrepareNack:
		return a.followerPrepareResponse(agent, msg, ev)
	case Heartbeat:
		a.followerHeartbeat(agent, msg)
		return nil
	case Commit:
		return a.followerCommit(agent, msg, ev)
	case Accept:
		return a.handleAccept(agent, msg, ev)
	case ClientRequest:
		ev.send(NotLeader{NodeID: agent.NodeID, ClientMsgID: msg.Value.ClientMsgID})
		return nil
	case RetransmitRequest:
		return a.handleRetransmitRequest(agent, msg, ev)
	case RetransmitResponse:
		return a.handleRetransmitResponse(agent, msg, ev)
	default:
		a.logger.Debugf("[paxos] follower %d ignoring %s", agent.NodeID, ev.msg.Kind())
		return nil
	}
}

// followerTick probes for a live leader once the timeout passes. The probe is
// the low prepare: it cannot win a promise, it only solicits evidence. The
// very first timeout records a self-NACK so the node's own heartbeat
// knowledge counts toward the failover decision.
func (a *algorithm) followerTick(agent *Agent, now Tick, ev *event) error {
	if now < agent.Data.Timeout {
		return nil
	}

	lowID := lowPrepareID(agent.NodeID)
	if _, outstanding := agent.Data.PrepareResponses[lowID]; !outstanding {
		slot, err := highestAcceptedSlot(a.journal, agent.Data.Progress.HighestCommitted.Slot)
		if err != nil {
			return fmt.Errorf("%w: bounds: %v", ErrJournalFailure, err)
		}
		agent.Data.PrepareResponses[lowID] = map[NodeID]PrepareResponse{
			agent.NodeID: PrepareNack{
				ID:                  lowID,
				From:                agent.NodeID,
				Progress:            agent.Data.Progress,
				HighestAcceptedSlot: slot,
				LeaderHeartbeat:     agent.Data.LeaderHeartbeat,
			},
		}
		a.logger.Infof("[paxos] follower %d timed out, probing for a live leader", agent.NodeID)
		a.metrics.RecordTimeout()
	}
	ev.send(Prepare{ID: lowID})
	agent.Data.Timeout = a.freshTimeout()
	return nil
}

// followerHeartbeat is the lease refresh: a strictly newer counter from any
// leader is evidence enough to stand down from probing.
func (a *algorithm) followerHeartbeat(agent *Agent, hb Heartbeat) {
	if hb.Counter > agent.Data.LeaderHeartbeat {
		agent.Data.LeaderHeartbeat = hb.Counter
		agent.Data.Timeout = a.freshTimeout()
		a.metrics.RecordHeartbeatSeen()
	}
}

// followerCommit delivers up to the committed slot announced by the leader.
// A stale commit is ignored; a gap in the local journal turns into a
// retransmit request to the committing leader.
func (a *algorithm) followerCommit(agent *Agent, c Commit, ev *event) error {
	if c.ID.Slot <= agent.Data.Progress.HighestCommitted.Slot {
		return nil
	}
	reached, err := a.deliverContiguous(agent, c.ID.Slot, ev)
	if err != nil {
		return err
	}
	if reached < c.ID.Slot {
		ev.send(RetransmitRequest{From: agent.NodeID, To: c.ID.From, FromSlot: reached})
		a.metrics.RecordRetransmitRequest()
	}
	return nil
}

// handlePrepare is the standard promise logic every role shares. A strictly
// higher ballot is promised durably before the ack leaves; an equal ballot is
// re-acked without another journal write so a rebroadcast prepare from the
// recoverer we already promised does not stall recovery.
func (a *algorithm) handlePrepare(agent *Agent, p Prepare, ev *event) error {
	cmp := p.ID.Number.Compare(agent.Data.Progress.HighestPromised)

	slot, err := highestAcceptedSlot(a.journal, agent.Data.Progress.HighestCommitted.Slot)
	if err != nil {
		return fmt.Errorf("%w: bounds: %v", ErrJournalFailure, err)
	}

	if cmp < 0 {
		ev.send(PrepareNack{
			ID:                  p.ID,
			From:                agent.NodeID,
			Progress:            agent.Data.Progress,
			HighestAcceptedSlot: slot,
			LeaderHeartbeat:     agent.Data.LeaderHeartbeat,
		})
		return nil
	}

	if cmp > 0 {
		agent.Data.Progress.HighestPromised = p.ID.Number
		if err := a.journal.SaveProgress(agent.Data.Progress); err != nil {
			return fmt.Errorf("%w: save progress: %v", ErrJournalFailure, err)
		}
	}

	accepted, err := a.journal.Accepted(p.ID.Slot)
	if err != nil {
		return fmt.Errorf("%w: accepted(%d): %v", ErrJournalFailure, p.ID.Slot, err)
	}
	ev.send(PrepareAck{
		ID:                  p.ID,
		From:                agent.NodeID,
		Progress:            agent.Data.Progress,
		HighestAcceptedSlot: slot,
		LeaderHeartbeat:     agent.Data.LeaderHeartbeat,
		HighestAccepted:     accepted,
	})
	return nil
}

// handleAccept is the acceptor vote every role shares. Accepting at a ballot
// above the current promise implies the promise: it is persisted before the
// ack can leave the replica.
func (a *algorithm) handleAccept(agent *Agent, acc Accept, ev *event) error {
	if !acc.ID.Number.GreaterThanOrEqual(agent.Data.Progress.HighestPromised) {
		ev.send(AcceptNack{ID: acc.ID, From: agent.NodeID, Progress: agent.Data.Progress})
		return nil
	}

	if acc.ID.Number.GreaterThan(agent.Data.Progress.HighestPromised) {
		agent.Data.Progress.HighestPromised = acc.ID.Number
		if err := a.journal.SaveProgress(agent.Data.Progress); err != nil {
			return fmt.Errorf("%w: save progress: %v", ErrJournalFailure, err)
		}
	}
	if err := a.journal.Accept(acc); err != nil {
		return fmt.Errorf("%w: accept: %v", ErrJournalFailure, err)
	}
	ev.send(AcceptAck{ID: acc.ID, From: agent.NodeID, Progress: agent.Data.Progress})
	return nil
}

// followerPrepareResponse collects votes for the outstanding low prepare and
// decides whether to fail over once a majority has answered.
func (a *algorithm) followerPrepareResponse(agent *Agent, resp PrepareResponse, ev *event) error {
	lowID := lowPrepareID(agent.NodeID)
	votes, outstanding := agent.Data.PrepareResponses[lowID]
	if !outstanding || resp.ResponseID() != lowID {
		a.logger.Debugf("[paxos] follower %d ignoring stale prepare response for %s", agent.NodeID, resp.ResponseID())
		return nil
	}

	// a responder that has committed further than us cannot be caught by
	// failover; catch up first
	if resp.ResponseProgress().HighestCommitted.Slot > agent.Data.Progress.HighestCommitted.Slot {
		fromSlot := agent.Data.Progress.HighestCommitted.Slot
		a.backdown(agent, ev)
		ev.send(RetransmitRequest{From: agent.NodeID, To: resp.ResponseFrom(), FromSlot: fromSlot})
		a.metrics.RecordRetransmitRequest()
		return nil
	}

	votes[resp.ResponseFrom()] = resp
	if !a.quorum.Reached(len(votes), agent.Data.ClusterSize) {
		return nil
	}

	decision := computeFailover(agent.Data.LeaderHeartbeat, agent.Data.ClusterSize, votes)
	if !decision.Failover {
		a.logger.Infof("[paxos] follower %d found heartbeat evidence %d, not failing over",
			agent.NodeID, decision.MaxHeartbeat)
		delete(agent.Data.PrepareResponses, lowID)
		agent.Data.LeaderHeartbeat = decision.MaxHeartbeat
		agent.Data.Timeout = a.freshTimeout()
		return nil
	}
	return a.becomeRecoverer(agent, ev)
}

// FailoverDecision is the outcome of weighing heartbeat evidence against the
// risk of a stalled cluster.
type FailoverDecision struct {
	Failover     bool
	MaxHeartbeat int64
}

// computeFailover decides whether a timed-out follower should take over.
// Heartbeats newer than our own knowledge prove some nodes still hear a
// leader; if those nodes plus the unreachable leader could form a majority,
// the leader may simply be partitioned away from us and we stand down.
// Otherwise we accept the risk of a leader duel over a stalled cluster.
func computeFailover(leaderHeartbeat int64, clusterSize int, votes map[NodeID]PrepareResponse) FailoverDecision {
	var largerHeartbeats []int64
	for _, vote := range votes {
		if nack, ok := vote.(PrepareNack); ok && nack.LeaderHeartbeat > leaderHeartbeat {
			largerHeartbeats = append(largerHeartbeats, nack.LeaderHeartbeat)
		}
	}

	maxHeartbeat := leaderHeartbeat
	for _, hb := range largerHeartbeats {
		if hb > maxHeartbeat {
			maxHeartbeat = hb
		}
	}

	failover := true
	if len(largerHeartbeats) > 0 && len(largerHeartbeats)+1 > clusterSize/2 {
		failover = false
	}
	return FailoverDecision{Failover: failover, MaxHeartbeat: maxHeartbeat}
}
