package paxos

import "fmt"

// becomeRecoverer starts the takeover: promise ourselves a ballot above
// anything we have seen, durably commit that promise, and prepare every slot
// from the committed watermark through one past the highest accept we hold.
// The range comes from the local journal only, not from responder evidence.
func (a *algorithm) becomeRecoverer(agent *Agent, ev *event) error {
	highest := maxBallot(agent.Data.Progress.HighestPromised, agent.Data.Progress.HighestCommitted.Number)
	selfPromise := BallotNumber{Counter: highest.Counter + 1, NodeID: agent.NodeID}

	firstSlot := agent.Data.Progress.HighestCommitted.Slot + 1
	maxAccepted, err := highestAcceptedSlot(a.journal, agent.Data.Progress.HighestCommitted.Slot)
	if err != nil {
		return fmt.Errorf("%w: bounds: %v", ErrJournalFailure, err)
	}
	lastSlot := max(firstSlot, maxAccepted+1)

	agent.Data.Progress.HighestPromised = selfPromise
	if err := a.journal.SaveProgress(agent.Data.Progress); err != nil {
		return fmt.Errorf("%w: save progress: %v", ErrJournalFailure, err)
	}

	agent.Role = Recoverer
	agent.Data.Epoch = &selfPromise
	agent.Data.PrepareResponses = make(map[Identifier]map[NodeID]PrepareResponse)
	agent.Data.Timeout = a.freshTimeout()

	for slot := firstSlot; slot <= lastSlot; slot++ {
		id := Identifier{From: agent.NodeID, Number: selfPromise, Slot: slot}
		accepted, err := a.journal.Accepted(slot)
		if err != nil {
			return fmt.Errorf("%w: accepted(%d): %v", ErrJournalFailure, slot, err)
		}
		agent.Data.PrepareResponses[id] = map[NodeID]PrepareResponse{
			agent.NodeID: PrepareAck{
				ID:                  id,
				From:                agent.NodeID,
				Progress:            agent.Data.Progress,
				HighestAcceptedSlot: maxAccepted,
				LeaderHeartbeat:     agent.Data.LeaderHeartbeat,
				HighestAccepted:     accepted,
			},
		}
		ev.send(Prepare{ID: id})
	}

	a.logger.Infof("[paxos] node %d recovering slots [%d,%d] at ballot %s",
		agent.NodeID, firstSlot, lastSlot, selfPromise)
	a.metrics.RecordFailover()
	return nil
}

func (a *algorithm) recovererHandle(agent *Agent, ev *event) error {
	switch msg := ev.msg.(type) {
	case Prepare:
		if agent.Data.Epoch != nil && msg.ID.Number.GreaterThan(*agent.Data.Epoch) {
			a.backdown(agent, ev)
		}
		return a.handlePrepare(agent, msg, ev)
	case PrepareAck:
		return a.recovererPrepareResponse(agent, msg, ev)
	case PrepareNack:
		return a.recovererPrepareResponse(agent, msg, ev)
	case Accept:
		if agent.Data.Epoch != nil && msg.ID.Number.GreaterThan(*agent.Data.Epoch) {
			a.backdown(agent, ev)
		}
		return a.handleAccept(agent, msg, ev)
	case AcceptAck:
		return a.processAcceptResponse(agent, msg.ID, msg.From, true, ev)
	case AcceptNack:
		return a.processAcceptResponse(agent, msg.ID, msg.From, false, ev)
	case Commit:
		if agent.Data.Epoch != nil && msg.ID.Number.GreaterThan(*agent.Data.Epoch) {
			a.backdown(agent, ev)
		}
		return a.followerCommit(agent, msg, ev)
	case Heartbeat:
		// evidence only; a recoverer is already committed to the duel
		if msg.Counter > agent.Data.LeaderHeartbeat {
			agent.Data.LeaderHeartbeat = msg.Counter
		}
		return nil
	case ClientRequest:
		ev.send(NotLeader{NodeID: agent.NodeID, ClientMsgID: msg.Value.ClientMsgID})
		return nil
	case RetransmitRequest:
		return a.handleRetransmitRequest(agent, msg, ev)
	case RetransmitResponse:
		return a.handleRetransmitResponse(agent, msg, ev)
	default:
		a.logger.Debugf("[paxos] recoverer %d ignoring %s", agent.NodeID, ev.msg.Kind())
		return nil
	}
}

// recovererTick resends whatever is still undecided: accepts whose own
// deadline passed, and, on the role timeout, every prepare that still lacks
// a majority.
func (a *algorithm) recovererTick(agent *Agent, now Tick, ev *event) error {
	a.resendExpiredAccepts(agent, now, ev)

	if now < agent.Data.Timeout {
		return nil
	}
	for _, id := range slotOrdered(agent.Data.PrepareResponses) {
		votes := agent.Data.PrepareResponses[id]
		if !a.quorum.Reached(len(votes), agent.Data.ClusterSize) {
			ev.send(Prepare{ID: id})
		}
	}
	agent.Data.Timeout = a.freshTimeout()
	return nil
}

// recovererPrepareResponse gathers promises. Once a slot has a majority the
// decision is taken: back down if anyone promised past us, otherwise
// broadcast an accept carrying the highest-ballot value any voter reported,
// or a no-op if the slot was never touched. Choosing the highest-ballot
// accept is the Paxos safety rule; anything else could overwrite a chosen
// value.
func (a *algorithm) recovererPrepareResponse(agent *Agent, resp PrepareResponse, ev *event) error {
	id := resp.ResponseID()
	votes, outstanding := agent.Data.PrepareResponses[id]
	if !outstanding {
		a.logger.Debugf("[paxos] recoverer %d ignoring resolved prepare %s", agent.NodeID, id)
		return nil
	}

	votes[resp.ResponseFrom()] = resp
	if !a.quorum.Reached(len(votes), agent.Data.ClusterSize) {
		return nil
	}

	epoch := *agent.Data.Epoch
	for _, vote := range votes {
		if nack, ok := vote.(PrepareNack); ok && nack.Progress.HighestPromised.GreaterThan(epoch) {
			a.logger.Infof("[paxos] recoverer %d saw promise %s above own ballot %s, backing down",
				agent.NodeID, nack.Progress.HighestPromised, epoch)
			a.backdown(agent, ev)
			return nil
		}
	}

	value := NoOp()
	var chosen *Accept
	for _, vote := range votes {
		ack, ok := vote.(PrepareAck)
		if !ok || ack.HighestAccepted == nil {
			continue
		}
		if chosen == nil || ack.HighestAccepted.ID.Number.GreaterThan(chosen.ID.Number) {
			chosen = ack.HighestAccepted
		}
	}
	if chosen != nil {
		value = chosen.Value
	}

	accept := Accept{
		ID:    Identifier{From: agent.NodeID, Number: epoch, Slot: id.Slot},
		Value: value,
	}
	delete(agent.Data.PrepareResponses, id)
	return a.proposeAccept(agent, accept, ev)
}

// proposeAccept journals our own vote for the accept, opens its response
// tally with the self-ack and broadcasts it.
func (a *algorithm) proposeAccept(agent *Agent, accept Accept, ev *event) error {
	if err := a.journal.Accept(accept); err != nil {
		return fmt.Errorf("%w: accept: %v", ErrJournalFailure, err)
	}
	agent.Data.AcceptResponses[accept.ID] = &AcceptResponses{
		Timeout:   a.clock.Now() + a.acceptTimeout,
		Accept:    accept,
		Responses: map[NodeID]bool{agent.NodeID: true},
	}
	ev.send(accept)
	return nil
}

// resendExpiredAccepts rebroadcasts undecided accepts whose deadline passed.
func (a *algorithm) resendExpiredAccepts(agent *Agent, now Tick, ev *event) {
	for _, id := range slotOrdered(agent.Data.AcceptResponses) {
		entry := agent.Data.AcceptResponses[id]
		if now >= entry.Timeout {
			entry.Timeout = now + a.acceptTimeout
			ev.send(entry.Accept)
		}
	}
}

// processAcceptResponse tallies one accept vote for recoverer and leader
// alike. A majority of nacks means another node promised past our epoch and
// we back down. A majority of acks lets the contiguous prefix of accepted
// slots commit; for a recoverer, the first committed slot completes the
// takeover and promotes it to leader.
func (a *algorithm) processAcceptResponse(agent *Agent, id Identifier, from NodeID, ack bool, ev *event) error {
	entry, outstanding := agent.Data.AcceptResponses[id]
	if !outstanding {
		a.logger.Debugf("[paxos] node %d ignoring vote for resolved accept %s", agent.NodeID, id)
		return nil
	}
	entry.Responses[from] = ack

	nacks := 0
	for _, v := range entry.Responses {
		if !v {
			nacks++
		}
	}
	if a.quorum.Reached(nacks, agent.Data.ClusterSize) {
		a.logger.Infof("[paxos] node %d accept %s rejected by majority, backing down", agent.NodeID, id)
		a.backdown(agent, ev)
		return nil
	}

	return a.commitAckedPrefix(agent, ev)
}

// commitAckedPrefix commits every slot in the contiguous run of
// majority-acked accepts starting just above the committed watermark, then
// announces the new watermark with a single Commit.
func (a *algorithm) commitAckedPrefix(agent *Agent, ev *event) error {
	var last *Identifier
	for {
		next, ok := a.ackedAcceptAt(agent, agent.Data.Progress.HighestCommitted.Slot+1)
		if !ok {
			break
		}
		if err := a.deliverAccept(agent, next.Accept, ev); err != nil {
			return err
		}
		delete(agent.Data.AcceptResponses, next.Accept.ID)
		id := next.Accept.ID
		last = &id
	}
	if last == nil {
		return nil
	}

	ev.send(Commit{ID: *last})
	a.metrics.RecordCommitted()

	if agent.Role == Recoverer {
		agent.Role = Leader
		agent.Data.Timeout = a.clock.Now() + a.heartbeatInterval
		a.logger.Infof("[paxos] node %d promoted to leader at ballot %s", agent.NodeID, *agent.Data.Epoch)
		a.metrics.RecordLeaderElected()
	}
	return nil
}

// ackedAcceptAt finds the outstanding accept for slot, if it has majority acks.
func (a *algorithm) ackedAcceptAt(agent *Agent, slot SlotIndex) (*AcceptResponses, bool) {
	for id, entry := range agent.Data.AcceptResponses {
		if id.Slot != slot {
			continue
		}
		acks := 0
		for _, v := range entry.Responses {
			if v {
				acks++
			}
		}
		if a.quorum.Reached(acks, agent.Data.ClusterSize) {
			return entry, true
		}
		return nil, false
	}
	return nil, false
}
