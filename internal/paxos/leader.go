package paxos

func (a *algorithm) leaderHandle(agent *Agent, ev *event) error {
	switch msg := ev.msg.(type) {
	case ClientRequest:
		return a.leaderIntake(agent, msg, ev)
	case AcceptAck:
		return a.processAcceptResponse(agent, msg.ID, msg.From, true, ev)
	case AcceptNack:
		return a.processAcceptResponse(agent, msg.ID, msg.From, false, ev)
	case Prepare:
		if agent.Data.Epoch != nil && msg.ID.Number.GreaterThan(*agent.Data.Epoch) {
			a.logger.Infof("[paxos] leader %d saw prepare %s above epoch, backing down", agent.NodeID, msg.ID)
			a.backdown(agent, ev)
		}
		return a.handlePrepare(agent, msg, ev)
	case PrepareAck:
		// slots still being recovered from before promotion
		return a.recovererPrepareResponse(agent, msg, ev)
	case PrepareNack:
		return a.recovererPrepareResponse(agent, msg, ev)
	case Accept:
		if agent.Data.Epoch != nil && msg.ID.Number.GreaterThan(*agent.Data.Epoch) {
			a.logger.Infof("[paxos] leader %d saw accept %s above epoch, backing down", agent.NodeID, msg.ID)
			a.backdown(agent, ev)
		}
		return a.handleAccept(agent, msg, ev)
	case Commit:
		if agent.Data.Epoch != nil && msg.ID.Number.GreaterThan(*agent.Data.Epoch) {
			a.logger.Infof("[paxos] leader %d saw commit %s above epoch, backing down", agent.NodeID, msg.ID)
			a.backdown(agent, ev)
		}
		return a.followerCommit(agent, msg, ev)
	case Heartbeat:
		if msg.Counter > agent.Data.LeaderHeartbeat {
			agent.Data.LeaderHeartbeat = msg.Counter
		}
		return nil
	case RetransmitRequest:
		return a.handleRetransmitRequest(agent, msg, ev)
	case RetransmitResponse:
		return a.handleRetransmitResponse(agent, msg, ev)
	default:
		a.logger.Debugf("[paxos] leader %d ignoring %s", agent.NodeID, ev.msg.Kind())
		return nil
	}
}

// leaderIntake sequences a client command into the next free slot: one past
// everything in flight, everything awaiting commit and everything committed.
func (a *algorithm) leaderIntake(agent *Agent, req ClientRequest, ev *event) error {
	slot := agent.Data.Progress.HighestCommitted.Slot
	for id := range agent.Data.AcceptResponses {
		if id.Slot > slot {
			slot = id.Slot
		}
	}
	for id := range agent.Data.ClientCommands {
		if id.Slot > slot {
			slot = id.Slot
		}
	}
	slot++

	id := Identifier{From: agent.NodeID, Number: *agent.Data.Epoch, Slot: slot}
	agent.Data.ClientCommands[id] = ClientCommand{Value: req.Value, Reply: ev.sender}
	a.logger.Debugf("[paxos] leader %d sequencing client command %s at slot %d",
		agent.NodeID, req.Value.ClientMsgID, slot)
	a.metrics.RecordClientCommand()
	return a.proposeAccept(agent, Accept{ID: id, Value: req.Value}, ev)
}

// leaderTick resends undecided accepts and keeps the lease alive with a
// monotonically increasing heartbeat.
func (a *algorithm) leaderTick(agent *Agent, now Tick, ev *event) error {
	a.resendExpiredAccepts(agent, now, ev)

	if now < agent.Data.Timeout {
		return nil
	}
	agent.Data.LeaderHeartbeat++
	ev.send(Heartbeat{From: agent.NodeID, Counter: agent.Data.LeaderHeartbeat})
	agent.Data.Timeout = now + a.heartbeatInterval
	a.metrics.RecordHeartbeatSent()
	return nil
}
