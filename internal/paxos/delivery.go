package paxos

import "fmt"

// deliverValue hands one committed value to the host executor. NoOp slots
// advance progress without side-effects. Membership changes are not yet
// implemented and kill the replica rather than silently diverge.
func (a *algorithm) deliverValue(slot SlotIndex, v Value) ([]byte, error) {
	switch v.Kind {
	case NoOpValue:
		return nil, nil
	case ClientCommandValue:
		result, err := a.deliver.Deliver(Payload{
			DeliveryID:  slot,
			ClientMsgID: v.ClientMsgID,
			Command:     v.Command,
		})
		if err != nil {
			return nil, fmt.Errorf("deliver slot %d: %w", slot, err)
		}
		a.metrics.RecordDelivered()
		return result, nil
	case MembershipValue:
		return nil, ErrNotImplemented
	default:
		return nil, fmt.Errorf("unknown value kind %v at slot %d", v.Kind, slot)
	}
}

// deliverAccept applies one accept in the order the safety argument needs:
// deliver into the host first, persist the advanced progress after, and only
// then answer a waiting client. A crash between deliver and the progress
// write re-delivers the same payload; the host's dedupe id absorbs it.
func (a *algorithm) deliverAccept(agent *Agent, acc Accept, ev *event) error {
	result, err := a.deliverValue(acc.ID.Slot, acc.Value)
	if err != nil {
		return err
	}

	agent.Data.Progress.HighestCommitted = acc.ID
	if err := a.journal.SaveProgress(agent.Data.Progress); err != nil {
		return fmt.Errorf("%w: save progress: %v", ErrJournalFailure, err)
	}

	if cmd, ok := agent.Data.ClientCommands[acc.ID]; ok {
		ev.replyToClient(cmd.Reply, cmd.Value.ClientMsgID, result, nil)
		delete(agent.Data.ClientCommands, acc.ID)
	}
	return nil
}

// deliverContiguous walks the journal from the committed watermark toward
// target, delivering every accept it finds. It stops at the first slot the
// journal does not hold and reports how far it got; a slot inside the
// journal's claimed bounds with no accept is corruption and is fatal.
func (a *algorithm) deliverContiguous(agent *Agent, target SlotIndex, ev *event) (SlotIndex, error) {
	lo, hi, err := a.journal.Bounds()
	if err != nil {
		return agent.Data.Progress.HighestCommitted.Slot, fmt.Errorf("%w: bounds: %v", ErrJournalFailure, err)
	}

	for slot := agent.Data.Progress.HighestCommitted.Slot + 1; slot <= target; slot++ {
		acc, err := a.journal.Accepted(slot)
		if err != nil {
			return agent.Data.Progress.HighestCommitted.Slot, fmt.Errorf("%w: accepted(%d): %v", ErrJournalFailure, slot, err)
		}
		if acc == nil {
			if slot >= lo && slot <= hi {
				return agent.Data.Progress.HighestCommitted.Slot,
					fmt.Errorf("%w: slot %d inside bounds [%d,%d]", ErrMissingAccept, slot, lo, hi)
			}
			break
		}
		if err := a.deliverAccept(agent, *acc, ev); err != nil {
			return agent.Data.Progress.HighestCommitted.Slot, err
		}
	}
	return agent.Data.Progress.HighestCommitted.Slot, nil
}
