package paxos

import "fmt"

// buildRetransmitResponse assembles the accepts a lagging requester needs,
// split at the responder's committed watermark, in ascending slot order. It
// returns nil when the requester has fallen off the retained history (the
// slot after fromSlot is below the journal's lower bound) or when there is
// nothing above fromSlot to send.
func buildRetransmitResponse(
	bounds JournalBounds,
	responderCommitted SlotIndex,
	fromSlot SlotIndex,
	accepted func(SlotIndex) (*Accept, error),
) (*RetransmitResponse, error) {
	if bounds.Empty() {
		return nil, nil
	}
	if fromSlot+1 < bounds.Min {
		return nil, nil
	}

	collect := func(from, to SlotIndex) ([]Accept, error) {
		var out []Accept
		for slot := from; slot <= to; slot++ {
			acc, err := accepted(slot)
			if err != nil {
				return nil, err
			}
			if acc == nil {
				return nil, fmt.Errorf("%w: slot %d inside bounds [%d,%d]",
					ErrMissingAccept, slot, bounds.Min, bounds.Max)
			}
			out = append(out, *acc)
		}
		return out, nil
	}

	committedEnd := min(responderCommitted, bounds.Max)
	committed, err := collect(max(fromSlot+1, bounds.Min), committedEnd)
	if err != nil {
		return nil, err
	}

	uncommitted, err := collect(max(responderCommitted+1, bounds.Min), bounds.Max)
	if err != nil {
		return nil, err
	}

	if len(committed) == 0 && len(uncommitted) == 0 {
		return nil, nil
	}
	return &RetransmitResponse{Committed: committed, Uncommitted: uncommitted}, nil
}

// contiguousCommittableAccepts returns the run of accepts that extends the
// committed log without a gap: leading entries at or below the current slot
// are dropped, then slots must increase by exactly one starting at
// current.Slot+1. A misordered sender is a bug, but the receiver truncates
// rather than reorders.
func contiguousCommittableAccepts(current Identifier, seq []Accept) []Accept {
	i := 0
	for i < len(seq) && seq[i].ID.Slot <= current.Slot {
		i++
	}
	var run []Accept
	next := current.Slot + 1
	for ; i < len(seq); i++ {
		if seq[i].ID.Slot != next {
			break
		}
		run = append(run, seq[i])
		next++
	}
	return run
}

// handleRetransmitResponse catches the replica up from a peer's history. The
// order is deliver, then save progress, then journal accepts: reversing it
// could forget a committed value after a crash, which is the one thing this
// subprotocol must never do.
func (a *algorithm) handleRetransmitResponse(agent *Agent, resp RetransmitResponse, ev *event) error {
	committable := contiguousCommittableAccepts(agent.Data.Progress.HighestCommitted, resp.Committed)

	for _, acc := range committable {
		if _, err := a.deliverValue(acc.ID.Slot, acc.Value); err != nil {
			return err
		}
		a.metrics.RecordRetransmitApplied()
	}

	newProgress := agent.Data.Progress
	if n := len(committable); n > 0 {
		newProgress.HighestCommitted = committable[n-1].ID
	}
	for _, acc := range resp.Committed {
		if acc.ID.Number.GreaterThanOrEqual(agent.Data.Progress.HighestPromised) {
			newProgress.HighestPromised = maxBallot(newProgress.HighestPromised, acc.ID.Number)
		}
	}
	for _, acc := range resp.Uncommitted {
		if acc.ID.Number.GreaterThanOrEqual(agent.Data.Progress.HighestPromised) {
			newProgress.HighestPromised = maxBallot(newProgress.HighestPromised, acc.ID.Number)
		}
	}

	if err := a.journal.SaveProgress(newProgress); err != nil {
		return fmt.Errorf("%w: save progress: %v", ErrJournalFailure, err)
	}
	agent.Data.Progress = newProgress

	var acceptable []Accept
	for _, acc := range resp.Committed {
		if acc.ID.Number.GreaterThanOrEqual(newProgress.HighestPromised) {
			acceptable = append(acceptable, acc)
		}
	}
	for _, acc := range resp.Uncommitted {
		if acc.ID.Number.GreaterThanOrEqual(newProgress.HighestPromised) {
			acceptable = append(acceptable, acc)
		}
	}
	if len(acceptable) > 0 {
		if err := a.journal.Accept(acceptable...); err != nil {
			return fmt.Errorf("%w: accept: %v", ErrJournalFailure, err)
		}
	}
	return nil
}
