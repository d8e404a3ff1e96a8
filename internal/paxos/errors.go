package paxos

import "errors"

var (
	// ErrNotStarted is returned when submitting to a node that is not running
	ErrNotStarted = errors.New("paxos node not started")
	// ErrNotLeader is returned to clients that reach a non-leader replica
	ErrNotLeader = errors.New("not the leader")
	// ErrLostLeadership is returned to clients whose commands were pending
	// when the leader backed down; the client must retry
	ErrLostLeadership = errors.New("lost leadership")
	// ErrJournalFailure wraps a failed journal write; fatal for the replica
	ErrJournalFailure = errors.New("journal failure")
	// ErrMissingAccept means the journal claims bounds covering a slot but
	// returned no accept for it; indicates journal corruption
	ErrMissingAccept = errors.New("missing accept in journal")
	// ErrNotImplemented marks the membership-change delivery path
	ErrNotImplemented = errors.New("membership change not yet implemented")
	// ErrInvalidConfig is returned for unusable configurations
	ErrInvalidConfig = errors.New("invalid configuration")
)
