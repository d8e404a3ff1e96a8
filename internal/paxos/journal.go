package paxos

// Journal is the durable store a replica writes through. Implementations
// must make SaveProgress and Accept crash-atomic and durable before they
// return: the dispatcher relies on every journal write from one event being
// on disk before any message from that event reaches the wire.
//
// After a crash, the visible journal state must equal some prefix of the
// sequence of writes issued — a later write must never survive an earlier
// one it followed.
type Journal interface {
	// LoadProgress returns the persisted progress; called once at boot.
	LoadProgress() (Progress, error)

	// SaveProgress durably replaces the progress record.
	SaveProgress(p Progress) error

	// Accept durably records one or more accepts in a single atomic write.
	Accept(accepts ...Accept) error

	// Accepted returns the accept stored for slot, or nil if none.
	Accepted(slot SlotIndex) (*Accept, error)

	// Bounds returns the inclusive slot range for which Accepted may return
	// a record. min > max means the journal holds no accepts. Retention is
	// host policy; Bounds must truthfully describe what Accepted can answer.
	Bounds() (min, max SlotIndex, err error)

	// Close releases the underlying store.
	Close() error
}

// JournalBounds is the inclusive retained range reported by a journal.
type JournalBounds struct {
	Min SlotIndex
	Max SlotIndex
}

// Empty reports whether the journal holds no accepts.
func (b JournalBounds) Empty() bool {
	return b.Min > b.Max
}
