package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"paxos-smr/internal/paxos"
)

var (
	// Bucket names
	acceptsBucket  = []byte("accepts")
	progressBucket = []byte("progress")

	// Progress is a single record, last writer wins
	progressKey = []byte("progress")
)

// BboltJournal is a bbolt-backed paxos.Journal. Every write happens inside
// one bbolt transaction, which gives the crash-atomicity and
// durable-before-return behavior the consensus core requires.
type BboltJournal struct {
	conn *bbolt.DB
}

// NewBboltJournal opens (or creates) the journal file at path.
func NewBboltJournal(path string) (*BboltJournal, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	// Initialize buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(acceptsBucket); err != nil {
			return fmt.Errorf("failed to create accepts bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(progressBucket); err != nil {
			return fmt.Errorf("failed to create progress bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BboltJournal{conn: db}, nil
}

// LoadProgress returns the persisted progress, or the initial progress for a
// journal that has never been written.
func (b *BboltJournal) LoadProgress() (paxos.Progress, error) {
	progress := paxos.InitialProgress()
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(progressBucket).Get(progressKey)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &progress); err != nil {
			return fmt.Errorf("failed to unmarshal progress: %w", err)
		}
		return nil
	})
	return progress, err
}

// SaveProgress durably replaces the progress record.
func (b *BboltJournal) SaveProgress(p paxos.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return b.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(progressBucket).Put(progressKey, data)
	})
}

// Accept durably records the given accepts in a single transaction.
func (b *BboltJournal) Accept(accepts ...paxos.Accept) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(acceptsBucket)
		for _, accept := range accepts {
			data, err := json.Marshal(accept)
			if err != nil {
				return fmt.Errorf("failed to marshal accept: %w", err)
			}
			if err := bucket.Put(slotToBytes(accept.ID.Slot), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Accepted returns the accept stored for slot, or nil if none.
func (b *BboltJournal) Accepted(slot paxos.SlotIndex) (*paxos.Accept, error) {
	var accept *paxos.Accept
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(acceptsBucket).Get(slotToBytes(slot))
		if data == nil {
			return nil
		}
		accept = &paxos.Accept{}
		if err := json.Unmarshal(data, accept); err != nil {
			return fmt.Errorf("failed to unmarshal accept at slot %d: %w", slot, err)
		}
		return nil
	})
	return accept, err
}

// Bounds returns the inclusive slot range the journal retains. An empty
// journal reports (1, 0) so min > max signals emptiness.
func (b *BboltJournal) Bounds() (paxos.SlotIndex, paxos.SlotIndex, error) {
	var minSlot, maxSlot paxos.SlotIndex
	err := b.conn.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(acceptsBucket).Cursor()

		first, _ := cursor.First()
		if first == nil {
			minSlot, maxSlot = 1, 0
			return nil
		}
		last, _ := cursor.Last()

		minSlot = bytesToSlot(first)
		maxSlot = bytesToSlot(last)
		return nil
	})
	return minSlot, maxSlot, err
}

// Close closes the journal file.
func (b *BboltJournal) Close() error {
	return b.conn.Close()
}

// Slots are int64 but always positive for real log positions, so the
// big-endian encoding keys the bucket in ascending slot order.
func slotToBytes(slot paxos.SlotIndex) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(slot))
	return b
}

func bytesToSlot(b []byte) paxos.SlotIndex {
	return paxos.SlotIndex(binary.BigEndian.Uint64(b))
}
