package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/yangcancai/ra/internal/raft"
)

var (
	// Bucket names
	logBucket      = []byte("logs")
	metadataBucket = []byte("metadata")

	// Metadata keys
	currentTermKey = []byte("currentTerm")
	votedForKey    = []byte("votedFor")
)

// BboltDb is the disk-backed log store. Entries are keyed by their big-endian index so
// a bucket cursor walks them in log order.
type BboltDb struct {
	conn *bbolt.DB
}

// NewBboltStorage creates a new BBolt-backed storage instance
func NewBboltStorage(path string) (*BboltDb, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	// Initialize buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucket); err != nil {
			return fmt.Errorf("failed to create log bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(metadataBucket); err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BboltDb{conn: db}, nil
}

// AppendEntry appends a single log entry to the log
func (b *BboltDb) AppendEntry(entry *raft.LogEntry) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		return putEntry(tx.Bucket(logBucket), entry)
	})
}

// AppendEntries appends multiple log entries to the log
func (b *BboltDb) AppendEntries(entries []*raft.LogEntry) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		for _, entry := range entries {
			if err := putEntry(bucket, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func putEntry(bucket *bbolt.Bucket, entry *raft.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	// Use the entry's index as the key
	return bucket.Put(uint64ToBytes(entry.Index), data)
}

// GetEntry retrieves a log entry at the specified index
func (b *BboltDb) GetEntry(index uint64) (*raft.LogEntry, error) {
	var entry *raft.LogEntry
	err := b.conn.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		data := bucket.Get(uint64ToBytes(index))

		if data == nil {
			return fmt.Errorf("log entry at index %d not found", index)
		}

		entry = &raft.LogEntry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		return nil
	})
	return entry, err
}

// GetEntries retrieves log entries from startIndex (inclusive) to endIndex (inclusive)
func (b *BboltDb) GetEntries(startIndex, endIndex uint64) ([]*raft.LogEntry, error) {
	var entries []*raft.LogEntry
	err := b.conn.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)

		for i := startIndex; i <= endIndex; i++ {
			data := bucket.Get(uint64ToBytes(i))
			if data == nil {
				// Skip missing entries
				continue
			}

			entry := &raft.LogEntry{}
			if err := json.Unmarshal(data, entry); err != nil {
				return fmt.Errorf("failed to unmarshal log entry at index %d: %w", i, err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// DeleteEntriesFrom deletes all log entries starting from the given index (inclusive)
func (b *BboltDb) DeleteEntriesFrom(index uint64) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		cursor := bucket.Cursor()

		for k, _ := cursor.Seek(uint64ToBytes(index)); k != nil; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// TruncateBefore drops all entries up to and including the given index after a snapshot
// released them.
func (b *BboltDb) TruncateBefore(index uint64) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		cursor := bucket.Cursor()

		for k, _ := cursor.First(); k != nil && binary.BigEndian.Uint64(k) <= index; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLastIndex returns the index of the last log entry (0 if log is empty)
func (b *BboltDb) GetLastIndex() (uint64, error) {
	var lastIndex uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(logBucket).Cursor()
		if k, _ := cursor.Last(); k != nil {
			lastIndex = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return lastIndex, err
}

// GetLastTerm returns the term of the last log entry (0 if log is empty)
func (b *BboltDb) GetLastTerm() (uint64, error) {
	var lastTerm uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(logBucket).Cursor()
		k, v := cursor.Last()
		if k == nil {
			return nil
		}

		entry := &raft.LogEntry{}
		if err := json.Unmarshal(v, entry); err != nil {
			return fmt.Errorf("failed to unmarshal last log entry: %w", err)
		}
		lastTerm = entry.Term
		return nil
	})
	return lastTerm, err
}

// GetCurrentTerm retrieves the current term from persistent storage
func (b *BboltDb) GetCurrentTerm() (uint64, error) {
	var term uint64
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get(currentTermKey)
		if data != nil {
			term = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return term, err
}

// SetCurrentTerm persists the current term to storage
func (b *BboltDb) SetCurrentTerm(term uint64) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(currentTermKey, uint64ToBytes(term))
	})
}

// GetVotedFor retrieves the candidate ID this node voted for in the current term
func (b *BboltDb) GetVotedFor() (*raft.NodeID, error) {
	var votedFor *raft.NodeID
	err := b.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get(votedForKey)
		if data != nil {
			id := raft.NodeID(data)
			votedFor = &id
		}
		return nil
	})
	return votedFor, err
}

// SetVotedFor persists the candidate ID this node voted for. A nil id clears the vote
// for the new term, as required by the Election Safety Property.
func (b *BboltDb) SetVotedFor(candidateID *raft.NodeID) error {
	return b.conn.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metadataBucket)
		if candidateID == nil {
			return bucket.Delete(votedForKey)
		}
		return bucket.Put(votedForKey, []byte(*candidateID))
	})
}

// Close closes the storage connection
func (b *BboltDb) Close() error {
	return b.conn.Close()
}

func uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
