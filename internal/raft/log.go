package raft

// LogStore is the persistent log a decision core builds on. Implementations live in
// internal/raft/storage (bbolt-backed and in-memory). The persistent-state operations
// cover Section 5.2 from the [Raft paper](https://raft.github.io/raft.pdf): "updated on
// stable storage before responding to RPCs".
type LogStore interface {
	// AppendEntry appends a single log entry to the log
	AppendEntry(entry *LogEntry) error

	// AppendEntries appends multiple log entries to the log
	AppendEntries(entries []*LogEntry) error

	// GetEntry retrieves a log entry at the specified index
	GetEntry(index uint64) (*LogEntry, error)

	// GetEntries retrieves log entries from startIndex (inclusive) to endIndex (inclusive)
	GetEntries(startIndex, endIndex uint64) ([]*LogEntry, error)

	// DeleteEntriesFrom deletes all log entries starting from the given index (inclusive).
	// This is used to resolve log conflicts as per Section 5.3
	DeleteEntriesFrom(index uint64) error

	// TruncateBefore drops all entries up to and including the given index after a
	// snapshot released them.
	TruncateBefore(index uint64) error

	// GetLastIndex returns the index of the last log entry (0 if log is empty)
	GetLastIndex() (uint64, error)

	// GetLastTerm returns the term of the last log entry (0 if log is empty)
	GetLastTerm() (uint64, error)

	// GetCurrentTerm retrieves the current term from persistent storage
	GetCurrentTerm() (uint64, error)

	// SetCurrentTerm persists the current term to storage
	SetCurrentTerm(term uint64) error

	// GetVotedFor retrieves the candidate ID this node voted for in the current term
	GetVotedFor() (*NodeID, error)

	// SetVotedFor persists the candidate ID this node voted for
	SetVotedFor(candidateID *NodeID) error

	// Close closes the storage connection
	Close() error
}
