package storage

import (
	"fmt"
	"sync"

	"github.com/yangcancai/ra/internal/raft"
)

// MemoryStore is an in-memory log store for tests and single-node experiments. It
// mirrors the BboltDb semantics without durability, with one difference: after
// TruncateBefore removes every entry, GetLastIndex keeps reporting the previous last
// index, where BboltDb reports 0.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[uint64]*raft.LogEntry
	lastIndex   uint64
	currentTerm uint64
	votedFor    *raft.NodeID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uint64]*raft.LogEntry),
	}
}

func (m *MemoryStore) AppendEntry(entry *raft.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[entry.Index] = entry
	if entry.Index > m.lastIndex {
		m.lastIndex = entry.Index
	}
	return nil
}

func (m *MemoryStore) AppendEntries(entries []*raft.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		m.entries[entry.Index] = entry
		if entry.Index > m.lastIndex {
			m.lastIndex = entry.Index
		}
	}
	return nil
}

func (m *MemoryStore) GetEntry(index uint64) (*raft.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[index]
	if !ok {
		return nil, fmt.Errorf("log entry at index %d not found", index)
	}
	return entry, nil
}

func (m *MemoryStore) GetEntries(startIndex, endIndex uint64) ([]*raft.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*raft.LogEntry
	for i := startIndex; i <= endIndex; i++ {
		if entry, ok := m.entries[i]; ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m *MemoryStore) DeleteEntriesFrom(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := index; i <= m.lastIndex; i++ {
		delete(m.entries, i)
	}
	if index > 0 {
		m.lastIndex = index - 1
	} else {
		m.lastIndex = 0
	}
	// The last remaining entry may sit below index-1 when the log had gaps.
	for m.lastIndex > 0 {
		if _, ok := m.entries[m.lastIndex]; ok {
			break
		}
		m.lastIndex--
	}
	return nil
}

func (m *MemoryStore) TruncateBefore(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if i <= index {
			delete(m.entries, i)
		}
	}
	return nil
}

func (m *MemoryStore) GetLastIndex() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastIndex, nil
}

func (m *MemoryStore) GetLastTerm() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if entry, ok := m.entries[m.lastIndex]; ok {
		return entry.Term, nil
	}
	return 0, nil
}

func (m *MemoryStore) GetCurrentTerm() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTerm, nil
}

func (m *MemoryStore) SetCurrentTerm(term uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTerm = term
	return nil
}

func (m *MemoryStore) GetVotedFor() (*raft.NodeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votedFor, nil
}

func (m *MemoryStore) SetVotedFor(candidateID *raft.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votedFor = candidateID
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
