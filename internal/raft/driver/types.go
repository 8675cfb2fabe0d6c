package driver

import (
	"time"

	"github.com/yangcancai/ra/internal/raft"
)

// envelope is one inbound event in the driver's mailbox, wrapped with its delivery
// class and, for calls, the caller's reply handle.
type envelope struct {
	class raft.EventClass
	event raft.Event
	reply *raft.ReplyTo
}

// pendingCommand is a leader call that arrived with no known leader. It is held until
// the node learns a leader (redirect) or becomes one (replay).
type pendingCommand struct {
	class raft.EventClass
	event raft.Event
	reply *raft.ReplyTo
}

// QueryReply is the value returned by a dirty query: the read position, the query
// result, and the leader as currently known by the queried node (NotKnown when the
// node has none).
type QueryReply struct {
	Index  uint64
	Term   uint64
	Result any
	Leader raft.NodeID
}

// Collector is an optional interface for collecting driver metrics
type Collector interface {
	RecordDispatchLatency(latency time.Duration)
	RecordEvent(role uint64)
	RecordRedirect()
	RecordPendingBuffered()
	RecordPendingReplayed()
	RecordPendingFlushed()
	RecordDirtyQuery()
	RecordEffects(n int)
	RecordElectionReset()
	RecordSyncTick()
	RecordProxyRestart()
	RecordRoleTransition()
}
