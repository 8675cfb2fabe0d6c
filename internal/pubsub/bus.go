package pubsub

import (
	"github.com/yangcancai/ra/internal/raft"
)

// RoleChange is published on every role transition of a node.
type RoleChange struct {
	From raft.Role
	To   raft.Role
	Term uint64
}

// LeaderChange is published when the leader observed by a node changes to a known
// peer.
type LeaderChange struct {
	Leader raft.NodeID
	Term   uint64
}

// NodeBus groups the notification streams a node driver publishes over its lifetime:
// role transitions, observed leader changes, consensus notifications for
// notify-on-consensus commands, and the final shutdown signal. Each stream is its own
// typed Topic, so a listener subscribes only to what it needs.
type NodeBus struct {
	RoleChanges   *Topic[RoleChange]
	LeaderChanges *Topic[LeaderChange]
	Consensus     *Topic[raft.Notification]
	Shutdown      *Topic[struct{}]
}

func NewNodeBus() *NodeBus {
	return &NodeBus{
		RoleChanges:   NewTopic[RoleChange](),
		LeaderChanges: NewTopic[LeaderChange](),
		Consensus:     NewTopic[raft.Notification](),
		Shutdown:      NewTopic[struct{}](),
	}
}

// Close ends every stream on the bus.
func (b *NodeBus) Close() {
	b.RoleChanges.Close()
	b.LeaderChanges.Close()
	b.Consensus.Close()
	b.Shutdown.Close()
}
