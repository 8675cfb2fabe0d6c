package driver

import (
	"errors"
	"math/rand"
	"time"

	"github.com/yangcancai/ra/internal/pubsub"
	"github.com/yangcancai/ra/internal/raft"
)

const (
	// DefaultBroadcastTime is the base interval election and heartbeat timers derive
	// from.
	DefaultBroadcastTime = 100 * time.Millisecond

	// DefaultSyncInterval is the delay of the one-shot sync timer used for batched
	// log flushing.
	DefaultSyncInterval = 10 * time.Millisecond

	// VoteRPCTimeout bounds each transient vote-request task. A candidate that cannot
	// reach a peer within it casts the failure back and moves on.
	VoteRPCTimeout = 500 * time.Millisecond

	// ProxyStopGrace is how long the driver waits for the replication proxy to drain
	// on an orderly stop.
	ProxyStopGrace = 100 * time.Millisecond

	// mailboxSize bounds the inbound event queue. Posts beyond it block the sender,
	// which is the natural backpressure for a single-task driver.
	mailboxSize = 256

	// outboxSize bounds the fire-and-forget send queue. Messages beyond it are
	// dropped, as a lossy transport would.
	outboxSize = 256
)

// Config assembles everything a node driver needs to start.
type Config struct {
	// ID is this node's address within the group. Required.
	ID raft.NodeID

	// Cluster maps every group member to its metadata. Passed to the decision core
	// on init.
	Cluster map[raft.NodeID]raft.Peer

	// Machine is the decision core. Required.
	Machine raft.Machine

	// Transport delivers messages to peers. Required.
	Transport raft.Transport

	// Log is the log store handed to the decision core on init.
	Log raft.LogStore

	// MachineState is the initial user state machine value handed to the decision
	// core on init.
	MachineState any

	// BroadcastTime is the timer derivation unit. Defaults to DefaultBroadcastTime.
	BroadcastTime time.Duration

	// SyncInterval is the sync timer delay. Defaults to DefaultSyncInterval.
	SyncInterval time.Duration

	// Metrics is an optional collector.
	Metrics Collector

	// Bus carries node lifecycle notifications (role changes, leader changes,
	// consensus notifications, shutdown) to subscribed listeners. When nil the driver
	// creates and owns one.
	Bus *pubsub.NodeBus

	// Rand is the PRNG for election timer randomization. It must be seeded per node;
	// tests inject a deterministic one. When nil a time-seeded source is used.
	Rand *rand.Rand
}

func (c *Config) validate() error {
	if !c.ID.Known() {
		return errors.New("config: node id is required")
	}
	if c.Machine == nil {
		return errors.New("config: decision core is required")
	}
	if c.Transport == nil {
		return errors.New("config: transport is required")
	}
	if c.BroadcastTime < 0 || c.SyncInterval < 0 {
		return errors.New("config: negative timer interval")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BroadcastTime == 0 {
		out.BroadcastTime = DefaultBroadcastTime
	}
	if out.SyncInterval == 0 {
		out.SyncInterval = DefaultSyncInterval
	}
	if out.Rand == nil {
		out.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return out
}
