package raft

import "context"

// InitConfig is what the decision core receives on init. ID and Cluster are always
// present; Log and MachineState are the collaborators the node was booted with.
type InitConfig struct {
	ID           NodeID
	Cluster      map[NodeID]Peer
	Log          LogStore
	MachineState any
}

// Machine is the pure Raft decision core: a referentially transparent function from
// (role, node state, event) to (next role, node state, effects). The driver invokes it
// synchronously and never concurrently with itself. Handlers talk to the outside world
// only through the returned effects; the log store the core was initialized with is
// core-owned and the one thing it writes directly.
//
// The shape is inspired by the FSM split in
// [Hashicorp's Raft impl](https://github.com/hashicorp/raft/blob/main/fsm.go), with the
// role handlers made explicit.
type Machine interface {
	// Init builds the initial node state.
	Init(cfg InitConfig) *NodeState

	// HandleFollower handles one event while Follower. The returned role is Follower
	// or Candidate.
	HandleFollower(ev Event, st *NodeState) (Role, *NodeState, []Effect)

	// HandleCandidate handles one event while Candidate. The returned role is
	// Candidate, Follower or Leader.
	HandleCandidate(ev Event, st *NodeState) (Role, *NodeState, []Effect)

	// HandleLeader handles one event while Leader. The returned role is Leader,
	// Follower or Shutdown.
	HandleLeader(ev Event, st *NodeState) (Role, *NodeState, []Effect)

	// MakeRPCs rebuilds the current append-entries batch for all peers. The driver
	// uses it to recover the replication proxy after a crash.
	MakeRPCs(st *NodeState) []RPC

	// MaybeSnapshot takes a snapshot up to index if one is due.
	MaybeSnapshot(index uint64, st *NodeState) *NodeState

	// RecordSnapshotPoint records a candidate snapshot point at index.
	RecordSnapshotPoint(index uint64, st *NodeState) *NodeState

	// Terminate releases whatever the core holds. Called once, on driver shutdown.
	Terminate(st *NodeState)
}

// Transport delivers messages to peers by node id. The gRPC implementation lives in
// internal/raft/transport; tests substitute an in-memory one.
type Transport interface {
	// RequestVote performs a synchronous vote call against one peer.
	RequestVote(ctx context.Context, to NodeID, req *RequestVoteRequest) (*RequestVoteResponse, error)

	// AppendEntries sends one append-entries request to a peer and reports the result.
	AppendEntries(ctx context.Context, to NodeID, req *AppendEntriesRequest) (*AppendEntriesResponse, error)

	// SendMessage delivers a fire-and-forget message to a peer.
	SendMessage(ctx context.Context, to NodeID, msg any) error

	// ForwardCommand forwards a client command to a node on another host and returns
	// its reply. The client wrapper uses it to follow redirects off-host.
	ForwardCommand(ctx context.Context, to NodeID, cmd *Command) (Reply, error)
}
