package raft

// Effect is a side effect requested by the decision core and executed by the role
// driver. The decision core itself never performs I/O; it only describes it. The set
// is closed so the driver's interpreter can match exhaustively and a new variant
// becomes a compile-time obligation.
type Effect interface {
	isEffect()
}

// NextEvent injects an event into the driver's own queue. It is processed after the
// current handler returns, ahead of other pending inbound events, and preserves the
// originating event's class.
type NextEvent struct {
	Class EventClass
	Event Event
}

// SendMsg sends a fire-and-forget message to a peer.
type SendMsg struct {
	To  NodeID
	Msg any
}

// Notify delivers an asynchronous consensus notification to a client handle.
type Notify struct {
	To    NotifyTarget
	Reply Notification
}

// ReplyEffect queues a reply. With a nil To the reply is bound to the caller of the
// event currently being handled, which therefore must be a Call; the decision core
// emitting a bare reply outside a call context is a protocol violation and fatal.
type ReplyEffect struct {
	To    *ReplyTo
	Reply Reply
}

// SendVoteRequests spawns one transient task per peer, each performing a synchronous
// vote call with a short timeout and casting the result back to the driver.
type SendVoteRequests struct {
	Requests []VoteRequestTo
}

// SendRPCs routes an append-entries batch to the replication proxy, creating the proxy
// if it is absent. Urgent batches bypass the proxy's coalescing.
type SendRPCs struct {
	Urgent bool
	Batch  []RPC
}

// ReleaseCursor asks the decision core to take a snapshot up to Index.
type ReleaseCursor struct {
	Index uint64
}

// SnapshotPoint asks the decision core to record a candidate snapshot point at Index.
type SnapshotPoint struct {
	Index uint64
}

// ScheduleSync arms the sync timer if it is not already armed.
type ScheduleSync struct{}

func (NextEvent) isEffect()        {}
func (SendMsg) isEffect()          {}
func (Notify) isEffect()           {}
func (ReplyEffect) isEffect()      {}
func (SendVoteRequests) isEffect() {}
func (SendRPCs) isEffect()         {}
func (ReleaseCursor) isEffect()    {}
func (SnapshotPoint) isEffect()    {}
func (ScheduleSync) isEffect()     {}
