package driver

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/yangcancai/ra/internal/pubsub"
	"github.com/yangcancai/ra/internal/raft"
	"github.com/yangcancai/ra/internal/raft/proxy"
)

// Driver is the per-node role driver: a single-task cooperative state machine that
// serializes all inbound events, dispatches each one to the decision core under the
// current role, and executes the effects the core returns. The decision core is
// invoked synchronously and never concurrently with itself; there is no shared mutable
// state between the driver task and any other task except via message passing.
type Driver struct {
	cfg       Config
	machine   raft.Machine
	transport raft.Transport
	metrics   Collector
	bus       *pubsub.NodeBus
	ownBus    bool

	// State below is owned exclusively by the run() goroutine.
	role  raft.Role
	state *raft.NodeState

	mailbox  chan envelope
	injected []envelope
	pending  []pendingCommand
	outbox   chan outMsg

	proxy         *proxy.Proxy
	syncScheduled bool
	syncTimer     *time.Timer

	electionTimer *time.Timer
	rng           *rand.Rand

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Start boots a node driver: the decision core is initialized, the node is registered
// under its id, and the dispatch loop plus its timer jobs begin running. The initial
// role is always Follower.
func Start(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	d := &Driver{
		cfg:       cfg,
		machine:   cfg.Machine,
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		bus:       cfg.Bus,
		role:      raft.Follower,
		mailbox:   make(chan envelope, mailboxSize),
		outbox:    make(chan outMsg, outboxSize),
		rng:       cfg.Rand,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if d.bus == nil {
		d.bus = pubsub.NewNodeBus()
		d.ownBus = true
	}

	d.state = d.machine.Init(raft.InitConfig{
		ID:           cfg.ID,
		Cluster:      cfg.Cluster,
		Log:          cfg.Log,
		MachineState: cfg.MachineState,
	})

	if err := register(d); err != nil {
		if d.ownBus {
			d.bus.Close()
		}
		return nil, err
	}

	d.electionTimer = time.NewTimer(raft.FollowerTimeout(d.rng, cfg.BroadcastTime))

	log.Printf("[DRIVER-%s] Started as %v with %d cluster members", d.cfg.ID, d.role, len(cfg.Cluster))

	go d.trackElectionTimeoutJob()
	go d.sendOutboxJob()
	go d.run()

	return d, nil
}

// ID returns the node id the driver is registered under.
func (d *Driver) ID() raft.NodeID {
	return d.cfg.ID
}

// Bus returns the bus the driver publishes lifecycle notifications on.
func (d *Driver) Bus() *pubsub.NodeBus {
	return d.bus
}

// Stop shuts the driver down and waits for the dispatch loop to exit.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	<-d.doneCh
}

// Done is closed once the dispatch loop has exited.
func (d *Driver) Done() <-chan struct{} {
	return d.doneCh
}

// post delivers an envelope to the mailbox unless the driver is stopping.
func (d *Driver) post(env envelope) {
	select {
	case d.mailbox <- env:
	case <-d.stopCh:
	}
}

// call posts a Call envelope and waits for the bound reply.
func (d *Driver) call(event raft.Event, timeout time.Duration) (raft.Reply, error) {
	replyTo := raft.NewReplyTo()
	env := envelope{class: raft.Call, event: event, reply: replyTo}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case d.mailbox <- env:
	case <-d.stopCh:
		return raft.Reply{}, fmt.Errorf("%w: %s", ErrNoProc, d.cfg.ID)
	case <-deadline.C:
		return raft.Reply{}, &TimeoutError{Server: d.cfg.ID}
	}

	select {
	case reply := <-replyTo.C:
		return reply, nil
	case <-deadline.C:
		return raft.Reply{}, &TimeoutError{Server: d.cfg.ID}
	}
}

// cast posts a Cast envelope.
func (d *Driver) cast(event raft.Event) {
	d.post(envelope{class: raft.Cast, event: event})
}

// info posts an Info envelope.
func (d *Driver) info(event raft.Event) {
	d.post(envelope{class: raft.Info, event: event})
}

// run is the dispatch loop. All role state, the pending buffer and the proxy handle
// are touched only here.
func (d *Driver) run() {
	defer d.cleanup()

	for {
		env, ok := d.next()
		if !ok {
			return
		}

		start := time.Now()
		if !d.handle(env) {
			// The decision core requested an orderly stop; its final effects have
			// already been applied.
			return
		}
		if d.metrics != nil {
			d.metrics.RecordDispatchLatency(time.Since(start))
		}
	}
}

// next dequeues the next envelope. Injected next_event effects are delivered ahead of
// other pending inbound events.
func (d *Driver) next() (envelope, bool) {
	if len(d.injected) > 0 {
		env := d.injected[0]
		d.injected = d.injected[1:]
		return env, true
	}

	select {
	case env := <-d.mailbox:
		return env, true
	case <-d.stopCh:
		return envelope{}, false
	}
}

// handle processes one envelope. It returns false when the driver must terminate.
func (d *Driver) handle(env envelope) bool {
	switch ev := env.event.(type) {
	case raft.LeaderCall:
		return d.handleLeaderCall(env, ev)

	case raft.DirtyQuery:
		d.handleDirtyQuery(env, ev)
		d.rearmElectionTimer()
		return true

	case raft.StateQuery:
		// Reached while Leader, unwrapped from a leader call. The decision core has
		// no state-query operation; the driver answers from the visible node state.
		d.handleStateQuery(env, ev)
		return true

	case raft.SyncTick:
		// Cleared before the pseudo-event reaches the decision core, so the next
		// schedule_sync effect arms a fresh timer.
		d.syncScheduled = false
		if d.metrics != nil {
			d.metrics.RecordSyncTick()
		}
		return d.dispatch(env)

	case raft.ProxyExit:
		d.handleProxyExit(ev)
		d.rearmElectionTimer()
		return true

	default:
		return d.dispatch(env)
	}
}

// handleLeaderCall implements the leader-call triage: unwrap when Leader, redirect
// when a leader is known, buffer otherwise.
func (d *Driver) handleLeaderCall(env envelope, ev raft.LeaderCall) bool {
	switch d.role {
	case raft.Leader:
		return d.handle(envelope{class: env.class, event: ev.Inner, reply: env.reply})

	case raft.Follower:
		if d.state.LeaderID.Known() {
			env.reply.Send(raft.Reply{Redirect: d.state.LeaderID})
			if d.metrics != nil {
				d.metrics.RecordRedirect()
			}
			d.rearmElectionTimer()
			return true
		}
	}

	// Follower without a leader, or Candidate: park the command.
	d.pending = append(d.pending, pendingCommand{class: env.class, event: ev.Inner, reply: env.reply})
	if d.metrics != nil {
		d.metrics.RecordPendingBuffered()
	}
	d.rearmElectionTimer()
	return true
}

// handleDirtyQuery evaluates the query against the local machine state without
// invoking the decision core.
func (d *Driver) handleDirtyQuery(env envelope, ev raft.DirtyQuery) {
	var result any
	if ev.Fn != nil {
		result = ev.Fn(d.state.MachineState)
	}

	env.reply.Send(raft.Reply{Value: QueryReply{
		Index:  d.state.LastApplied,
		Term:   d.state.CurrentTerm,
		Result: result,
		Leader: d.state.LeaderID,
	}})

	if d.metrics != nil {
		d.metrics.RecordDirtyQuery()
	}
}

func (d *Driver) handleStateQuery(env envelope, ev raft.StateQuery) {
	var value any
	switch ev.Spec {
	case raft.QueryAll:
		value = d.state
	case raft.QueryMembers:
		value = d.state.Members()
	default:
		env.reply.Send(raft.Reply{Err: fmt.Errorf("unknown state query spec %d", ev.Spec)})
		return
	}
	env.reply.Send(raft.Reply{Value: value})
}

// dispatch invokes the decision core's role handler exactly once for the event, then
// applies effects, the role transition, the timer policy and finally the deferred
// reply actions, in that order.
func (d *Driver) dispatch(env envelope) bool {
	prevRole := d.role
	prevLeader := d.state.LeaderID

	if d.metrics != nil {
		d.metrics.RecordEvent(uint64(d.role))
	}

	// While Leader, a client command is rewritten to carry the caller's handle so the
	// decision core can emit the matching reply or notify effect later.
	if d.role == raft.Leader {
		if cmd, ok := env.event.(raft.Command); ok && cmd.From == nil {
			cmd.From = env.reply
			env.event = cmd
		}
	}

	var next raft.Role
	var st *raft.NodeState
	var effects []raft.Effect

	switch d.role {
	case raft.Follower:
		next, st, effects = d.machine.HandleFollower(env.event, d.state)
	case raft.Candidate:
		next, st, effects = d.machine.HandleCandidate(env.event, d.state)
	case raft.Leader:
		next, st, effects = d.machine.HandleLeader(env.event, d.state)
	default:
		panic(fmt.Sprintf("driver %s dispatching in impossible role %v", d.cfg.ID, d.role))
	}

	d.state = st
	deferred := d.applyEffects(env, effects)

	stopping := next == raft.Shutdown
	if stopping {
		// Final effects are already applied (they propagate the commit index);
		// flush the replies they queued, then terminate normally.
		for _, action := range deferred {
			action()
		}
		log.Printf("[DRIVER-%s] [TERM-%d] Stop requested by decision core", d.cfg.ID, d.state.CurrentTerm)
		return false
	}

	if next != prevRole {
		d.transition(prevRole, next)
	}

	if next == raft.Follower {
		d.flushOnLeaderChange(prevLeader)
	}

	// Re-arming on every event is what guarantees progress to election: a follower or
	// candidate that keeps hearing from the cluster keeps pushing its timeout out.
	if next == raft.Follower || next == raft.Candidate {
		d.rearmElectionTimer()
	}

	for _, action := range deferred {
		action()
	}

	return true
}

// transition applies the driver-side duties of a role change.
func (d *Driver) transition(from, to raft.Role) {
	log.Printf("[DRIVER-%s] [TERM-%d] Role transition %v -> %v", d.cfg.ID, d.state.CurrentTerm, from, to)

	d.role = to
	if d.metrics != nil {
		d.metrics.RecordRoleTransition()
	}
	d.bus.RoleChanges.Publish(pubsub.RoleChange{
		From: from,
		To:   to,
		Term: d.state.CurrentTerm,
	})

	if from == raft.Leader {
		d.stopProxy("stepping down")
	}

	if to == raft.Leader {
		// The leader arms no election timer.
		d.electionTimer.Stop()
		d.replayPending()
	}
}

// replayPending injects all buffered commands as synthetic call events, preserving
// their handles and arrival order, ahead of any live inbound event.
func (d *Driver) replayPending() {
	if len(d.pending) == 0 {
		return
	}

	log.Printf("[DRIVER-%s] [TERM-%d] Replaying %d pending commands after promotion",
		d.cfg.ID, d.state.CurrentTerm, len(d.pending))

	for _, p := range d.pending {
		d.injected = append(d.injected, envelope{class: p.class, event: p.event, reply: p.reply})
		if d.metrics != nil {
			d.metrics.RecordPendingReplayed()
		}
	}
	d.pending = nil
}

// flushOnLeaderChange replies {redirect, leader} to every buffered command once the
// observed leader id changes to a known node.
func (d *Driver) flushOnLeaderChange(prevLeader raft.NodeID) {
	leader := d.state.LeaderID
	if !leader.Known() || leader == prevLeader {
		return
	}

	d.bus.LeaderChanges.Publish(pubsub.LeaderChange{
		Leader: leader,
		Term:   d.state.CurrentTerm,
	})

	if len(d.pending) == 0 {
		return
	}

	log.Printf("[DRIVER-%s] [TERM-%d] Leader now %s, redirecting %d pending commands",
		d.cfg.ID, d.state.CurrentTerm, leader, len(d.pending))

	for _, p := range d.pending {
		p.reply.Send(raft.Reply{Redirect: leader})
		if d.metrics != nil {
			d.metrics.RecordPendingFlushed()
		}
	}
	d.pending = nil
}

// handleProxyExit recovers the replication sub-driver after an unexpected exit while
// Leader: rebuild the current batch from the decision core, start a fresh proxy and
// push the batch urgently.
func (d *Driver) handleProxyExit(ev raft.ProxyExit) {
	if d.role != raft.Leader {
		d.proxy = nil
		return
	}
	if ev.Err == nil {
		// Orderly stop initiated by the driver itself.
		return
	}

	log.Printf("[DRIVER-%s] [TERM-%d] Replication proxy exited (%v), restarting", d.cfg.ID, d.state.CurrentTerm, ev.Err)

	batch := d.machine.MakeRPCs(d.state)
	d.proxy = d.startProxy()
	if err := d.proxy.Forward(true, batch); err != nil {
		log.Printf("[DRIVER-%s] Failed pushing urgent batch to fresh proxy: %v", d.cfg.ID, err)
	}
	if d.metrics != nil {
		d.metrics.RecordProxyRestart()
	}
}

func (d *Driver) startProxy() *proxy.Proxy {
	return proxy.Start(proxy.Config{
		Transport: d.transport,
		Interval:  d.cfg.BroadcastTime,
		OnExit: func(err error) {
			d.info(raft.ProxyExit{Err: err})
		},
		OnResponse: func(resp *raft.AppendEntriesResponse) {
			d.cast(raft.PeerRPC{From: resp.From, Msg: resp})
		},
	})
}

func (d *Driver) stopProxy(reason string) {
	if d.proxy == nil {
		return
	}
	p := d.proxy
	d.proxy = nil
	p.Stop(reason, ProxyStopGrace)
}

// cleanup runs once, when the dispatch loop exits for any reason.
func (d *Driver) cleanup() {
	defer close(d.doneCh)

	d.stopOnce.Do(func() {
		close(d.stopCh)
	})

	d.stopProxy("driver shutdown")
	d.electionTimer.Stop()
	if d.syncTimer != nil {
		d.syncTimer.Stop()
	}

	d.machine.Terminate(d.state)
	unregister(d)

	d.bus.Shutdown.Publish(struct{}{})
	if d.ownBus {
		d.bus.Close()
	}

	log.Printf("[DRIVER-%s] Terminated", d.cfg.ID)
}
