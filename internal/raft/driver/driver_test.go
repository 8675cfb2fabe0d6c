package driver

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangcancai/ra/internal/raft"
	"github.com/yangcancai/ra/internal/raft/mocks"
)

// testConfig builds a driver config with a unique node id and an effectively disabled
// election timer, so tests trigger timeouts deterministically by injecting events.
func testConfig(machine raft.Machine, tr raft.Transport) Config {
	id := raft.NodeID("node-" + uuid.NewString())
	return Config{
		ID:            id,
		Machine:       machine,
		Transport:     tr,
		Cluster:       map[raft.NodeID]raft.Peer{id: {ID: id}},
		BroadcastTime: time.Minute,
		SyncInterval:  2 * time.Millisecond,
		Rand:          rand.New(rand.NewSource(42)),
	}
}

func startDriver(t *testing.T, cfg Config) *Driver {
	t.Helper()
	d, err := Start(cfg)
	require.NoError(t, err)
	t.Cleanup(d.Stop)
	return d
}

// awaitLeadership blocks until the node reports itself as its own leader, observed
// through a dirty query so the check synchronizes with the dispatch loop.
func awaitLeadership(t *testing.T, d *Driver) {
	t.Helper()
	require.Eventually(t, func() bool {
		qr, _, err := LocalQuery(d.ID(), nil, 100*time.Millisecond)
		return err == nil && qr.Leader == d.ID()
	}, 2*time.Second, 5*time.Millisecond)
}

// electable wires a scripted machine that becomes Candidate on election timeout,
// requests a vote from peer, and becomes Leader on the first granted vote.
func electable(machine *mocks.ScriptedMachine, peer raft.NodeID) {
	machine.OnFollower = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if _, ok := ev.(raft.ElectionTimeout); ok {
			st.CurrentTerm++
			return raft.Candidate, st, []raft.Effect{raft.SendVoteRequests{Requests: []raft.VoteRequestTo{
				{To: peer, Req: &raft.RequestVoteRequest{Term: st.CurrentTerm, CandidateID: st.ID}},
			}}}
		}
		return raft.Follower, st, nil
	}
	machine.OnCandidate = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if vr, ok := ev.(raft.VoteResult); ok && vr.Err == nil && vr.Resp.VoteGranted {
			st.LeaderID = st.ID
			return raft.Leader, st, nil
		}
		return raft.Candidate, st, nil
	}
}

func TestDriver_StartsAsFollower(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))

	assert.Equal(t, raft.Follower, d.role)

	t.Run("registers under its node id", func(t *testing.T) {
		found, ok := Lookup(d.ID())
		require.True(t, ok)
		assert.Same(t, d, found)
	})
}

// A leader call against a follower with a known leader is answered with a redirect
// without invoking the decision core.
func TestDriver_RedirectWithKnownLeader(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	cfg := testConfig(machine, mocks.NewMockTransport())
	machine.InitState = &raft.NodeState{ID: cfg.ID, LeaderID: "leader-a"}

	d := startDriver(t, cfg)

	reply, err := d.call(raft.LeaderCall{Inner: raft.Command{Kind: raft.UserCommand}}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, raft.NodeID("leader-a"), reply.Redirect)
	assert.Zero(t, machine.CallCount(), "redirect must not reach the decision core")
}

// The client wrapper follows a redirect to the actual leader and returns its answer
// along with the node that answered.
func TestDriver_ClientFollowsRedirect(t *testing.T) {
	leaderMachine := mocks.NewScriptedMachine()
	electable(leaderMachine, "peer-1")
	leaderMachine.OnLeader = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if cmd, ok := ev.(raft.Command); ok {
			return raft.Leader, st, []raft.Effect{raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: raft.IndexTerm{Index: 1, Term: 1}}}}
		}
		return raft.Leader, st, nil
	}
	leader := startDriver(t, testConfig(leaderMachine, mocks.NewMockTransport()))
	leader.info(raft.ElectionTimeout{})
	awaitLeadership(t, leader)

	followerMachine := mocks.NewScriptedMachine()
	followerCfg := testConfig(followerMachine, mocks.NewMockTransport())
	followerMachine.InitState = &raft.NodeState{ID: followerCfg.ID, LeaderID: leader.ID()}
	follower := startDriver(t, followerCfg)

	value, server, err := Command(follower.ID(), raft.Command{Kind: raft.UserCommand, Data: "set"}, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, leader.ID(), server)
	assert.Equal(t, raft.IndexTerm{Index: 1, Term: 1}, value)
}

// Commands buffered while no leader is known are replayed to the decision core in
// arrival order on promotion, ahead of any later event, with their handles intact.
func TestDriver_PendingReplayOnPromotion(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	peer := raft.NodeID("peer-1")
	electable(machine, peer)

	var seen []any
	nextIndex := uint64(0)
	machine.OnLeader = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if cmd, ok := ev.(raft.Command); ok {
			assert.NotNil(t, cmd.From, "replayed command must keep the caller handle")
			seen = append(seen, cmd.Data)
			nextIndex++
			return raft.Leader, st, []raft.Effect{raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: raft.IndexTerm{Index: nextIndex, Term: st.CurrentTerm}}}}
		}
		return raft.Leader, st, nil
	}

	cfg := testConfig(machine, mocks.NewMockTransport())
	d := startDriver(t, cfg)

	type result struct {
		value any
		err   error
	}
	results := make([]chan result, 2)
	for i := range results {
		results[i] = make(chan result, 1)
		data := fmt.Sprintf("cmd-%d", i)
		go func(ch chan result) {
			value, _, err := Command(d.ID(), raft.Command{Kind: raft.UserCommand, Data: data}, 5*time.Second)
			ch <- result{value: value, err: err}
		}(results[i])
		// Serialize arrivals so the buffered order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	assert.Zero(t, len(seen), "no command may reach the core before promotion")

	// Trigger the election; the mock transport grants the vote.
	d.info(raft.ElectionTimeout{})

	for i, ch := range results {
		select {
		case res := <-ch:
			require.NoError(t, res.err)
			assert.Equal(t, raft.IndexTerm{Index: uint64(i + 1), Term: 1}, res.value)
		case <-time.After(2 * time.Second):
			t.Fatalf("command %d never replied", i)
		}
	}

	require.Equal(t, []any{"cmd-0", "cmd-1"}, seen)
}

// When a follower learns the leader, every buffered command receives exactly one
// redirect and the buffer empties.
func TestDriver_LeaderChangeFlushesPending(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	machine.OnFollower = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if rpc, ok := ev.(raft.PeerRPC); ok {
			if req, ok := rpc.Msg.(*raft.AppendEntriesRequest); ok {
				st.LeaderID = req.LeaderID
			}
		}
		return raft.Follower, st, nil
	}

	cfg := testConfig(machine, mocks.NewMockTransport())
	d := startDriver(t, cfg)

	replyCh := make(chan raft.Reply, 2)
	go func() {
		reply, err := d.call(raft.LeaderCall{Inner: raft.Command{Kind: raft.UserCommand, Data: "x"}}, 2*time.Second)
		if err == nil {
			replyCh <- reply
		}
	}()
	time.Sleep(20 * time.Millisecond)

	// The follower hears from the leader.
	d.cast(raft.PeerRPC{From: "leader-a", Msg: &raft.AppendEntriesRequest{Term: 1, LeaderID: "leader-a"}})

	select {
	case reply := <-replyCh:
		assert.Equal(t, raft.NodeID("leader-a"), reply.Redirect)
	case <-time.After(2 * time.Second):
		t.Fatal("buffered command never redirected")
	}

	// Hearing from the same leader again must not produce a second reply.
	d.cast(raft.PeerRPC{From: "leader-a", Msg: &raft.AppendEntriesRequest{Term: 1, LeaderID: "leader-a"}})
	select {
	case <-replyCh:
		t.Fatal("buffered command redirected twice")
	case <-time.After(50 * time.Millisecond):
	}
}

// A dirty query is evaluated locally against the machine state, without the decision
// core and without advancing any log index.
func TestDriver_DirtyQuery(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	cfg := testConfig(machine, mocks.NewMockTransport())
	machine.InitState = &raft.NodeState{
		ID:           cfg.ID,
		CurrentTerm:  3,
		LeaderID:     "leader-a",
		MachineState: map[string]string{"answer": "42"},
		LastApplied:  7,
	}

	d := startDriver(t, cfg)

	qr, server, err := LocalQuery(d.ID(), func(machineState any) any {
		return machineState.(map[string]string)["answer"]
	}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, d.ID(), server)
	assert.Equal(t, "42", qr.Result)
	assert.Equal(t, uint64(7), qr.Index)
	assert.Equal(t, uint64(3), qr.Term)
	assert.Equal(t, raft.NodeID("leader-a"), qr.Leader)
	assert.Zero(t, machine.CallCount())
}

// While Leader, a client command is rewritten to carry the caller's handle before it
// reaches the decision core.
func TestDriver_LeaderCommandCarriesHandle(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	peer := raft.NodeID("peer-1")
	electable(machine, peer)

	handleSeen := make(chan bool, 1)
	machine.OnLeader = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if cmd, ok := ev.(raft.Command); ok {
			handleSeen <- cmd.From != nil
			return raft.Leader, st, []raft.Effect{raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: raft.IndexTerm{Index: 1, Term: st.CurrentTerm}}}}
		}
		return raft.Leader, st, nil
	}

	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))
	d.info(raft.ElectionTimeout{})

	value, server, err := Command(d.ID(), raft.Command{Kind: raft.UserCommand, Data: "set"}, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, d.ID(), server)
	assert.Equal(t, raft.IndexTerm{Index: 1, Term: 1}, value)
	assert.True(t, <-handleSeen)
}

// Repeated schedule_sync effects arm at most one sync timer; once the tick is
// consumed the next schedule_sync arms a fresh one.
func TestDriver_SyncIdempotence(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	syncs := make(chan struct{}, 8)
	machine.OnFollower = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		switch ev.(type) {
		case raft.SyncTick:
			syncs <- struct{}{}
			return raft.Follower, st, nil
		case raft.PeerRPC:
			return raft.Follower, st, []raft.Effect{raft.ScheduleSync{}, raft.ScheduleSync{}}
		}
		return raft.Follower, st, nil
	}

	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))

	d.cast(raft.PeerRPC{From: "p", Msg: &raft.AppendEntriesRequest{}})

	select {
	case <-syncs:
	case <-time.After(time.Second):
		t.Fatal("sync tick never fired")
	}

	select {
	case <-syncs:
		t.Fatal("duplicate schedule_sync armed a second timer")
	case <-time.After(50 * time.Millisecond):
	}

	// The flag was cleared with the tick, so a new schedule_sync arms again.
	d.cast(raft.PeerRPC{From: "p", Msg: &raft.AppendEntriesRequest{}})
	select {
	case <-syncs:
	case <-time.After(time.Second):
		t.Fatal("sync timer did not re-arm after the previous tick")
	}
}

// Outbound send_msg effects from one event are observable in emission order.
func TestDriver_EffectOrdering(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	machine.OnFollower = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if _, ok := ev.(raft.PeerRPC); ok {
			return raft.Follower, st, []raft.Effect{
				raft.SendMsg{To: "p1", Msg: &raft.RequestVoteResponse{Term: 1}},
				raft.SendMsg{To: "p2", Msg: &raft.RequestVoteResponse{Term: 2}},
				raft.SendMsg{To: "p3", Msg: &raft.RequestVoteResponse{Term: 3}},
			}
		}
		return raft.Follower, st, nil
	}

	tr := mocks.NewMockTransport()
	d := startDriver(t, testConfig(machine, tr))

	d.cast(raft.PeerRPC{From: "x", Msg: &raft.AppendEntriesRequest{}})

	require.Eventually(t, func() bool {
		return len(tr.Messages()) == 3
	}, time.Second, 5*time.Millisecond)

	messages := tr.Messages()
	assert.Equal(t, raft.NodeID("p1"), messages[0].To)
	assert.Equal(t, raft.NodeID("p2"), messages[1].To)
	assert.Equal(t, raft.NodeID("p3"), messages[2].To)
}

// next_event effects are delivered ahead of other pending inbound events.
func TestDriver_NextEventDeliveredFirst(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	var order []raft.NodeID
	done := make(chan struct{})
	machine.OnFollower = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		rpc, ok := ev.(raft.PeerRPC)
		if !ok {
			return raft.Follower, st, nil
		}
		order = append(order, rpc.From)
		switch rpc.From {
		case "a":
			return raft.Follower, st, []raft.Effect{raft.NextEvent{Class: raft.Cast, Event: raft.PeerRPC{From: "injected", Msg: rpc.Msg}}}
		case "c":
			close(done)
		}
		return raft.Follower, st, nil
	}

	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))

	msg := &raft.AppendEntriesRequest{}
	d.cast(raft.PeerRPC{From: "a", Msg: msg})
	d.cast(raft.PeerRPC{From: "c", Msg: msg})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events never drained")
	}

	require.Equal(t, []raft.NodeID{"a", "injected", "c"}, order)
}

// A reply effect without a handle outside a call context is a decision-core bug and
// must terminate the driver abnormally.
func TestDriver_BareReplyOutsideCallPanics(t *testing.T) {
	d := &Driver{cfg: Config{ID: "test"}}

	assert.Panics(t, func() {
		d.applyEffects(envelope{class: raft.Cast}, []raft.Effect{raft.ReplyEffect{Reply: raft.Reply{Value: "x"}}})
	})
}

// Vote-request tasks cast back whatever they got, errors included.
func TestDriver_VoteRequestTasks(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	machine.OnFollower = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if _, ok := ev.(raft.ElectionTimeout); ok {
			return raft.Candidate, st, []raft.Effect{raft.SendVoteRequests{Requests: []raft.VoteRequestTo{
				{To: "granter", Req: &raft.RequestVoteRequest{Term: 1, CandidateID: st.ID}},
				{To: "unreachable", Req: &raft.RequestVoteRequest{Term: 1, CandidateID: st.ID}},
			}}}
		}
		return raft.Follower, st, nil
	}

	tr := mocks.NewMockTransport()
	tr.VoteErrs = map[raft.NodeID]error{"unreachable": errors.New("connection refused")}

	d := startDriver(t, testConfig(machine, tr))
	d.info(raft.ElectionTimeout{})

	require.Eventually(t, func() bool {
		granted, failed := 0, 0
		for _, call := range machine.Calls() {
			if vr, ok := call.Event.(raft.VoteResult); ok {
				if vr.Err != nil {
					failed++
				} else if vr.Resp.VoteGranted {
					granted++
				}
			}
		}
		return granted == 1 && failed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// While Leader, at most one proxy is live; after a proxy crash the driver rebuilds
// the batch from the decision core, starts a fresh proxy and pushes it urgently.
func TestDriver_ProxyRestartAfterCrash(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	peer := raft.NodeID("peer-1")
	electable(machine, peer)
	machine.RPCBatch = []raft.RPC{{To: peer, Req: &raft.AppendEntriesRequest{Term: 1, LeaderID: "x"}}}

	machine.OnLeader = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if cmd, ok := ev.(raft.Command); ok {
			return raft.Leader, st, []raft.Effect{
				raft.SendRPCs{Urgent: true, Batch: []raft.RPC{{To: peer, Req: &raft.AppendEntriesRequest{Term: 1}}}},
				raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: raft.IndexTerm{Index: 1, Term: 1}}},
			}
		}
		return raft.Leader, st, nil
	}

	tr := mocks.NewMockTransport()
	cfg := testConfig(machine, tr)
	cfg.BroadcastTime = 20 * time.Millisecond
	d := startDriver(t, cfg)
	d.info(raft.ElectionTimeout{})

	_, _, err := Command(d.ID(), raft.Command{Kind: raft.UserCommand, Data: "set"}, 2*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.proxy != nil }, time.Second, 5*time.Millisecond)
	first := d.proxy
	require.Eventually(t, func() bool { return len(tr.Appends()) >= 1 }, time.Second, 5*time.Millisecond)

	first.Kill(errors.New("simulated proxy crash"))

	require.Eventually(t, func() bool {
		return d.proxy != nil && d.proxy != first && d.proxy.Alive()
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, machine.MakeRPCsCalls(), "restart must rebuild the batch from the decision core")

	// The rebuilt batch reaches the peer urgently.
	require.Eventually(t, func() bool {
		return len(tr.Appends()) >= 2
	}, time.Second, 5*time.Millisecond)
	assert.False(t, first.Alive())
}

// A stop transition from the leader handler applies the final effects, then the
// driver terminates normally.
func TestDriver_StopTransition(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	peer := raft.NodeID("peer-1")
	electable(machine, peer)
	machine.OnLeader = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if cmd, ok := ev.(raft.Command); ok {
			return raft.Shutdown, st, []raft.Effect{raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: "stopped"}}}
		}
		return raft.Leader, st, nil
	}

	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))
	d.info(raft.ElectionTimeout{})

	value, _, err := Command(d.ID(), raft.Command{Kind: raft.UserCommand, Data: "halt"}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "stopped", value)

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("driver did not terminate after stop transition")
	}

	assert.Equal(t, 1, machine.TerminateCalls())
	_, ok := Lookup(d.ID())
	assert.False(t, ok, "terminated driver must be unregistered")
}

// notify_on_consensus commands produce an asynchronous consensus notification on the
// client's handle.
func TestDriver_ConsensusNotification(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	peer := raft.NodeID("peer-1")
	electable(machine, peer)
	machine.OnLeader = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if cmd, ok := ev.(raft.Command); ok {
			return raft.Leader, st, []raft.Effect{
				raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: raft.IndexTerm{Index: 1, Term: 1}}},
				raft.Notify{To: cmd.Notify, Reply: raft.Notification{Correlation: cmd.Correlation}},
			}
		}
		return raft.Leader, st, nil
	}

	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))
	d.info(raft.ElectionTimeout{})

	notifyCh := make(raft.NotifyTarget, 1)
	_, _, err := Command(d.ID(), raft.Command{
		Kind:        raft.UserCommand,
		Data:        "set",
		ReplyMode:   raft.NotifyOnConsensus,
		Correlation: "corr-1",
		Notify:      notifyCh,
	}, 2*time.Second)
	require.NoError(t, err)

	select {
	case n := <-notifyCh:
		assert.Equal(t, "corr-1", n.Correlation)
	case <-time.After(time.Second):
		t.Fatal("consensus notification never delivered")
	}
}

// Role transitions and learned leaders are published on the node's lifecycle bus.
func TestDriver_PublishesLifecycleEvents(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	peer := raft.NodeID("peer-1")
	electable(machine, peer)

	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))

	roles, cancel := d.Bus().RoleChanges.Subscribe(4)
	defer cancel()

	d.info(raft.ElectionTimeout{})

	expect := func(from, to raft.Role) {
		t.Helper()
		select {
		case change := <-roles:
			assert.Equal(t, from, change.From)
			assert.Equal(t, to, change.To)
		case <-time.After(2 * time.Second):
			t.Fatalf("role change %v -> %v never published", from, to)
		}
	}
	expect(raft.Follower, raft.Candidate)
	expect(raft.Candidate, raft.Leader)
}

// The real election timer fires and reaches the decision core as an election_timeout
// event.
func TestDriver_ElectionTimerFires(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	tr := mocks.NewMockTransport()

	cfg := testConfig(machine, tr)
	cfg.BroadcastTime = 5 * time.Millisecond
	startDriver(t, cfg)

	require.Eventually(t, func() bool {
		for _, call := range machine.Calls() {
			if _, ok := call.Event.(raft.ElectionTimeout); ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

// The snapshot effects round-trip through the decision core's snapshot operations.
func TestDriver_SnapshotEffects(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	machine.OnFollower = func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
		if _, ok := ev.(raft.PeerRPC); ok {
			return raft.Follower, st, []raft.Effect{
				raft.SnapshotPoint{Index: 10},
				raft.ReleaseCursor{Index: 10},
			}
		}
		return raft.Follower, st, nil
	}

	d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))
	d.cast(raft.PeerRPC{From: "p", Msg: &raft.AppendEntriesRequest{}})

	require.Eventually(t, func() bool {
		return len(machine.SnapshotCalls()) == 1 && len(machine.SnapshotPoints()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []uint64{10}, machine.SnapshotCalls())
	assert.Equal(t, []uint64{10}, machine.SnapshotPoints())
}

func TestClient_Timeouts(t *testing.T) {
	t.Run("unknown server is noproc", func(t *testing.T) {
		_, _, err := Command("no-such-node", raft.Command{Kind: raft.UserCommand}, 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrNoProc)
	})

	t.Run("silent server times out with the server named", func(t *testing.T) {
		machine := mocks.NewScriptedMachine()
		// A follower with no known leader buffers the call and never replies.
		d := startDriver(t, testConfig(machine, mocks.NewMockTransport()))

		_, server, err := Command(d.ID(), raft.Command{Kind: raft.UserCommand}, 50*time.Millisecond)

		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, d.ID(), timeoutErr.Server)
		assert.Equal(t, d.ID(), server)
	})
}

func TestDriver_StateQuery(t *testing.T) {
	machine := mocks.NewScriptedMachine()
	peer := raft.NodeID("peer-1")
	electable(machine, peer)

	cfg := testConfig(machine, mocks.NewMockTransport())
	d := startDriver(t, cfg)
	d.info(raft.ElectionTimeout{})
	awaitLeadership(t, d)

	t.Run("members", func(t *testing.T) {
		value, server, err := StateQuery(d.ID(), raft.QueryMembers, time.Second)
		require.NoError(t, err)
		assert.Equal(t, d.ID(), server)
		assert.ElementsMatch(t, []raft.NodeID{d.ID()}, value)
	})

	t.Run("all", func(t *testing.T) {
		value, _, err := StateQuery(d.ID(), raft.QueryAll, time.Second)
		require.NoError(t, err)
		st, ok := value.(*raft.NodeState)
		require.True(t, ok)
		assert.Equal(t, d.ID(), st.ID)
	})
}
