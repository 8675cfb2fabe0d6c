package main

import (
	"encoding/json"
	"log"

	"github.com/yangcancai/ra/internal/raft"
)

// singleNodeCore is the built-in decision core for a one-member group: elections are
// won unopposed and consensus is reached at the next sync flush. It exists so `ra
// serve` exercises the driver path (timers, sync batching, client replies) without
// peers; it does not replicate and emits no snapshot effects.
type singleNodeCore struct{}

func newSingleNodeCore() *singleNodeCore {
	return &singleNodeCore{}
}

// coreState is the core-private state hung off NodeState.Private.
type coreState struct {
	log       raft.LogStore
	lastIndex uint64
	// Replies and notifications owed once entries up to their index are applied.
	awaiting []pendingApply
}

type pendingApply struct {
	index       uint64
	replyTo     *raft.ReplyTo
	notify      raft.NotifyTarget
	correlation string
	queryFn     func(machineState any) any
}

func (c *singleNodeCore) Init(cfg raft.InitConfig) *raft.NodeState {
	var term uint64
	var lastIndex uint64
	if cfg.Log != nil {
		term, _ = cfg.Log.GetCurrentTerm()
		lastIndex, _ = cfg.Log.GetLastIndex()
	}

	machineState := cfg.MachineState
	if machineState == nil {
		machineState = map[string]string{}
	}

	return &raft.NodeState{
		ID:           cfg.ID,
		CurrentTerm:  term,
		MachineState: machineState,
		Cluster:      cfg.Cluster,
		Private: &coreState{
			log:       cfg.Log,
			lastIndex: lastIndex,
		},
	}
}

func (c *singleNodeCore) HandleFollower(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
	switch ev.(type) {
	case raft.ElectionTimeout:
		return raft.Candidate, st, c.selfElect(st)
	default:
		return raft.Follower, st, nil
	}
}

func (c *singleNodeCore) HandleCandidate(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
	switch e := ev.(type) {
	case raft.VoteResult:
		if e.Resp != nil && e.Resp.VoteGranted {
			// A one-member group has a quorum of one.
			st.LeaderID = st.ID
			return raft.Leader, st, nil
		}
		return raft.Candidate, st, nil
	case raft.ElectionTimeout:
		return raft.Candidate, st, c.selfElect(st)
	default:
		return raft.Candidate, st, nil
	}
}

// selfElect bumps the term, persists it, and casts this node's own vote back through
// the driver queue.
func (c *singleNodeCore) selfElect(st *raft.NodeState) []raft.Effect {
	cs := st.Private.(*coreState)
	st.CurrentTerm++
	if cs.log != nil {
		if err := cs.log.SetCurrentTerm(st.CurrentTerm); err != nil {
			log.Printf("[CORE-%s] Failed persisting term %d: %v", st.ID, st.CurrentTerm, err)
		}
	}

	return []raft.Effect{
		raft.NextEvent{Class: raft.Cast, Event: raft.VoteResult{
			From: st.ID,
			Resp: &raft.RequestVoteResponse{Term: st.CurrentTerm, VoteGranted: true, From: st.ID},
		}},
	}
}

func (c *singleNodeCore) HandleLeader(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
	cs := st.Private.(*coreState)

	switch e := ev.(type) {
	case raft.Command:
		return raft.Leader, st, c.appendCommand(st, cs, e)

	case raft.SyncTick:
		return raft.Leader, st, c.applyUpTo(st, cs, cs.lastIndex)

	default:
		return raft.Leader, st, nil
	}
}

func (c *singleNodeCore) appendCommand(st *raft.NodeState, cs *coreState, cmd raft.Command) []raft.Effect {
	cs.lastIndex++
	position := raft.IndexTerm{Index: cs.lastIndex, Term: st.CurrentTerm}

	if cmd.Kind == raft.UserCommand && cs.log != nil {
		data, err := json.Marshal(cmd.Data)
		if err != nil {
			cs.lastIndex--
			return []raft.Effect{raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Err: err}}}
		}
		entry := &raft.LogEntry{Index: position.Index, Term: position.Term, Type: raft.EntryCommand, Command: data}
		if err := cs.log.AppendEntry(entry); err != nil {
			cs.lastIndex--
			return []raft.Effect{raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Err: err}}}
		}
	}

	effects := []raft.Effect{raft.ScheduleSync{}}

	switch cmd.ReplyMode {
	case raft.AfterLogAppend:
		effects = append(effects, raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: position}})

	case raft.AwaitConsensus:
		pending := pendingApply{index: position.Index, replyTo: cmd.From}
		if cmd.Kind == raft.QueryCommand {
			if fn, ok := cmd.Data.(func(machineState any) any); ok {
				pending.queryFn = fn
			}
		}
		cs.awaiting = append(cs.awaiting, pending)

	case raft.NotifyOnConsensus:
		effects = append(effects, raft.ReplyEffect{To: cmd.From, Reply: raft.Reply{Value: position}})
		cs.awaiting = append(cs.awaiting, pendingApply{
			index:       position.Index,
			notify:      cmd.Notify,
			correlation: cmd.Correlation,
		})
	}

	return effects
}

// applyUpTo advances the applied index, mutating the key-value machine state, and
// settles the replies owed at or below it.
func (c *singleNodeCore) applyUpTo(st *raft.NodeState, cs *coreState, index uint64) []raft.Effect {
	if cs.log != nil {
		entries, err := cs.log.GetEntries(st.LastApplied+1, index)
		if err != nil {
			log.Printf("[CORE-%s] Failed reading entries to apply: %v", st.ID, err)
		}
		for _, entry := range entries {
			applyEntry(st, entry)
		}
	}
	st.LastApplied = index

	var effects []raft.Effect
	remaining := cs.awaiting[:0]
	for _, pending := range cs.awaiting {
		if pending.index > index {
			remaining = append(remaining, pending)
			continue
		}

		if pending.notify != nil {
			effects = append(effects, raft.Notify{To: pending.notify, Reply: raft.Notification{Correlation: pending.correlation}})
			continue
		}

		value := any(raft.IndexTerm{Index: pending.index, Term: st.CurrentTerm})
		if pending.queryFn != nil {
			value = pending.queryFn(st.MachineState)
		}
		effects = append(effects, raft.ReplyEffect{To: pending.replyTo, Reply: raft.Reply{Value: value}})
	}
	cs.awaiting = remaining

	return effects
}

// applyEntry interprets a committed command against the key-value machine state.
// Commands are objects like {"op": "set", "key": "k", "value": "v"} or
// {"op": "del", "key": "k"}.
func applyEntry(st *raft.NodeState, entry *raft.LogEntry) {
	if entry.Type != raft.EntryCommand {
		return
	}

	store, ok := st.MachineState.(map[string]string)
	if !ok {
		return
	}

	var cmd struct {
		Op    string `json:"op"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(entry.Command, &cmd); err != nil {
		log.Printf("[CORE-%s] Skipping undecodable entry at index %d: %v", st.ID, entry.Index, err)
		return
	}

	switch cmd.Op {
	case "set":
		store[cmd.Key] = cmd.Value
	case "del":
		delete(store, cmd.Key)
	default:
		log.Printf("[CORE-%s] Unknown command op %q at index %d", st.ID, cmd.Op, entry.Index)
	}
}

func (c *singleNodeCore) MakeRPCs(st *raft.NodeState) []raft.RPC {
	return nil
}

func (c *singleNodeCore) MaybeSnapshot(index uint64, st *raft.NodeState) *raft.NodeState {
	cs := st.Private.(*coreState)
	if cs.log != nil && index <= st.LastApplied {
		if err := cs.log.TruncateBefore(index); err != nil {
			log.Printf("[CORE-%s] Failed truncating log before %d: %v", st.ID, index, err)
		}
	}
	return st
}

func (c *singleNodeCore) RecordSnapshotPoint(index uint64, st *raft.NodeState) *raft.NodeState {
	return st
}

func (c *singleNodeCore) Terminate(st *raft.NodeState) {}
