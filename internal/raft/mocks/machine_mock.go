package mocks

import (
	"sync"

	"github.com/yangcancai/ra/internal/raft"
)

// RoleCall records one decision-core invocation: the role it was dispatched under and
// the event it saw.
type RoleCall struct {
	Role  raft.Role
	Event raft.Event
}

// ScriptedMachine is a scripted implementation of raft.Machine for testing the role
// driver. Tests set the per-role handlers to return whatever transition and effects
// the scenario needs; every invocation is recorded.
type ScriptedMachine struct {
	mu sync.Mutex

	// InitState is returned by Init when set; otherwise a minimal state is built from
	// the init config.
	InitState *raft.NodeState

	OnFollower  func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect)
	OnCandidate func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect)
	OnLeader    func(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect)

	// RPCBatch is what MakeRPCs returns.
	RPCBatch []raft.RPC

	calls          []RoleCall
	makeRPCsCalls  int
	snapshotCalls  []uint64
	snapshotPoints []uint64
	terminateCalls int
}

func NewScriptedMachine() *ScriptedMachine {
	return &ScriptedMachine{}
}

func (m *ScriptedMachine) Init(cfg raft.InitConfig) *raft.NodeState {
	if m.InitState != nil {
		return m.InitState
	}
	return &raft.NodeState{
		ID:           cfg.ID,
		Cluster:      cfg.Cluster,
		MachineState: cfg.MachineState,
	}
}

func (m *ScriptedMachine) HandleFollower(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
	m.record(RoleCall{Role: raft.Follower, Event: ev})
	if m.OnFollower != nil {
		return m.OnFollower(ev, st)
	}
	return raft.Follower, st, nil
}

func (m *ScriptedMachine) HandleCandidate(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
	m.record(RoleCall{Role: raft.Candidate, Event: ev})
	if m.OnCandidate != nil {
		return m.OnCandidate(ev, st)
	}
	return raft.Candidate, st, nil
}

func (m *ScriptedMachine) HandleLeader(ev raft.Event, st *raft.NodeState) (raft.Role, *raft.NodeState, []raft.Effect) {
	m.record(RoleCall{Role: raft.Leader, Event: ev})
	if m.OnLeader != nil {
		return m.OnLeader(ev, st)
	}
	return raft.Leader, st, nil
}

func (m *ScriptedMachine) MakeRPCs(st *raft.NodeState) []raft.RPC {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.makeRPCsCalls++
	return m.RPCBatch
}

func (m *ScriptedMachine) MaybeSnapshot(index uint64, st *raft.NodeState) *raft.NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotCalls = append(m.snapshotCalls, index)
	return st
}

func (m *ScriptedMachine) RecordSnapshotPoint(index uint64, st *raft.NodeState) *raft.NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotPoints = append(m.snapshotPoints, index)
	return st
}

func (m *ScriptedMachine) Terminate(st *raft.NodeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateCalls++
}

func (m *ScriptedMachine) record(call RoleCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// Calls returns a copy of all recorded role handler invocations.
func (m *ScriptedMachine) Calls() []RoleCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RoleCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of role handler invocations so far.
func (m *ScriptedMachine) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MakeRPCsCalls returns how many times the driver rebuilt the replication batch.
func (m *ScriptedMachine) MakeRPCsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.makeRPCsCalls
}

// SnapshotCalls returns the indexes MaybeSnapshot was asked for.
func (m *ScriptedMachine) SnapshotCalls() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint64, len(m.snapshotCalls))
	copy(out, m.snapshotCalls)
	return out
}

// SnapshotPoints returns the indexes RecordSnapshotPoint was asked for.
func (m *ScriptedMachine) SnapshotPoints() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint64, len(m.snapshotPoints))
	copy(out, m.snapshotPoints)
	return out
}

// TerminateCalls returns how many times Terminate ran.
func (m *ScriptedMachine) TerminateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminateCalls
}
