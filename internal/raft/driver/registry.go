package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/yangcancai/ra/internal/raft"
	"github.com/yangcancai/ra/internal/raft/transport"
)

// registry holds the drivers registered on this host by local name. The name is
// derived from the node id; its lifecycle is tied to Start and driver termination.
var registry sync.Map // map[string]*Driver

func register(d *Driver) error {
	if _, loaded := registry.LoadOrStore(string(d.cfg.ID), d); loaded {
		return fmt.Errorf("driver already registered for node %s", d.cfg.ID)
	}
	return nil
}

func unregister(d *Driver) {
	registry.CompareAndDelete(string(d.cfg.ID), d)
}

// Lookup resolves a node id to the locally registered driver.
func Lookup(id raft.NodeID) (*Driver, bool) {
	value, ok := registry.Load(string(id))
	if !ok {
		return nil, false
	}
	d, ok := value.(*Driver)
	return d, ok
}

// NodeHandler adapts a driver to the transport's inbound surface, turning wire calls
// into mailbox events.
type NodeHandler struct {
	d *Driver
}

func NewNodeHandler(d *Driver) *NodeHandler {
	return &NodeHandler{d: d}
}

func (h *NodeHandler) HandleRequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	reply, err := h.d.call(raft.PeerRPC{From: req.CandidateID, Msg: req}, timeoutFrom(ctx, VoteRPCTimeout))
	if err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	resp, ok := reply.Value.(*raft.RequestVoteResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected vote reply type %T", reply.Value)
	}
	return resp, nil
}

func (h *NodeHandler) HandleAppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	reply, err := h.d.call(raft.PeerRPC{From: req.LeaderID, Msg: req}, timeoutFrom(ctx, VoteRPCTimeout))
	if err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	resp, ok := reply.Value.(*raft.AppendEntriesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected append-entries reply type %T", reply.Value)
	}
	return resp, nil
}

func (h *NodeHandler) HandleMessage(_ context.Context, env *transport.Envelope) error {
	from, msg, err := transport.UnwrapMessage(env)
	if err != nil {
		return err
	}
	h.d.cast(raft.PeerRPC{From: from, Msg: msg})
	return nil
}

func (h *NodeHandler) HandleCommand(ctx context.Context, req *transport.CommandRequest) (*transport.CommandReply, error) {
	var data any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal command data: %w", err)
		}
	}

	cmd := raft.Command{
		Kind:        raft.CommandKind(req.Kind),
		Data:        data,
		ReplyMode:   raft.ReplyMode(req.ReplyMode),
		Correlation: req.Correlation,
	}

	reply, err := h.d.call(raft.LeaderCall{Inner: cmd}, timeoutFrom(ctx, ConsistentQueryTimeout))
	if err != nil {
		return nil, err
	}

	out := &transport.CommandReply{}
	switch {
	case reply.Err != nil:
		out.Error = reply.Err.Error()
	case reply.Redirect.Known():
		out.Redirect = string(reply.Redirect)
	default:
		value, err := json.Marshal(reply.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal command reply: %w", err)
		}
		out.Value = value
	}
	return out, nil
}

func timeoutFrom(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
	}
	return fallback
}
