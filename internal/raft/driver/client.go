package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yangcancai/ra/internal/raft"
)

// ConsistentQueryTimeout bounds a consistent query end to end.
const ConsistentQueryTimeout = 5 * time.Second

var (
	// ErrNoProc means the addressed node has no running driver.
	ErrNoProc = errors.New("noproc")
	// ErrNodeDown means the addressed node's host could not be reached.
	ErrNodeDown = errors.New("nodedown")
)

// TimeoutError reports which server was being queried when the caller's deadline
// elapsed. A timed-out client may still see a later, ignored reply.
type TimeoutError struct {
	Server raft.NodeID
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout querying %s", e.Server)
}

// Client is the leader-call wrapper. With a transport it can follow redirects to
// nodes on other hosts; without one it resolves refs through the local registry only.
type Client struct {
	transport raft.Transport
}

func NewClient(t raft.Transport) *Client {
	return &Client{transport: t}
}

var defaultClient = &Client{}

// Command performs a leader call carrying a client command, following redirects until
// a leader answers. The timeout bounds the whole loop across all redirects: the
// original deadline is used as a monotone bound rather than accounting per hop.
func (c *Client) Command(server raft.NodeID, cmd raft.Command, timeout time.Duration) (any, raft.NodeID, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, server, &TimeoutError{Server: server}
		}

		reply, err := c.leaderCall(server, raft.LeaderCall{Inner: cmd}, remaining)
		if err != nil {
			return nil, server, err
		}

		switch {
		case reply.Redirect.Known():
			server = reply.Redirect
		case reply.Err != nil:
			return nil, server, reply.Err
		default:
			return reply.Value, server, nil
		}
	}
}

// LocalQuery evaluates fn against the machine state of the addressed node, without
// consensus. The reply carries the read position and the leader known to that node.
func (c *Client) LocalQuery(server raft.NodeID, fn func(machineState any) any, timeout time.Duration) (QueryReply, raft.NodeID, error) {
	d, ok := Lookup(server)
	if !ok {
		return QueryReply{}, server, fmt.Errorf("%w: %s", ErrNoProc, server)
	}

	reply, err := d.call(raft.DirtyQuery{Fn: fn}, timeout)
	if err != nil {
		return QueryReply{}, server, err
	}
	if reply.Err != nil {
		return QueryReply{}, server, reply.Err
	}

	qr, ok := reply.Value.(QueryReply)
	if !ok {
		return QueryReply{}, server, fmt.Errorf("unexpected dirty query reply type %T", reply.Value)
	}
	return qr, server, nil
}

// ConsistentQuery schedules fn through the log so the answer reflects consensus. It
// is a command in the query namespace with an AwaitConsensus reply mode.
func (c *Client) ConsistentQuery(server raft.NodeID, fn func(machineState any) any) (any, raft.NodeID, error) {
	return c.Command(server, raft.Command{
		Kind:      raft.QueryCommand,
		Data:      fn,
		ReplyMode: raft.AwaitConsensus,
	}, ConsistentQueryTimeout)
}

// StateQuery performs a leader call returning either the full node state or the
// cluster member set.
func (c *Client) StateQuery(server raft.NodeID, spec raft.StateQuerySpec, timeout time.Duration) (any, raft.NodeID, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, server, &TimeoutError{Server: server}
		}

		reply, err := c.leaderCall(server, raft.LeaderCall{Inner: raft.StateQuery{Spec: spec}}, remaining)
		if err != nil {
			return nil, server, err
		}

		switch {
		case reply.Redirect.Known():
			server = reply.Redirect
		case reply.Err != nil:
			return nil, server, reply.Err
		default:
			return reply.Value, server, nil
		}
	}
}

// leaderCall issues one hop of the redirect loop: local drivers get a direct mailbox
// call, off-host nodes go through the transport. Transport failures surface as
// structured errors rather than reaching the dispatch loop.
func (c *Client) leaderCall(server raft.NodeID, call raft.LeaderCall, timeout time.Duration) (raft.Reply, error) {
	if d, ok := Lookup(server); ok {
		return d.call(call, timeout)
	}

	if c.transport != nil {
		if cmd, ok := call.Inner.(raft.Command); ok {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			reply, err := c.transport.ForwardCommand(ctx, server, &cmd)
			if err != nil {
				return raft.Reply{}, fmt.Errorf("%w: %s: %v", ErrNodeDown, server, err)
			}
			return reply, nil
		}
	}

	return raft.Reply{}, fmt.Errorf("%w: %s", ErrNoProc, server)
}

// Command performs a leader call against a node registered on this host.
func Command(server raft.NodeID, cmd raft.Command, timeout time.Duration) (any, raft.NodeID, error) {
	return defaultClient.Command(server, cmd, timeout)
}

// LocalQuery queries a node registered on this host without consensus.
func LocalQuery(server raft.NodeID, fn func(machineState any) any, timeout time.Duration) (QueryReply, raft.NodeID, error) {
	return defaultClient.LocalQuery(server, fn, timeout)
}

// ConsistentQuery queries a node registered on this host through the log.
func ConsistentQuery(server raft.NodeID, fn func(machineState any) any) (any, raft.NodeID, error) {
	return defaultClient.ConsistentQuery(server, fn)
}

// StateQuery queries the node state or member set of a node registered on this host.
func StateQuery(server raft.NodeID, spec raft.StateQuerySpec, timeout time.Duration) (any, raft.NodeID, error) {
	return defaultClient.StateQuery(server, spec, timeout)
}
