package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yangcancai/ra/internal/raft"
)

const (
	// RPCTimeout is the maximum time to wait for a single RPC attempt.
	// Section 5.6 states that broadcast time should be an order of magnitude less than
	// the election timeout. For typical networks, RPC round-trip times are << 15ms, so
	// a 50ms timeout provides a comfortable safety margin.
	RPCTimeout = 50 * time.Millisecond

	// MaxAppendEntriesRetries controls retry behavior for AppendEntries RPCs. The
	// replication proxy re-issues batches on its own interval, so per-call retries
	// stay small.
	MaxAppendEntriesRetries = 3

	// RetryBackoffBase is the base duration for exponential backoff between retries
	RetryBackoffBase = 10 * time.Millisecond

	// MaxRetryBackoff is the maximum backoff duration between retries
	MaxRetryBackoff = 100 * time.Millisecond
)

// ErrPeerNotFound is returned for calls to a node with no registered connection.
var ErrPeerNotFound = errors.New("peer not found")

// GrpcTransport implements raft.Transport over gRPC with the JSON codec. One client
// connection is pooled per peer.
type GrpcTransport struct {
	// A map to store the underlying grpc.ClientConn for each peer. It is a
	// map[raft.NodeID]*grpc.ClientConn. sync.Map provides thread-safe access and is
	// optimized for read-heavy use, which this pool is.
	clientsConnPool *sync.Map
	// Local node identity, stamped on outbound envelopes.
	localID raft.NodeID
}

// NewGrpcTransport builds the transport and dials every peer in the map. Failing to
// establish a connection to a single node should not prevent connections to other
// nodes, so dial errors are logged and skipped.
func NewGrpcTransport(localID raft.NodeID, peers map[raft.NodeID]raft.Peer) *GrpcTransport {
	t := &GrpcTransport{
		clientsConnPool: &sync.Map{},
		localID:         localID,
	}

	for id, peer := range peers {
		if id == localID {
			continue
		}
		if err := t.AddPeer(id, peer.Addr); err != nil {
			log.Printf("[TRANSPORT-%s] Failed establishing a gRPC channel to peer %v: %v", localID, id, err)
		}
	}

	return t
}

// getClientConn retrieves a grpc.ClientConn for the given raft.NodeID from the connection pool
func (t *GrpcTransport) getClientConn(peerID raft.NodeID) (*grpc.ClientConn, error) {
	clientConn, ok := t.clientsConnPool.Load(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPeerNotFound, peerID)
	}

	// We must type assert the value returned by Load, as it is of type `any` by default
	conn, ok := clientConn.(*grpc.ClientConn)
	if !ok {
		return nil, fmt.Errorf("invalid clientConn type for peer %v: %T", peerID, clientConn)
	}

	return conn, nil
}

// RequestVote performs one synchronous vote call. Retries are deliberately absent:
// the transient vote-request tasks carry their own absolute timeout and a failed vote
// is simply reported back as an error variant.
func (t *GrpcTransport) RequestVote(ctx context.Context, to raft.NodeID, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	conn, err := t.getClientConn(to)
	if err != nil {
		return nil, err
	}

	resp := &raft.RequestVoteResponse{}
	if err := conn.Invoke(ctx, "/ra.v1.Raft/RequestVote", req, resp, grpc.ForceCodec(jsonCodec{})); err != nil {
		return nil, fmt.Errorf("RequestVote to %s failed: %w", to, err)
	}
	return resp, nil
}

// AppendEntries sends one append-entries request with bounded retries and exponential
// backoff. The caller (the replication proxy) owns indefinite retry across intervals,
// as per Section 5.3 from the [Raft paper](https://raft.github.io/raft.pdf).
func (t *GrpcTransport) AppendEntries(ctx context.Context, to raft.NodeID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	conn, err := t.getClientConn(to)
	if err != nil {
		// Peer no longer in cluster - this is expected during membership changes
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < MaxAppendEntriesRetries; attempt++ {
		rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
		resp := &raft.AppendEntriesResponse{}
		lastErr = conn.Invoke(rpcCtx, "/ra.v1.Raft/AppendEntries", req, resp, grpc.ForceCodec(jsonCodec{}))
		cancel()

		if lastErr == nil {
			return resp, nil
		}

		// Check if parent context is cancelled (leader stepping down, node shutting down)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("AppendEntries to %s cancelled: %w", to, ctx.Err())
		default:
		}

		if attempt < MaxAppendEntriesRetries-1 {
			backoff := RetryBackoffBase * time.Duration(1<<attempt)
			if backoff > MaxRetryBackoff {
				backoff = MaxRetryBackoff
			}
			time.Sleep(backoff)
		}
	}

	return nil, fmt.Errorf("AppendEntries to %s failed after %d attempts: %w", to, MaxAppendEntriesRetries, lastErr)
}

// SendMessage delivers a fire-and-forget protocol message.
func (t *GrpcTransport) SendMessage(ctx context.Context, to raft.NodeID, msg any) error {
	conn, err := t.getClientConn(to)
	if err != nil {
		return err
	}

	env, err := WrapMessage(t.localID, msg)
	if err != nil {
		return err
	}

	rpcCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
	defer cancel()

	if err := conn.Invoke(rpcCtx, "/ra.v1.Raft/Send", env, &ack{}, grpc.ForceCodec(jsonCodec{})); err != nil {
		return fmt.Errorf("Send to %s failed: %w", to, err)
	}
	return nil
}

// ForwardCommand forwards a client command to a node on another host and decodes its
// reply into the local shapes.
func (t *GrpcTransport) ForwardCommand(ctx context.Context, to raft.NodeID, cmd *raft.Command) (raft.Reply, error) {
	conn, err := t.getClientConn(to)
	if err != nil {
		return raft.Reply{}, err
	}

	data, err := json.Marshal(cmd.Data)
	if err != nil {
		return raft.Reply{}, fmt.Errorf("failed to marshal command data: %w", err)
	}

	req := &CommandRequest{
		Kind:        string(cmd.Kind),
		Data:        data,
		ReplyMode:   uint8(cmd.ReplyMode),
		Correlation: cmd.Correlation,
	}

	resp := &CommandReply{}
	if err := conn.Invoke(ctx, "/ra.v1.Raft/Command", req, resp, grpc.ForceCodec(jsonCodec{})); err != nil {
		return raft.Reply{}, fmt.Errorf("Command to %s failed: %w", to, err)
	}

	reply := raft.Reply{}
	switch {
	case resp.Error != "":
		reply.Err = errors.New(resp.Error)
	case resp.Redirect != "":
		reply.Redirect = raft.NodeID(resp.Redirect)
	default:
		var value any
		if len(resp.Value) > 0 {
			if err := json.Unmarshal(resp.Value, &value); err != nil {
				return raft.Reply{}, fmt.Errorf("failed to unmarshal command reply: %w", err)
			}
		}
		reply.Value = value
	}
	return reply, nil
}

// AddPeer adds a gRPC connection for a new peer that joined the cluster
func (t *GrpcTransport) AddPeer(peerID raft.NodeID, peerAddr string) error {
	// Check if connection already exists
	if _, err := t.getClientConn(peerID); err == nil {
		return nil
	}

	conn, err := grpc.NewClient(peerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to establish gRPC connection to peer %s: %w", peerID, err)
	}

	t.clientsConnPool.Store(peerID, conn)
	return nil
}

// RemovePeer closes and removes the gRPC connection for a peer that left the cluster
func (t *GrpcTransport) RemovePeer(peerID raft.NodeID) {
	if value, ok := t.clientsConnPool.LoadAndDelete(peerID); ok {
		if conn, ok := value.(*grpc.ClientConn); ok {
			if err := conn.Close(); err != nil {
				log.Printf("[TRANSPORT-%s] Failed to close connection to removed peer %s: %v", t.localID, peerID, err)
			}
		}
	}
}

// CloseAllClients closes all gRPC client connections initiated by this node
func (t *GrpcTransport) CloseAllClients() {
	// Range is a thread-safe way to iterate over a sync.Map.
	t.clientsConnPool.Range(func(key, value any) bool {
		if conn, ok := value.(*grpc.ClientConn); ok {
			if err := conn.Close(); err != nil {
				log.Printf("[TRANSPORT-%s] Failed to close connection to %s: %v", t.localID, key, err)
			}
		}
		// Return true to continue the iteration.
		return true
	})
}

var _ raft.Transport = (*GrpcTransport)(nil)
