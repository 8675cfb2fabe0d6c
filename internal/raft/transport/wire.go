package transport

import (
	"encoding/json"
	"fmt"

	"github.com/yangcancai/ra/internal/raft"
)

// Message kinds carried inside an Envelope. The fire-and-forget Send RPC multiplexes
// every protocol message shape over one method, so the payload is tagged.
const (
	kindAppendEntriesRequest  = "append_entries_request"
	kindAppendEntriesResponse = "append_entries_response"
	kindRequestVoteRequest    = "request_vote_request"
	kindRequestVoteResponse   = "request_vote_response"
)

// Envelope is the wire shape of a fire-and-forget message between nodes.
type Envelope struct {
	From    string          `json:"from"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// WrapMessage builds the envelope for one of the protocol message shapes.
func WrapMessage(from raft.NodeID, msg any) (*Envelope, error) {
	var kind string
	switch msg.(type) {
	case *raft.AppendEntriesRequest:
		kind = kindAppendEntriesRequest
	case *raft.AppendEntriesResponse:
		kind = kindAppendEntriesResponse
	case *raft.RequestVoteRequest:
		kind = kindRequestVoteRequest
	case *raft.RequestVoteResponse:
		kind = kindRequestVoteResponse
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	return &Envelope{From: string(from), Kind: kind, Payload: payload}, nil
}

// UnwrapMessage decodes an envelope back into the protocol message it carries.
func UnwrapMessage(env *Envelope) (raft.NodeID, any, error) {
	var msg any
	switch env.Kind {
	case kindAppendEntriesRequest:
		msg = &raft.AppendEntriesRequest{}
	case kindAppendEntriesResponse:
		msg = &raft.AppendEntriesResponse{}
	case kindRequestVoteRequest:
		msg = &raft.RequestVoteRequest{}
	case kindRequestVoteResponse:
		msg = &raft.RequestVoteResponse{}
	default:
		return "", nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal %s: %w", env.Kind, err)
	}
	return raft.NodeID(env.From), msg, nil
}

// CommandRequest is the wire shape of a forwarded client command.
type CommandRequest struct {
	Kind        string          `json:"kind"`
	Data        json.RawMessage `json:"data"`
	ReplyMode   uint8           `json:"reply_mode"`
	Correlation string          `json:"correlation,omitempty"`
}

// CommandReply is the wire shape of a forwarded command's reply.
type CommandReply struct {
	Value    json.RawMessage `json:"value,omitempty"`
	Redirect string          `json:"redirect,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type ack struct{}
