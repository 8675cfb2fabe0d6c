package mocks

import (
	"context"
	"sync"

	"github.com/yangcancai/ra/internal/raft"
)

// SentMessage records one fire-and-forget send.
type SentMessage struct {
	To  raft.NodeID
	Msg any
}

// SentAppend records one append-entries call.
type SentAppend struct {
	To  raft.NodeID
	Req *raft.AppendEntriesRequest
}

// SentVote records one vote call.
type SentVote struct {
	To  raft.NodeID
	Req *raft.RequestVoteRequest
}

// MockTransport is an in-memory implementation of raft.Transport that records every
// call and answers from scripted responses.
type MockTransport struct {
	mu sync.Mutex

	// VoteResponses maps a peer to the response its vote call returns. Peers without
	// an entry grant the vote.
	VoteResponses map[raft.NodeID]*raft.RequestVoteResponse
	// VoteErrs maps a peer to the error its vote call returns.
	VoteErrs map[raft.NodeID]error
	// AppendErrs maps a peer to the error its append-entries call returns.
	AppendErrs map[raft.NodeID]error
	// ForwardReplies maps a peer to the reply a forwarded command returns.
	ForwardReplies map[raft.NodeID]raft.Reply

	messages []SentMessage
	appends  []SentAppend
	votes    []SentVote
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (t *MockTransport) RequestVote(_ context.Context, to raft.NodeID, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	t.mu.Lock()
	t.votes = append(t.votes, SentVote{To: to, Req: req})
	err := t.VoteErrs[to]
	resp := t.VoteResponses[to]
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &raft.RequestVoteResponse{Term: req.Term, VoteGranted: true, From: to}
	}
	return resp, nil
}

func (t *MockTransport) AppendEntries(_ context.Context, to raft.NodeID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	t.mu.Lock()
	t.appends = append(t.appends, SentAppend{To: to, Req: req})
	err := t.AppendErrs[to]
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &raft.AppendEntriesResponse{Term: req.Term, Success: true, From: to, MatchIndex: req.PrevLogIndex + uint64(len(req.Entries))}, nil
}

func (t *MockTransport) SendMessage(_ context.Context, to raft.NodeID, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, SentMessage{To: to, Msg: msg})
	return nil
}

func (t *MockTransport) ForwardCommand(_ context.Context, to raft.NodeID, cmd *raft.Command) (raft.Reply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ForwardReplies[to], nil
}

// Messages returns a copy of all recorded fire-and-forget sends.
func (t *MockTransport) Messages() []SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SentMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// Appends returns a copy of all recorded append-entries calls.
func (t *MockTransport) Appends() []SentAppend {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SentAppend, len(t.appends))
	copy(out, t.appends)
	return out
}

// Votes returns a copy of all recorded vote calls.
func (t *MockTransport) Votes() []SentVote {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SentVote, len(t.votes))
	copy(out, t.votes)
	return out
}

var _ raft.Transport = (*MockTransport)(nil)
