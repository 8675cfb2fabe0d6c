package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/yangcancai/ra/internal/raft"
)

// Handler is the server-side surface the transport delegates inbound calls to. The
// driver registry implements it by routing to the locally registered node.
type Handler interface {
	HandleRequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
	HandleAppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
	HandleMessage(ctx context.Context, env *Envelope) error
	HandleCommand(ctx context.Context, req *CommandRequest) (*CommandReply, error)
}

// raftServer adapts a Handler to the gRPC method set.
type raftServer interface {
	RequestVote(ctx context.Context, in *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
	AppendEntries(ctx context.Context, in *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
	Send(ctx context.Context, in *Envelope) (*ack, error)
	Command(ctx context.Context, in *CommandRequest) (*CommandReply, error)
}

type raftImpl struct {
	handler Handler
}

func (r *raftImpl) RequestVote(ctx context.Context, in *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	if in == nil {
		in = &raft.RequestVoteRequest{}
	}
	return r.handler.HandleRequestVote(ctx, in)
}

func (r *raftImpl) AppendEntries(ctx context.Context, in *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	if in == nil {
		in = &raft.AppendEntriesRequest{}
	}
	return r.handler.HandleAppendEntries(ctx, in)
}

func (r *raftImpl) Send(ctx context.Context, in *Envelope) (*ack, error) {
	if in == nil {
		return &ack{}, nil
	}
	if err := r.handler.HandleMessage(ctx, in); err != nil {
		return nil, err
	}
	return &ack{}, nil
}

func (r *raftImpl) Command(ctx context.Context, in *CommandRequest) (*CommandReply, error) {
	if in == nil {
		in = &CommandRequest{}
	}
	return r.handler.HandleCommand(ctx, in)
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Raft_serviceDesc = grpc.ServiceDesc{
	ServiceName: "ra.v1.Raft",
	HandlerType: (*raftServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: _Raft_RequestVote_Handler},
		{MethodName: "AppendEntries", Handler: _Raft_AppendEntries_Handler},
		{MethodName: "Send", Handler: _Raft_Send_Handler},
		{MethodName: "Command", Handler: _Raft_Command_Handler},
	},
}

func _Raft_RequestVote_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.RequestVoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ra.v1.Raft/RequestVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).RequestVote(ctx, req.(*raft.RequestVoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Raft_AppendEntries_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.AppendEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ra.v1.Raft/AppendEntries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).AppendEntries(ctx, req.(*raft.AppendEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Raft_Send_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ra.v1.Raft/Send"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).Send(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func _Raft_Command_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).Command(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ra.v1.Raft/Command"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).Command(ctx, req.(*CommandRequest))
	}
	return interceptor(ctx, in, info, handler)
}
