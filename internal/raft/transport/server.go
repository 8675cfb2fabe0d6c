package transport

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Server exposes the node's RPC surface over gRPC using the JSON codec.
type Server struct {
	bind string
	lis  net.Listener
	srv  *grpc.Server
}

func NewServer(bind string) *Server {
	return &Server{bind: bind}
}

// Start binds the listener and serves in the background. The handler receives every
// inbound peer call and forwarded client command.
func (s *Server) Start(handler Handler) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis

	var opts []grpc.ServerOption
	// Force JSON codec to avoid requiring protobuf types
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))

	srv := grpc.NewServer(opts...)
	s.srv = srv
	srv.RegisterService(&_Raft_serviceDesc, &raftImpl{handler: handler})

	go func() { _ = srv.Serve(lis) }()
	return nil
}

// Addr returns the bound listen address, which may differ from the configured one when
// port 0 was requested.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.bind
}

// Stop gracefully stops the server, falling back to a hard stop when the context
// expires first.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		s.srv.Stop()
	}
	s.srv = nil
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}
