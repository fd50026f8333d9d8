package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/broadcast"
	"github.com/alfredjeanlab/homewatch/internal/idgen"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/presence"
)

// MotionServer is the server API for the MotionService.
type MotionServer interface {
	ListEvents(context.Context, *api.ListEventsRequest) (*api.ListEventsResponse, error)
	StreamEvents(*api.StreamEventsRequest, grpc.ServerStream) error
}

var motionServiceDesc = grpc.ServiceDesc{
	ServiceName: api.MotionServiceName,
	HandlerType: (*MotionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListEvents", Handler: listEventsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEvents", Handler: streamEventsHandler, ServerStreams: true},
	},
	Metadata: "homewatch/v1/motion",
}

func listEventsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.ListEventsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MotionServer).ListEvents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.ListEventsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MotionServer).ListEvents(ctx, req.(*api.ListEventsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(api.StreamEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MotionServer).StreamEvents(in, stream)
}

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the MotionService, health and reflection, and returns the
// server ready to serve along with its health server.
func NewGRPCServer(s *Server) (*grpc.Server, *health.Server) {
	authn := s.authenticator()
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authn),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			AuthStreamInterceptor(authn),
		),
	)

	srv.RegisterService(&motionServiceDesc, s)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	s.SyncHealth(hs)

	reflection.Register(srv)

	return srv, hs
}

// SyncHealth publishes the watcher's state on the gRPC health service.
// The watcher is SERVING while its loop runs or waits to start.
func (s *Server) SyncHealth(hs *health.Server) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if state := s.WatcherHealth().State; state.Running() || state == model.WatcherIdle {
		st = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(api.WatcherHealthService, st)
}

// ListEvents returns logged events matching the request filter.
func (s *Server) ListEvents(_ context.Context, req *api.ListEventsRequest) (*api.ListEventsResponse, error) {
	if req.Filter.Severity != "" && !req.Filter.Severity.IsValid() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid severity %q", req.Filter.Severity)
	}
	if req.Filter.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	return &api.ListEventsResponse{Events: s.motion.List(req.Filter)}, nil
}

// StreamEvents sends motion events until the client cancels or falls too
// far behind, in which case it ends with Unavailable.
func (s *Server) StreamEvents(req *api.StreamEventsRequest, stream grpc.ServerStream) error {
	since := int64(-1)
	if req.Replay {
		since = max(req.SinceID, 0)
	}

	sub := broadcast.NewQueueSubscriber(idgen.SubscriberID(), s.subscriberBuffer)
	replay, err := s.motion.SubscribeFrom(sub, since)
	if err != nil {
		return status.Error(codes.Unavailable, "server shutting down")
	}
	defer s.motion.Unsubscribe(sub)

	ctx := stream.Context()
	viewer := presence.Viewer{
		ID:        sub.ID(),
		User:      UserFromContext(ctx),
		Transport: presence.TransportGRPC,
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		viewer.RemoteAddr = p.Addr.String()
	}
	s.Presence.Join(viewer)
	defer s.Presence.Leave(sub.ID())

	for _, ev := range replay {
		if err := stream.SendMsg(ev); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return status.Error(codes.Unavailable, "subscriber dropped")
			}
			if err := stream.SendMsg(ev); err != nil {
				return err
			}
			s.Presence.Touch(sub.ID())
		}
	}
}
