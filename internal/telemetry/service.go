package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/facefollow/internal/control"
)

const (
	ServiceName       = "facefollow.telemetry.v1.Telemetry"
	StreamTicksMethod = "/" + ServiceName + "/StreamTicks"
	GetStatusMethod   = "/" + ServiceName + "/GetStatus"
)

// TelemetryServer is the service implementation registered with gRPC.
type TelemetryServer interface {
	StreamTicks(req *structpb.Struct, stream grpc.ServerStream) error
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the telemetry service. Messages are well-known
// protobuf types so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetStatus",
		Handler:    getStatusHandler,
	}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamTicks",
		Handler:       streamTicksHandler,
		ServerStreams: true,
	}},
	Metadata: "facefollow/telemetry/v1/telemetry.proto",
}

func streamTicksHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamTicks(req, stream)
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TelemetryServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// TickToStruct converts a tick to its wire form, following the tick's JSON
// field names.
func TickToStruct(t control.Tick) (*structpb.Struct, error) {
	return toStruct(t)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Server implements TelemetryServer over a Broadcaster.
type Server struct {
	broadcaster *Broadcaster
	status      func() any

	mu       sync.Mutex
	grpc     *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

var _ TelemetryServer = (*Server)(nil)

// NewServer streams ticks from b. status, if set, supplies GetStatus; its
// value must marshal to a JSON object.
func NewServer(b *Broadcaster, status func() any) *Server {
	return &Server{broadcaster: b, status: status}
}

// StreamTicks sends ticks until the client goes away or the broadcaster
// closes. The request may set "every" to decimate the stream.
func (s *Server) StreamTicks(req *structpb.Struct, stream grpc.ServerStream) error {
	var every uint64
	if v, ok := req.GetFields()["every"]; ok {
		if n := v.GetNumberValue(); n > 1 {
			every = uint64(n)
		}
	}
	id, ch := s.broadcaster.Subscribe(every)
	defer s.broadcaster.Unsubscribe(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := TickToStruct(t)
			if err != nil {
				return status.Errorf(codes.Internal, "encode tick %d: %v", t.Seq, err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.status == nil {
		return nil, status.Error(codes.Unimplemented, "no status source")
	}
	st, err := toStruct(s.status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return st, nil
}

// Register adds the service to an existing gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&ServiceDesc, s)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpc != nil {
		return fmt.Errorf("telemetry server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.grpc = grpc.NewServer()
	s.Register(s.grpc)

	srv := s.grpc
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends all streams and waits until ctx is done for them to drain.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.grpc
	s.grpc = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		srv.Stop()
	}
	s.wg.Wait()
	logf("gRPC server stopped")
	return nil
}
