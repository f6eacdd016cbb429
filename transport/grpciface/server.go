package grpciface

import (
	"context"
	"net"
	"sync"

	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/socket"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type serverConn struct {
	stream blockStream
	mu     sync.Mutex
}

func (c *serverConn) send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(&wrapperspb.BytesValue{Value: payload}) == nil
}

// Server is a gRPC-server iface.Implementation: every accepted bidi stream
// becomes its own socket.
type Server struct {
	addr  string
	props iface.Properties

	mu      sync.Mutex
	conns   map[socket.UUID]*serverConn
	grpcSrv *grpc.Server
	iface   *iface.Interface
}

// NewServer creates a gRPC server implementation listening on addr.
// Bind must be called with the owning Interface before Open.
func NewServer(addr string, props iface.Properties) *Server {
	props.InterfaceType = "grpc-server"
	if props.Channel == "" {
		props.Channel = "grpc"
	}
	props.Direction = socket.DirectionInOut
	return &Server{addr: addr, props: props, conns: make(map[socket.UUID]*serverConn)}
}

func (s *Server) Bind(i *iface.Interface) { s.iface = i }

func (s *Server) Properties() iface.Properties { return s.props }

func (s *Server) Open(context.Context) bool {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return false
	}

	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcSrv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "datex.hub.BlockTransport",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    streamMethodName,
				Handler:       streamHandlerFunc(s.handleStream),
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "datexhub/grpciface",
	}, nil)

	s.mu.Lock()
	s.grpcSrv = grpcSrv
	s.mu.Unlock()

	go func() {
		_ = grpcSrv.Serve(ln)
	}()
	return true
}

func (s *Server) Close(context.Context) bool {
	s.mu.Lock()
	srv := s.grpcSrv
	s.mu.Unlock()
	if srv == nil {
		return true
	}
	srv.GracefulStop()
	return true
}

func (s *Server) Send(_ context.Context, payload []byte, socketUUID socket.UUID) bool {
	s.mu.Lock()
	conn, ok := s.conns[socketUUID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return conn.send(payload)
}

func (s *Server) handleStream(stream grpc.ServerStream) error {
	adapter := serverStreamAdapter{stream}
	sock := socket.New(s.iface.UUID, socket.DirectionInOut, s.props.ChannelFactor())
	conn := &serverConn{stream: adapter}

	s.mu.Lock()
	s.conns[sock.UUID] = conn
	s.mu.Unlock()

	s.iface.AddSocket(sock)
	defer func() {
		s.mu.Lock()
		delete(s.conns, sock.UUID)
		s.mu.Unlock()
		s.iface.RemoveSocket(sock.UUID)
	}()

	return drainLoop(adapter, sock.Collector().Feed)
}
