package grpciface

import (
	"context"
	"sync"

	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/socket"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var fullStreamMethod = "/datex.hub.BlockTransport/" + streamMethodName

type clientStreamAdapter struct{ grpc.ClientStream }

func (a clientStreamAdapter) Send(b *wrapperspb.BytesValue) error { return a.ClientStream.SendMsg(b) }
func (a clientStreamAdapter) Recv() (*wrapperspb.BytesValue, error) {
	msg := new(wrapperspb.BytesValue)
	if err := a.ClientStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Client is a gRPC-client iface.Implementation: it dials one remote server
// and opens a single bidi stream exposed as one socket.
type Client struct {
	target string
	props  iface.Properties

	mu     sync.Mutex
	cc     *grpc.ClientConn
	stream clientStreamAdapter
	sock   *socket.Socket
	iface  *iface.Interface
}

// NewClient creates a gRPC client implementation dialing target.
// Bind must be called with the owning Interface before Open.
func NewClient(target string, props iface.Properties) *Client {
	props.InterfaceType = "grpc-client"
	if props.Channel == "" {
		props.Channel = "grpc"
	}
	props.Direction = socket.DirectionInOut
	return &Client{target: target, props: props}
}

func (c *Client) Bind(i *iface.Interface) { c.iface = i }

func (c *Client) Properties() iface.Properties { return c.props }

func (c *Client) Open(ctx context.Context) bool {
	cc, err := grpc.NewClient(c.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return false
	}

	stream, err := cc.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    streamMethodName,
		ServerStreams: true,
		ClientStreams: true,
	}, fullStreamMethod)
	if err != nil {
		cc.Close()
		return false
	}

	adapter := clientStreamAdapter{stream}
	sock := socket.New(c.iface.UUID, socket.DirectionInOut, c.props.ChannelFactor())

	c.mu.Lock()
	c.cc = cc
	c.stream = adapter
	c.sock = sock
	c.mu.Unlock()

	c.iface.AddSocket(sock)
	go func() {
		defer c.iface.RemoveSocket(sock.UUID)
		_ = drainLoop(adapter, sock.Collector().Feed)
	}()
	return true
}

func (c *Client) Close(context.Context) bool {
	c.mu.Lock()
	cc := c.cc
	c.cc = nil
	c.mu.Unlock()
	if cc == nil {
		return true
	}
	return cc.Close() == nil
}

func (c *Client) Send(_ context.Context, payload []byte, socketUUID socket.UUID) bool {
	c.mu.Lock()
	stream := c.stream
	sock := c.sock
	c.mu.Unlock()
	if sock == nil || sock.UUID != socketUUID {
		return false
	}
	return stream.Send(&wrapperspb.BytesValue{Value: payload}) == nil
}
