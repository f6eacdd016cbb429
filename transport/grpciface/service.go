// Package grpciface implements iface.Implementation over a bidirectional
// gRPC byte stream, grounded on the teacher's coreengine/grpc server
// lifecycle (GracefulServer's listen/serve-in-goroutine/GracefulStop shape)
// with a hand-registered grpc.ServiceDesc in place of protoc-generated
// stubs, since the wire payload is already framed DATEX blocks rather than
// a typed proto message.
package grpciface

import (
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const streamMethodName = "Stream"

// blockStream is the interface satisfied by both server- and client-side
// gRPC streams carrying wrapperspb.BytesValue frames.
type blockStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
}

// streamHandler is invoked once per accepted server-side stream.
type streamHandler func(stream grpc.ServerStream) error

func streamHandlerFunc(h streamHandler) func(srv interface{}, stream grpc.ServerStream) error {
	return func(_ interface{}, stream grpc.ServerStream) error {
		return h(stream)
	}
}

// serviceDesc describes a single bidi-streaming "Stream" method under the
// service name "datex.hub.BlockTransport", without requiring a .proto file:
// the wire type is the well-known BytesValue message, and the framing
// inside each BytesValue is the DATEX block wire format itself.
func serviceDesc(handler streamHandler) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "datex.hub.BlockTransport",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    streamMethodName,
				Handler:       streamHandlerFunc(handler),
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "datexhub/grpciface",
	}
}

// serverStreamAdapter adapts a grpc.ServerStream to blockStream.
type serverStreamAdapter struct{ grpc.ServerStream }

func (a serverStreamAdapter) Send(b *wrapperspb.BytesValue) error { return a.ServerStream.SendMsg(b) }
func (a serverStreamAdapter) Recv() (*wrapperspb.BytesValue, error) {
	msg := new(wrapperspb.BytesValue)
	if err := a.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// drainLoop reads frames off stream until it errors or io.EOF, handing each
// payload to onFrame. Returns when the stream ends.
func drainLoop(stream blockStream, onFrame func([]byte)) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		onFrame(msg.Value)
	}
}
