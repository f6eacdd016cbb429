// Package loopback is an in-process iface.Implementation that feeds every
// Send directly into a peer socket's collector, skipping the network. It
// backs the hub's own local socket and same-process interconnects between
// two ComHub instances (tests, single-binary multi-persona deployments).
package loopback

import (
	"context"
	"sync"

	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/socket"
)

// Implementation delivers Send payloads straight into peer's collector.
type Implementation struct {
	props iface.Properties

	mu   sync.RWMutex
	peer *socket.Socket
}

// New creates a loopback implementation with the given properties.
// SetPeer must be called before anything sends through it.
func New(props iface.Properties) *Implementation {
	if props.Channel == "" {
		props.Channel = "loopback"
	}
	if props.InterfaceType == "" {
		props.InterfaceType = "loopback"
	}
	return &Implementation{props: props}
}

// SetPeer wires the socket Send delivers payloads into.
func (i *Implementation) SetPeer(s *socket.Socket) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.peer = s
}

func (i *Implementation) Open(context.Context) bool  { return true }
func (i *Implementation) Close(context.Context) bool { return true }

// Send feeds payload into the peer socket's collector synchronously on the
// caller's goroutine; it blocks while the collector's output channel is full.
func (i *Implementation) Send(_ context.Context, payload []byte, _ socket.UUID) bool {
	i.mu.RLock()
	peer := i.peer
	i.mu.RUnlock()
	if peer == nil {
		return false
	}
	peer.Collector().Feed(payload)
	return true
}

func (i *Implementation) Properties() iface.Properties { return i.props }

// NewConnectedPair builds two loopback implementations whose eventual
// sockets (set via SetPeer once the caller creates them) face each other,
// for wiring two hubs together without a real transport.
func NewConnectedPair(channel string) (a, b *Implementation) {
	props := iface.Properties{
		InterfaceType:        "loopback",
		Channel:              channel,
		Direction:            socket.DirectionInOut,
		ContinuousConnection: true,
		AllowRedirects:       true,
		IsSecureChannel:      true,
	}
	return New(props), New(props)
}
