// Package iface defines the Interface abstraction: a wrapper around a
// concrete transport implementation that owns sockets and emits
// lifecycle/socket events consumed by the interface manager and hub.
package iface

import (
	"context"
	"sync"

	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/socket"
	"github.com/google/uuid"
)

// State is the interface connection lifecycle.
type State uint8

const (
	StateNotConnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateDestroyed
)

// Direction mirrors socket.Direction at the interface-properties level.
type Direction = socket.Direction

// ReconnectionConfig governs automatic reconnect attempts for
// continuous-connection interfaces.
type ReconnectionConfig struct {
	InitialDelayMS int64
	MaxDelayMS     int64
	MaxAttempts    int
}

// Properties describes the static and estimated-dynamic characteristics of
// an interface, used by the router for channel-factor tiebreaks.
type Properties struct {
	InterfaceType       string // e.g. "websocket-client"
	Channel             string // e.g. "websocket"
	Name                string
	Direction           Direction
	RoundTripTimeMS     uint32
	MaxBandwidthBps     uint32
	ContinuousConnection bool
	AllowRedirects      bool
	IsSecureChannel     bool
	Reconnection        ReconnectionConfig
}

// ChannelFactor is the routing preference metric: bandwidth per millisecond
// of round-trip latency. Zero RTT is treated as "infinitely fast" and
// clamped to MaxBandwidthBps to avoid a divide-by-zero.
func (p Properties) ChannelFactor() uint32 {
	if p.RoundTripTimeMS == 0 {
		return p.MaxBandwidthBps
	}
	return p.MaxBandwidthBps / p.RoundTripTimeMS
}

// SocketEventKind discriminates Socket lifecycle notifications.
type SocketEventKind uint8

const (
	SocketEventNew SocketEventKind = iota
	SocketEventRemoved
	SocketEventRegistered
)

// SocketEvent is emitted by an Implementation as physical connections
// appear, disappear, or identify their remote endpoint.
type SocketEvent struct {
	Kind     SocketEventKind
	Socket   *socket.Socket
	Distance uint8 // valid only for SocketEventRegistered
	Endpoint endpoint.Endpoint // valid only for SocketEventRegistered
}

// InterfaceEventKind discriminates interface-level lifecycle notifications.
type InterfaceEventKind uint8

const (
	InterfaceEventConnected InterfaceEventKind = iota
	InterfaceEventNotConnected
	InterfaceEventDestroyed
)

// Implementation is the contract a concrete transport must satisfy. Send
// must never block the caller; it returns once the write has been handed
// to the transport, not once it is acknowledged.
type Implementation interface {
	Open(ctx context.Context) bool
	Close(ctx context.Context) bool
	Send(ctx context.Context, payload []byte, socketUUID socket.UUID) bool
	Properties() Properties
}

// Interface wraps a concrete Implementation, owning its sockets and
// forwarding its event streams to subscribers (the socket manager and hub).
type Interface struct {
	UUID string

	mu            sync.RWMutex
	state         State
	sockets       map[socket.UUID]*socket.Socket
	implementation Implementation

	socketEvents    chan SocketEvent
	interfaceEvents chan InterfaceEventKind
}

// New wraps implementation in a freshly created Interface.
func New(implementation Implementation) *Interface {
	return &Interface{
		UUID:            uuid.NewString(),
		state:           StateNotConnected,
		sockets:         make(map[socket.UUID]*socket.Socket),
		implementation:  implementation,
		socketEvents:    make(chan SocketEvent, 32),
		interfaceEvents: make(chan InterfaceEventKind, 8),
	}
}

func (i *Interface) Properties() Properties { return i.implementation.Properties() }

func (i *Interface) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

func (i *Interface) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// SocketEvents returns the single-consumer socket event stream. Moving it
// out a second time is a programmer error.
func (i *Interface) SocketEvents() <-chan SocketEvent { return i.socketEvents }

// InterfaceEvents returns the single-consumer interface event stream.
func (i *Interface) InterfaceEvents() <-chan InterfaceEventKind { return i.interfaceEvents }

// Open drives the implementation's open path, reflecting the result into
// the interface's state and emitting a Connected/NotConnected event.
func (i *Interface) Open(ctx context.Context) bool {
	i.setState(StateConnecting)
	ok := i.implementation.Open(ctx)
	if ok {
		i.setState(StateConnected)
		i.interfaceEvents <- InterfaceEventConnected
	} else {
		i.setState(StateNotConnected)
		i.interfaceEvents <- InterfaceEventNotConnected
	}
	return ok
}

// Close drives the implementation's close path and destroys all sockets.
func (i *Interface) Close(ctx context.Context) bool {
	i.setState(StateClosing)
	ok := i.implementation.Close(ctx)

	i.mu.Lock()
	for uid, s := range i.sockets {
		s.SetState(socket.StateDestroyed)
		delete(i.sockets, uid)
	}
	i.mu.Unlock()

	i.setState(StateDestroyed)
	i.interfaceEvents <- InterfaceEventDestroyed
	return ok
}

// AddSocket registers a newly created physical socket and emits NewSocket.
func (i *Interface) AddSocket(s *socket.Socket) {
	i.mu.Lock()
	s.SetState(socket.StateOpen)
	i.sockets[s.UUID] = s
	i.mu.Unlock()
	i.socketEvents <- SocketEvent{Kind: SocketEventNew, Socket: s}
}

// RemoveSocket removes a socket by UUID and emits RemovedSocket, then marks
// it destroyed — matching the reference order (event before state flip).
func (i *Interface) RemoveSocket(id socket.UUID) {
	i.mu.Lock()
	s, ok := i.sockets[id]
	if ok {
		delete(i.sockets, id)
	}
	i.mu.Unlock()
	if !ok {
		return
	}
	i.socketEvents <- SocketEvent{Kind: SocketEventRemoved, Socket: s}
	s.SetState(socket.StateDestroyed)
}

// RegisterSocketEndpoint notifies subscribers that a socket has been
// identified as being `distance` hops from `ep`.
func (i *Interface) RegisterSocketEndpoint(s *socket.Socket, ep endpoint.Endpoint, distance uint8) {
	i.socketEvents <- SocketEvent{Kind: SocketEventRegistered, Socket: s, Endpoint: ep, Distance: distance}
}

// Send hands payload to the implementation for the given socket.
func (i *Interface) Send(ctx context.Context, payload []byte, socketUUID socket.UUID) bool {
	return i.implementation.Send(ctx, payload, socketUUID)
}

// Sockets returns a snapshot of currently registered sockets.
func (i *Interface) Sockets() []*socket.Socket {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*socket.Socket, 0, len(i.sockets))
	for _, s := range i.sockets {
		out = append(out, s)
	}
	return out
}
