// Package socket implements the DATEX socket abstraction: one logical
// conversation endpoint on an interface.
package socket

import (
	"sync"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/endpoint"
	"github.com/google/uuid"
)

// Direction gates which sockets the router may select for outbound sends.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
	DirectionInOut
)

func (d Direction) CanSend() bool { return d == DirectionOut || d == DirectionInOut }
func (d Direction) CanReceive() bool { return d == DirectionIn || d == DirectionInOut }

// State is the socket lifecycle state.
type State uint8

const (
	StateCreated State = iota
	StateOpen
	StateDestroyed
)

// UUID identifies a socket uniquely within a ComHub instance.
type UUID string

func NewUUID() UUID { return UUID(uuid.NewString()) }

// Socket is one logical conversation endpoint on an Interface.
type Socket struct {
	UUID          UUID
	InterfaceUUID string
	Direction     Direction
	ChannelFactor uint32 // max_bandwidth / round_trip_time_ms, routing tiebreaker

	ConnectionTimestampMS int64

	mu            sync.RWMutex
	state         State
	directEndpoint *endpoint.Endpoint

	collector *block.Collector
}

// New creates a socket in the Created state, bound to interfaceUUID.
func New(interfaceUUID string, dir Direction, channelFactor uint32) *Socket {
	return &Socket{
		UUID:          NewUUID(),
		InterfaceUUID: interfaceUUID,
		Direction:     dir,
		ChannelFactor: channelFactor,
		state:         StateCreated,
		collector:     block.NewCollector(64),
	}
}

// Collector returns the socket's block collector, which the interface
// implementation feeds with raw inbound bytes.
func (s *Socket) Collector() *block.Collector { return s.collector }

func (s *Socket) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Socket) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// DirectEndpoint returns the endpoint directly on the other side of this
// socket, if known (set the first time a block arrives with distance 1).
func (s *Socket) DirectEndpoint() (endpoint.Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.directEndpoint == nil {
		return endpoint.Endpoint{}, false
	}
	return *s.directEndpoint, true
}

// SetDirectEndpointIfUnset sets the direct endpoint only if it has not
// already been set, matching the "distance==1 and not yet set" invariant.
// Returns true if it set the value.
func (s *Socket) SetDirectEndpointIfUnset(ep endpoint.Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.directEndpoint != nil {
		return false
	}
	s.directEndpoint = &ep
	return true
}

// CanSend reports whether this socket's direction allows outbound sends
// and it has not been destroyed.
func (s *Socket) CanSend() bool {
	return s.Direction.CanSend() && s.State() != StateDestroyed
}
