// Package sockmgr implements the socket manager: the central authority on
// endpoint reachability, grounded on the fabric-hub routing-table /
// atomic-counter style and the reference SocketManager's register/blocklist
// semantics.
package sockmgr

import (
	"sync"
	"time"

	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/socket"
)

// DynamicEndpointProperties is the per-(endpoint,socket) routing metadata.
type DynamicEndpointProperties struct {
	KnownSinceMS int64
	Distance     uint8
	IsDirect     bool
}

type socketEntry struct {
	socket    *socket.Socket
	endpoints map[endpoint.Endpoint]struct{}
}

// Manager holds the endpoint<->socket multi-index, the distance table, and
// the per-endpoint socket blocklist. It is written by the socket-event
// consumer task and read by the router; both paths take the same mutex.
type Manager struct {
	mu sync.RWMutex

	sockets         map[socket.UUID]*socketEntry
	endpointSockets map[endpoint.Endpoint]map[socket.UUID]DynamicEndpointProperties
	blocklist       map[endpoint.Endpoint]map[socket.UUID]struct{}

	now func() int64
}

func New() *Manager {
	return &Manager{
		sockets:         make(map[socket.UUID]*socketEntry),
		endpointSockets: make(map[endpoint.Endpoint]map[socket.UUID]DynamicEndpointProperties),
		blocklist:       make(map[endpoint.Endpoint]map[socket.UUID]struct{}),
		now:             func() int64 { return time.Now().UnixMilli() },
	}
}

// AddSocket enrolls a newly created socket with no registered endpoints yet.
func (m *Manager) AddSocket(s *socket.Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sockets[s.UUID]; ok {
		return
	}
	m.sockets[s.UUID] = &socketEntry{socket: s, endpoints: make(map[endpoint.Endpoint]struct{})}
}

// RemoveSocket purges a socket from every table, including all blocklists.
func (m *Manager) RemoveSocket(id socket.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sockets[id]
	if !ok {
		return
	}
	for ep := range entry.endpoints {
		delete(m.endpointSockets[ep], id)
		if len(m.endpointSockets[ep]) == 0 {
			delete(m.endpointSockets, ep)
		}
	}
	delete(m.sockets, id)
	for ep, set := range m.blocklist {
		delete(set, id)
		if len(set) == 0 {
			delete(m.blocklist, ep)
		}
	}
}

// RegisterSocketEndpoint inserts/updates (endpoint, socket) -> distance.
// Idempotent: re-registering with a smaller distance updates the entry; a
// larger (or equal) distance is ignored.
func (m *Manager) RegisterSocketEndpoint(id socket.UUID, ep endpoint.Endpoint, distance uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sockets[id]
	if !ok {
		return false
	}

	if m.endpointSockets[ep] == nil {
		m.endpointSockets[ep] = make(map[socket.UUID]DynamicEndpointProperties)
	}
	existing, has := m.endpointSockets[ep][id]
	if has && existing.Distance <= distance {
		return false
	}

	m.endpointSockets[ep][id] = DynamicEndpointProperties{
		KnownSinceMS: m.now(),
		Distance:     distance,
		IsDirect:     distance == 1,
	}
	entry.endpoints[ep] = struct{}{}
	return true
}

// AddToBlocklist marks a socket unusable for a given endpoint, e.g. after a
// bounce-back confirms that path cannot reach it.
func (m *Manager) AddToBlocklist(ep endpoint.Endpoint, id socket.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocklist[ep] == nil {
		m.blocklist[ep] = make(map[socket.UUID]struct{})
	}
	m.blocklist[ep][id] = struct{}{}
}

func (m *Manager) isBlocked(ep endpoint.Endpoint, id socket.UUID) bool {
	set, ok := m.blocklist[ep]
	if !ok {
		return false
	}
	_, blocked := set[id]
	return blocked
}

// SocketCandidate is one (socket, properties) pair eligible to reach an endpoint.
type SocketCandidate struct {
	Socket     *socket.Socket
	Properties DynamicEndpointProperties
}

// CandidatesFor returns every non-blocklisted, non-excluded socket
// registered for ep, for the router's selection step.
func (m *Manager) CandidatesFor(ep endpoint.Endpoint, exclude map[socket.UUID]struct{}) []SocketCandidate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.endpointSockets[ep]
	if !ok {
		return nil
	}
	out := make([]SocketCandidate, 0, len(entries))
	for id, props := range entries {
		if m.isBlocked(ep, id) {
			continue
		}
		if _, excluded := exclude[id]; excluded {
			continue
		}
		entry, ok := m.sockets[id]
		if !ok || !entry.socket.CanSend() {
			continue
		}
		out = append(out, SocketCandidate{Socket: entry.socket, Properties: props})
	}
	return out
}

// GetSocketByUUID returns a registered socket, if present.
func (m *Manager) GetSocketByUUID(id socket.UUID) (*socket.Socket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sockets[id]
	if !ok {
		return nil, false
	}
	return entry.socket, true
}

// EndpointsFor returns every endpoint currently reachable through socket id.
func (m *Manager) EndpointsFor(id socket.UUID) []endpoint.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sockets[id]
	if !ok {
		return nil
	}
	out := make([]endpoint.Endpoint, 0, len(entry.endpoints))
	for ep := range entry.endpoints {
		out = append(out, ep)
	}
	return out
}
