// Package ifacemgr implements the interface manager: a factory registry
// plus interface lifecycle (create/open/remove), grounded on the teacher's
// ServiceRegistry (factory + health/lifecycle dispatch) style.
package ifacemgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/datex-network/datex-hub/iface"
)

// Priority selects an interface's eligibility for fallback routing.
// PriorityNone excludes the interface from the router's fallback step.
type Priority struct {
	None  bool
	Value uint16
}

var PriorityNone = Priority{None: true}

func PriorityOf(v uint16) Priority { return Priority{Value: v} }

// Factory constructs a concrete Implementation from opaque setup data.
type Factory func(setupData any) (iface.Implementation, error)

// Errors returned by the interface manager's operations.
var (
	ErrInterfaceTypeDoesNotExist                 = fmt.Errorf("ifacemgr: interface type does not exist")
	ErrInterfaceOpenFailed                       = fmt.Errorf("ifacemgr: interface open failed")
	ErrInterfaceAlreadyExists                    = fmt.Errorf("ifacemgr: interface already exists")
	ErrInterfaceDoesNotExist                     = fmt.Errorf("ifacemgr: interface does not exist")
	ErrInvalidInterfaceDirectionForFallback      = fmt.Errorf("ifacemgr: priority != None requires direction != In")
	ErrInvalidSetupData                          = fmt.Errorf("ifacemgr: invalid setup data")
)

type entry struct {
	iface    *iface.Interface
	priority Priority
}

// Manager holds registered interface factories and live interfaces.
type Manager struct {
	mu        sync.RWMutex
	factories map[string]Factory
	interfaces map[string]entry
}

func New() *Manager {
	return &Manager{
		factories:  make(map[string]Factory),
		interfaces: make(map[string]entry),
	}
}

// RegisterFactory registers a named interface factory. Re-registering the
// same type overwrites the previous factory.
func (m *Manager) RegisterFactory(interfaceType string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[interfaceType] = factory
}

// CreateInterface builds an implementation from its registered factory,
// opens it, and adds it under priority.
func (m *Manager) CreateInterface(ctx context.Context, interfaceType string, setupData any, priority Priority) (*iface.Interface, error) {
	m.mu.RLock()
	factory, ok := m.factories[interfaceType]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInterfaceTypeDoesNotExist
	}

	impl, err := factory(setupData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSetupData, err)
	}

	i := iface.New(impl)
	if err := m.OpenAndAddInterface(ctx, i, priority); err != nil {
		return nil, err
	}
	return i, nil
}

// OpenAndAddInterface opens the interface (if not already connected) and
// adds it to the manager.
func (m *Manager) OpenAndAddInterface(ctx context.Context, i *iface.Interface, priority Priority) error {
	if i.State() != iface.StateConnected {
		if !i.Open(ctx) {
			return ErrInterfaceOpenFailed
		}
	}
	return m.AddInterface(i, priority)
}

// AddInterface registers an already-open interface, rejecting duplicates
// and interfaces whose direction cannot satisfy a non-None priority.
func (m *Manager) AddInterface(i *iface.Interface, priority Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.interfaces[i.UUID]; exists {
		return ErrInterfaceAlreadyExists
	}
	if !priority.None && !i.Properties().Direction.CanSend() {
		return ErrInvalidInterfaceDirectionForFallback
	}
	m.interfaces[i.UUID] = entry{iface: i, priority: priority}
	return nil
}

// Priority returns the priority registered for an interface, if present.
func (m *Manager) Priority(interfaceUUID string) (Priority, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.interfaces[interfaceUUID]
	if !ok {
		return Priority{}, false
	}
	return e.priority, true
}

// Get returns the interface for a UUID.
func (m *Manager) Get(interfaceUUID string) (*iface.Interface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.interfaces[interfaceUUID]
	if !ok {
		return nil, false
	}
	return e.iface, true
}

// Has reports whether an interface is registered.
func (m *Manager) Has(interfaceUUID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.interfaces[interfaceUUID]
	return ok
}

// All returns a snapshot of every registered interface, keyed by UUID.
func (m *Manager) All() map[string]*iface.Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*iface.Interface, len(m.interfaces))
	for id, e := range m.interfaces {
		out[id] = e.iface
	}
	return out
}

// FallbackCandidates returns interfaces eligible for fallback routing
// (priority != None), highest priority first.
func (m *Manager) FallbackCandidates() []*iface.Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := make([]entry, 0, len(m.interfaces))
	for _, e := range m.interfaces {
		if !e.priority.None {
			candidates = append(candidates, e)
		}
	}
	sortByPriorityThenChannelFactor(candidates)
	out := make([]*iface.Interface, len(candidates))
	for i, e := range candidates {
		out[i] = e.iface
	}
	return out
}

func sortByPriorityThenChannelFactor(entries []entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			if !less(a, b) {
				break
			}
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// less reports whether a should sort after b (b has higher priority, or
// equal priority and higher channel factor).
func less(a, b entry) bool {
	if a.priority.Value != b.priority.Value {
		return a.priority.Value < b.priority.Value
	}
	return a.iface.Properties().ChannelFactor() < b.iface.Properties().ChannelFactor()
}

// RemoveInterface closes the interface and drops it from the manager.
// Removing triggers destruction of all its sockets via Interface.Close;
// no RemovedSocket events are emitted for the sockets destroyed this way.
func (m *Manager) RemoveInterface(ctx context.Context, interfaceUUID string) error {
	m.mu.Lock()
	e, ok := m.interfaces[interfaceUUID]
	if ok {
		delete(m.interfaces, interfaceUUID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrInterfaceDoesNotExist
	}
	e.iface.Close(ctx)
	return nil
}

// HandleDestroyed drops an interface from the map in response to its own
// Destroyed event, without re-invoking Close.
func (m *Manager) HandleDestroyed(interfaceUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.interfaces, interfaceUUID)
}
