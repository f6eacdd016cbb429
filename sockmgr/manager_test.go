package sockmgr

import (
	"testing"

	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSocketEndpointSetsDirectOnlyAtDistanceOne(t *testing.T) {
	m := New()
	s := socket.New("iface-1", socket.DirectionInOut, 1000)
	m.AddSocket(s)

	ep, err := endpoint.NewPerson("ben", endpoint.InstanceAny)
	require.NoError(t, err)

	updated := m.RegisterSocketEndpoint(s.UUID, ep, 1)
	assert.True(t, updated)

	candidates := m.CandidatesFor(ep, nil)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].Properties.IsDirect)
	assert.Equal(t, uint8(1), candidates[0].Properties.Distance)
}

func TestRegisterSocketEndpointIgnoresLargerDistance(t *testing.T) {
	m := New()
	s := socket.New("iface-1", socket.DirectionInOut, 1000)
	m.AddSocket(s)
	ep, _ := endpoint.NewPerson("ben", endpoint.InstanceAny)

	assert.True(t, m.RegisterSocketEndpoint(s.UUID, ep, 1))
	assert.False(t, m.RegisterSocketEndpoint(s.UUID, ep, 3))

	candidates := m.CandidatesFor(ep, nil)
	require.Len(t, candidates, 1)
	assert.Equal(t, uint8(1), candidates[0].Properties.Distance)
}

func TestRegisterSocketEndpointUpdatesOnSmallerDistance(t *testing.T) {
	m := New()
	s := socket.New("iface-1", socket.DirectionInOut, 1000)
	m.AddSocket(s)
	ep, _ := endpoint.NewPerson("ben", endpoint.InstanceAny)

	assert.True(t, m.RegisterSocketEndpoint(s.UUID, ep, 3))
	assert.True(t, m.RegisterSocketEndpoint(s.UUID, ep, 1))

	candidates := m.CandidatesFor(ep, nil)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].Properties.IsDirect)
}

func TestBlocklistExcludesSocketFromCandidates(t *testing.T) {
	m := New()
	s := socket.New("iface-1", socket.DirectionInOut, 1000)
	m.AddSocket(s)
	ep, _ := endpoint.NewPerson("ben", endpoint.InstanceAny)
	m.RegisterSocketEndpoint(s.UUID, ep, 2)

	m.AddToBlocklist(ep, s.UUID)
	assert.Empty(t, m.CandidatesFor(ep, nil))
}

func TestRemoveSocketPurgesEverything(t *testing.T) {
	m := New()
	s := socket.New("iface-1", socket.DirectionInOut, 1000)
	m.AddSocket(s)
	ep, _ := endpoint.NewPerson("ben", endpoint.InstanceAny)
	m.RegisterSocketEndpoint(s.UUID, ep, 1)
	m.AddToBlocklist(ep, s.UUID)

	m.RemoveSocket(s.UUID)

	_, ok := m.GetSocketByUUID(s.UUID)
	assert.False(t, ok)
	assert.Empty(t, m.CandidatesFor(ep, nil))
}

func TestCandidatesExcludesNonSendableSockets(t *testing.T) {
	m := New()
	s := socket.New("iface-1", socket.DirectionIn, 1000)
	m.AddSocket(s)
	ep, _ := endpoint.NewPerson("ben", endpoint.InstanceAny)
	m.RegisterSocketEndpoint(s.UUID, ep, 1)

	assert.Empty(t, m.CandidatesFor(ep, nil))
}
