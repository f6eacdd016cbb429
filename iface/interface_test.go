package iface

import (
	"context"
	"testing"

	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImpl struct {
	props   Properties
	openOK  bool
	closeOK bool
	sent    [][]byte
}

func (f *fakeImpl) Open(context.Context) bool  { return f.openOK }
func (f *fakeImpl) Close(context.Context) bool { return f.closeOK }
func (f *fakeImpl) Send(_ context.Context, payload []byte, _ socket.UUID) bool {
	f.sent = append(f.sent, payload)
	return true
}
func (f *fakeImpl) Properties() Properties { return f.props }

func TestChannelFactorHandlesZeroRTT(t *testing.T) {
	p := Properties{MaxBandwidthBps: 1000, RoundTripTimeMS: 0}
	assert.Equal(t, uint32(1000), p.ChannelFactor())

	p2 := Properties{MaxBandwidthBps: 1000, RoundTripTimeMS: 10}
	assert.Equal(t, uint32(100), p2.ChannelFactor())
}

func TestOpenEmitsConnectedOrNotConnectedEvent(t *testing.T) {
	i := New(&fakeImpl{openOK: true})
	ok := i.Open(context.Background())
	require.True(t, ok)
	assert.Equal(t, StateConnected, i.State())
	assert.Equal(t, InterfaceEventConnected, <-i.InterfaceEvents())

	j := New(&fakeImpl{openOK: false})
	ok = j.Open(context.Background())
	require.False(t, ok)
	assert.Equal(t, StateNotConnected, j.State())
	assert.Equal(t, InterfaceEventNotConnected, <-j.InterfaceEvents())
}

func TestAddSocketEmitsNewAndRemoveEmitsRemoved(t *testing.T) {
	i := New(&fakeImpl{})
	s := socket.New(i.UUID, socket.DirectionInOut, 0)

	i.AddSocket(s)
	ev := <-i.SocketEvents()
	assert.Equal(t, SocketEventNew, ev.Kind)
	assert.Equal(t, socket.StateOpen, s.State())

	i.RemoveSocket(s.UUID)
	ev = <-i.SocketEvents()
	assert.Equal(t, SocketEventRemoved, ev.Kind)
	assert.Equal(t, socket.StateDestroyed, s.State())
}

func TestCloseDestroysAllSockets(t *testing.T) {
	i := New(&fakeImpl{closeOK: true})
	s := socket.New(i.UUID, socket.DirectionInOut, 0)
	i.AddSocket(s)
	<-i.SocketEvents()

	ok := i.Close(context.Background())
	assert.True(t, ok)
	assert.Equal(t, StateDestroyed, i.State())
	assert.Equal(t, socket.StateDestroyed, s.State())
	assert.Equal(t, InterfaceEventDestroyed, <-i.InterfaceEvents())
	assert.Empty(t, i.Sockets())
}

func TestRegisterSocketEndpointEmitsRegisteredEvent(t *testing.T) {
	i := New(&fakeImpl{})
	s := socket.New(i.UUID, socket.DirectionInOut, 0)
	i.RegisterSocketEndpoint(s, endpoint.ANY, 2)
	ev := <-i.SocketEvents()
	assert.Equal(t, SocketEventRegistered, ev.Kind)
	assert.Equal(t, uint8(2), ev.Distance)
}
