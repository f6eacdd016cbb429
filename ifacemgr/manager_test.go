package ifacemgr

import (
	"context"
	"testing"

	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImpl struct {
	props     iface.Properties
	openOK    bool
	closeOK   bool
}

func (f *fakeImpl) Open(ctx context.Context) bool  { return f.openOK }
func (f *fakeImpl) Close(ctx context.Context) bool { return f.closeOK }
func (f *fakeImpl) Send(ctx context.Context, payload []byte, socketUUID socket.UUID) bool {
	return true
}
func (f *fakeImpl) Properties() iface.Properties { return f.props }

func TestCreateInterfaceUnknownType(t *testing.T) {
	m := New()
	_, err := m.CreateInterface(context.Background(), "nope", nil, PriorityNone)
	assert.ErrorIs(t, err, ErrInterfaceTypeDoesNotExist)
}

func TestCreateInterfaceOpenFailure(t *testing.T) {
	m := New()
	m.RegisterFactory("fake", func(any) (iface.Implementation, error) {
		return &fakeImpl{openOK: false}, nil
	})
	_, err := m.CreateInterface(context.Background(), "fake", nil, PriorityNone)
	assert.ErrorIs(t, err, ErrInterfaceOpenFailed)
}

func TestCreateInterfaceSuccessAndDuplicateRejected(t *testing.T) {
	m := New()
	m.RegisterFactory("fake", func(any) (iface.Implementation, error) {
		return &fakeImpl{openOK: true, closeOK: true, props: iface.Properties{Direction: socket.DirectionOut}}, nil
	})
	i, err := m.CreateInterface(context.Background(), "fake", nil, PriorityNone)
	require.NoError(t, err)
	assert.True(t, m.Has(i.UUID))

	err = m.AddInterface(i, PriorityNone)
	assert.ErrorIs(t, err, ErrInterfaceAlreadyExists)
}

func TestFallbackRequiresSendCapableDirection(t *testing.T) {
	m := New()
	i := iface.New(&fakeImpl{props: iface.Properties{Direction: socket.DirectionIn}})
	err := m.AddInterface(i, PriorityOf(5))
	assert.ErrorIs(t, err, ErrInvalidInterfaceDirectionForFallback)
}

func TestRemoveInterfaceUnknown(t *testing.T) {
	m := New()
	err := m.RemoveInterface(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInterfaceDoesNotExist)
}

func TestFallbackCandidatesOrderedByPriorityThenChannelFactor(t *testing.T) {
	m := New()
	lowPrio := iface.New(&fakeImpl{props: iface.Properties{Direction: socket.DirectionOut, MaxBandwidthBps: 100, RoundTripTimeMS: 10}})
	highPrio := iface.New(&fakeImpl{props: iface.Properties{Direction: socket.DirectionOut, MaxBandwidthBps: 100, RoundTripTimeMS: 10}})
	require.NoError(t, m.AddInterface(lowPrio, PriorityOf(1)))
	require.NoError(t, m.AddInterface(highPrio, PriorityOf(10)))

	candidates := m.FallbackCandidates()
	require.Len(t, candidates, 2)
	assert.Equal(t, highPrio.UUID, candidates[0].UUID)
}
