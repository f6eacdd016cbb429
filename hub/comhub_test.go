package hub

import (
	"context"
	"testing"
	"time"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/hubconfig"
	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/ifacemgr"
	"github.com/datex-network/datex-hub/nettrace"
	"github.com/datex-network/datex-hub/observability"
	"github.com/datex-network/datex-hub/socket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func mustEP(t *testing.T, name string) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.NewPerson(name, endpoint.InstanceAny)
	require.NoError(t, err)
	return e
}

func newTestHub(t *testing.T, self endpoint.Endpoint) *ComHub {
	t.Helper()
	cfg := hubconfig.DefaultConfig()
	cfg.AllowUnsignedBlocks = true
	return New(self, cfg, observability.NopLogger{}, observability.NewMetrics(prometheus.NewRegistry()))
}

// pipeImpl is a loopback-style transport that hands every Send directly to
// a peer socket's collector, standing in for a real wire between two hubs.
type pipeImpl struct {
	props iface.Properties
	peer  *socket.Socket
}

func (p *pipeImpl) Open(context.Context) bool  { return true }
func (p *pipeImpl) Close(context.Context) bool { return true }
func (p *pipeImpl) Properties() iface.Properties { return p.props }
func (p *pipeImpl) Send(_ context.Context, payload []byte, _ socket.UUID) bool {
	p.peer.Collector().Feed(payload)
	return true
}

func connectedPair(t *testing.T, a, b *ComHub) (*socket.Socket, *socket.Socket) {
	t.Helper()
	ctx := context.Background()
	props := iface.Properties{Direction: socket.DirectionInOut, InterfaceType: "pipe", Channel: "pipe"}

	implA := &pipeImpl{props: props}
	ifaceA := iface.New(implA)
	implB := &pipeImpl{props: props}
	ifaceB := iface.New(implB)

	sockA := socket.New(ifaceA.UUID, socket.DirectionInOut, 10)
	sockB := socket.New(ifaceB.UUID, socket.DirectionInOut, 10)
	implA.peer = sockB
	implB.peer = sockA

	require.NoError(t, a.AddInterface(ctx, ifaceA, ifacemgr.PriorityOf(1)))
	require.NoError(t, b.AddInterface(ctx, ifaceB, ifacemgr.PriorityOf(1)))

	ifaceA.AddSocket(sockA)
	ifaceB.AddSocket(sockB)

	return sockA, sockB
}

func TestTwoHubDirectSend(t *testing.T) {
	ben := mustEP(t, "ben")
	lea := mustEP(t, "lea")
	hubA := newTestHub(t, ben)
	hubB := newTestHub(t, lea)
	connectedPair(t, hubA, hubB)

	sectionID := block.EndpointContextSectionID{
		EndpointContextID: block.EndpointContextID{Sender: ben, ContextID: 1},
	}
	obsCh, unsubscribe := hubB.Blocks.RegisterObserver(sectionID)
	defer unsubscribe()

	ctx := context.Background()
	b := &block.Block{
		Routing: block.RoutingHeader{Receivers: block.NewReceivers(lea)},
		Header:  block.BlockHeader{ContextID: 1, Type: block.TypeData, EndOfSection: true},
		Body:    []byte("hello"),
	}
	unreachable, err := hubA.SendOwnBlock(ctx, b)
	require.NoError(t, err)
	require.Empty(t, unreachable)

	select {
	case section := <-obsCh:
		got := <-section.Blocks
		require.Equal(t, ben, got.Routing.Sender)
		require.Equal(t, []byte("hello"), got.Body)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for section on B")
	}
}

func TestHelloSentOnNewSendableSocket(t *testing.T) {
	ben := mustEP(t, "ben")
	hubA := newTestHub(t, ben)

	peerSocket := socket.New("peer-iface", socket.DirectionInOut, 10)
	impl := &pipeImpl{props: iface.Properties{Direction: socket.DirectionInOut}, peer: peerSocket}
	ifaceA := iface.New(impl)
	require.NoError(t, hubA.AddInterface(context.Background(), ifaceA, ifacemgr.PriorityOf(1)))

	sockA := socket.New(ifaceA.UUID, socket.DirectionInOut, 10)
	ifaceA.AddSocket(sockA)

	select {
	case got := <-peerSocket.Collector().Out():
		require.Equal(t, block.TypeHello, got.Header.Type)
		require.Equal(t, ben, got.Routing.Sender)
		require.True(t, got.Routing.Receivers.Contains(endpoint.ANY))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for hello")
	}
}

func TestSendOwnBlockReturnsUnreachableForUnknownEndpoint(t *testing.T) {
	ben := mustEP(t, "ben")
	dave := mustEP(t, "dave")
	hubA := newTestHub(t, ben)

	b := &block.Block{
		Routing: block.RoutingHeader{Receivers: block.NewReceivers(dave)},
		Header:  block.BlockHeader{ContextID: 1, Type: block.TypeData, EndOfSection: true},
		Body:    []byte("x"),
	}
	unreachable, err := hubA.SendOwnBlock(context.Background(), b)
	require.Error(t, err)
	require.Equal(t, []endpoint.Endpoint{dave}, unreachable)
}

func TestTraceRoundTrip(t *testing.T) {
	ben := mustEP(t, "ben")
	lea := mustEP(t, "lea")
	hubA := newTestHub(t, ben)
	hubB := newTestHub(t, lea)
	connectedPair(t, hubA, hubB)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hops, err := hubA.Trace(ctx, lea, time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, hops)
}

// TestTraceAcrossThreeHopsRecordsIntermediateIncomingHops confirms B, an
// intermediate hub that is not itself a Trace receiver, still records its
// own Incoming hop before relaying — both on the way out (A's Trace headed
// to C) and on the way back (C's TraceBack headed to A) — rather than only
// ever showing up as an Outgoing hop.
func TestTraceAcrossThreeHopsRecordsIntermediateIncomingHops(t *testing.T) {
	ben := mustEP(t, "ben")
	lea := mustEP(t, "lea")
	carol := mustEP(t, "carol")
	hubA := newTestHub(t, ben)
	hubB := newTestHub(t, lea)
	hubC := newTestHub(t, carol)

	connectedPair(t, hubA, hubB)
	connectedPair(t, hubB, hubC)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hops, err := hubA.Trace(ctx, carol, 2*time.Second)
	require.NoError(t, err)

	// A-out, B-in, B-out, C-in, C-out, B-in, B-out: one full round trip
	// with both of B's legs recorded as a distinct Incoming/Outgoing pair.
	require.Len(t, hops, 7)

	countHops := func(ep endpoint.Endpoint, dir nettrace.HopDirection) int {
		n := 0
		for _, h := range hops {
			if h.Endpoint == ep && h.Direction == dir {
				n++
			}
		}
		return n
	}

	require.Equal(t, 2, countHops(lea, nettrace.Incoming), "B should record an Incoming hop for both legs of the round trip")
	require.Equal(t, 2, countHops(lea, nettrace.Outgoing), "B should record an Outgoing hop for both legs of the round trip")
	require.Equal(t, 1, countHops(carol, nettrace.Incoming))
	require.Equal(t, 1, countHops(ben, nettrace.Outgoing))
}
