package blockhandler

import (
	"testing"
	"time"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/socket"
	"github.com/stretchr/testify/require"
)

func mustEP(t *testing.T, name string) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.NewPerson(name, endpoint.InstanceAny)
	require.NoError(t, err)
	return e
}

func TestHistoryDedupAndOriginalSocket(t *testing.T) {
	h := New(10, time.Minute)
	id := block.ID{Sender: mustEP(t, "ben"), ContextID: 1}
	sockID := socket.UUID("s1")

	require.False(t, h.IsInHistory(id))
	h.AddToHistory(id, &sockID)
	require.True(t, h.IsInHistory(id))

	got, ok := h.OriginalSocket(id)
	require.True(t, ok)
	require.Equal(t, sockID, got)
}

func TestHistoryEvictsOldestWhenFull(t *testing.T) {
	h := New(2, time.Minute)
	id1 := block.ID{ContextID: 1}
	id2 := block.ID{ContextID: 2}
	id3 := block.ID{ContextID: 3}

	h.AddToHistory(id1, nil)
	h.AddToHistory(id2, nil)
	h.AddToHistory(id3, nil)

	require.False(t, h.IsInHistory(id1))
	require.True(t, h.IsInHistory(id2))
	require.True(t, h.IsInHistory(id3))
}

func TestObserverReceivesSingleBlockSection(t *testing.T) {
	h := New(10, time.Minute)
	sender := mustEP(t, "ben")
	sectionID := block.EndpointContextSectionID{
		EndpointContextID: block.EndpointContextID{Sender: sender, ContextID: 7},
	}

	obsCh, unsubscribe := h.RegisterObserver(sectionID)
	defer unsubscribe()

	b := &block.Block{
		Routing: block.RoutingHeader{Sender: sender},
		Header:  block.BlockHeader{ContextID: 7, EndOfSection: true},
	}
	h.HandleIncomingBlock(b)

	select {
	case section := <-obsCh:
		require.False(t, section.IsStream())
		got := <-section.Blocks
		require.Equal(t, b, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for observer notification")
	}
}

func TestObserverReceivesStreamSection(t *testing.T) {
	h := New(10, time.Minute)
	sender := mustEP(t, "ben")
	sectionID := block.EndpointContextSectionID{
		EndpointContextID: block.EndpointContextID{Sender: sender, ContextID: 9},
	}

	obsCh, unsubscribe := h.RegisterObserver(sectionID)
	defer unsubscribe()

	first := &block.Block{Routing: block.RoutingHeader{Sender: sender}, Header: block.BlockHeader{ContextID: 9, BlockNumber: 0}}
	last := &block.Block{Routing: block.RoutingHeader{Sender: sender}, Header: block.BlockHeader{ContextID: 9, BlockNumber: 1, EndOfSection: true}}

	h.HandleIncomingBlock(first)

	var section IncomingSection
	select {
	case section = <-obsCh:
		require.True(t, section.IsStream())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream section notification")
	}

	h.HandleIncomingBlock(last)

	got1 := <-section.Blocks
	got2 := <-section.Blocks
	require.Equal(t, first, got1)
	require.Equal(t, last, got2)

	_, open := <-section.Blocks
	require.False(t, open)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := New(10, time.Minute)
	sectionID := block.EndpointContextSectionID{}
	_, unsubscribe := h.RegisterObserver(sectionID)
	unsubscribe()
	unsubscribe()
}
