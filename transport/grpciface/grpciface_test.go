package grpciface

import (
	"context"
	"testing"
	"time"

	"github.com/datex-network/datex-hub/iface"
	"github.com/stretchr/testify/require"
)

func TestClientServerStreamExchangesFrames(t *testing.T) {
	srv := NewServer("127.0.0.1:18331", iface.Properties{})
	srvIface := iface.New(srv)
	srv.Bind(srvIface)
	require.True(t, srv.Open(context.Background()))
	defer srv.Close(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := NewClient("127.0.0.1:18331", iface.Properties{})
	clientIface := iface.New(client)
	client.Bind(clientIface)
	require.True(t, client.Open(context.Background()))
	defer client.Close(context.Background())

	select {
	case ev := <-clientIface.SocketEvents():
		require.Equal(t, iface.SocketEventNew, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("client socket event not observed")
	}

	select {
	case ev := <-srvIface.SocketEvents():
		require.Equal(t, iface.SocketEventNew, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("server socket event not observed")
	}

	frame := []byte{0xDA, 0x7E, 0x05, 0x00, 0x00}
	require.True(t, client.Send(context.Background(), frame, client.sock.UUID))
}
