// Package wsiface implements iface.Implementation over WebSocket
// connections using gorilla/websocket, grounded on the teacher's
// GracefulServer lifecycle shape (listen/serve in a goroutine, context-
// driven shutdown) adapted to a socket-per-connection transport.
package wsiface

import (
	"context"
	"sync"
	"time"

	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/socket"
	"github.com/gorilla/websocket"
)

var clientDialer = websocket.Dialer{HandshakeTimeout: 10 * time.Second}

// Client is a WebSocket-client iface.Implementation: it dials one remote
// endpoint on Open and exposes that connection as a single outbound/inbound
// socket.
type Client struct {
	url   string
	props iface.Properties

	mu    sync.Mutex
	conn  *websocket.Conn
	sock  *socket.Socket
	iface *iface.Interface
}

// NewClient creates a WebSocket client implementation targeting url. Bind
// must be called with the owning Interface before Open.
func NewClient(url string, props iface.Properties) *Client {
	props.InterfaceType = "websocket-client"
	if props.Channel == "" {
		props.Channel = "websocket"
	}
	props.Direction = socket.DirectionInOut
	return &Client{url: url, props: props}
}

// Bind records the Interface this implementation belongs to, so it can
// register the socket it creates on a successful dial.
func (c *Client) Bind(i *iface.Interface) { c.iface = i }

func (c *Client) Properties() iface.Properties { return c.props }

func (c *Client) Open(ctx context.Context) bool {
	conn, _, err := clientDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.sock = socket.New(c.iface.UUID, socket.DirectionInOut, c.props.ChannelFactor())
	sock := c.sock
	c.mu.Unlock()

	c.iface.AddSocket(sock)
	go c.readPump(conn, sock)
	return true
}

func (c *Client) Close(context.Context) bool {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return true
	}
	return conn.Close() == nil
}

func (c *Client) Send(_ context.Context, payload []byte, socketUUID socket.UUID) bool {
	c.mu.Lock()
	conn := c.conn
	sock := c.sock
	c.mu.Unlock()
	if conn == nil || sock == nil || sock.UUID != socketUUID {
		return false
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload) == nil
}

// readPump feeds every binary frame from conn into sock's block collector
// until the connection closes, then marks the socket destroyed via the
// owning interface.
func (c *Client) readPump(conn *websocket.Conn, sock *socket.Socket) {
	defer func() {
		c.iface.RemoveSocket(sock.UUID)
	}()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		sock.Collector().Feed(data)
	}
}
