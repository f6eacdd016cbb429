package wsiface

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/socket"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server is a WebSocket-server iface.Implementation: every accepted
// connection becomes its own socket, registered on the owning Interface as
// it is upgraded.
type Server struct {
	addr  string
	props iface.Properties

	mu     sync.Mutex
	conns  map[socket.UUID]*websocket.Conn
	httpSrv *http.Server
	iface  *iface.Interface
}

// NewServer creates a WebSocket server implementation listening on addr.
// Bind must be called with the owning Interface before Open.
func NewServer(addr string, props iface.Properties) *Server {
	props.InterfaceType = "websocket-server"
	if props.Channel == "" {
		props.Channel = "websocket"
	}
	props.Direction = socket.DirectionInOut
	return &Server{addr: addr, props: props, conns: make(map[socket.UUID]*websocket.Conn)}
}

func (s *Server) Bind(i *iface.Interface) { s.iface = i }

func (s *Server) Properties() iface.Properties { return s.props }

func (s *Server) Open(context.Context) bool {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	srv := s.httpSrv
	s.mu.Unlock()

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return false
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	return true
}

func (s *Server) Close(ctx context.Context) bool {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return true
	}
	return srv.Shutdown(ctx) == nil
}

func (s *Server) Send(_ context.Context, payload []byte, socketUUID socket.UUID) bool {
	s.mu.Lock()
	conn, ok := s.conns[socketUUID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload) == nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sock := socket.New(s.iface.UUID, socket.DirectionInOut, s.props.ChannelFactor())
	s.mu.Lock()
	s.conns[sock.UUID] = conn
	s.mu.Unlock()

	s.iface.AddSocket(sock)
	s.readPump(conn, sock)
}

func (s *Server) readPump(conn *websocket.Conn, sock *socket.Socket) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, sock.UUID)
		s.mu.Unlock()
		s.iface.RemoveSocket(sock.UUID)
		conn.Close()
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
