// Package hub implements the ComHub: the orchestrator tying together
// sockets, interfaces, routing, block history, and validation into the
// incoming (receive_block) and outgoing (send_own_block/redirect_block)
// pipelines, grounded on original_source/src/network/com_hub/mod.rs and the
// teacher's kernel.go event/shutdown and ServiceRegistry dispatch style.
package hub

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/blockhandler"
	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/hubconfig"
	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/ifacemgr"
	"github.com/datex-network/datex-hub/nettrace"
	"github.com/datex-network/datex-hub/observability"
	"github.com/datex-network/datex-hub/router"
	"github.com/datex-network/datex-hub/safety"
	"github.com/datex-network/datex-hub/signature"
	"github.com/datex-network/datex-hub/socket"
	"github.com/datex-network/datex-hub/sockmgr"
)

// ComHub is one DATEX endpoint's communication hub: it owns every
// interface, socket, and the routing/history state needed to exchange
// blocks with its peers.
type ComHub struct {
	Self   endpoint.Endpoint
	Config hubconfig.Config

	Interfaces *ifacemgr.Manager
	Sockets    *sockmgr.Manager
	Blocks     *blockhandler.Handler
	Router     *router.Router

	Logger  observability.Logger
	Metrics *observability.Metrics

	signPriv ed25519.PrivateKey
	signPub  [44]byte
	hasKey   bool

	mu         sync.Mutex
	contextSeq uint32

	localSocket *socket.Socket

	traceMu        sync.Mutex
	traceObservers map[uint32]chan []nettrace.Hop

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a ComHub for self, wiring up the socket manager, block
// handler, and router from cfg.
func New(self endpoint.Endpoint, cfg hubconfig.Config, logger observability.Logger, metrics *observability.Metrics) *ComHub {
	sockets := sockmgr.New()
	interfaces := ifacemgr.New()
	blocks := blockhandler.New(cfg.HistoryCapacity, cfg.HistoryTTL)

	h := &ComHub{
		Self:           self,
		Config:         cfg,
		Interfaces:     interfaces,
		Sockets:        sockets,
		Blocks:         blocks,
		Logger:         logger,
		Metrics:        metrics,
		traceObservers: make(map[uint32]chan []nettrace.Hop),
		done:           make(chan struct{}),
	}
	h.Router = router.New(self, sockets, interfaces, h.getLocalSocket)
	return h
}

// SetSigningKey installs the Ed25519 key the hub signs its own outgoing
// blocks with. The 32-byte public key is stored zero-padded to the
// Signature.PubKey blob width.
func (h *ComHub) SetSigningKey(priv ed25519.PrivateKey) {
	h.signPriv = priv
	pub := priv.Public().(ed25519.PublicKey)
	copy(h.signPub[:], pub)
	h.hasKey = true
}

// UseLocalSocket registers the loopback socket used for @@local / self
// routing, typically the hub side of a transport/loopback.Implementation.
func (h *ComHub) UseLocalSocket(s *socket.Socket) {
	h.mu.Lock()
	h.localSocket = s
	h.mu.Unlock()
	h.Sockets.AddSocket(s)
}

func (h *ComHub) getLocalSocket() *socket.Socket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.localSocket
}

// CreateInterface builds and opens a new interface from a registered
// factory, then wires its event streams into the hub.
func (h *ComHub) CreateInterface(ctx context.Context, interfaceType string, setupData any, priority ifacemgr.Priority) (*iface.Interface, error) {
	i, err := h.Interfaces.CreateInterface(ctx, interfaceType, setupData, priority)
	if err != nil {
		return nil, err
	}
	h.wireInterface(ctx, i)
	return i, nil
}

// AddInterface registers an already-open interface with the hub and wires
// its event streams.
func (h *ComHub) AddInterface(ctx context.Context, i *iface.Interface, priority ifacemgr.Priority) error {
	if err := h.Interfaces.AddInterface(i, priority); err != nil {
		return err
	}
	h.wireInterface(ctx, i)
	return nil
}

// RegisterFactory exposes the interface manager's factory registry.
func (h *ComHub) RegisterFactory(interfaceType string, factory ifacemgr.Factory) {
	h.Interfaces.RegisterFactory(interfaceType, factory)
}

func (h *ComHub) wireInterface(ctx context.Context, i *iface.Interface) {
	safety.Go(h.Logger, "interface-socket-events", func() { h.consumeSocketEvents(ctx, i) }, nil)
	safety.Go(h.Logger, "interface-lifecycle-events", func() { h.consumeInterfaceEvents(i) }, nil)
}

func (h *ComHub) consumeSocketEvents(ctx context.Context, i *iface.Interface) {
	for {
		select {
		case ev, ok := <-i.SocketEvents():
			if !ok {
				return
			}
			h.handleSocketEvent(ctx, i, ev)
		case <-h.done:
			return
		}
	}
}

func (h *ComHub) handleSocketEvent(ctx context.Context, i *iface.Interface, ev iface.SocketEvent) {
	switch ev.Kind {
	case iface.SocketEventNew:
		h.Sockets.AddSocket(ev.Socket)
		h.Metrics.SocketsByState.WithLabelValues("open").Inc()
		safety.Go(h.Logger, "socket-reader", func() { h.consumeSocketBlocks(ctx, ev.Socket) }, nil)
		if ev.Socket.CanSend() {
			h.sendHello(ctx, ev.Socket)
		}
	case iface.SocketEventRemoved:
		h.Sockets.RemoveSocket(ev.Socket.UUID)
		h.Metrics.SocketsByState.WithLabelValues("open").Dec()
		h.Metrics.SocketsByState.WithLabelValues("destroyed").Inc()
	case iface.SocketEventRegistered:
		h.Sockets.RegisterSocketEndpoint(ev.Socket.UUID, ev.Endpoint, ev.Distance)
	}
}

func (h *ComHub) consumeInterfaceEvents(i *iface.Interface) {
	current := ""
	setState := func(state string) {
		if current != "" {
			h.Metrics.InterfacesByState.WithLabelValues(current).Dec()
		}
		h.Metrics.InterfacesByState.WithLabelValues(state).Inc()
		current = state
	}
	for {
		select {
		case ev, ok := <-i.InterfaceEvents():
			if !ok {
				return
			}
			switch ev {
			case iface.InterfaceEventConnected:
				setState("connected")
			case iface.InterfaceEventNotConnected:
				setState("not_connected")
			case iface.InterfaceEventDestroyed:
				setState("destroyed")
				h.Interfaces.HandleDestroyed(i.UUID)
			}
		case <-h.done:
			return
		}
	}
}

func (h *ComHub) consumeSocketBlocks(ctx context.Context, s *socket.Socket) {
	for {
		select {
		case b, ok := <-s.Collector().Out():
			if !ok {
				return
			}
			h.ReceiveBlock(ctx, b, s.UUID)
		case <-h.done:
			return
		}
	}
}

// ReceiveBlock implements the incoming pipeline (spec §4.8): validate,
// history check, endpoint registration, local dispatch, and relay.
func (h *ComHub) ReceiveBlock(ctx context.Context, b *block.Block, source socket.UUID) {
	ctx, span := observability.Tracer().Start(ctx, "receive_block")
	defer span.End()

	ok, err := h.validateBlock(b)
	if err != nil || !ok {
		h.Metrics.BlocksDropped.WithLabelValues("invalid").Inc()
		h.Logger.Warn("dropping invalid block", "err", err, "sender", b.Routing.Sender.String())
		return
	}
	h.Metrics.BlocksReceived.WithLabelValues(blockTypeLabel(b.Header.Type)).Inc()

	id := b.ID()
	isNew := !h.Blocks.IsInHistory(id)

	if isNew && b.Routing.Sender != h.Self {
		h.registerSocketEndpointFromIncomingBlock(b, source)
	}

	isForOwn := h.isForOwn(b)

	if isForOwn && b.Header.Type != block.TypeHello {
		switch b.Header.Type {
		case block.TypeTrace:
			h.handleTrace(ctx, b, source)
		case block.TypeTraceBack:
			h.handleTraceBack(b)
		default:
			h.Blocks.HandleIncomingBlock(b)
		}
	}

	remaining := h.remainingReceivers(b, isForOwn)
	shouldRelay := !(isForOwn && b.Header.Type == block.TypeHello) && len(remaining) > 0

	if shouldRelay {
		// A Trace/TraceBack not for us still records this hub as an
		// Incoming hop before being relayed onward; when isForOwn is true,
		// no hop is appended here (handleTrace appends one for a Trace,
		// a TraceBack gets none).
		if !isForOwn && (b.Header.Type == block.TypeTrace || b.Header.Type == block.TypeTraceBack) {
			hops := nettrace.Decode(b.Body)
			hops = nettrace.AppendHop(hops, nettrace.Hop{
				Endpoint:  h.Self,
				Distance:  b.Routing.Distance,
				Direction: nettrace.Incoming,
				Socket:    h.socketRefForUUID(source),
			})
			b.Body = nettrace.Encode(hops)
		}
		h.redirectBlock(ctx, b, remaining, source)
	}

	if isNew {
		srcCopy := source
		h.Blocks.AddToHistory(id, &srcCopy)
	}
}

func (h *ComHub) isForOwn(b *block.Block) bool {
	r := b.Routing.Receivers
	if r.Contains(h.Self) {
		return true
	}
	for _, e := range r.All() {
		if e.IsAny() {
			return true
		}
	}
	return false
}

// remainingReceivers drops self from the receiver list once it has been
// handled locally; every other receiver (including a broadcast marker) is
// kept so downstream hubs continue to see the original addressing.
func (h *ComHub) remainingReceivers(b *block.Block, isForOwn bool) []endpoint.Endpoint {
	all := b.Routing.Receivers.All()
	if !isForOwn {
		return all
	}
	out := make([]endpoint.Endpoint, 0, len(all))
	for _, e := range all {
		if e == h.Self {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (h *ComHub) registerSocketEndpointFromIncomingBlock(b *block.Block, source socket.UUID) {
	if s, ok := h.Sockets.GetSocketByUUID(source); ok && b.Routing.Distance == 1 {
		if !s.SetDirectEndpointIfUnset(b.Routing.Sender) {
			h.Logger.Debug("socket endpoint already registered", "socket", string(source), "sender", b.Routing.Sender.String())
		}
	}
	h.Sockets.RegisterSocketEndpoint(source, b.Routing.Sender, b.Routing.Distance)
}

// validateBlock implements §4.10: trust check for unsigned blocks,
// Ed25519 verification for Unencrypted, HKDF+AES-CTR decrypt then verify
// for Encrypted.
func (h *ComHub) validateBlock(b *block.Block) (bool, error) {
	switch b.Routing.SignatureType {
	case block.SignatureNone:
		if h.Config.AllowUnsignedBlocks || h.Config.IsTrustedSender(b.Routing.Sender.String()) {
			return true, nil
		}
		return false, fmt.Errorf("hub: unsigned block from untrusted sender %s", b.Routing.Sender)
	case block.SignatureUnencrypted:
		if b.Signature == nil {
			return false, &SignatureError{Cause: fmt.Errorf("missing signature blob")}
		}
		return signature.Verify(b.Signature.PubKey[:32], b.Body, b.Signature.Material), nil
	case block.SignatureEncrypted:
		if b.Signature == nil {
			return false, &SignatureError{Cause: fmt.Errorf("missing signature blob")}
		}
		material, err := signature.DecryptMaterial(b.Signature.PubKey[:32], b.Signature.Material)
		if err != nil {
			return false, &SignatureError{Cause: err}
		}
		return signature.Verify(b.Signature.PubKey[:32], b.Body, material), nil
	default:
		return false, fmt.Errorf("hub: unknown signature type %d", b.Routing.SignatureType)
	}
}

// redirectBlock implements §4.9's redirect algorithm.
func (h *ComHub) redirectBlock(ctx context.Context, b *block.Block, receivers []endpoint.Endpoint, source socket.UUID) {
	ctx, span := observability.Tracer().Start(ctx, "redirect_block")
	defer span.End()

	id := b.ID()
	exclude := map[socket.UUID]struct{}{source: {}}
	var originalSocket *socket.UUID
	if os, ok := h.Blocks.OriginalSocket(id); ok {
		osCopy := os
		originalSocket = &osCopy
		exclude[os] = struct{}{}
	}

	if h.Blocks.IsInHistory(id) {
		for _, ep := range receivers {
			if ep == h.Self {
				continue
			}
			h.Sockets.AddToBlocklist(ep, source)
		}
	}

	if b.Routing.TTL <= 1 {
		h.Metrics.RedirectOutcomes.WithLabelValues("dropped_ttl").Inc()
		h.Logger.Debug("dropping block, ttl exhausted", "block_sender", b.Routing.Sender.String())
		return
	}

	relayed := b.CloneWithReceivers(block.NewReceivers(receivers...))
	relayed.Routing.Distance++
	relayed.Routing.TTL--

	if b.Routing.Sender == h.Self {
		preferIncoming := !b.IsBounceBack()
		h.bounceBack(ctx, relayed, receivers, source, originalSocket, preferIncoming)
		return
	}

	unreachable, err := h.sendBlock(ctx, relayed, exclude)
	if err == nil {
		h.Metrics.RedirectOutcomes.WithLabelValues("delivered").Inc()
		return
	}
	h.bounceBack(ctx, relayed, unreachable, source, originalSocket, false)
}

// bounceBack resolves send_back_socket per §4 (history's original_socket
// unless preferIncoming, else the incoming socket) and refuses to re-bounce
// an already-bounced block back the way it came, to stop a ping-pong loop
// between two hubs. A first bounce attempt whose only candidate socket is
// the incoming one is still sent.
func (h *ComHub) bounceBack(ctx context.Context, relayed *block.Block, failed []endpoint.Endpoint, incoming socket.UUID, originalSocket *socket.UUID, preferIncoming bool) {
	var target socket.UUID
	switch {
	case originalSocket != nil && !preferIncoming:
		target = *originalSocket
	default:
		target = incoming
	}

	if relayed.Routing.IsBounceBack && target == incoming {
		h.Metrics.RedirectOutcomes.WithLabelValues("dropped_unreachable").Inc()
		h.Logger.Debug("refusing to re-bounce block back the way it came", "socket", string(target))
		return
	}

	s, ok := h.Sockets.GetSocketByUUID(target)
	if !ok || !s.CanSend() {
		h.Metrics.RedirectOutcomes.WithLabelValues("dropped_unreachable").Inc()
		return
	}

	bounced := relayed.CloneWithReceivers(block.NewReceivers(failed...))
	bounced.Routing.IsBounceBack = true
	if bounced.Routing.Distance >= 2 {
		bounced.Routing.Distance -= 2
	} else {
		bounced.Routing.Distance = 0
	}
	h.sendBlockToEndpointsViaSocket(ctx, s, bounced)
	h.Metrics.RedirectOutcomes.WithLabelValues("bounced").Inc()
}

// sendBlock consults the router and schedules one transmit per socket
// group; receivers the router could not place a socket for are returned
// as an UnreachableError.
func (h *ComHub) sendBlock(ctx context.Context, b *block.Block, exclude map[socket.UUID]struct{}) ([]endpoint.Endpoint, error) {
	groups := h.Router.Route(b.Routing.Receivers.All(), exclude)
	var unreachable []endpoint.Endpoint
	for _, g := range groups {
		if g.Socket == nil {
			unreachable = append(unreachable, g.Endpoints...)
			continue
		}
		clone := b.CloneWithReceivers(block.NewReceivers(g.Endpoints...))
		clone.Routing.IsBounceBack = false
		h.sendBlockToEndpointsViaSocket(ctx, g.Socket, clone)
	}
	if len(unreachable) > 0 {
		return unreachable, &UnreachableError{Endpoints: unreachable}
	}
	return nil, nil
}

func (h *ComHub) sendBlockToEndpointsViaSocket(ctx context.Context, s *socket.Socket, b *block.Block) {
	if b.Header.Type == block.TypeTrace || b.Header.Type == block.TypeTraceBack {
		hops := nettrace.Decode(b.Body)
		hops = nettrace.AppendHop(hops, nettrace.Hop{
			Endpoint:   h.Self,
			Distance:   b.Routing.Distance,
			Direction:  nettrace.Outgoing,
			Socket:     h.socketRefFor(s),
			BounceBack: b.Routing.IsBounceBack,
		})
		b.Body = nettrace.Encode(hops)
	}

	payload, err := block.Encode(b)
	if err != nil {
		h.Logger.Error("block encode failed", "err", err)
		h.Metrics.BlocksDropped.WithLabelValues("encode_error").Inc()
		return
	}

	typeLabel := blockTypeLabel(b.Header.Type)
	safety.Go(h.Logger, "socket-send", func() {
		i, ok := h.Interfaces.Get(s.InterfaceUUID)
		if !ok {
			h.Logger.Warn("interface missing for socket", "socket", string(s.UUID))
			h.Metrics.BlocksDropped.WithLabelValues("no_interface").Inc()
			return
		}
		if i.Send(ctx, payload, s.UUID) {
			h.Metrics.BlocksSent.WithLabelValues(typeLabel).Inc()
		} else {
			h.Metrics.BlocksDropped.WithLabelValues("send_failed").Inc()
		}
	}, nil)
}

func (h *ComHub) socketRefFor(s *socket.Socket) nettrace.SocketRef {
	i, ok := h.Interfaces.Get(s.InterfaceUUID)
	if !ok {
		return nettrace.SocketRef{SocketUUID: string(s.UUID)}
	}
	props := i.Properties()
	return nettrace.SocketRef{
		InterfaceType: props.InterfaceType,
		Channel:       props.Channel,
		InterfaceName: props.Name,
		SocketUUID:    string(s.UUID),
	}
}

// SendOwnBlock implements the outgoing pipeline's entry point: stamp the
// block as our own, sign if requested, and send.
func (h *ComHub) SendOwnBlock(ctx context.Context, b *block.Block) ([]endpoint.Endpoint, error) {
	h.prepareOwnBlock(b)
	h.Blocks.AddToHistory(b.ID(), nil)
	return h.sendBlock(ctx, b, nil)
}

func (h *ComHub) prepareOwnBlock(b *block.Block) {
	b.Routing.Sender = h.Self
	b.Routing.Distance = 1
	if b.Routing.TTL == 0 {
		b.Routing.TTL = h.Config.DefaultTTL
	}
	b.Header.CreationTimestampMS = uint64(time.Now().UnixMilli())
	if b.Routing.SignatureType != block.SignatureNone && h.hasKey {
		h.signBlock(b)
	}
}

func (h *ComHub) signBlock(b *block.Block) {
	switch b.Routing.SignatureType {
	case block.SignatureUnencrypted:
		sig := signature.Sign(h.signPriv, h.signPub[:32], b.Body)
		b.Signature = &block.Signature{Material: sig, PubKey: h.signPub}
	case block.SignatureEncrypted:
		sig := signature.Sign(h.signPriv, h.signPub[:32], b.Body)
		enc, err := signature.EncryptMaterial(h.signPub[:32], sig)
		if err != nil {
			h.Logger.Error("signature material encryption failed", "err", err)
			return
		}
		b.Signature = &block.Signature{Material: enc, PubKey: h.signPub}
	}
}

// sendHello implements §4.12: announce a newly usable socket. Signed when
// we have a key to sign with; otherwise sent unsigned, relying on the
// receiver's trust policy (an Unencrypted claim with no key to back it
// would just be dropped as invalid on arrival).
func (h *ComHub) sendHello(ctx context.Context, s *socket.Socket) {
	sigType := block.SignatureNone
	if h.hasKey {
		sigType = block.SignatureUnencrypted
	}
	b := &block.Block{
		Routing: block.RoutingHeader{
			SignatureType: sigType,
			Receivers:     block.NewReceivers(endpoint.ANY),
		},
		Header: block.BlockHeader{Type: block.TypeHello, EndOfSection: true},
	}
	h.prepareOwnBlock(b)
	h.Blocks.AddToHistory(b.ID(), nil)
	h.sendBlockToEndpointsViaSocket(ctx, s, b)
}

func (h *ComHub) nextContextID() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.contextSeq++
	return h.contextSeq
}

// Shutdown stops consuming further events and removes every interface,
// aggregating any errors encountered.
func (h *ComHub) Shutdown(ctx context.Context) error {
	h.closeOnce.Do(func() { close(h.done) })
	var errs []error
	for id := range h.Interfaces.All() {
		if err := h.Interfaces.RemoveInterface(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &ShutdownError{Errors: errs}
	}
	return nil
}

func blockTypeLabel(t block.Type) string {
	switch t {
	case block.TypeRequest:
		return "request"
	case block.TypeResponse:
		return "response"
	case block.TypeData:
		return "data"
	case block.TypeLocalRequest:
		return "local_request"
	case block.TypeHello:
		return "hello"
	case block.TypeTrace:
		return "trace"
	case block.TypeTraceBack:
		return "trace_back"
	case block.TypeUpdate:
		return "update"
	default:
		return "unknown"
	}
}
