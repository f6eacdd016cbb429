package hub

import (
	"context"
	"time"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/nettrace"
	"github.com/datex-network/datex-hub/socket"
)

// handleTrace implements the self-targeted half of §4.11: append the
// incoming hop to the block's own body (so later relaying, if any, carries
// it forward), and reply with a TraceBack to the original sender when the
// trace is (at least partly) for us.
func (h *ComHub) handleTrace(ctx context.Context, b *block.Block, source socket.UUID) {
	hops := nettrace.Decode(b.Body)
	hops = nettrace.AppendHop(hops, nettrace.Hop{
		Endpoint:  h.Self,
		Distance:  b.Routing.Distance,
		Direction: nettrace.Incoming,
		Socket:    h.socketRefForUUID(source),
	})
	b.Body = nettrace.Encode(hops)

	reply := &block.Block{
		Routing: block.RoutingHeader{
			Receivers: block.NewReceivers(b.Routing.Sender),
		},
		Header: block.BlockHeader{
			ContextID:    b.Header.ContextID,
			SectionIndex: b.Header.SectionIndex,
			Type:         block.TypeTraceBack,
			EndOfSection: true,
		},
		Body: b.Body,
	}
	if _, err := h.SendOwnBlock(ctx, reply); err != nil {
		h.Logger.Warn("trace_back send failed", "err", err)
	}
}

// handleTraceBack delivers a completed hop list to whatever called Trace
// and is waiting on the matching context id.
func (h *ComHub) handleTraceBack(b *block.Block) {
	hops := nettrace.Decode(b.Body)

	h.traceMu.Lock()
	ch, ok := h.traceObservers[b.Header.ContextID]
	h.traceMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- hops:
	default:
	}
}

func (h *ComHub) socketRefForUUID(id socket.UUID) nettrace.SocketRef {
	s, ok := h.Sockets.GetSocketByUUID(id)
	if !ok {
		return nettrace.SocketRef{SocketUUID: string(id)}
	}
	return h.socketRefFor(s)
}

// registerTraceObserver creates a one-shot subscription for the TraceBack
// matching contextID, so Trace can wait on it without losing a race against an
// immediate reply.
func (h *ComHub) registerTraceObserver(contextID uint32) (<-chan []nettrace.Hop, func()) {
	ch := make(chan []nettrace.Hop, 1)
	h.traceMu.Lock()
	h.traceObservers[contextID] = ch
	h.traceMu.Unlock()

	unsubscribe := func() {
		h.traceMu.Lock()
		defer h.traceMu.Unlock()
		if existing, ok := h.traceObservers[contextID]; ok && existing == ch {
			delete(h.traceObservers, contextID)
		}
	}
	return ch, unsubscribe
}

// Trace sends a Trace block to target and waits for the TraceBack reply,
// returning the accumulated hop list.
func (h *ComHub) Trace(ctx context.Context, target endpoint.Endpoint, timeout time.Duration) ([]nettrace.Hop, error) {
	if timeout <= 0 {
		timeout = h.Config.AwaitResponseTimeout
	}

	b := &block.Block{
		Routing: block.RoutingHeader{Receivers: block.NewReceivers(target)},
		Header:  block.BlockHeader{ContextID: h.nextContextID(), Type: block.TypeTrace, EndOfSection: true},
	}

	obsCh, unsubscribe := h.registerTraceObserver(b.Header.ContextID)
	defer unsubscribe()

	if _, err := h.SendOwnBlock(ctx, b); err != nil {
		return nil, err
	}

	select {
	case hops := <-obsCh:
		return hops, nil
	case <-time.After(timeout):
		return nil, &ResponseError{Kind: ResponseNoResponseAfterTimeout, Endpoint: target}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
