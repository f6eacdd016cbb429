package hub

import (
	"context"
	"time"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/blockhandler"
	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/observability"
)

// ResolutionStrategy controls when send_own_block_await_response stops
// waiting for further replies.
type ResolutionStrategy uint8

const (
	WaitForAll ResolutionStrategy = iota
	ReturnOnFirstResult
	ReturnOnAnyError
)

// AwaitOptions configures one await-response call.
type AwaitOptions struct {
	Timeout  time.Duration // 0 uses hubconfig.Config.AwaitResponseTimeout
	Strategy ResolutionStrategy
}

// Response is one received reply to an awaited request.
type Response struct {
	Sender endpoint.Endpoint
	Block  *block.Block
}

// ResponseResult is one receiver's outcome: either a Response or an error
// describing why none arrived.
type ResponseResult struct {
	Endpoint endpoint.Endpoint
	Response *Response
	Err      error
}

func hasExactReceivers(b *block.Block) bool {
	if b.Routing.Receivers.Kind != block.ReceiverKindEndpoints {
		return false
	}
	for _, e := range b.Routing.Receivers.Endpoints {
		if e.IsAny() {
			return false
		}
	}
	return len(b.Routing.Receivers.Endpoints) > 0
}

type taggedSection struct {
	endpoint endpoint.Endpoint // zero value for broadcast replies; sender is read off the block itself
	section  blockhandler.IncomingSection
}

// SendOwnBlockAwaitResponse implements §4.9's await-response pipeline:
// register observers before sending (so no reply can race past them),
// send, then collect replies until every expected receiver has answered,
// the timeout elapses, or the resolution strategy says to stop early.
//
// For an exact receiver list, one per-section observer is registered per
// expected endpoint (responses are demultiplexed by their own sender, so
// each responder gets its own section). For a broadcast, a single
// context-level observer collects replies from whichever endpoints answer.
func (h *ComHub) SendOwnBlockAwaitResponse(ctx context.Context, b *block.Block, opts AwaitOptions) []ResponseResult {
	ctx, span := observability.Tracer().Start(ctx, "send_own_block_await_response")
	defer span.End()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.Config.AwaitResponseTimeout
	}

	h.prepareOwnBlock(b)
	if b.Header.ContextID == 0 {
		b.Header.ContextID = h.nextContextID()
	}
	exact := hasExactReceivers(b)
	expected := b.Routing.Receivers.All()

	merged := make(chan taggedSection, len(expected)+1)
	var unsubs []func()
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	if exact {
		for _, ep := range expected {
			ep := ep
			sectionID := block.EndpointContextSectionID{
				EndpointContextID: block.EndpointContextID{Sender: ep, ContextID: b.Header.ContextID},
				SectionIndex:      b.Header.SectionIndex,
			}
			obsCh, unsubscribe := h.Blocks.RegisterObserver(sectionID)
			unsubs = append(unsubs, unsubscribe)
			go func() {
				section, ok := <-obsCh
				if !ok {
					return
				}
				select {
				case merged <- taggedSection{endpoint: ep, section: section}:
				case <-h.done:
				}
			}()
		}
	} else {
		obsCh, unsubscribe := h.Blocks.RegisterContextObserver(b.Header.ContextID)
		unsubs = append(unsubs, unsubscribe)
		go func() {
			for section := range obsCh {
				select {
				case merged <- taggedSection{section: section}:
				case <-h.done:
					return
				}
			}
		}()
	}

	h.Blocks.AddToHistory(b.ID(), nil)
	unreachable, sendErr := h.sendBlock(ctx, b, nil)

	final := make(map[endpoint.Endpoint]ResponseResult, len(expected))
	pending := make(map[endpoint.Endpoint]struct{}, len(expected))
	for _, ep := range expected {
		pending[ep] = struct{}{}
	}
	for _, ep := range unreachable {
		final[ep] = ResponseResult{Endpoint: ep, Err: &ResponseError{Kind: ResponseNotReachable, Endpoint: ep}}
		delete(pending, ep)
	}

	abortPending := func() {
		for ep := range pending {
			final[ep] = ResponseResult{Endpoint: ep, Err: &ResponseError{Kind: ResponseEarlyAbort, Endpoint: ep}}
		}
		pending = nil
	}

	if exact && sendErr != nil && (opts.Strategy == ReturnOnAnyError || opts.Strategy == ReturnOnFirstResult) {
		abortPending()
	}

	var broadcastResults []ResponseResult
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

waitLoop:
	for (exact && len(pending) > 0) || !exact {
		select {
		case tagged := <-merged:
			blk, ok := <-tagged.section.Blocks
			if !ok {
				continue
			}
			sender := blk.Routing.Sender

			if !exact {
				broadcastResults = append(broadcastResults, ResponseResult{Endpoint: sender, Response: &Response{Sender: sender, Block: blk}})
				if opts.Strategy == ReturnOnFirstResult {
					break waitLoop
				}
				continue
			}

			target := tagged.endpoint
			if _, ok := pending[target]; !ok {
				h.Logger.Warn("duplicate or unexpected response ignored", "sender", sender.String())
				continue
			}
			final[target] = ResponseResult{Endpoint: target, Response: &Response{Sender: sender, Block: blk}}
			delete(pending, target)
			if opts.Strategy == ReturnOnFirstResult {
				abortPending()
				break waitLoop
			}
		case <-deadline.C:
			break waitLoop
		case <-ctx.Done():
			break waitLoop
		case <-h.done:
			break waitLoop
		}
	}

	if !exact {
		return broadcastResults
	}

	for _, ep := range expected {
		if _, ok := final[ep]; !ok {
			final[ep] = ResponseResult{Endpoint: ep, Err: &ResponseError{Kind: ResponseNoResponseAfterTimeout, Endpoint: ep}}
		}
	}
	out := make([]ResponseResult, 0, len(expected))
	for _, ep := range expected {
		r := final[ep]
		out = append(out, r)
		if r.Err != nil {
			h.Metrics.AwaitOutcomes.WithLabelValues(responseErrorLabel(r.Err)).Inc()
		} else {
			h.Metrics.AwaitOutcomes.WithLabelValues("delivered").Inc()
		}
	}
	return out
}

func responseErrorLabel(err error) string {
	re, ok := err.(*ResponseError)
	if !ok {
		return "error"
	}
	switch re.Kind {
	case ResponseNotReachable:
		return "not_reachable"
	case ResponseNoResponseAfterTimeout:
		return "timeout"
	case ResponseEarlyAbort:
		return "early_abort"
	default:
		return "unknown"
	}
}
