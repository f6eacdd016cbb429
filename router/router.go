// Package router selects outbound socket(s) for a receiver list, applying
// exact/any-instance/broadcast/fallback selection rules with
// distance/channel-factor tie-breaks, grounded on the teacher's
// ServiceRegistry.Dispatch retry/priority logic and the fabric-hub
// RouteDecision selection style.
package router

import (
	"sort"

	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/ifacemgr"
	"github.com/datex-network/datex-hub/socket"
	"github.com/datex-network/datex-hub/sockmgr"
)

// Group is one outbound batch: all receivers in Endpoints share Socket
// (nil means none of them could be reached).
type Group struct {
	Socket    *socket.Socket
	Endpoints []endpoint.Endpoint
}

// Router decides which socket(s) to use for a list of receivers.
type Router struct {
	self       endpoint.Endpoint
	localSocket func() *socket.Socket
	sockets    *sockmgr.Manager
	interfaces *ifacemgr.Manager
}

func New(self endpoint.Endpoint, sockets *sockmgr.Manager, interfaces *ifacemgr.Manager, localSocket func() *socket.Socket) *Router {
	return &Router{self: self, localSocket: localSocket, sockets: sockets, interfaces: interfaces}
}

// Route groups receivers by the best socket for each, applying the
// selection rules in priority order: local short-circuit, exact match,
// any-instance match, broadcast, fallback.
func (r *Router) Route(receivers []endpoint.Endpoint, exclude map[socket.UUID]struct{}) []Group {
	bySocket := make(map[socket.UUID]*Group)
	var unreachable []endpoint.Endpoint

	addToGroup := func(s *socket.Socket, ep endpoint.Endpoint) {
		g, ok := bySocket[s.UUID]
		if !ok {
			g = &Group{Socket: s}
			bySocket[s.UUID] = g
		}
		g.Endpoints = append(g.Endpoints, ep)
	}

	for _, ep := range receivers {
		if ep.IsLocal() || ep == r.self {
			if s := r.localSocket(); s != nil {
				addToGroup(s, ep)
				continue
			}
		}

		if ep.IsAny() {
			for _, s := range r.broadcastSockets(exclude) {
				addToGroup(s, ep)
			}
			continue
		}

		if s := r.bestSocket(ep, exclude); s != nil {
			addToGroup(s, ep)
			continue
		}

		if ep.Instance != endpoint.InstanceAny {
			if s := r.bestSocket(ep.AnyInstance(), exclude); s != nil {
				addToGroup(s, ep)
				continue
			}
		}

		if s := r.fallbackSocket(exclude); s != nil {
			addToGroup(s, ep)
			continue
		}

		unreachable = append(unreachable, ep)
	}

	groups := make([]Group, 0, len(bySocket)+1)
	for _, g := range bySocket {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Socket.UUID < groups[j].Socket.UUID })
	if len(unreachable) > 0 {
		groups = append(groups, Group{Socket: nil, Endpoints: unreachable})
	}
	return groups
}

// bestSocket picks the candidate with smallest distance; ties broken by
// highest channel factor, then lowest socket UUID for determinism.
func (r *Router) bestSocket(ep endpoint.Endpoint, exclude map[socket.UUID]struct{}) *socket.Socket {
	candidates := r.sockets.CandidatesFor(ep, exclude)
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best.Socket
}

func better(a, b sockmgr.SocketCandidate) bool {
	if a.Properties.Distance != b.Properties.Distance {
		return a.Properties.Distance < b.Properties.Distance
	}
	af, bf := a.Socket.ChannelFactor, b.Socket.ChannelFactor
	if af != bf {
		return af > bf
	}
	return a.Socket.UUID < b.Socket.UUID
}

// broadcastSockets returns every eligible outbound socket whose direct
// endpoint is not self and not the local loopback.
func (r *Router) broadcastSockets(exclude map[socket.UUID]struct{}) []*socket.Socket {
	var out []*socket.Socket
	for _, i := range r.interfaces.All() {
		for _, s := range i.Sockets() {
			if _, excluded := exclude[s.UUID]; excluded {
				continue
			}
			if !s.CanSend() {
				continue
			}
			if direct, ok := s.DirectEndpoint(); ok {
				if direct == r.self || direct.IsLocal() {
					continue
				}
			}
			out = append(out, s)
		}
	}
	return out
}

// fallbackSocket picks the first socket on the highest-priority fallback
// interface that isn't excluded and can send.
func (r *Router) fallbackSocket(exclude map[socket.UUID]struct{}) *socket.Socket {
	for _, i := range r.interfaces.FallbackCandidates() {
		candidates := i.Sockets()
		sort.Slice(candidates, func(a, b int) bool {
			return candidates[a].ChannelFactor > candidates[b].ChannelFactor
		})
		for _, s := range candidates {
			if _, excluded := exclude[s.UUID]; excluded {
				continue
			}
			if s.CanSend() {
				return s
			}
		}
	}
	return nil
}
