// Package nettrace implements network tracing: the Trace/TraceBack block
// body, a human-readable hop list accumulated along the path a block
// travels. Distinct from OpenTelemetry tracing (package observability).
package nettrace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/datex-network/datex-hub/endpoint"
)

// HopDirection records whether a hop was an outgoing send or an incoming receive.
type HopDirection uint8

const (
	Outgoing HopDirection = iota
	Incoming
)

func (d HopDirection) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// SocketRef identifies the socket a hop passed through, for diagnostic display.
type SocketRef struct {
	InterfaceType string
	Channel       string
	InterfaceName string
	SocketUUID    string
}

// Hop is one entry in a Trace/TraceBack body.
type Hop struct {
	Endpoint    endpoint.Endpoint
	Distance    uint8
	Socket      SocketRef
	Direction   HopDirection
	ForkNr      *uint32
	BounceBack  bool
}

// Encode renders a hop list as newline-delimited human-readable records,
// one hop per line. Kept deliberately simple (not JSON) so the hub gains no
// dependency on a value/type model to read its own diagnostic output.
func Encode(hops []Hop) []byte {
	var b strings.Builder
	for _, h := range hops {
		fmt.Fprintf(&b, "%s distance=%d direction=%s iface=%s/%s socket=%s bounce_back=%t",
			h.Endpoint.String(), h.Distance, h.Direction, h.Socket.InterfaceType, h.Socket.Channel, h.Socket.SocketUUID, h.BounceBack)
		if h.ForkNr != nil {
			fmt.Fprintf(&b, " fork=%d", *h.ForkNr)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Decode parses the format produced by Encode. It is intentionally
// forgiving: a malformed line is skipped rather than aborting the whole
// parse, since trace bodies are diagnostic, not protocol-critical.
func Decode(body []byte) []Hop {
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	hops := make([]Hop, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		hop, ok := decodeLine(line)
		if ok {
			hops = append(hops, hop)
		}
	}
	return hops
}

func decodeLine(line string) (Hop, bool) {
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return Hop{}, false
	}
	ep, err := endpoint.FromString(fields[0])
	if err != nil {
		return Hop{}, false
	}
	hop := Hop{Endpoint: ep}
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "distance":
			if n, err := strconv.Atoi(kv[1]); err == nil {
				hop.Distance = uint8(n)
			}
		case "direction":
			if kv[1] == "incoming" {
				hop.Direction = Incoming
			} else {
				hop.Direction = Outgoing
			}
		case "iface":
			parts := strings.SplitN(kv[1], "/", 2)
			hop.Socket.InterfaceType = parts[0]
			if len(parts) == 2 {
				hop.Socket.Channel = parts[1]
			}
		case "socket":
			hop.Socket.SocketUUID = kv[1]
		case "bounce_back":
			hop.BounceBack = kv[1] == "true"
		case "fork":
			if n, err := strconv.Atoi(kv[1]); err == nil {
				u := uint32(n)
				hop.ForkNr = &u
			}
		}
	}
	return hop, true
}

// AppendHop returns a new hop slice with h appended, used by the hub on
// every outgoing/incoming trace event.
func AppendHop(hops []Hop, h Hop) []Hop {
	return append(append([]Hop(nil), hops...), h)
}
