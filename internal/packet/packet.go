// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packet defines the per-packet value threaded through the
// dataplane pipeline stages (decap, forward, stateless NAT, stateful
// NAT, encap): parsed wire.Headers plus the metadata annotations each
// stage reads and writes, and the DoneReason a stage uses to retire a
// packet without panicking or propagating an error up the worker:
// per-packet errors convert to a DoneReason and are filtered at stage
// egress.
package packet

import (
	"net/netip"

	"github.com/grimm-is/gwcore/internal/wire"
)

// DoneReason names why a packet exited the pipeline early.
type DoneReason int

const (
	DoneNone DoneReason = iota
	DoneDelivered
	DoneRouteDrop
	DoneHopLimitExceeded
	DoneMalformed
	DoneUnroutable
	DoneInternalFailure
	DoneNatFailure
	DoneFiltered
	DoneNotIp
	DoneUnsupportedTransport
)

func (d DoneReason) String() string {
	switch d {
	case DoneDelivered:
		return "delivered"
	case DoneRouteDrop:
		return "route_drop"
	case DoneHopLimitExceeded:
		return "hop_limit_exceeded"
	case DoneMalformed:
		return "malformed"
	case DoneUnroutable:
		return "unroutable"
	case DoneInternalFailure:
		return "internal_failure"
	case DoneNatFailure:
		return "nat_failure"
	case DoneFiltered:
		return "filtered"
	case DoneNotIp:
		return "not_ip"
	case DoneUnsupportedTransport:
		return "unsupported_transport"
	default:
		return "none"
	}
}

// Meta is the set of out-of-band annotations attached to a packet as it
// moves through the pipeline.
type Meta struct {
	Vrf    uint32
	HasVrf bool

	SrcVni    uint32
	HasSrcVni bool
	DstVni    uint32
	HasDstVni bool

	Nat             bool
	ChecksumRefresh bool

	Oif    uint32
	HasOif bool
	NhAddr netip.Addr
	HasNhAddr bool
}

// Packet is one frame in flight plus its parsed headers and metadata.
// Payload holds the bytes following the parsed headers (the inner frame
// when Headers ends at a VXLAN header). Outer, when set by the
// forwarding stage's Encap instruction, is the freshly built
// encapsulation the egress serializer writes ahead of the packet.
type Packet struct {
	Headers *wire.Headers
	Payload []byte
	Outer   *wire.Headers
	Meta    Meta

	done    bool
	reason  DoneReason
}

// New wraps parsed headers as a fresh, not-done packet.
func New(h *wire.Headers) *Packet { return &Packet{Headers: h} }

// NewWithPayload wraps parsed headers plus the unparsed remainder.
func NewWithPayload(h *wire.Headers, payload []byte) *Packet {
	return &Packet{Headers: h, Payload: payload}
}

// Done marks the packet retired with reason; stages call this instead
// of returning an error up the worker.
func (p *Packet) Done(reason DoneReason) {
	if p.done {
		return
	}
	p.done = true
	p.reason = reason
}

// IsDone reports whether the packet has already been retired.
func (p *Packet) IsDone() bool { return p.done }

// Reason returns the retirement reason, or DoneNone if still in flight.
func (p *Packet) Reason() DoneReason { return p.reason }
