// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package forward implements the per-packet forwarding stage: a
// longest-prefix match against the packet's VRF FIB, TTL/hop-limit
// decrement, and execution of the matched entry's PktInstructions
// (Drop, Local, Encap, Egress, Nat), including VXLAN decapsulation on
// the Local branch and outer-header construction for Encap. The stage
// never returns an error to the worker: every failure retires the
// packet with a DoneReason.
package forward

import (
	"net/netip"

	"github.com/grimm-is/gwcore/internal/fib"
	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/wire"
)

// Vtep is the local tunnel endpoint identity used to originate
// encapsulated frames.
type Vtep struct {
	Ip  netip.Addr
	Mac wire.MAC
}

// Fibs is an immutable snapshot of the compiled FIB state the stage
// reads: per-VRF route tables plus the VNI-to-VRF mapping the decap
// branch consults. Snapshots are published by the routing-DB owner and
// acquired by workers through the dataplane's copy-on-write primitive;
// the stage itself never mutates one.
type Fibs struct {
	ByVrf    map[uint32]*fib.RouteTable
	VrfByVni map[uint32]uint32
}

// NewFibs returns an empty snapshot value.
func NewFibs() *Fibs {
	return &Fibs{ByVrf: make(map[uint32]*fib.RouteTable), VrfByVni: make(map[uint32]uint32)}
}

// Process runs the forwarding stage on p. It returns true when the
// packet was decapsulated into a new VRF and must traverse the stage
// again; in every other case the packet either carries updated egress
// metadata or has been retired with a DoneReason.
func Process(fibs *Fibs, vtep Vtep, p *packet.Packet) bool {
	if p.IsDone() {
		return false
	}
	if !p.Meta.HasVrf {
		p.Done(packet.DoneInternalFailure)
		return false
	}

	dst, ok := dstAddr(p.Headers)
	if !ok {
		p.Done(packet.DoneNotIp)
		return false
	}

	rt, ok := fibs.ByVrf[p.Meta.Vrf]
	if !ok {
		p.Done(packet.DoneInternalFailure)
		return false
	}
	_, route, ok := rt.Lookup(dst)
	if !ok {
		// Impossible with the default drop route installed, but the stage
		// must not panic on a malformed FIB.
		p.Done(packet.DoneInternalFailure)
		return false
	}

	entry, err := route.SelectEntry(uint64(wire.FiveTupleHash(p.Headers)))
	if err != nil {
		p.Done(packet.DoneInternalFailure)
		return false
	}

	if isLocal(entry) {
		return decapOrDeliver(fibs, p)
	}

	if decrementTTL(p.Headers) {
		p.Done(packet.DoneHopLimitExceeded)
		return false
	}

	for _, ins := range entry.Instructions {
		switch ins.Kind {
		case fib.InstrEgress:
			if ins.HasEgressIfindex {
				p.Meta.Oif, p.Meta.HasOif = ins.EgressIfindex, true
			}
			if ins.HasNhopAddress {
				p.Meta.NhAddr, p.Meta.HasNhAddr = ins.NhopAddress, true
			}
		case fib.InstrEncap:
			if err := encap(p, ins.Encap, vtep); err != nil {
				p.Done(packet.DoneMalformed)
				return false
			}
		case fib.InstrNat:
			// No-op here: grants the NAT stage permission to translate.
			p.Meta.Nat = true
		case fib.InstrLocal:
			p.Done(packet.DoneDelivered)
			return false
		case fib.InstrDrop:
			p.Done(packet.DoneRouteDrop)
			return false
		}
	}
	return false
}

// isLocal reports whether the entry's sole purpose is local delivery.
func isLocal(e fib.FibEntry) bool {
	return len(e.Instructions) == 1 && e.Instructions[0].Kind == fib.InstrLocal
}

// decapOrDeliver handles the Local branch: a VXLAN-terminated packet is
// decapsulated and re-circulated in its overlay VRF; anything else is
// delivered to the kernel.
func decapOrDeliver(fibs *Fibs, p *packet.Packet) bool {
	if p.Headers.Vxlan == nil {
		p.Done(packet.DoneDelivered)
		return false
	}
	vni := p.Headers.Vxlan.Vni
	vrf, ok := fibs.VrfByVni[vni]
	if !ok {
		p.Done(packet.DoneUnroutable)
		return false
	}
	inner, n, err := wire.Parse(p.Payload)
	if err != nil {
		p.Done(packet.DoneMalformed)
		return false
	}
	p.Headers = inner
	p.Payload = p.Payload[n:]
	p.Meta.SrcVni, p.Meta.HasSrcVni = vni, true
	p.Meta.Vrf, p.Meta.HasVrf = vrf, true
	return true
}

func dstAddr(h *wire.Headers) (netip.Addr, bool) {
	switch n := h.Net.(type) {
	case wire.Ipv4:
		return n.Dst, true
	case wire.Ipv6:
		return n.Dst, true
	}
	return netip.Addr{}, false
}

// decrementTTL decrements the IPv4 TTL or IPv6 hop limit in place,
// reporting true when it wrapped to zero.
func decrementTTL(h *wire.Headers) bool {
	switch n := h.Net.(type) {
	case wire.Ipv4:
		exceeded := n.DecrementTTL()
		h.Net = n
		return exceeded
	case wire.Ipv6:
		exceeded := n.DecrementHopLimit()
		h.Net = n
		return exceeded
	}
	return false
}
