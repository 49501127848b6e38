// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statefulnat

import (
	"hash/fnv"
	"net/netip"

	"github.com/grimm-is/gwcore/internal/wire"
)

// ProtoKey distinguishes the transport-layer key shape a FlowKey carries.
type ProtoKey int

const (
	ProtoKeyTCP ProtoKey = iota
	ProtoKeyUDP
	ProtoKeyIcmpQuery
	ProtoKeyIcmpError
)

// EmbeddedFlow is the tuple of the original offending packet carried
// inside an ICMP Error message, used to look up the forward session an
// error should be matched against (RFC 5508 REQ-4/5).
type EmbeddedFlow struct {
	SrcIP, DstIP     netip.Addr
	Proto            ProtoKey
	SrcPort, DstPort uint16
}

// FlowKey identifies one direction of a NAT session: which VPCs the
// packet crosses, its addresses, and its transport-layer identifiers.
type FlowKey struct {
	SrcVni, DstVni   uint32
	SrcIP, DstIP     netip.Addr
	Proto            ProtoKey
	SrcPort, DstPort uint16 // TCP/UDP ports, or ICMP identifier in SrcPort for query messages
	Embedded         *EmbeddedFlow
}

// reverse builds the key for the return-direction flow: source and
// destination swap, including the VPC discriminants.
func (k FlowKey) reverse() FlowKey {
	return FlowKey{
		SrcVni: k.DstVni, DstVni: k.SrcVni,
		SrcIP: k.DstIP, DstIP: k.SrcIP,
		Proto:   k.Proto,
		SrcPort: k.DstPort, DstPort: k.SrcPort,
	}
}

// hash returns a bucket index into a FlowTable with nbuckets buckets.
func (k FlowKey) hash(nbuckets int) int {
	h := fnv.New64a()
	var buf [4]byte
	put32 := func(v uint32) {
		buf[0], buf[1], buf[2], buf[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
		h.Write(buf[:])
	}
	put32(k.SrcVni)
	put32(k.DstVni)
	h.Write(k.SrcIP.AsSlice())
	h.Write(k.DstIP.AsSlice())
	put32(uint32(k.Proto))
	put32(uint32(k.SrcPort)<<16 | uint32(k.DstPort))
	return int(h.Sum64() % uint64(nbuckets))
}

// extractFlowKey builds the forward FlowKey for h, and — when h carries a
// recognized ICMP Error — the embedded flow the error references.
func extractFlowKey(h *wire.Headers, srcVni, dstVni uint32) (FlowKey, error) {
	srcAddr, dstAddr, err := netAddrs(h)
	if err != nil {
		return FlowKey{}, err
	}
	key := FlowKey{SrcVni: srcVni, DstVni: dstVni, SrcIP: srcAddr, DstIP: dstAddr}

	switch t := h.Transport.(type) {
	case wire.Tcp:
		key.Proto = ProtoKeyTCP
		key.SrcPort, key.DstPort = t.SrcPort, t.DstPort
	case wire.Udp:
		key.Proto = ProtoKeyUDP
		key.SrcPort, key.DstPort = t.SrcPort, t.DstPort
	case wire.Icmp4:
		if wire.IsErrorType4(t.Type) {
			key.Proto = ProtoKeyIcmpError
			key.Embedded = embeddedFlowFromIcmp4(t)
		} else {
			key.Proto = ProtoKeyIcmpQuery
			key.SrcPort = identifier4(t)
		}
	case wire.Icmp6:
		if wire.IsErrorType6(t.Type) {
			key.Proto = ProtoKeyIcmpError
			key.Embedded = embeddedFlowFromIcmp6(t)
		} else {
			key.Proto = ProtoKeyIcmpQuery
			key.SrcPort = identifier6(t)
		}
	default:
		return FlowKey{}, newErr(KindTupleParseError, "statefulnat: unsupported transport header")
	}
	return key, nil
}

func embeddedFlowFromIcmp4(icmp wire.Icmp4) *EmbeddedFlow {
	inner, n, err := wire.ParseIpv4(icmp.Payload)
	if err != nil {
		return nil
	}
	ef := &EmbeddedFlow{SrcIP: inner.Src, DstIP: inner.Dst}
	rest := icmp.Payload[n:]
	switch inner.Protocol {
	case wire.ProtoTCP:
		if t, _, err := wire.ParseTcp(rest); err == nil {
			ef.Proto, ef.SrcPort, ef.DstPort = ProtoKeyTCP, t.SrcPort, t.DstPort
		}
	case wire.ProtoUDP:
		if u, _, err := wire.ParseUdp(rest); err == nil {
			ef.Proto, ef.SrcPort, ef.DstPort = ProtoKeyUDP, u.SrcPort, u.DstPort
		}
	default:
		return nil
	}
	return ef
}

func embeddedFlowFromIcmp6(icmp wire.Icmp6) *EmbeddedFlow {
	inner, n, err := wire.ParseIpv6(icmp.Payload)
	if err != nil {
		return nil
	}
	ef := &EmbeddedFlow{SrcIP: inner.Src, DstIP: inner.Dst}
	rest := icmp.Payload[n:]
	switch inner.NextHeader {
	case wire.ProtoTCP:
		if t, _, err := wire.ParseTcp(rest); err == nil {
			ef.Proto, ef.SrcPort, ef.DstPort = ProtoKeyTCP, t.SrcPort, t.DstPort
		}
	case wire.ProtoUDP:
		if u, _, err := wire.ParseUdp(rest); err == nil {
			ef.Proto, ef.SrcPort, ef.DstPort = ProtoKeyUDP, u.SrcPort, u.DstPort
		}
	default:
		return nil
	}
	return ef
}

// embeddedSessionKey builds the FlowKey the embedded flow should be
// looked up against. The embedded packet preserves the pre-error forward
// direction, so its tuple is swapped to form the inverse key; the ICMP
// message itself already travels the return direction, so the outer
// VNI pair is kept as-is. The result is the reverse session's key
// (RFC 5508 REQ-4/REQ-5).
func embeddedSessionKey(outer FlowKey) (FlowKey, bool) {
	if outer.Embedded == nil {
		return FlowKey{}, false
	}
	e := outer.Embedded
	return FlowKey{
		SrcVni: outer.SrcVni, DstVni: outer.DstVni,
		SrcIP: e.DstIP, DstIP: e.SrcIP,
		Proto:   e.Proto,
		SrcPort: e.DstPort, DstPort: e.SrcPort,
	}, true
}

func identifier4(m wire.Icmp4) uint16 {
	return uint16(m.RestOfHeader[0])<<8 | uint16(m.RestOfHeader[1])
}

func identifier6(m wire.Icmp6) uint16 {
	return uint16(m.RestOfHeader[0])<<8 | uint16(m.RestOfHeader[1])
}

func netAddrs(h *wire.Headers) (src, dst netip.Addr, err error) {
	switch n := h.Net.(type) {
	case wire.Ipv4:
		return n.Src, n.Dst, nil
	case wire.Ipv6:
		return n.Src, n.Dst, nil
	default:
		return netip.Addr{}, netip.Addr{}, newErr(KindBadIpHeader, "statefulnat: packet has no IP header")
	}
}
