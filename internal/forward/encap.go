// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forward

import (
	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/fib"
	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/wire"
)

// EncapTTL is the outer IP TTL/hop-limit placed on originated VXLAN
// frames.
const EncapTTL = 64

// encap realizes an Encap instruction for p: the inner source MAC
// becomes the VTEP MAC and the inner
// destination MAC the resolved remote router MAC; the outer IP family
// follows the VTEP address, the outer UDP destination is 4789 with a
// source port derived from the inner 5-tuple, and the outer UDP length
// is inner-length + 8 (VXLAN) + 8 (UDP). The outer UDP checksum is zero
// (RFC 7348 §4.1 permits this for originated frames).
func encap(p *packet.Packet, e fib.Encapsulation, vtep Vtep) error {
	if !e.DstVtep.IsValid() || !vtep.Ip.IsValid() {
		return gwerrors.New(gwerrors.KindInternal, "forward: encap without VTEP addresses")
	}
	if e.DstVtep.Is4() != vtep.Ip.Is4() {
		return gwerrors.New(gwerrors.KindInternal, "forward: VTEP family mismatch")
	}

	// Rewrite the inner Ethernet header for the overlay hop.
	p.Headers.Eth.Src = vtep.Mac
	p.Headers.Eth.Dst = wire.MAC(e.DstMac)

	innerLen := p.Headers.Size() + len(p.Payload)
	udpLen := uint16(innerLen + wire.UdpHeaderLen + wire.VxlanHeaderLen)

	outer := &wire.Headers{
		Transport: wire.Udp{
			SrcPort: wire.FiveTupleHash(p.Headers),
			DstPort: wire.DstPortVxlan,
			Length:  udpLen,
		},
		Vxlan: &wire.Vxlan{Vni: e.Vni},
	}
	if vtep.Ip.Is4() {
		outer.Eth = wire.Eth{Proto: wire.EtherTypeIPv4}
		outer.Net = wire.Ipv4{
			Src:      vtep.Ip,
			Dst:      e.DstVtep,
			Protocol: wire.ProtoUDP,
			TTL:      EncapTTL,
			TotalLen: uint16(wire.Ipv4HeaderLen) + udpLen,
		}
	} else {
		outer.Eth = wire.Eth{Proto: wire.EtherTypeIPv6}
		outer.Net = wire.Ipv6{
			Src:        vtep.Ip,
			Dst:        e.DstVtep,
			NextHeader: wire.ProtoUDP,
			HopLimit:   EncapTTL,
			PayloadLen: udpLen,
		}
	}

	p.Outer = outer
	p.Meta.DstVni, p.Meta.HasDstVni = e.Vni, true
	p.Meta.ChecksumRefresh = true
	return nil
}

// Decap strips an already-parsed VXLAN outer from raw frame bytes,
// returning the inner headers and remaining payload. It is the inverse
// of encap at the byte level and is used by tests asserting the
// encap/decap round-trip invariant; the forwarding stage's own decap
// branch parses the inner headers directly.
func Decap(outer *wire.Headers, payload []byte) (*wire.Headers, []byte, error) {
	if outer.Vxlan == nil {
		return nil, nil, gwerrors.New(gwerrors.KindValidation, "forward: decap of non-vxlan frame")
	}
	inner, n, err := wire.Parse(payload)
	if err != nil {
		return nil, nil, err
	}
	return inner, payload[n:], nil
}
