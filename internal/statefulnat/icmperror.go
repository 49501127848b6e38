// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statefulnat

import (
	"encoding/binary"
	"time"

	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/wire"
)

// handleIcmpError matches an ICMP Error message against the session of
// its embedded flow and, when one exists, reverts the embedded headers
// and rewrites the outer addresses through that session's translation,
// per RFC 5508 REQ-4/REQ-5. An error with no matching session is
// surfaced as NoSession and dropped. Only the already-translated
// direction is handled: the session lookup resolves the reverse session
// installed when the flow was created (see DESIGN.md).
func (s *Stage) handleIcmpError(p *packet.Packet, key FlowKey, now time.Time) error {
	ekey, ok := embeddedSessionKey(key)
	if !ok {
		return newErr(KindIcmpErrorMsg, "statefulnat: icmp error carries no parseable embedded packet")
	}
	sess, found := s.flows.Lookup(ekey, now)
	if !found {
		return newErr(KindNoSession, "statefulnat: no session for embedded flow of icmp error")
	}
	trans := sess.Translation()

	// The outer ICMP header has no ports; apply only the address sides.
	outer := trans
	outer.HasSrcPort, outer.HasDstPort = false, false

	h := p.Headers
	switch t := h.Transport.(type) {
	case wire.Icmp4:
		if err := rewriteEmbedded4(&t, trans); err != nil {
			return err
		}
		if err := applyTranslation(h, outer); err != nil {
			return err
		}
		t.FixIcmp4Checksum()
		h.Transport = t
	case wire.Icmp6:
		if err := rewriteEmbedded6(&t, trans); err != nil {
			return err
		}
		if err := applyTranslation(h, outer); err != nil {
			return err
		}
		t.FixIcmp6Checksum(outerPseudoSum6(h))
		h.Transport = t
	default:
		return newErr(KindUnexpectedKeyVariant, "statefulnat: icmp error key on non-icmp transport")
	}
	p.Meta.ChecksumRefresh = true
	return nil
}

// rewriteEmbedded4 reverts the embedded IPv4 packet through trans. The
// embedded packet travels the forward direction while the matched session
// is the reverse one, so the translation applies with sides swapped: the
// embedded source takes the session's destination rewrite and vice versa.
// The embedded IPv4 header checksum is recomputed by Deparse; embedded
// transport checksums cannot be recomputed from the 8-byte fragment an
// ICMP error carries and are left untouched.
func rewriteEmbedded4(icmp *wire.Icmp4, trans Translation) error {
	inner, n, err := wire.ParseIpv4(icmp.Payload)
	if err != nil {
		return newErr(KindIcmpErrorMsg, "statefulnat: embedded IPv4 header malformed")
	}
	if trans.HasDstIP {
		if !trans.DstIP.Is4() {
			return newErr(KindInvalidIpVersion, "statefulnat: v6 translation for embedded v4 header")
		}
		inner.Src = trans.DstIP
	}
	if trans.HasSrcIP {
		if !trans.SrcIP.Is4() {
			return newErr(KindInvalidIpVersion, "statefulnat: v6 translation for embedded v4 header")
		}
		inner.Dst = trans.SrcIP
	}

	buf := make([]byte, inner.HeaderLen())
	if _, err := inner.Deparse(buf); err != nil {
		return newErr(KindIcmpErrorMsg, "statefulnat: re-deparse of embedded IPv4 header failed")
	}
	rest := append([]byte{}, icmp.Payload[n:]...)
	rewriteEmbeddedPorts(rest, inner.Protocol, trans)
	icmp.Payload = append(buf, rest...)
	return nil
}

// rewriteEmbedded6 mirrors rewriteEmbedded4 for an embedded IPv6 packet.
func rewriteEmbedded6(icmp *wire.Icmp6, trans Translation) error {
	inner, n, err := wire.ParseIpv6(icmp.Payload)
	if err != nil {
		return newErr(KindIcmpErrorMsg, "statefulnat: embedded IPv6 header malformed")
	}
	if trans.HasDstIP {
		if !trans.DstIP.Is6() {
			return newErr(KindInvalidIpVersion, "statefulnat: v4 translation for embedded v6 header")
		}
		inner.Src = trans.DstIP
	}
	if trans.HasSrcIP {
		if !trans.SrcIP.Is6() {
			return newErr(KindInvalidIpVersion, "statefulnat: v4 translation for embedded v6 header")
		}
		inner.Dst = trans.SrcIP
	}

	buf := make([]byte, wire.Ipv6HeaderLen)
	if _, err := inner.Deparse(buf); err != nil {
		return newErr(KindIcmpErrorMsg, "statefulnat: re-deparse of embedded IPv6 header failed")
	}
	rest := append([]byte{}, icmp.Payload[n:]...)
	rewriteEmbeddedPorts(rest, inner.NextHeader, trans)
	icmp.Payload = append(buf, rest...)
	return nil
}

// rewriteEmbeddedPorts patches the source/destination port words at the
// front of an embedded transport fragment, swapped like the addresses.
// ICMP errors are only required to carry the first 8 bytes of the
// offending transport header, so the ports are patched in place rather
// than round-tripped through the full codec.
func rewriteEmbeddedPorts(rest []byte, proto wire.IpProto, trans Translation) {
	if proto != wire.ProtoTCP && proto != wire.ProtoUDP {
		return
	}
	if len(rest) < 4 {
		return
	}
	if trans.HasDstPort {
		binary.BigEndian.PutUint16(rest[0:2], trans.DstPort)
	}
	if trans.HasSrcPort {
		binary.BigEndian.PutUint16(rest[2:4], trans.SrcPort)
	}
	if proto == wire.ProtoUDP && len(rest) >= 8 {
		// The embedded UDP checksum can no longer be verified against a
		// fragment; zero it (permitted for IPv4, conventional for NATed
		// embedded fragments).
		rest[6], rest[7] = 0, 0
	}
}

// outerPseudoSum6 computes the IPv6 pseudo-header partial sum over the
// outer packet's (already-rewritten) addresses, needed for the outer
// ICMPv6 checksum (RFC 4443 §2.3).
func outerPseudoSum6(h *wire.Headers) uint32 {
	outer, ok := h.Net.(wire.Ipv6)
	if !ok {
		return 0
	}
	var sum uint32
	s, d := outer.Src.As16(), outer.Dst.As16()
	for i := 0; i < 16; i += 2 {
		sum += uint32(s[i])<<8 | uint32(s[i+1])
		sum += uint32(d[i])<<8 | uint32(d[i+1])
	}
	sum += uint32(wire.ProtoICMPv6)
	return sum
}
