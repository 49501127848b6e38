// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statelessnat

import (
	"github.com/grimm-is/gwcore/internal/natcompile"
	"github.com/grimm-is/gwcore/internal/wire"
)

func icmpErr(msg string, args ...any) error {
	return newErr(KindIcmpErrorMsg, "statelessnat: "+msg, args...)
}

// translateIcmpErrorIfAny re-translates the embedded IP header of an
// ICMP Error message after the outer header has been NAT'ed. The
// embedded packet is the original offending datagram captured verbatim
// by the host that raised the error, so it travels in the *forward*
// direction relative to the ICMP message's own outer header: the range
// that remapped the outer destination is the one that must now unwind
// the embedded source, and vice versa — the ranges apply swapped, the
// embedded addresses do not.
func translateIcmpErrorIfAny(h *wire.Headers, srcRange, dstRange *natcompile.NatRange) error {
	switch t := h.Transport.(type) {
	case wire.Icmp4:
		if !wire.IsErrorType4(t.Type) {
			return nil
		}
		return translateIcmp4Inner(h, &t, dstRange, srcRange)
	case wire.Icmp6:
		if !wire.IsErrorType6(t.Type) {
			return nil
		}
		return translateIcmp6Inner(h, &t, dstRange, srcRange)
	default:
		return nil
	}
}

// translateIcmp4Inner applies innerSrcRange to the embedded header's
// source and innerDstRange to its destination (already swapped by the
// caller), then recomputes the inner IPv4 checksum and the outer ICMPv4
// checksum.
func translateIcmp4Inner(h *wire.Headers, icmp *wire.Icmp4, innerSrcRange, innerDstRange *natcompile.NatRange) error {
	inner, n, err := wire.ParseIpv4(icmp.Payload)
	if err != nil {
		return icmpErr("embedded IPv4 header malformed")
	}

	modified := false
	if innerSrcRange != nil {
		if target, err := mapAddr(innerSrcRange, inner.Src); err == nil && target != inner.Src {
			inner.Src = target
			modified = true
		}
	}
	if innerDstRange != nil {
		if target, err := mapAddr(innerDstRange, inner.Dst); err == nil && target != inner.Dst {
			inner.Dst = target
			modified = true
		}
	}
	if !modified {
		return nil
	}

	buf := make([]byte, inner.HeaderLen())
	if _, err := inner.Deparse(buf); err != nil {
		return icmpErr("re-deparse of embedded IPv4 header failed")
	}
	rest := icmp.Payload[n:]
	icmp.Payload = append(buf, rest...)
	icmp.FixIcmp4Checksum()
	h.Transport = *icmp
	return nil
}

// translateIcmp6Inner mirrors translateIcmp4Inner for IPv6, recomputing
// the outer ICMPv6 checksum over the (already-translated) outer IPv6
// pseudo-header per RFC 4443 §2.3.
func translateIcmp6Inner(h *wire.Headers, icmp *wire.Icmp6, innerSrcRange, innerDstRange *natcompile.NatRange) error {
	inner, n, err := wire.ParseIpv6(icmp.Payload)
	if err != nil {
		return icmpErr("embedded IPv6 header malformed")
	}

	modified := false
	if innerSrcRange != nil {
		if target, err := mapAddr(innerSrcRange, inner.Src); err == nil && target != inner.Src {
			inner.Src = target
			modified = true
		}
	}
	if innerDstRange != nil {
		if target, err := mapAddr(innerDstRange, inner.Dst); err == nil && target != inner.Dst {
			inner.Dst = target
			modified = true
		}
	}
	if !modified {
		return nil
	}

	buf := make([]byte, wire.Ipv6HeaderLen)
	if _, err := inner.Deparse(buf); err != nil {
		return icmpErr("re-deparse of embedded IPv6 header failed")
	}
	rest := icmp.Payload[n:]
	icmp.Payload = append(buf, rest...)

	pseudoSum := pseudoHeaderSumForIcmp6(h)
	icmp.FixIcmp6Checksum(pseudoSum)
	h.Transport = *icmp
	return nil
}

// pseudoHeaderSumForIcmp6 computes the IPv6 pseudo-header partial sum
// over the outer packet's (already-translated) addresses, required by
// RFC 4443 §2.3 for the outer ICMPv6 checksum.
func pseudoHeaderSumForIcmp6(h *wire.Headers) uint32 {
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
