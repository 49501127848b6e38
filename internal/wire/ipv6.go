// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"
	"net/netip"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// Ipv6HeaderLen is the fixed IPv6 header length.
const Ipv6HeaderLen = 40

// Ipv6 is a parsed IPv6 fixed header.
type Ipv6 struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   IpProto
	HopLimit     uint8
	Src          netip.Addr
	Dst          netip.Addr
}

// ParseIpv6 parses an IPv6 fixed header from the front of buf.
func ParseIpv6(buf []byte) (Ipv6, int, error) {
	if len(buf) < Ipv6HeaderLen {
		return Ipv6{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv6: buffer too short (%d < %d)", len(buf), Ipv6HeaderLen)
	}
	verClassFlow := binary.BigEndian.Uint32(buf[0:4])
	if verClassFlow>>28 != 6 {
		return Ipv6{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv6: bad version %d", verClassFlow>>28)
	}
	var src16, dst16 [16]byte
	copy(src16[:], buf[8:24])
	copy(dst16[:], buf[24:40])
	src := netip.AddrFrom16(src16)
	if src.IsMulticast() {
		return Ipv6{}, 0, gwerrors.New(gwerrors.KindValidation, "wire: ipv6: multicast source forbidden")
	}
	h := Ipv6{
		TrafficClass: uint8(verClassFlow >> 20),
		FlowLabel:    verClassFlow & 0xfffff,
		PayloadLen:   binary.BigEndian.Uint16(buf[4:6]),
		NextHeader:   IpProto(buf[6]),
		HopLimit:     buf[7],
		Src:          src,
		Dst:          netip.AddrFrom16(dst16),
	}
	return h, Ipv6HeaderLen, nil
}

// Deparse writes h into buf, which must be at least Ipv6HeaderLen bytes.
func (h Ipv6) Deparse(buf []byte) (int, error) {
	if len(buf) < Ipv6HeaderLen {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: ipv6: buffer too short to deparse")
	}
	verClassFlow := uint32(6)<<28 | uint32(h.TrafficClass)<<20 | (h.FlowLabel & 0xfffff)
	binary.BigEndian.PutUint32(buf[0:4], verClassFlow)
	binary.BigEndian.PutUint16(buf[4:6], h.PayloadLen)
	buf[6] = byte(h.NextHeader)
	buf[7] = h.HopLimit
	src16 := h.Src.As16()
	copy(buf[8:24], src16[:])
	dst16 := h.Dst.As16()
	copy(buf[24:40], dst16[:])
	return Ipv6HeaderLen, nil
}

// DecrementHopLimit decrements the hop limit by one, returning true if it
// has reached zero.
func (h *Ipv6) DecrementHopLimit() bool {
	if h.HopLimit == 0 {
		return true
	}
	h.HopLimit--
	return h.HopLimit == 0
}

// ipv6ExtHeaderUnit is the common 8-byte unit every IPv6 extension header's
// length field is expressed in (beyond the first 8 bytes).
const ipv6ExtHeaderUnit = 8

// Ipv6Ext is a generically-parsed IPv6 extension header (hop-by-hop,
// routing, fragment, destination options). The dataplane does not act on
// extension semantics; it preserves them across NAT/forwarding verbatim.
type Ipv6Ext struct {
	NextHeader IpProto
	Data       []byte // includes the 1-byte length field and all option data
}

// ParseIpv6Ext parses one extension header, of any kind, from the front of buf.
func ParseIpv6Ext(buf []byte) (Ipv6Ext, int, error) {
	if len(buf) < ipv6ExtHeaderUnit {
		return Ipv6Ext{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv6ext: buffer too short (%d < %d)", len(buf), ipv6ExtHeaderUnit)
	}
	nextHeader := IpProto(buf[0])
	lenUnits := int(buf[1])
	total := (lenUnits + 1) * ipv6ExtHeaderUnit
	if len(buf) < total {
		return Ipv6Ext{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv6ext: buffer shorter than declared length (%d < %d)", len(buf), total)
	}
	return Ipv6Ext{NextHeader: nextHeader, Data: append([]byte{}, buf[:total]...)}, total, nil
}

// Deparse writes e into buf.
func (e Ipv6Ext) Deparse(buf []byte) (int, error) {
	if len(buf) < len(e.Data) {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: ipv6ext: buffer too short to deparse")
	}
	copy(buf, e.Data)
	buf[0] = byte(e.NextHeader)
	return len(e.Data), nil
}

// IsIpv6ExtHeader reports whether proto is one of the extension header
// kinds this codec passes through opaquely.
func IsIpv6ExtHeader(proto IpProto) bool {
	switch proto {
	case 0, 43, 44, 60: // Hop-by-Hop, Routing, Fragment, Destination Options
		return true
	default:
		return false
	}
}
