// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"
	"net/netip"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// IpProto identifies the next-header/protocol field shared by IPv4 and IPv6.
type IpProto uint8

const (
	ProtoICMPv4 IpProto = 1
	ProtoTCP    IpProto = 6
	ProtoUDP    IpProto = 17
	ProtoICMPv6 IpProto = 58
)

// Ipv4HeaderLen is the minimum (no-options) IPv4 header length.
const Ipv4HeaderLen = 20

// Ipv4 is a parsed IPv4 header. Options are preserved verbatim but not
// interpreted.
type Ipv4 struct {
	DSCP           uint8
	ECN            uint8
	TotalLen       uint16
	Identification uint16
	DontFragment   bool
	MoreFragments  bool
	FragOffset     uint16
	TTL            uint8
	Protocol       IpProto
	Checksum       uint16
	Src            netip.Addr
	Dst            netip.Addr
	Options        []byte
}

// ParseIpv4 parses an IPv4 header from the front of buf. A multicast
// source address is rejected.
func ParseIpv4(buf []byte) (Ipv4, int, error) {
	if len(buf) < Ipv4HeaderLen {
		return Ipv4{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv4: buffer too short (%d < %d)", len(buf), Ipv4HeaderLen)
	}
	verIhl := buf[0]
	if verIhl>>4 != 4 {
		return Ipv4{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv4: bad version %d", verIhl>>4)
	}
	ihl := int(verIhl&0x0f) * 4
	if ihl < Ipv4HeaderLen {
		return Ipv4{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv4: IHL %d below minimum header size", ihl)
	}
	if len(buf) < ihl {
		return Ipv4{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: ipv4: buffer shorter than IHL (%d < %d)", len(buf), ihl)
	}
	tos := buf[1]
	flagsFrag := binary.BigEndian.Uint16(buf[6:8])
	src := netip.AddrFrom4([4]byte{buf[12], buf[13], buf[14], buf[15]})
	if src.IsMulticast() {
		return Ipv4{}, 0, gwerrors.New(gwerrors.KindValidation, "wire: ipv4: multicast source forbidden")
	}
	h := Ipv4{
		DSCP:           tos >> 2,
		ECN:            tos & 0x3,
		TotalLen:       binary.BigEndian.Uint16(buf[2:4]),
		Identification: binary.BigEndian.Uint16(buf[4:6]),
		DontFragment:   flagsFrag&0x4000 != 0,
		MoreFragments:  flagsFrag&0x2000 != 0,
		FragOffset:     flagsFrag & 0x1fff,
		TTL:            buf[8],
		Protocol:       IpProto(buf[9]),
		Checksum:       binary.BigEndian.Uint16(buf[10:12]),
		Src:            src,
		Dst:            netip.AddrFrom4([4]byte{buf[16], buf[17], buf[18], buf[19]}),
	}
	if ihl > Ipv4HeaderLen {
		h.Options = append([]byte{}, buf[Ipv4HeaderLen:ihl]...)
	}
	return h, ihl, nil
}

// HeaderLen returns this header's on-wire length including options.
func (h Ipv4) HeaderLen() int { return Ipv4HeaderLen + len(h.Options) }

// Deparse writes h into buf (Checksum is recomputed, overriding any stale value).
func (h Ipv4) Deparse(buf []byte) (int, error) {
	n := h.HeaderLen()
	if len(buf) < n {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: ipv4: buffer too short to deparse")
	}
	buf[0] = 0x40 | byte(n/4)
	buf[1] = h.DSCP<<2 | h.ECN
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(buf[4:6], h.Identification)
	flagsFrag := h.FragOffset & 0x1fff
	if h.DontFragment {
		flagsFrag |= 0x4000
	}
	if h.MoreFragments {
		flagsFrag |= 0x2000
	}
	binary.BigEndian.PutUint16(buf[6:8], flagsFrag)
	buf[8] = h.TTL
	buf[9] = byte(h.Protocol)
	binary.BigEndian.PutUint16(buf[10:12], 0)
	src4 := h.Src.As4()
	copy(buf[12:16], src4[:])
	dst4 := h.Dst.As4()
	copy(buf[16:20], dst4[:])
	copy(buf[Ipv4HeaderLen:n], h.Options)
	binary.BigEndian.PutUint16(buf[10:12], Checksum16(buf[:n]))
	return n, nil
}

// DecrementTTL decrements the TTL by one, returning true if it has reached
// zero (caller should then drop the packet with HopLimitExceeded).
func (h *Ipv4) DecrementTTL() bool {
	if h.TTL == 0 {
		return true
	}
	h.TTL--
	return h.TTL == 0
}

// Checksum16 computes the Internet checksum (RFC 1071) over buf.
func Checksum16(buf []byte) uint16 {
	var sum uint32
	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(buf[i])<<8 | uint32(buf[i+1])
	}
	if n%2 == 1 {
		sum += uint32(buf[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// pseudoHeaderSum4 accumulates the IPv4 TCP/UDP pseudo-header into an
// existing running checksum sum (RFC 793 §3.1 / RFC 768).
func pseudoHeaderSum4(src, dst netip.Addr, proto IpProto, length uint16) uint32 {
	var sum uint32
	s, d := src.As4(), dst.As4()
	sum += uint32(s[0])<<8 | uint32(s[1])
	sum += uint32(s[2])<<8 | uint32(s[3])
	sum += uint32(d[0])<<8 | uint32(d[1])
	sum += uint32(d[2])<<8 | uint32(d[3])
	sum += uint32(proto)
	sum += uint32(length)
	return sum
}

// pseudoHeaderSum6 accumulates the IPv6 TCP/UDP pseudo-header.
func pseudoHeaderSum6(src, dst netip.Addr, proto IpProto, length uint32) uint32 {
	var sum uint32
	s, d := src.As16(), dst.As16()
	for i := 0; i < 16; i += 2 {
		sum += uint32(s[i])<<8 | uint32(s[i+1])
		sum += uint32(d[i])<<8 | uint32(d[i+1])
	}
	sum += length >> 16
	sum += length & 0xffff
	sum += uint32(proto)
	return sum
}

func foldChecksum(sum uint32, tail []byte) uint16 {
	n := len(tail)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(tail[i])<<8 | uint32(tail[i+1])
	}
	if n%2 == 1 {
		sum += uint32(tail[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
