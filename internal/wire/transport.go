// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"
	"net/netip"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// TcpHeaderLen is the minimum (no-options) TCP header length.
const TcpHeaderLen = 20

// Tcp is a parsed TCP header. Options are preserved verbatim.
type Tcp struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	Flags    uint16 // low 8 bits: the flag byte (CWR..FIN) per RFC 793/3168; the NS bit is not carried
	Window   uint16
	Checksum uint16
	Urgent   uint16
	Options  []byte
}

// ParseTcp parses a TCP header from the front of buf.
func ParseTcp(buf []byte) (Tcp, int, error) {
	if len(buf) < TcpHeaderLen {
		return Tcp{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: tcp: buffer too short (%d < %d)", len(buf), TcpHeaderLen)
	}
	dataOffset := int(buf[12]>>4) * 4
	if dataOffset < TcpHeaderLen {
		return Tcp{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: tcp: data offset %d below minimum header size", dataOffset)
	}
	if len(buf) < dataOffset {
		return Tcp{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: tcp: buffer shorter than data offset (%d < %d)", len(buf), dataOffset)
	}
	t := Tcp{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DstPort:  binary.BigEndian.Uint16(buf[2:4]),
		Seq:      binary.BigEndian.Uint32(buf[4:8]),
		Ack:      binary.BigEndian.Uint32(buf[8:12]),
		Flags:    uint16(buf[13]),
		Window:   binary.BigEndian.Uint16(buf[14:16]),
		Checksum: binary.BigEndian.Uint16(buf[16:18]),
		Urgent:   binary.BigEndian.Uint16(buf[18:20]),
	}
	if dataOffset > TcpHeaderLen {
		t.Options = append([]byte{}, buf[TcpHeaderLen:dataOffset]...)
	}
	return t, dataOffset, nil
}

// HeaderLen returns this header's on-wire length including options.
func (t Tcp) HeaderLen() int { return TcpHeaderLen + len(t.Options) }

// Deparse writes t into buf without recomputing the checksum (the caller
// must call FixChecksum4/6 after any address/port rewrite).
func (t Tcp) Deparse(buf []byte) (int, error) {
	n := t.HeaderLen()
	if len(buf) < n {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: tcp: buffer too short to deparse")
	}
	binary.BigEndian.PutUint16(buf[0:2], t.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], t.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], t.Seq)
	binary.BigEndian.PutUint32(buf[8:12], t.Ack)
	buf[12] = byte(n/4) << 4
	buf[13] = byte(t.Flags)
	binary.BigEndian.PutUint16(buf[14:16], t.Window)
	binary.BigEndian.PutUint16(buf[16:18], t.Checksum)
	binary.BigEndian.PutUint16(buf[18:20], t.Urgent)
	copy(buf[TcpHeaderLen:n], t.Options)
	return n, nil
}

// UdpHeaderLen is the fixed UDP header length.
const UdpHeaderLen = 8

// Udp is a parsed UDP header.
type Udp struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// ParseUdp parses a UDP header from the front of buf.
func ParseUdp(buf []byte) (Udp, int, error) {
	if len(buf) < UdpHeaderLen {
		return Udp{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: udp: buffer too short (%d < %d)", len(buf), UdpHeaderLen)
	}
	u := Udp{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DstPort:  binary.BigEndian.Uint16(buf[2:4]),
		Length:   binary.BigEndian.Uint16(buf[4:6]),
		Checksum: binary.BigEndian.Uint16(buf[6:8]),
	}
	return u, UdpHeaderLen, nil
}

// Deparse writes u into buf, which must be at least UdpHeaderLen bytes.
func (u Udp) Deparse(buf []byte) (int, error) {
	if len(buf) < UdpHeaderLen {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: udp: buffer too short to deparse")
	}
	binary.BigEndian.PutUint16(buf[0:2], u.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], u.DstPort)
	binary.BigEndian.PutUint16(buf[4:6], u.Length)
	binary.BigEndian.PutUint16(buf[6:8], u.Checksum)
	return UdpHeaderLen, nil
}

// DstPortVxlan is the IANA-assigned VXLAN UDP destination port.
const DstPortVxlan = 4789

// FixChecksum4 recomputes a TCP/UDP checksum over the pseudo-header plus
// transport segment, for an IPv4 packet. segment is transport header +
// payload, with the checksum field already zeroed by the caller.
func FixChecksum4(src, dst netip.Addr, proto IpProto, segment []byte) uint16 {
	sum := pseudoHeaderSum4(src, dst, proto, uint16(len(segment)))
	return foldChecksum(sum, segment)
}

// FixChecksum6 recomputes a TCP/UDP checksum over the pseudo-header plus
// transport segment, for an IPv6 packet.
func FixChecksum6(src, dst netip.Addr, proto IpProto, segment []byte) uint16 {
	sum := pseudoHeaderSum6(src, dst, proto, uint32(len(segment)))
	return foldChecksum(sum, segment)
}
