// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package wire implements the dataplane's wire codecs: parse/deparse for
// Ethernet, the bounded VLAN stack, IPv4/IPv6 and their extension headers,
// TCP/UDP, ICMPv4/ICMPv6 (including the embedded-IP payload carried in
// ICMP Error messages), and VXLAN. Each codec validates structural
// invariants and rejects malformed or policy-violating input (multicast
// source addresses, reserved VLAN ids) rather than passing it through.
//
// Tests cross-check the codecs against github.com/gopacket/gopacket
// decoders, which serve as an independent oracle but stay out of the
// production decode path because this codec also enforces policy
// gopacket does not.
package wire

import (
	"encoding/binary"
	"net"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// EtherType identifies the payload of an Ethernet frame or VLAN tag.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeVLAN EtherType = 0x8100
	EtherTypeQinQ EtherType = 0x88a8
	EtherTypeIPv6 EtherType = 0x86dd
)

const MacLen = 6

// MAC is a 6-byte hardware address.
type MAC [MacLen]byte

// ParseMAC converts a net.HardwareAddr into a MAC, erroring if its length
// is not 6 bytes.
func ParseMAC(hw net.HardwareAddr) (MAC, error) {
	var m MAC
	if len(hw) != MacLen {
		return m, gwerrors.Errorf(gwerrors.KindValidation, "wire: MAC must be %d bytes, got %d", MacLen, len(hw))
	}
	copy(m[:], hw)
	return m, nil
}

// IsMulticast reports whether the MAC's I/G bit (LSB of the first octet) is set.
func (m MAC) IsMulticast() bool { return m[0]&0x01 != 0 }

// String renders the MAC in colon-hex form.
func (m MAC) String() string { return net.HardwareAddr(m[:]).String() }

// Eth is a parsed Ethernet II header (no FCS).
type Eth struct {
	Dst   MAC
	Src   MAC
	Proto EtherType
}

// EthHeaderLen is the fixed size of an untagged Ethernet header.
const EthHeaderLen = 14

// ParseEth parses the first 14 bytes of buf as an Ethernet header.
func ParseEth(buf []byte) (Eth, int, error) {
	if len(buf) < EthHeaderLen {
		return Eth{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: eth: buffer too short (%d < %d)", len(buf), EthHeaderLen)
	}
	var e Eth
	copy(e.Dst[:], buf[0:6])
	copy(e.Src[:], buf[6:12])
	e.Proto = EtherType(binary.BigEndian.Uint16(buf[12:14]))
	if e.Src.IsMulticast() {
		return Eth{}, 0, gwerrors.New(gwerrors.KindValidation, "wire: eth: multicast source MAC is forbidden")
	}
	return e, EthHeaderLen, nil
}

// Deparse writes e into buf, which must be at least EthHeaderLen bytes.
func (e Eth) Deparse(buf []byte) (int, error) {
	if len(buf) < EthHeaderLen {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: eth: buffer too short to deparse")
	}
	copy(buf[0:6], e.Dst[:])
	copy(buf[6:12], e.Src[:])
	binary.BigEndian.PutUint16(buf[12:14], uint16(e.Proto))
	return EthHeaderLen, nil
}
