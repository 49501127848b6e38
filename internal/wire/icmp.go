// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// Icmp4Type enumerates the ICMPv4 types this codec distinguishes.
type Icmp4Type uint8

const (
	Icmp4EchoReply             Icmp4Type = 0
	Icmp4DestinationUnreach    Icmp4Type = 3
	Icmp4SourceQuench          Icmp4Type = 4
	Icmp4Redirect              Icmp4Type = 5
	Icmp4Echo                  Icmp4Type = 8
	Icmp4TimeExceeded          Icmp4Type = 11
	Icmp4ParameterProblem      Icmp4Type = 12
)

// Icmp6Type enumerates the ICMPv6 types this codec distinguishes.
type Icmp6Type uint8

const (
	Icmp6DestinationUnreach Icmp6Type = 1
	Icmp6PacketTooBig       Icmp6Type = 2
	Icmp6TimeExceeded       Icmp6Type = 3
	Icmp6ParameterProblem   Icmp6Type = 4
	Icmp6EchoRequest        Icmp6Type = 128
	Icmp6EchoReply          Icmp6Type = 129
)

// icmpHeaderLen is the fixed 8-byte ICMP header (type, code, checksum,
// rest-of-header) shared by v4 and v6.
const icmpHeaderLen = 8

// Icmp4 is a parsed ICMPv4 message. RestOfHeader holds the 4 bytes that
// follow the checksum (identifier+sequence for Echo, unused/MTU for
// Errors); Payload holds everything after that, which for Error messages
// is the embedded offending IP packet.
type Icmp4 struct {
	Type         Icmp4Type
	Code         uint8
	Checksum     uint16
	RestOfHeader [4]byte
	Payload      []byte
}

// IsErrorType4 reports whether t carries an embedded IP packet
// (types 3, 4, 5, 11, 12).
func IsErrorType4(t Icmp4Type) bool {
	switch t {
	case Icmp4DestinationUnreach, Icmp4SourceQuench, Icmp4Redirect, Icmp4TimeExceeded, Icmp4ParameterProblem:
		return true
	default:
		return false
	}
}

// ParseIcmp4 parses an ICMPv4 message from the front of buf.
func ParseIcmp4(buf []byte) (Icmp4, int, error) {
	if len(buf) < icmpHeaderLen {
		return Icmp4{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: icmp4: buffer too short (%d < %d)", len(buf), icmpHeaderLen)
	}
	m := Icmp4{
		Type:     Icmp4Type(buf[0]),
		Code:     buf[1],
		Checksum: binary.BigEndian.Uint16(buf[2:4]),
	}
	copy(m.RestOfHeader[:], buf[4:8])
	m.Payload = append([]byte{}, buf[8:]...)
	return m, len(buf), nil
}

// Deparse writes m into buf without recomputing the checksum; callers
// translating an ICMP Error must call FixIcmp4Checksum afterward.
func (m Icmp4) Deparse(buf []byte) (int, error) {
	n := icmpHeaderLen + len(m.Payload)
	if len(buf) < n {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: icmp4: buffer too short to deparse")
	}
	buf[0] = byte(m.Type)
	buf[1] = m.Code
	binary.BigEndian.PutUint16(buf[2:4], m.Checksum)
	copy(buf[4:8], m.RestOfHeader[:])
	copy(buf[8:n], m.Payload)
	return n, nil
}

// FixIcmp4Checksum recomputes and sets m.Checksum over the full message.
func (m *Icmp4) FixIcmp4Checksum() {
	buf := make([]byte, icmpHeaderLen+len(m.Payload))
	buf[0] = byte(m.Type)
	buf[1] = m.Code
	copy(buf[4:8], m.RestOfHeader[:])
	copy(buf[8:], m.Payload)
	m.Checksum = Checksum16(buf)
}

// Icmp6 is a parsed ICMPv6 message, mirroring Icmp4's shape.
type Icmp6 struct {
	Type         Icmp6Type
	Code         uint8
	Checksum     uint16
	RestOfHeader [4]byte
	Payload      []byte
}

// IsErrorType6 reports whether t carries an embedded IP packet
// (types 1, 2, 3, 4).
func IsErrorType6(t Icmp6Type) bool {
	switch t {
	case Icmp6DestinationUnreach, Icmp6PacketTooBig, Icmp6TimeExceeded, Icmp6ParameterProblem:
		return true
	default:
		return false
	}
}

// ParseIcmp6 parses an ICMPv6 message from the front of buf.
func ParseIcmp6(buf []byte) (Icmp6, int, error) {
	if len(buf) < icmpHeaderLen {
		return Icmp6{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: icmp6: buffer too short (%d < %d)", len(buf), icmpHeaderLen)
	}
	m := Icmp6{
		Type:     Icmp6Type(buf[0]),
		Code:     buf[1],
		Checksum: binary.BigEndian.Uint16(buf[2:4]),
	}
	copy(m.RestOfHeader[:], buf[4:8])
	m.Payload = append([]byte{}, buf[8:]...)
	return m, len(buf), nil
}

// Deparse writes m into buf without recomputing the checksum.
func (m Icmp6) Deparse(buf []byte) (int, error) {
	n := icmpHeaderLen + len(m.Payload)
	if len(buf) < n {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: icmp6: buffer too short to deparse")
	}
	buf[0] = byte(m.Type)
	buf[1] = m.Code
	binary.BigEndian.PutUint16(buf[2:4], m.Checksum)
	copy(buf[4:8], m.RestOfHeader[:])
	copy(buf[8:n], m.Payload)
	return n, nil
}

// FixIcmp6Checksum recomputes and sets m.Checksum, which for ICMPv6 is
// taken over the IPv6 pseudo-header as well as the message (RFC 4443 §2.3).
func (m *Icmp6) FixIcmp6Checksum(pseudoSum uint32) {
	body := make([]byte, icmpHeaderLen+len(m.Payload))
	body[0] = byte(m.Type)
	body[1] = m.Code
	copy(body[4:8], m.RestOfHeader[:])
	copy(body[8:], m.Payload)
	m.Checksum = foldChecksum(pseudoSum, body)
}

// IcmpExtensionMinPad and IcmpNoExtensionAlign implement the ICMP
// extension-structure padding rule (RFC 4884): the inner IP payload must
// be padded to at least 128 bytes when extensions are present, and to an
// 8-byte multiple otherwise.
const (
	IcmpExtensionMinPad  = 128
	IcmpNoExtensionAlign = 8
)

// PadIcmpPayload pads payload accordingly, returning a new slice.
func PadIcmpPayload(payload []byte, hasExtensions bool) []byte {
	if hasExtensions {
		if len(payload) >= IcmpExtensionMinPad {
			return payload
		}
		out := make([]byte, IcmpExtensionMinPad)
		copy(out, payload)
		return out
	}
	rem := len(payload) % IcmpNoExtensionAlign
	if rem == 0 {
		return payload
	}
	out := make([]byte, len(payload)+(IcmpNoExtensionAlign-rem))
	copy(out, payload)
	return out
}
