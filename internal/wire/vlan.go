// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// MaxVlanDepth bounds the VLAN stack a Headers value carries.
const MaxVlanDepth = 4

// VlanReservedNative is the reserved "native VLAN" identifier.
const VlanReservedNative = 0

// VlanReservedAll is the reserved all-VLANs identifier.
const VlanReservedAll = 4095

// Vid is a validated 12-bit VLAN identifier. 0 ("native") and 4095
// ("reserved") are illegal values.
type Vid uint16

// NewVid validates raw as a legal VLAN id.
func NewVid(raw uint16) (Vid, error) {
	switch {
	case raw == VlanReservedNative:
		return 0, gwerrors.New(gwerrors.KindValidation, "wire: vlan: id 0 (native) is reserved")
	case raw == VlanReservedAll:
		return 0, gwerrors.New(gwerrors.KindValidation, "wire: vlan: id 4095 is reserved")
	case raw > VlanReservedAll:
		return 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: vlan: id %d exceeds 12 bits", raw)
	default:
		return Vid(raw), nil
	}
}

// Pcp is the 3-bit 802.1p priority code point.
type Pcp uint8

// NewPcp validates raw as a legal 3-bit PCP.
func NewPcp(raw uint8) (Pcp, error) {
	if raw > 7 {
		return 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: vlan: pcp %d exceeds 3 bits", raw)
	}
	return Pcp(raw), nil
}

// Vlan is a single 802.1Q tag.
type Vlan struct {
	Pcp   Pcp
	Dei   bool
	Vid   Vid
	Proto EtherType // the tag's own EtherType (0x8100 or 0x88a8), carried for faithful re-deparse
	Inner EtherType // the next header's EtherType
}

// VlanHeaderLen is the size of a single 802.1Q tag.
const VlanHeaderLen = 4

// ParseVlan parses one 802.1Q tag at the front of buf. tagProto is the
// EtherType that selected this tag (0x8100 or 0x88a8 for Q-in-Q).
func ParseVlan(buf []byte, tagProto EtherType) (Vlan, int, error) {
	if len(buf) < VlanHeaderLen {
		return Vlan{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: vlan: buffer too short (%d < %d)", len(buf), VlanHeaderLen)
	}
	tci := binary.BigEndian.Uint16(buf[0:2])
	pcp, err := NewPcp(uint8(tci >> 13))
	if err != nil {
		return Vlan{}, 0, err
	}
	dei := tci&0x1000 != 0
	vid, err := NewVid(tci & 0x0fff)
	if err != nil {
		return Vlan{}, 0, err
	}
	inner := EtherType(binary.BigEndian.Uint16(buf[2:4]))
	return Vlan{Pcp: pcp, Dei: dei, Vid: vid, Proto: tagProto, Inner: inner}, VlanHeaderLen, nil
}

// Deparse writes v into buf, which must be at least VlanHeaderLen bytes.
func (v Vlan) Deparse(buf []byte) (int, error) {
	if len(buf) < VlanHeaderLen {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: vlan: buffer too short to deparse")
	}
	tci := uint16(v.Pcp)<<13 | uint16(v.Vid)
	if v.Dei {
		tci |= 0x1000
	}
	binary.BigEndian.PutUint16(buf[0:2], tci)
	binary.BigEndian.PutUint16(buf[2:4], uint16(v.Inner))
	return VlanHeaderLen, nil
}

// IsVlanEtherType reports whether et selects a VLAN tag (802.1Q or Q-in-Q).
func IsVlanEtherType(et EtherType) bool {
	return et == EtherTypeVLAN || et == EtherTypeQinQ
}
