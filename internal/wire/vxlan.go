// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// VxlanHeaderLen is the fixed VXLAN header length (RFC 7348).
const VxlanHeaderLen = 8

// MaxVni is the largest legal 24-bit VXLAN network identifier.
const MaxVni = 1<<24 - 1

// Vxlan is a parsed VXLAN header. The VNI occupies 24 bits.
type Vxlan struct {
	Vni uint32
}

// ParseVxlan parses a VXLAN header from the front of buf.
func ParseVxlan(buf []byte) (Vxlan, int, error) {
	if len(buf) < VxlanHeaderLen {
		return Vxlan{}, 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: vxlan: buffer too short (%d < %d)", len(buf), VxlanHeaderLen)
	}
	flags := buf[0]
	if flags&0x08 == 0 {
		return Vxlan{}, 0, gwerrors.New(gwerrors.KindValidation, "wire: vxlan: VNI-valid flag (I-bit) not set")
	}
	vni := uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6])
	return Vxlan{Vni: vni}, VxlanHeaderLen, nil
}

// Deparse writes v into buf, which must be at least VxlanHeaderLen bytes.
func (v Vxlan) Deparse(buf []byte) (int, error) {
	if len(buf) < VxlanHeaderLen {
		return 0, gwerrors.New(gwerrors.KindInternal, "wire: vxlan: buffer too short to deparse")
	}
	if v.Vni > MaxVni {
		return 0, gwerrors.Errorf(gwerrors.KindValidation, "wire: vxlan: vni %d exceeds 24 bits", v.Vni)
	}
	buf[0] = 0x08 // I-bit set, all other flags reserved-zero
	buf[1] = 0
	buf[2] = 0
	buf[3] = 0
	buf[4] = byte(v.Vni >> 16)
	buf[5] = byte(v.Vni >> 8)
	buf[6] = byte(v.Vni)
	buf[7] = 0
	return VxlanHeaderLen, nil
}

// Vtep is the tunnel endpoint identity used to originate encapsulated
// frames: the source MAC placed in the inner Ethernet header's source
// field on encap, plus a VNI. It carries no IP address.
type Vtep struct {
	SrcMAC MAC
	Vni    uint32
}

// vxlanSrcPort derives the outer UDP source port from a 5-tuple hash of
// the inner packet. A simple FNV-1a fold, reduced into the ephemeral
// range below, keeps ECMP entropy stable per-flow without requiring a
// cryptographic hash.
func vxlanSrcPort(fiveTuple []byte) uint16 {
	var h uint32 = 2166136261
	for _, b := range fiveTuple {
		h ^= uint32(b)
		h *= 16777619
	}
	// RFC 7348 recommends the ephemeral range for entropy; restrict to it.
	const lo, span = 49152, 65535 - 49152
	return uint16(lo) + uint16(h%uint32(span))
}

// FiveTupleHash derives a 5-tuple signature from an already-parsed inner
// Headers value, suitable for vxlanSrcPort.
func FiveTupleHash(h *Headers) uint16 {
	var buf []byte
	if h.Net != nil {
		switch n := h.Net.(type) {
		case Ipv4:
			s, d := n.Src.As4(), n.Dst.As4()
			buf = append(buf, s[:]...)
			buf = append(buf, d[:]...)
			buf = append(buf, byte(n.Protocol))
		case Ipv6:
			s, d := n.Src.As16(), n.Dst.As16()
			buf = append(buf, s[:]...)
			buf = append(buf, d[:]...)
			buf = append(buf, byte(n.NextHeader))
		}
	}
	switch t := h.Transport.(type) {
	case Tcp:
		buf = append(buf, byte(t.SrcPort>>8), byte(t.SrcPort), byte(t.DstPort>>8), byte(t.DstPort))
	case Udp:
		buf = append(buf, byte(t.SrcPort>>8), byte(t.SrcPort), byte(t.DstPort>>8), byte(t.DstPort))
	}
	return vxlanSrcPort(buf)
}
