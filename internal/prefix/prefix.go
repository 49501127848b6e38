// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package prefix implements the address/prefix algebra shared by the
// configuration validator, the NAT compiler and the RIB/FIB: covering,
// size, and splitting of CIDR prefixes, with the invariant that no host
// bits are set below the prefix length.
package prefix

import (
	"fmt"
	"net/netip"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// Prefix is a validated network address plus prefix length. Unlike a bare
// netip.Prefix, a Prefix is guaranteed (by New) to carry no set host bits.
type Prefix struct {
	p netip.Prefix
}

// Root4 is the IPv4 default route prefix 0.0.0.0/0.
var Root4 = Prefix{p: netip.PrefixFrom(netip.IPv4Unspecified(), 0)}

// Root6 is the IPv6 default route prefix ::/0.
var Root6 = Prefix{p: netip.PrefixFrom(netip.IPv6Unspecified(), 0)}

// New validates addr/length and rejects a prefix with any host bit set
// below length, or a length exceeding the address family's maximum.
func New(addr netip.Addr, length int) (Prefix, error) {
	if !addr.IsValid() {
		return Prefix{}, gwerrors.New(gwerrors.KindValidation, "prefix: invalid address")
	}
	addr = addr.Unmap()
	maxLen := 32
	if addr.Is6() {
		maxLen = 128
	}
	if length < 0 || length > maxLen {
		return Prefix{}, gwerrors.Errorf(gwerrors.KindValidation, "prefix: length %d out of range for family", length)
	}
	masked := netip.PrefixFrom(addr, length).Masked()
	if masked.Addr() != addr {
		return Prefix{}, gwerrors.Errorf(gwerrors.KindValidation, "prefix: %s/%d has host bits set", addr, length)
	}
	return Prefix{p: masked}, nil
}

// Parse parses "<addr>/<len>" per the external wire format.
func Parse(s string) (Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, gwerrors.Wrapf(err, gwerrors.KindValidation, "prefix: parse %q", s)
	}
	return New(p.Addr(), p.Bits())
}

// MustParse parses s, panicking on error; for tests and static tables only.
func MustParse(s string) Prefix {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the prefix in "<addr>/<len>" form.
func (p Prefix) String() string {
	if !p.p.IsValid() {
		return "<invalid>"
	}
	return p.p.String()
}

// Addr returns the network address.
func (p Prefix) Addr() netip.Addr { return p.p.Addr() }

// Len returns the prefix length.
func (p Prefix) Len() int { return p.p.Bits() }

// Is4 reports whether this is an IPv4 prefix.
func (p Prefix) Is4() bool { return p.p.Addr().Is4() }

// Is6 reports whether this is an IPv6 prefix.
func (p Prefix) Is6() bool { return p.p.Addr().Is6() }

// IsValid reports whether the prefix was constructed successfully.
func (p Prefix) IsValid() bool { return p.p.IsValid() }

func (p Prefix) maxLen() int {
	if p.Is6() {
		return 128
	}
	return 32
}

// Root returns the all-zero default-route prefix for p's address family.
func (p Prefix) Root() Prefix {
	if p.Is6() {
		return Root6
	}
	return Root4
}

// Covers reports whether p's network contains q's network and p.Len() <= q.Len().
func (p Prefix) Covers(q Prefix) bool {
	if p.Is4() != q.Is4() {
		return false
	}
	if p.Len() > q.Len() {
		return false
	}
	return p.p.Contains(q.Addr()) || p.p == q.p
}

// Equal reports whether p and q are the same network/length.
func (p Prefix) Equal(q Prefix) bool { return p.p == q.p }

// Overlaps reports whether p and q share any address (either covers the other).
func (p Prefix) Overlaps(q Prefix) bool {
	if p.Is4() != q.Is4() {
		return false
	}
	return p.p.Overlaps(q.p)
}

// Size returns 2^(maxlen - len) as a uint64. Valid for both families since
// the pool sizes this module deals with never approach 2^64.
func (p Prefix) Size() uint64 {
	shift := p.maxLen() - p.Len()
	if shift >= 64 {
		return ^uint64(0) // saturate; reached by any IPv6 prefix of length 64 or shorter
	}
	return uint64(1) << uint(shift)
}

// IsHost reports whether the prefix is a single address (a non-splittable leaf).
func (p Prefix) IsHost() bool { return p.Len() == p.maxLen() }

// Split returns the two equal halves of p, each with length p.Len()+1.
// It errors if p is already a host prefix.
func (p Prefix) Split() (Prefix, Prefix, error) {
	if p.IsHost() {
		return Prefix{}, Prefix{}, gwerrors.Errorf(gwerrors.KindValidation, "prefix: cannot split host prefix %s", p)
	}
	newLen := p.Len() + 1
	loAddr := p.Addr()
	hi, err := setBit(loAddr, p.maxLen(), newLen-1)
	if err != nil {
		return Prefix{}, Prefix{}, err
	}
	lo, err := New(loAddr, newLen)
	if err != nil {
		return Prefix{}, Prefix{}, err
	}
	hiP, err := New(hi, newLen)
	if err != nil {
		return Prefix{}, Prefix{}, err
	}
	return lo, hiP, nil
}

// setBit sets bit index (0-based from the MSB) of addr and returns the result.
func setBit(addr netip.Addr, maxLen, bitIdx int) (netip.Addr, error) {
	b := addr.AsSlice()
	byteIdx := bitIdx / 8
	if byteIdx >= len(b) {
		return netip.Addr{}, fmt.Errorf("prefix: bit index %d out of range", bitIdx)
	}
	mask := byte(0x80) >> uint(bitIdx%8)
	b[byteIdx] |= mask
	a, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}, fmt.Errorf("prefix: malformed address bytes")
	}
	return a, nil
}

// Contains reports whether addr falls inside p's network.
func (p Prefix) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	return p.p.Contains(addr)
}

// Offset returns addr's offset from p's network address, for stateless NAT
// range remap. It is the caller's responsibility to ensure addr is inside p.
func (p Prefix) Offset(addr netip.Addr) uint64 {
	base := p.Addr().As16()
	a := addr.Unmap().As16()
	var diff [16]byte
	borrow := 0
	for i := 15; i >= 0; i-- {
		v := int(a[i]) - int(base[i]) - borrow
		if v < 0 {
			v += 256
			borrow = 1
		} else {
			borrow = 0
		}
		diff[i] = byte(v)
	}
	// low 8 bytes are sufficient for every range this system handles.
	var out uint64
	for i := 8; i < 16; i++ {
		out = out<<8 | uint64(diff[i])
	}
	return out
}

// AddOffset returns the address at the given offset from base.
func AddOffset(base netip.Addr, offset uint64) (netip.Addr, error) {
	base = base.Unmap()
	if base.Is4() {
		bb := base.As4()
		var ob4 [4]byte
		for i := 0; i < 4; i++ {
			ob4[3-i] = byte(offset >> (8 * uint(i)))
		}
		var a4 [4]byte
		carry := 0
		for i := 3; i >= 0; i-- {
			v := int(bb[i]) + int(ob4[i]) + carry
			a4[i] = byte(v)
			carry = v >> 8
		}
		if carry != 0 {
			return netip.Addr{}, gwerrors.New(gwerrors.KindValidation, "prefix: address offset overflows IPv4 range")
		}
		return netip.AddrFrom4(a4), nil
	}

	b := base.As16()
	var ob [16]byte
	for i := 0; i < 8; i++ {
		ob[15-i] = byte(offset >> (8 * uint(i)))
	}
	var out [16]byte
	carry := 0
	for i := 15; i >= 0; i-- {
		v := int(b[i]) + int(ob[i]) + carry
		out[i] = byte(v)
		carry = v >> 8
	}
	return netip.AddrFrom16(out), nil
}
