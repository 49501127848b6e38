// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package statelessnat implements the per-VNI stateless NAT stage: a
// range-to-range remap of source and/or destination address driven by
// natcompile.NatTables, plus the embedded-header fix-up for ICMP Error
// messages.
package statelessnat

import (
	"net/netip"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/natcompile"
	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/wire"
)

// Kind enumerates this stage's failure modes.
type Kind int

const (
	KindNoIpHeader Kind = iota
	KindUnsupportedTranslation
	KindInvalidAddress
	KindMappingError
	KindMissingTable
	KindIcmpErrorMsg
)

// Error is the stage's domain error type.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, err: gwerrors.Errorf(gwerrors.KindValidation, format, args...)}
}

// ToDoneReason maps a stage error to the packet.DoneReason it should
// retire with.
func ToDoneReason(err error) packet.DoneReason {
	var e *Error
	if !gwerrors.As(err, &e) {
		return packet.DoneInternalFailure
	}
	switch e.Kind {
	case KindNoIpHeader:
		return packet.DoneNotIp
	case KindUnsupportedTranslation:
		return packet.DoneUnsupportedTransport
	case KindMissingTable:
		return packet.DoneUnroutable
	case KindInvalidAddress, KindMappingError:
		return packet.DoneNatFailure
	case KindIcmpErrorMsg:
		return packet.DoneFiltered
	default:
		return packet.DoneInternalFailure
	}
}

// mapAddr applies a single range's offset remap to addr:
// offset = addr - range start, mapped address = target start + offset.
func mapAddr(r *natcompile.NatRange, addr netip.Addr) (netip.Addr, error) {
	addr = addr.Unmap()
	start := r.OrigStart
	if addr.Is4() != start.Is4() {
		return netip.Addr{}, newErr(KindUnsupportedTranslation, "statelessnat: cross-family mapping is unsupported")
	}
	p, err := prefix.New(start, start.BitLen())
	if err != nil {
		return netip.Addr{}, newErr(KindInvalidAddress, "statelessnat: bad range start %s", start)
	}
	offset := p.Offset(addr)
	out, err := prefix.AddOffset(r.TargetStart, offset)
	if err != nil {
		return netip.Addr{}, newErr(KindMappingError, "statelessnat: offset overflow mapping %s", addr)
	}
	return out, nil
}

// NetAddrs is the minimal view over a network header this stage needs:
// get/set source and destination, independent of v4/v6.
type NetAddrs interface {
	Src() netip.Addr
	Dst() netip.Addr
	SetSrc(netip.Addr)
	SetDst(netip.Addr)
}

// translateSide applies r to the given side, returning whether it changed the address.
func translateSide(get func() netip.Addr, set func(netip.Addr), r *natcompile.NatRange) (bool, error) {
	cur := get()
	target, err := mapAddr(r, cur)
	if err != nil {
		return false, err
	}
	if target == cur {
		return false, nil
	}
	set(target)
	return true, nil
}

// Translate applies the stateless NAT stage to p given the compiled
// NatTables. It reports whether the packet's outer header was modified.
func Translate(tables *natcompile.NatTables, p *packet.Packet) (bool, error) {
	h := p.Headers
	if !p.Meta.HasSrcVni || !p.Meta.HasDstVni {
		return false, newErr(KindMissingTable, "statelessnat: packet missing src/dst vni metadata")
	}
	table := tables.Table(p.Meta.SrcVni)
	if table == nil {
		return false, newErr(KindMissingTable, "statelessnat: no NAT table for vni %d", p.Meta.SrcVni)
	}

	net, err := netAddrsOf(h)
	if err != nil {
		return false, err
	}

	srcRange, dstRange := table.Lookup(net.Src(), net.Dst(), p.Meta.DstVni)

	modified := false
	if srcRange != nil {
		changed, err := translateSide(net.Src, net.SetSrc, srcRange)
		if err != nil {
			return false, err
		}
		modified = modified || changed
	}
	if dstRange != nil {
		changed, err := translateSide(net.Dst, net.SetDst, dstRange)
		if err != nil {
			return false, err
		}
		modified = modified || changed
	}

	if !modified {
		return false, nil
	}

	if err := translateIcmpErrorIfAny(h, srcRange, dstRange); err != nil {
		return false, err
	}

	return true, nil
}

// netAddrsOf wraps h's network header in a NetAddrs view that writes
// mutations back into h.
func netAddrsOf(h *wire.Headers) (NetAddrs, error) {
	switch n := h.Net.(type) {
	case wire.Ipv4:
		ptr := new(wire.Ipv4)
		*ptr = n
		return &mutatingIpv4{h: h, v: ptr}, nil
	case wire.Ipv6:
		ptr := new(wire.Ipv6)
		*ptr = n
		return &mutatingIpv6{h: h, v: ptr}, nil
	default:
		return nil, newErr(KindNoIpHeader, "statelessnat: packet has no IP header")
	}
}

type mutatingIpv4 struct {
	h *wire.Headers
	v *wire.Ipv4
}

func (m *mutatingIpv4) Src() netip.Addr { return m.v.Src }
func (m *mutatingIpv4) Dst() netip.Addr { return m.v.Dst }
func (m *mutatingIpv4) SetSrc(a netip.Addr) {
	m.v.Src = a
	m.h.Net = *m.v
}
func (m *mutatingIpv4) SetDst(a netip.Addr) {
	m.v.Dst = a
	m.h.Net = *m.v
}

type mutatingIpv6 struct {
	h *wire.Headers
	v *wire.Ipv6
}

func (m *mutatingIpv6) Src() netip.Addr { return m.v.Src }
func (m *mutatingIpv6) Dst() netip.Addr { return m.v.Dst }
func (m *mutatingIpv6) SetSrc(a netip.Addr) {
	m.v.Src = a
	m.h.Net = *m.v
}
func (m *mutatingIpv6) SetDst(a netip.Addr) {
	m.v.Dst = a
	m.h.Net = *m.v
}
