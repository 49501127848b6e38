// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package apalloc implements the stateful NAT stage's address-and-port
// allocator: pools of translated (IP, port) pairs keyed by protocol and
// VPC-pair, looked up by a longest-match-style floor search over the
// destination address, mirroring the gateway's per-VPC-pair pool
// assignment.
//
// The pool table is a sorted slice with binary-search floor lookup,
// standing in for an ordered map.
package apalloc

import (
	"net/netip"
	"sort"
	"sync"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/wire"
)

// Kind enumerates the allocator's failure modes.
type Kind int

const (
	KindUnsupportedProtocol Kind = iota
	KindPoolExhausted
)

// Error is the allocator's domain error type.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, err: gwerrors.Errorf(gwerrors.KindValidation, format, args...)}
}

// poolTableKey identifies one pool: the protocol and VPC pair it serves,
// plus the address range of the "other side" of the flow the pool was
// registered against (the peer's destination range, from whose
// perspective src/dst pools are assigned). Keys order by protocol,
// src VNI, dst VNI, then address range.
type poolTableKey struct {
	Protocol    wire.IpProto
	SrcVni      uint32
	DstVni      uint32
	RangeStart  netip.Addr
	RangeEnd    netip.Addr
}

func lessKey(a, b poolTableKey) bool {
	if a.Protocol != b.Protocol {
		return a.Protocol < b.Protocol
	}
	if a.SrcVni != b.SrcVni {
		return a.SrcVni < b.SrcVni
	}
	if a.DstVni != b.DstVni {
		return a.DstVni < b.DstVni
	}
	if c := a.RangeStart.Compare(b.RangeStart); c != 0 {
		return c < 0
	}
	return a.RangeEnd.Compare(b.RangeEnd) < 0
}

type poolTableEntry struct {
	key   poolTableKey
	alloc *ipAllocator
}

// poolTable is a sorted-by-key set of pools, looked up with a floor search:
// the entry with the greatest key not exceeding the probe, whose range
// still covers the probe's address and whose VNI/protocol match exactly.
type poolTable struct {
	mu      sync.RWMutex
	entries []poolTableEntry
}

func newPoolTable() *poolTable { return &poolTable{} }

// add registers a pool for [rangeStart, rangeEnd] keyed by proto/vnis. The
// pool's translated addresses come from poolPrefix.
func (t *poolTable) add(proto wire.IpProto, srcVni, dstVni uint32, rangeStart, rangeEnd netip.Addr, poolPrefix prefix.Prefix) {
	key := poolTableKey{Protocol: proto, SrcVni: srcVni, DstVni: dstVni, RangeStart: rangeStart, RangeEnd: rangeEnd}
	entry := poolTableEntry{key: key, alloc: newIpAllocator(poolPrefix)}

	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.entries), func(i int) bool { return !lessKey(t.entries[i].key, key) })
	t.entries = append(t.entries, poolTableEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
}

// get finds the pool whose [RangeStart, RangeEnd] covers addr for the
// given protocol/VNI pair, via floor search over the sorted key set.
func (t *poolTable) get(proto wire.IpProto, srcVni, dstVni uint32, addr netip.Addr) (*ipAllocator, bool) {
	probe := poolTableKey{Protocol: proto, SrcVni: srcVni, DstVni: dstVni, RangeStart: addr, RangeEnd: addr}

	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.entries), func(i int) bool { return !lessKey(t.entries[i].key, probe) })
	if i == 0 {
		return nil, false
	}
	e := t.entries[i-1]
	if e.key.Protocol == proto && e.key.SrcVni == srcVni && e.key.DstVni == dstVni &&
		e.key.RangeStart.Compare(addr) <= 0 && e.key.RangeEnd.Compare(addr) >= 0 {
		return e.alloc, true
	}
	return nil, false
}

// Tuple is the per-flow key the allocator consults to find a pool.
type Tuple struct {
	Protocol wire.IpProto
	SrcVni   uint32
	DstVni   uint32
	SrcIP    netip.Addr
	DstIP    netip.Addr
}

// AllocationResult carries the forward-session address/port mappings:
// Src is set when the flow's source needs translating (SNAT), Dst when
// its destination does (DNAT). Either, both, or neither may be set.
type AllocationResult struct {
	Src *AllocatedIpPort
	Dst *AllocatedIpPort
}

func checkProto(p wire.IpProto) error {
	switch p {
	case wire.ProtoTCP, wire.ProtoUDP:
		return nil
	default:
		return newErr(KindUnsupportedProtocol, "apalloc: unsupported protocol %d", p)
	}
}

// Allocator holds the four pool tables (source/destination x v4/v6) a
// gateway-wide stateful NAT stage draws from.
type Allocator struct {
	srcPools4, dstPools4 *poolTable
	srcPools6, dstPools6 *poolTable
}

// New returns an empty Allocator with no pools registered.
func New() *Allocator {
	return &Allocator{
		srcPools4: newPoolTable(), dstPools4: newPoolTable(),
		srcPools6: newPoolTable(), dstPools6: newPoolTable(),
	}
}

// RegisterSrcPool installs a source-NAT pool: flows whose SrcIP falls in
// [rangeStart, rangeEnd] for (proto, srcVni, dstVni) draw their translated
// source address/port from poolPrefix.
func (a *Allocator) RegisterSrcPool(proto wire.IpProto, srcVni, dstVni uint32, rangeStart, rangeEnd netip.Addr, poolPrefix prefix.Prefix) {
	a.tableFor(poolPrefix.Is4(), true).add(proto, srcVni, dstVni, rangeStart, rangeEnd, poolPrefix)
}

// RegisterDstPool installs a destination-NAT pool, symmetric with
// RegisterSrcPool.
func (a *Allocator) RegisterDstPool(proto wire.IpProto, srcVni, dstVni uint32, rangeStart, rangeEnd netip.Addr, poolPrefix prefix.Prefix) {
	a.tableFor(poolPrefix.Is4(), false).add(proto, srcVni, dstVni, rangeStart, rangeEnd, poolPrefix)
}

func (a *Allocator) tableFor(is4, src bool) *poolTable {
	switch {
	case is4 && src:
		return a.srcPools4
	case is4 && !src:
		return a.dstPools4
	case !is4 && src:
		return a.srcPools6
	default:
		return a.dstPools6
	}
}

// Allocate resolves pools for t's source and destination (if registered)
// and draws one (ip, port) pair from each. Either side may legitimately
// have no pool registered, in which case that side of AllocationResult is
// left nil and the flow is not translated on that side.
func (a *Allocator) Allocate(t Tuple) (AllocationResult, error) {
	if err := checkProto(t.Protocol); err != nil {
		return AllocationResult{}, err
	}
	is4 := t.SrcIP.Is4()

	var result AllocationResult
	if pool, ok := a.tableFor(is4, true).get(t.Protocol, t.SrcVni, t.DstVni, t.SrcIP); ok {
		alloc, ok := pool.allocate()
		if !ok {
			return AllocationResult{}, newErr(KindPoolExhausted, "apalloc: source pool exhausted for %s", t.SrcIP)
		}
		result.Src = alloc
	}
	if pool, ok := a.tableFor(is4, false).get(t.Protocol, t.SrcVni, t.DstVni, t.DstIP); ok {
		alloc, ok := pool.allocate()
		if !ok {
			return AllocationResult{}, newErr(KindPoolExhausted, "apalloc: destination pool exhausted for %s", t.DstIP)
		}
		result.Dst = alloc
	}
	return result, nil
}
