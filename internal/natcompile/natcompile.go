// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package natcompile implements the Overlay/NAT Compiler: it takes a
// validated config.Overlay and produces NatTables, a per-VNI set of
// stateless NAT prefix-range mappings ready for the dataplane's stateless
// NAT stage. The underlying exclusion collapse lives in
// internal/config.CollapseExpose.
package natcompile

import (
	"net/netip"
	"sort"

	"github.com/gaissmai/bart"

	"github.com/grimm-is/gwcore/internal/config"
	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/prefix"
)

// Kind enumerates the compiler's own failure modes.
type Kind int

const (
	KindEntryExists Kind = iota
	KindMalformedPeering
	KindSplitPrefixError
)

// Error is the compiler's domain error type.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, err: gwerrors.Errorf(gwerrors.KindValidation, format, args...)}
}

// NatRange is one prefix-indexed range-to-range translation rule:
// addresses in [OrigStart, OrigEnd] are remapped to the same offset from
// TargetStart. TargetVni is set only for destination-NAT rules that cross
// into a specific peer VNI.
type NatRange struct {
	OrigStart, OrigEnd netip.Addr
	TargetStart        netip.Addr
	TargetVni          uint32
	HasTargetVni       bool
}

// PerVniTable holds every stateless NAT rule whose lookup key is "a
// packet whose src_vni is this VNI."
type PerVniTable struct {
	Vni uint32

	// SrcNat maps this VNI's own private prefixes to its own public range.
	SrcNat *bart.Table[NatRange]

	// DstNat maps, per peer VNI, the peer's public prefixes (as addressed
	// by a packet leaving this VNI) to the peer's private range.
	DstNat map[uint32]*bart.Table[NatRange]
}

func newPerVniTable(vni uint32) *PerVniTable {
	return &PerVniTable{
		Vni:    vni,
		SrcNat: new(bart.Table[NatRange]),
		DstNat: make(map[uint32]*bart.Table[NatRange]),
	}
}

// Lookup resolves the (src, dst) translation ranges for a packet whose
// src_vni is this table's Vni and dst_vni is dstVni
// contract: "looks up (src_ip, dst_ip, dst_vni) to obtain (src_range_opt,
// dst_range_opt)."
func (t *PerVniTable) Lookup(src, dst netip.Addr, dstVni uint32) (srcRange, dstRange *NatRange) {
	if r, ok := t.SrcNat.Lookup(src); ok {
		srcRange = &r
	}
	if peerTable, ok := t.DstNat[dstVni]; ok {
		if r, ok := peerTable.Lookup(dst); ok {
			dstRange = &r
		}
	}
	return srcRange, dstRange
}

// NatTables is the compiler's output: a mapping from VNI to PerVniTable.
type NatTables struct {
	byVni map[uint32]*PerVniTable
}

// Table returns the PerVniTable for vni, or nil if the VNI has no table.
func (n *NatTables) Table(vni uint32) *PerVniTable { return n.byVni[vni] }

func lastAddress(p prefix.Prefix) netip.Addr {
	last, err := prefix.AddOffset(p.Addr(), p.Size()-1)
	if err != nil {
		return p.Addr()
	}
	return last
}

// pairBySize zips two collapsed prefix sets (sorted ascending by address)
// into matching (private, public) pairs of equal size, which the NAT
// offset-remap arithmetic requires. A well-formed expose
// pair produces collapsed sets with the same shape since both are derived
// by applying exclusions at the same relative positions; a mismatch means
// the peering's private/public exclusion topology diverged and is
// reported as MalformedPeering rather than guessed at.
func pairBySize(a, b []prefix.Prefix) ([][2]prefix.Prefix, error) {
	sortByAddr := func(ps []prefix.Prefix) []prefix.Prefix {
		out := append([]prefix.Prefix{}, ps...)
		sort.Slice(out, func(i, j int) bool {
			return out[i].Addr().Compare(out[j].Addr()) < 0
		})
		return out
	}
	sa, sb := sortByAddr(a), sortByAddr(b)
	if len(sa) != len(sb) {
		return nil, newErr(KindMalformedPeering, "natcompile: private/public prefix counts differ (%d vs %d)", len(sa), len(sb))
	}
	pairs := make([][2]prefix.Prefix, len(sa))
	for i := range sa {
		if sa[i].Size() != sb[i].Size() {
			return nil, newErr(KindMalformedPeering, "natcompile: prefix size mismatch at index %d (%s vs %s)", i, sa[i], sb[i])
		}
		pairs[i] = [2]prefix.Prefix{sa[i], sb[i]}
	}
	return pairs, nil
}

func insertUnique(t *bart.Table[NatRange], key prefix.Prefix, val NatRange) error {
	asPrefix, err := netip.ParsePrefix(key.String())
	if err != nil {
		return newErr(KindSplitPrefixError, "natcompile: %v", err)
	}
	if _, ok := t.Lookup(key.Addr()); ok {
		if _, exists := t.Get(asPrefix); exists {
			return newErr(KindEntryExists, "natcompile: duplicate entry for %s", key)
		}
	}
	t.Insert(asPrefix, val)
	return nil
}

// processHalf emits local's source-NAT rules and remote's destination-NAT
// rules (as seen from local) into localTable
// directed half-peering algorithm.
func processHalf(localTable *PerVniTable, remoteVni uint32, local, remote *config.VpcManifest) error {
	for i := range local.Exposes {
		e := &local.Exposes[i]
		if len(e.AsRange) == 0 {
			continue
		}
		private, public, err := config.CollapseExpose(e)
		if err != nil {
			return err
		}
		pairs, err := pairBySize(private, public)
		if err != nil {
			return err
		}
		for _, pr := range pairs {
			priv, pub := pr[0], pr[1]
			rule := NatRange{OrigStart: priv.Addr(), OrigEnd: lastAddress(priv), TargetStart: pub.Addr()}
			if err := insertUnique(localTable.SrcNat, priv, rule); err != nil {
				return err
			}
		}
	}

	for i := range remote.Exposes {
		e := &remote.Exposes[i]
		if len(e.AsRange) == 0 {
			continue
		}
		private, public, err := config.CollapseExpose(e)
		if err != nil {
			return err
		}
		pairs, err := pairBySize(public, private)
		if err != nil {
			return err
		}
		peerTable, ok := localTable.DstNat[remoteVni]
		if !ok {
			peerTable = new(bart.Table[NatRange])
			localTable.DstNat[remoteVni] = peerTable
		}
		for _, pr := range pairs {
			pub, priv := pr[0], pr[1]
			rule := NatRange{OrigStart: pub.Addr(), OrigEnd: lastAddress(pub), TargetStart: priv.Addr(), TargetVni: remoteVni, HasTargetVni: true}
			if err := insertUnique(peerTable, pub, rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compile builds NatTables from a validated overlay.
func Compile(overlay *config.Overlay) (*NatTables, error) {
	tables := &NatTables{byVni: make(map[uint32]*PerVniTable)}

	tableFor := func(name string) (*PerVniTable, error) {
		vpc, ok := overlay.Vpcs.Get(name)
		if !ok {
			return nil, newErr(KindMalformedPeering, "natcompile: no such vpc %q", name)
		}
		t, ok := tables.byVni[vpc.Vni]
		if !ok {
			t = newPerVniTable(vpc.Vni)
			tables.byVni[vpc.Vni] = t
		}
		return t, nil
	}

	for _, p := range overlay.Peerings.All() {
		leftVpc, ok := overlay.Vpcs.Get(p.Left.Name)
		if !ok {
			return nil, newErr(KindMalformedPeering, "natcompile: no such vpc %q", p.Left.Name)
		}
		rightVpc, ok := overlay.Vpcs.Get(p.Right.Name)
		if !ok {
			return nil, newErr(KindMalformedPeering, "natcompile: no such vpc %q", p.Right.Name)
		}

		leftTable, err := tableFor(p.Left.Name)
		if err != nil {
			return nil, err
		}
		rightTable, err := tableFor(p.Right.Name)
		if err != nil {
			return nil, err
		}

		left, right := p.Left, p.Right
		if err := processHalf(leftTable, rightVpc.Vni, &left, &right); err != nil {
			return nil, err
		}
		if err := processHalf(rightTable, leftVpc.Vni, &right, &left); err != nil {
			return nil, err
		}
	}

	return tables, nil
}
