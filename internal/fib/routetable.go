// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fib

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// RouteTable is one VRF's compiled FIB: longest-prefix-match tables over
// both families mapping a destination prefix to its FibRoute. Routes hold
// shared FibGroup handles, so a group replacement in the FibGroupStore is
// observed by every entry here without touching the table.
type RouteTable struct {
	v4 *bart.Table[*FibRoute]
	v6 *bart.Table[*FibRoute]
}

// NewRouteTable returns an empty RouteTable.
func NewRouteTable() *RouteTable {
	return &RouteTable{v4: new(bart.Table[*FibRoute]), v6: new(bart.Table[*FibRoute])}
}

func (t *RouteTable) tableFor(is4 bool) *bart.Table[*FibRoute] {
	if is4 {
		return t.v4
	}
	return t.v6
}

// Insert installs or replaces the route at p.
func (t *RouteTable) Insert(p netip.Prefix, r *FibRoute) {
	t.tableFor(p.Addr().Is4()).Insert(p.Masked(), r)
}

// Delete removes the route at p.
func (t *RouteTable) Delete(p netip.Prefix) {
	t.tableFor(p.Addr().Is4()).Delete(p.Masked())
}

// Lookup performs a longest-prefix match for addr, returning the matched
// prefix and its route.
func (t *RouteTable) Lookup(addr netip.Addr) (netip.Prefix, *FibRoute, bool) {
	addr = addr.Unmap()
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	return t.tableFor(addr.Is4()).LookupPrefixLPM(netip.PrefixFrom(addr, bits))
}

// Size returns the number of installed routes across both families.
func (t *RouteTable) Size() int { return t.v4.Size() + t.v6.Size() }
