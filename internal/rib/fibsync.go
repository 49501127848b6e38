// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rib

import (
	"net/netip"

	"github.com/grimm-is/gwcore/internal/fib"
	gwprefix "github.com/grimm-is/gwcore/internal/prefix"
)

// FibSync drives the routing update protocol: it owns
// the FibGroupStore and the per-VRF compiled route tables, recomputes a
// next-hop's resolver set when the RIB changes, rebuilds that key's
// single FibGroup, and installs it in place — so every FibRoute holding
// a handle observes the change with no per-route write. Only the
// routing-DB owner thread calls into it.
type FibSync struct {
	store  *fib.FibGroupStore
	tables map[VrfId]*fib.RouteTable
}

// NewFibSync returns a FibSync with an empty store.
func NewFibSync() *FibSync {
	return &FibSync{
		store:  fib.NewFibGroupStore(),
		tables: make(map[VrfId]*fib.RouteTable),
	}
}

// Store exposes the group store.
func (s *FibSync) Store() *fib.FibGroupStore { return s.store }

// RouteTable returns (creating on first use) the compiled FIB for id,
// pre-seeded with default drop routes at both family roots.
func (s *FibSync) RouteTable(id VrfId) *fib.RouteTable {
	rt, ok := s.tables[id]
	if !ok {
		rt = fib.NewRouteTable()
		drop := fib.NewFibRoute()
		drop.Append(s.store.DropGroupRef())
		rt.Insert(netip.PrefixFrom(netip.IPv4Unspecified(), 0), drop)
		rt.Insert(netip.PrefixFrom(netip.IPv6Unspecified(), 0), drop)
		s.tables[id] = rt
	}
	return rt
}

// Tables returns the compiled route tables keyed by VRF id, for snapshot
// assembly by the publisher.
func (s *FibSync) Tables() map[VrfId]*fib.RouteTable { return s.tables }

// resolve recomputes key's resolver set against v's RIB: an
// address-bearing key resolves through the route covering its address;
// an interface-only key is directly connected and resolves to itself.
func (s *FibSync) resolve(v *Vrf, key NhopKey) []NhopKey {
	if key.Action == fib.FwDrop {
		return nil
	}
	if !key.HasAddress {
		return []NhopKey{key}
	}
	route, ok := v.Lookup(key.Address)
	if !ok {
		return []NhopKey{fib.DropKey}
	}
	var resolvers []NhopKey
	for _, nh := range route.Nhops {
		if nh == key {
			// A route resolving a next-hop through itself terminates the
			// recursion; treat the key as directly reachable.
			resolvers = append(resolvers, key)
			continue
		}
		if nh == fib.DropKey {
			resolvers = append(resolvers, fib.DropKey)
			continue
		}
		resolvers = append(resolvers, nh)
	}
	if len(resolvers) == 0 {
		return []NhopKey{fib.DropKey}
	}
	return resolvers
}

// buildEntries expands key through its resolvers into concrete
// PktInstruction lists. Each resolver contributes one entry terminating
// with Egress, Encap+Egress, Local, or Drop.
func buildEntries(key NhopKey, resolvers []NhopKey, nat bool) []fib.FibEntry {
	if key.Action == fib.FwDrop {
		return []fib.FibEntry{{Instructions: []fib.PktInstruction{fib.Drop()}}}
	}

	entryFor := func(r NhopKey) fib.FibEntry {
		var ins []fib.PktInstruction
		if nat {
			ins = append(ins, fib.Nat())
		}
		if r.Action == fib.FwDrop {
			return fib.FibEntry{Instructions: append(ins, fib.Drop())}
		}
		if key.HasEncap {
			ins = append(ins, fib.EncapInstr(key.Encap))
			ins = append(ins, fib.Egress(r.Ifindex, r.HasIfindex, r.Address, r.HasAddress))
			return fib.FibEntry{Instructions: ins}
		}
		ifindex, hasIfindex := key.Ifindex, key.HasIfindex
		if r.HasIfindex {
			ifindex, hasIfindex = r.Ifindex, true
		}
		addr, hasAddr := key.Address, key.HasAddress
		if !hasAddr && r.HasAddress {
			addr, hasAddr = r.Address, true
		}
		ins = append(ins, fib.Egress(ifindex, hasIfindex, addr, hasAddr))
		return fib.FibEntry{Instructions: ins}
	}

	if len(resolvers) == 0 {
		return []fib.FibEntry{entryFor(key)}
	}
	entries := make([]fib.FibEntry, 0, len(resolvers))
	for _, r := range resolvers {
		entries = append(entries, entryFor(r))
	}
	return entries
}

// RefreshNhop recomputes key's resolvers against v and installs the
// rebuilt group into the store. The nat flag must match the routes
// referencing the key.
func (s *FibSync) RefreshNhop(v *Vrf, key NhopKey, nat bool) {
	resolvers := s.resolve(v, key)
	v.Nhops.SetResolvers(key, resolvers)
	s.store.AddOrReplace(key, buildEntries(key, resolvers, nat))
}

// InstallRoute installs r at p in both the RIB and the compiled FIB:
// next-hop keys are registered and refreshed, and the FibRoute is built
// from their shared group handles.
func (s *FibSync) InstallRoute(v *Vrf, p gwprefix.Prefix, r Route) {
	v.AddRoute(p, r)

	fr := fib.NewFibRoute()
	if r.Type == RouteTypeLocal {
		// Locally-owned addresses deliver to the kernel via their interface.
		ifindex := uint32(0)
		if len(r.Nhops) > 0 && r.Nhops[0].HasIfindex {
			ifindex = r.Nhops[0].Ifindex
		}
		key := fib.WithIfindex(ifindex)
		v.Nhops.AddNhop(key)
		s.store.AddOrReplace(key, []fib.FibEntry{{Instructions: []fib.PktInstruction{fib.Local(ifindex)}}})
		if g, ok := s.store.GetRef(key); ok {
			fr.Append(g)
		}
	} else {
		for _, key := range r.Nhops {
			n := v.Nhops.AddNhop(key)
			if r.Nat {
				n.Nat = true
			}
			s.RefreshNhop(v, key, n.Nat)
			if g, ok := s.store.GetRef(key); ok {
				fr.Append(g)
			}
		}
		if fr.NumGroups() == 0 {
			fr.Append(s.store.DropGroupRef())
		}
	}
	s.RouteTable(v.Id).Insert(netip.PrefixFrom(p.Addr(), p.Len()), fr)
}

// RemoveRoute deletes the route at p from the RIB and the compiled FIB,
// releasing its next-hop references. Deleting a family root reinstates
// the default drop route in both.
func (s *FibSync) RemoveRoute(v *Vrf, p gwprefix.Prefix) {
	old, hadRoute := v.GetRoute(p)
	v.DelRoute(p)

	rt := s.RouteTable(v.Id)
	wp := netip.PrefixFrom(p.Addr(), p.Len())
	if p.Len() == 0 {
		drop := fib.NewFibRoute()
		drop.Append(s.store.DropGroupRef())
		rt.Insert(wp, drop)
	} else {
		rt.Delete(wp)
	}

	if !hadRoute {
		return
	}
	for _, key := range old.Nhops {
		if v.Nhops.Release(key) {
			s.store.Delete(key)
		}
	}
}

// RefreshVrf re-resolves every next-hop v owns, the O(next-hops) fan-out
// path taken on interface state, ARP, or RMAC change.
func (s *FibSync) RefreshVrf(v *Vrf) {
	for _, n := range v.Nhops.All() {
		s.RefreshNhop(v, n.Key, n.Nat)
	}
}
