// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rib implements the Routing Information Base: per-VRF LPM
// tables over IPv4/IPv6, a next-hop store with resolver dependencies,
// and an RMAC store, plus the control-plane interface that the
// routing-daemon bridge drives.
//
// Next-hops live in an arena addressed by NhopKey (a plain map); the
// garbage collector removes any need for explicit refcounting of the
// resolver graph beyond the per-key route reference counts kept here.
package rib

import (
	"net/netip"

	"github.com/grimm-is/gwcore/internal/fib"
)

// NhopKey re-exports fib.NhopKey: a next-hop's identity is the same
// (address?, ifindex?, encapsulation?, forward_action) tuple the FIB
// keys its groups by, so the RIB and FIB share one vocabulary.
type NhopKey = fib.NhopKey

// Nhop is a next-hop object shared across routes; the store owns each
// key exactly once. Resolvers are the recursive-resolution dependency
// list: when the RIB changes, dependents are recomputed eagerly so FIB
// publication stays O(next-hops).
type Nhop struct {
	Key       NhopKey
	Resolvers []NhopKey
	Nat       bool
	refs      int
}

// NhopStore owns every distinct next-hop key appearing in a VRF's routes.
type NhopStore struct {
	byKey map[NhopKey]*Nhop
}

// NewNhopStore returns an empty NhopStore.
func NewNhopStore() *NhopStore {
	return &NhopStore{byKey: make(map[NhopKey]*Nhop)}
}

// AddNhop registers key if not already present and increments its
// reference count, returning the (possibly pre-existing) Nhop.
func (s *NhopStore) AddNhop(key NhopKey) *Nhop {
	if n, ok := s.byKey[key]; ok {
		n.refs++
		return n
	}
	n := &Nhop{Key: key, refs: 1}
	s.byKey[key] = n
	return n
}

// Release decrements key's reference count, removing it from the store
// once it reaches zero, and returns whether it was removed.
func (s *NhopStore) Release(key NhopKey) bool {
	n, ok := s.byKey[key]
	if !ok {
		return false
	}
	n.refs--
	if n.refs <= 0 {
		delete(s.byKey, key)
		return true
	}
	return false
}

// Get returns the Nhop registered under key.
func (s *NhopStore) Get(key NhopKey) (*Nhop, bool) {
	n, ok := s.byKey[key]
	return n, ok
}

// SetResolvers replaces key's resolver-dependency list, used when the
// RIB changes and a next-hop's recursive resolution must be recomputed.
func (s *NhopStore) SetResolvers(key NhopKey, resolvers []NhopKey) {
	if n, ok := s.byKey[key]; ok {
		n.Resolvers = resolvers
	}
}

// Len returns the number of distinct next-hop keys held.
func (s *NhopStore) Len() int { return len(s.byKey) }

// All returns every next-hop held, for the refresh fan-out path.
func (s *NhopStore) All() []*Nhop {
	out := make([]*Nhop, 0, len(s.byKey))
	for _, n := range s.byKey {
		out = append(out, n)
	}
	return out
}

// RmacStore maps a remote VTEP address to its router MAC (the MAC
// placed in the inner Ethernet header's destination field when
// encapsulating toward that VTEP), populated by
// the routing-daemon bridge's AddRmac/DelRmac CPI messages.
type RmacStore struct {
	byVtep map[netip.Addr][6]byte
}

// NewRmacStore returns an empty RmacStore.
func NewRmacStore() *RmacStore { return &RmacStore{byVtep: make(map[netip.Addr][6]byte)}}

// Set installs or replaces the RMAC for vtep.
func (s *RmacStore) Set(vtep netip.Addr, mac [6]byte) { s.byVtep[vtep] = mac }

// Delete removes the RMAC for vtep.
func (s *RmacStore) Delete(vtep netip.Addr) { delete(s.byVtep, vtep) }

// Lookup returns the RMAC registered for vtep.
func (s *RmacStore) Lookup(vtep netip.Addr) ([6]byte, bool) {
	mac, ok := s.byVtep[vtep]
	return mac, ok
}
