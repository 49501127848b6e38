// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fib implements the Forwarding Information Base core: a
// FibGroupStore of shared groups keyed by next-hop, and FibRoute, an
// ordered sequence of shared group references. Mutating the single
// FibGroup behind a next-hop key is observable to every FibRoute holding
// a handle to that key without re-pointing those routes, giving
// O(next-hops) FIB updates on topology change instead of O(routes).
//
// The dataplane reads FIB state through the copy-on-write snapshots in
// internal/dataplane, so this package's own concurrency control only
// needs to protect a FibGroup's mutable body from its single writer;
// a sync.RWMutex held briefly by the writer is enough when readers
// only read.
package fib

import (
	"net/netip"
	"sync"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// FwAction distinguishes a forwarding next-hop from a drop next-hop.
type FwAction int

const (
	FwForward FwAction = iota
	FwDrop
)

// Encapsulation names the tunnel encapsulation applied by an Encap
// instruction.
type Encapsulation struct {
	DstVtep  netip.Addr
	Vni      uint32
	DstMac   [6]byte
}

// NhopKey is the unique key identifying a shared next-hop:
// (address?, ifindex?, encapsulation?, forward action).
type NhopKey struct {
	Address    netip.Addr
	HasAddress bool
	Ifindex    uint32
	HasIfindex bool
	Encap      Encapsulation
	HasEncap   bool
	Action     FwAction
}

// DropKey is the all-zero next-hop key whose FibGroup is the permanent
// singleton "drop" group.
var DropKey = NhopKey{Action: FwDrop}

// WithAddress returns a forwarding next-hop key for address alone.
func WithAddress(addr netip.Addr) NhopKey {
	return NhopKey{Address: addr, HasAddress: true}
}

// WithAddrIfindex returns a forwarding next-hop key for (address, ifindex).
func WithAddrIfindex(addr netip.Addr, ifindex uint32) NhopKey {
	return NhopKey{Address: addr, HasAddress: true, Ifindex: ifindex, HasIfindex: true}
}

// WithIfindex returns a forwarding next-hop key for ifindex alone.
func WithIfindex(ifindex uint32) NhopKey {
	return NhopKey{Ifindex: ifindex, HasIfindex: true}
}

// InstructionKind enumerates the PktInstruction variants.
type InstructionKind int

const (
	InstrDrop InstructionKind = iota
	InstrLocal
	InstrEncap
	InstrEgress
	InstrNat
)

// PktInstruction is one executable forwarding action within a FibEntry.
type PktInstruction struct {
	Kind InstructionKind

	// Local
	Ifindex uint32

	// Encap
	Encap Encapsulation

	// Egress
	EgressIfindex    uint32
	HasEgressIfindex bool
	NhopAddress      netip.Addr
	HasNhopAddress   bool
}

// Drop returns a Drop instruction.
func Drop() PktInstruction { return PktInstruction{Kind: InstrDrop} }

// Local returns a Local instruction delivering to ifindex.
func Local(ifindex uint32) PktInstruction { return PktInstruction{Kind: InstrLocal, Ifindex: ifindex} }

// EncapInstr returns an Encap instruction.
func EncapInstr(e Encapsulation) PktInstruction { return PktInstruction{Kind: InstrEncap, Encap: e} }

// Egress returns an Egress instruction. Either field may be absent
// (HasEgressIfindex/HasNhopAddress false).
func Egress(ifindex uint32, hasIfindex bool, addr netip.Addr, hasAddr bool) PktInstruction {
	return PktInstruction{Kind: InstrEgress, EgressIfindex: ifindex, HasEgressIfindex: hasIfindex, NhopAddress: addr, HasNhopAddress: hasAddr}
}

// Nat returns a Nat instruction (a no-op marker for the forwarding stage
// that signals the NAT stage is permitted to translate this packet).
func Nat() PktInstruction { return PktInstruction{Kind: InstrNat} }

// FibEntry is an ordered list of PktInstructions executed in sequence by
// the forwarding stage.
type FibEntry struct {
	Instructions []PktInstruction
}

// FibGroup is a mutable, shared, ordered sequence of FibEntry values.
// Every FibRoute holding a reference to the same key observes a group
// mutation without re-establishing its handle list.
type FibGroup struct {
	mu      sync.RWMutex
	entries []FibEntry
}

// NewFibGroup builds a FibGroup from entries.
func NewFibGroup(entries ...FibEntry) *FibGroup {
	return &FibGroup{entries: entries}
}

// Len returns the number of entries in the group.
func (g *FibGroup) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Entry returns the i'th entry, or false if out of range.
func (g *FibGroup) Entry(i int) (FibEntry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i < 0 || i >= len(g.entries) {
		return FibEntry{}, false
	}
	return g.entries[i], true
}

// Replace atomically swaps the group's entries. Every FibRoute holding a
// handle to this group observes the new entries on its next lookup.
func (g *FibGroup) Replace(entries []FibEntry) {
	g.mu.Lock()
	g.entries = entries
	g.mu.Unlock()
}

func dropFibGroup() *FibGroup {
	return NewFibGroup(FibEntry{Instructions: []PktInstruction{Drop()}})
}

// FibGroupStore is a mapping from next-hop key to a shared, mutable
// FibGroup. It is not itself safe for concurrent writer+writer use; only
// the single-threaded routing-DB owner thread writes it, and reads of
// the map are protected separately by the caller's own snapshot
// discipline (see internal/dataplane).
type FibGroupStore struct {
	mu     sync.RWMutex
	groups map[NhopKey]*FibGroup
}

// NewFibGroupStore returns a store pre-populated with the permanent
// drop group under DropKey.
func NewFibGroupStore() *FibGroupStore {
	s := &FibGroupStore{groups: make(map[NhopKey]*FibGroup)}
	s.groups[DropKey] = dropFibGroup()
	return s
}

// AddOrReplace installs group under key, replacing any prior group's
// instructions in place (so existing handles observe the update) rather
// than swapping the map entry, unless the key is new.
func (s *FibGroupStore) AddOrReplace(key NhopKey, entries []FibEntry) {
	s.mu.Lock()
	g, ok := s.groups[key]
	if !ok {
		g = NewFibGroup(entries...)
		s.groups[key] = g
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	g.Replace(entries)
}

// GetRef returns a shared handle to the FibGroup at key.
func (s *FibGroupStore) GetRef(key NhopKey) (*FibGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[key]
	return g, ok
}

// DropGroupRef returns a handle to the permanent singleton drop group.
func (s *FibGroupStore) DropGroupRef() *FibGroup {
	g, ok := s.GetRef(DropKey)
	if !ok {
		panic("fib: drop group missing from store")
	}
	return g
}

// Delete removes the group at key, unless it is the permanent drop group.
func (s *FibGroupStore) Delete(key NhopKey) {
	if key == DropKey {
		return
	}
	s.mu.Lock()
	delete(s.groups, key)
	s.mu.Unlock()
}

// Len returns the number of distinct next-hop keys in the store.
func (s *FibGroupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

// Purge reclaims nothing: the GC frees a FibGroup once the last
// FibRoute handle drops, and routes hold *FibGroup directly rather
// than a counted handle type. It exists so store maintenance call
// sites read uniformly.
func (s *FibGroupStore) Purge() int { return 0 }

// FibRoute is an ordered sequence of shared FibGroup references;
// inserting or updating a route only re-points its references.
type FibRoute struct {
	groups []*FibGroup
}

// NewFibRoute returns an empty FibRoute.
func NewFibRoute() *FibRoute { return &FibRoute{} }

// Append adds a group handle to the route.
func (r *FibRoute) Append(g *FibGroup) { r.groups = append(r.groups, g) }

// NumGroups returns the number of FibGroup handles in the route.
func (r *FibRoute) NumGroups() int { return len(r.groups) }

// Len returns Σ group sizes — the total number of FibEntry values
// reachable through this route.
func (r *FibRoute) Len() int {
	total := 0
	for _, g := range r.groups {
		total += g.Len()
	}
	return total
}

// GetEntry returns the i'th entry across all groups in order (the
// route's "virtual index"), selecting the (group, entry) whose
// cumulative range contains it. This makes entry selection proportional
// to the total entry count of the route, not biased by group
// cardinality.
func (r *FibRoute) GetEntry(i int) (FibEntry, bool) {
	if i < 0 {
		return FibEntry{}, false
	}
	idx := i
	for _, g := range r.groups {
		n := g.Len()
		if idx < n {
			return g.Entry(idx)
		}
		idx -= n
	}
	return FibEntry{}, false
}

// SelectEntry maps an arbitrary selector (e.g. a 5-tuple hash) into
// [0, r.Len()) and returns the entry it lands on
// virtual-index selection rule. Returns an error if the route is empty.
func (r *FibRoute) SelectEntry(selector uint64) (FibEntry, error) {
	n := r.Len()
	if n == 0 {
		return FibEntry{}, gwerrors.New(gwerrors.KindInternal, "fib: route has no entries")
	}
	idx := int(selector % uint64(n))
	e, ok := r.GetEntry(idx)
	if !ok {
		return FibEntry{}, gwerrors.New(gwerrors.KindInternal, "fib: virtual index resolution failed")
	}
	return e, nil
}
