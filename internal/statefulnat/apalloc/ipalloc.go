// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package apalloc

import (
	"net/netip"
	"sync"

	"github.com/grimm-is/gwcore/internal/prefix"
)

// AllocatedIpPort is one (address, port) pair handed out by an
// ipAllocator. It carries a back-reference so Release can return both the
// port and, once its last port is freed, nothing further is needed (IP
// addresses themselves are never exhausted the way ports are: every
// address in the pool always owns a fresh portAllocator on first use).
type AllocatedIpPort struct {
	IP   netip.Addr
	port uint16
	ip   *poolEntry
}

// Port returns the allocated port number.
func (a *AllocatedIpPort) Port() uint16 { return a.port }

// Release returns the port to its IP's free pool.
func (a *AllocatedIpPort) Release() {
	a.ip.ports.release(a.port)
}

type poolEntry struct {
	addr  netip.Addr
	ports *portAllocator
}

// ipAllocator allocates (ip, port) pairs out of a fixed address pool,
// taking the pool's addresses in order: an address's port space is used
// before the next address is drawn from. Callers return resources with
// an explicit Release.
type ipAllocator struct {
	mu      sync.Mutex
	entries []*poolEntry
}

// newIpAllocator builds an allocator over every address in p. p must be
// reasonably small (a /24 or smaller in practice) since every address
// gets an eagerly-allocated portAllocator.
func newIpAllocator(p prefix.Prefix) *ipAllocator {
	n := int(p.Size())
	entries := make([]*poolEntry, 0, n)
	addr := p.Addr()
	for i := 0; i < n; i++ {
		entries = append(entries, &poolEntry{addr: addr, ports: newPortAllocator()})
		if i+1 < n {
			next, err := prefix.AddOffset(p.Addr(), uint64(i+1))
			if err != nil {
				break
			}
			addr = next
		}
	}
	return &ipAllocator{entries: entries}
}

// allocate returns the next available (ip, port) pair, trying pool
// addresses from the first until one has a free port.
func (a *ipAllocator) allocate() (*AllocatedIpPort, bool) {
	a.mu.Lock()
	n := len(a.entries)
	a.mu.Unlock()

	if n == 0 {
		return nil, false
	}
	for idx := 0; idx < n; idx++ {
		e := a.entries[idx]
		if port, ok := e.ports.allocate(); ok {
			return &AllocatedIpPort{IP: e.addr, port: port, ip: e}, true
		}
	}
	return nil, false
}
