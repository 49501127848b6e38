// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statefulnat

import (
	"net/netip"
	"sync"
	"time"

	"github.com/grimm-is/gwcore/internal/statefulnat/apalloc"
)

// Translation is the quadruple of optional rewrites a session applies
// to a matching packet.
type Translation struct {
	SrcIP      netip.Addr
	HasSrcIP   bool
	DstIP      netip.Addr
	HasDstIP   bool
	SrcPort    uint16
	HasSrcPort bool
	DstPort    uint16
	HasDstPort bool
}

// FlowInfo is one session record: the translation to apply, the idle
// timeout, the absolute expiry refreshed on every matching packet, and
// the allocator handles the session owns (released when the session is
// removed or evicted).
type FlowInfo struct {
	mu          sync.RWMutex
	trans       Translation
	idleTimeout time.Duration
	expires     time.Time
	allocs      []*apalloc.AllocatedIpPort
}

// NewFlowInfo builds a session record expiring idleTimeout after now.
func NewFlowInfo(trans Translation, idleTimeout time.Duration, now time.Time, allocs ...*apalloc.AllocatedIpPort) *FlowInfo {
	return &FlowInfo{
		trans:       trans,
		idleTimeout: idleTimeout,
		expires:     now.Add(idleTimeout),
		allocs:      allocs,
	}
}

// Translation returns the session's rewrite quadruple.
func (f *FlowInfo) Translation() Translation {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trans
}

// Expires returns the current absolute expiry.
func (f *FlowInfo) Expires() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.expires
}

// touch extends the expiry to now+idleTimeout. The extension is
// monotonic: a packet never moves the expiry backward.
func (f *FlowInfo) touch(now time.Time) {
	f.mu.Lock()
	if e := now.Add(f.idleTimeout); e.After(f.expires) {
		f.expires = e
	}
	f.mu.Unlock()
}

func (f *FlowInfo) expired(now time.Time) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return now.After(f.expires)
}

// release returns every allocator handle the session owns.
func (f *FlowInfo) release() {
	f.mu.Lock()
	allocs := f.allocs
	f.allocs = nil
	f.mu.Unlock()
	for _, a := range allocs {
		a.Release()
	}
}

const flowTableBuckets = 256

type flowBucket struct {
	mu    sync.Mutex
	flows map[FlowKey]*FlowInfo
}

// FlowTable is the stateful NAT session table: a hash map from FlowKey
// to FlowInfo with per-bucket locking, shared by all dataplane workers.
type FlowTable struct {
	buckets [flowTableBuckets]flowBucket
}

// NewFlowTable returns an empty FlowTable.
func NewFlowTable() *FlowTable {
	t := &FlowTable{}
	for i := range t.buckets {
		t.buckets[i].flows = make(map[FlowKey]*FlowInfo)
	}
	return t
}

func (t *FlowTable) bucket(key FlowKey) *flowBucket {
	return &t.buckets[key.hash(flowTableBuckets)]
}

// Lookup returns the live session for key, extending its expiry. A
// session found expired is removed (releasing its allocations) and
// reported as absent.
func (t *FlowTable) Lookup(key FlowKey, now time.Time) (*FlowInfo, bool) {
	b := t.bucket(key)
	b.mu.Lock()
	f, ok := b.flows[key]
	if ok && f.expired(now) {
		delete(b.flows, key)
		b.mu.Unlock()
		f.release()
		return nil, false
	}
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	f.touch(now)
	return f, true
}

// InsertPair installs the forward and reverse sessions of one flow
// atomically with respect to lookups: both bucket locks are held (in
// index order, to keep the acquisition order total) until both entries
// are in place, so no reader can observe one direction without the
// other.
func (t *FlowTable) InsertPair(fwdKey FlowKey, fwd *FlowInfo, revKey FlowKey, rev *FlowInfo) {
	fb, rb := t.bucket(fwdKey), t.bucket(revKey)
	if fb == rb {
		fb.mu.Lock()
		fb.flows[fwdKey] = fwd
		fb.flows[revKey] = rev
		fb.mu.Unlock()
		return
	}
	first, second := fb, rb
	if fwdKey.hash(flowTableBuckets) > revKey.hash(flowTableBuckets) {
		first, second = rb, fb
	}
	first.mu.Lock()
	second.mu.Lock()
	fb.flows[fwdKey] = fwd
	rb.flows[revKey] = rev
	second.mu.Unlock()
	first.mu.Unlock()
}

// Remove deletes the session at key, releasing its allocations.
func (t *FlowTable) Remove(key FlowKey) bool {
	b := t.bucket(key)
	b.mu.Lock()
	f, ok := b.flows[key]
	if ok {
		delete(b.flows, key)
	}
	b.mu.Unlock()
	if ok {
		f.release()
	}
	return ok
}

// Sweep removes every session expired as of now, returning how many
// were evicted.
func (t *FlowTable) Sweep(now time.Time) int {
	evicted := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		var dead []*FlowInfo
		b.mu.Lock()
		for k, f := range b.flows {
			if f.expired(now) {
				delete(b.flows, k)
				dead = append(dead, f)
			}
		}
		b.mu.Unlock()
		for _, f := range dead {
			f.release()
		}
		evicted += len(dead)
	}
	return evicted
}

// Len returns the number of live sessions (both directions counted).
func (t *FlowTable) Len() int {
	n := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		n += len(b.flows)
		b.mu.Unlock()
	}
	return n
}
