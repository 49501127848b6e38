// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package statefulnat implements the stateful NAT stage: a session table
// keyed by FlowKey, reverse-session synthesis, allocation of public
// (IP, port) pairs through the apalloc hierarchy, and ICMP Error
// inner-packet translation per RFC 5508.
package statefulnat

import (
	"sync"
	"time"

	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/statefulnat/apalloc"
	"github.com/grimm-is/gwcore/internal/wire"
)

// DefaultIdleTimeout is applied to sessions whose VNI pair has no
// explicitly configured idle timeout.
const DefaultIdleTimeout = 120 * time.Second

type vniPair struct {
	src, dst uint32
}

// Stage is the stateful NAT stage shared by every dataplane worker. The
// session table and allocator are internally locked; the timeout map
// carries its own lock since configuration generations update it while
// workers translate.
type Stage struct {
	flows *FlowTable
	alloc *apalloc.Allocator

	mu       sync.RWMutex
	timeouts map[vniPair]time.Duration
}

// NewStage builds a Stage over alloc with an empty session table.
func NewStage(alloc *apalloc.Allocator) *Stage {
	return &Stage{
		flows:    NewFlowTable(),
		alloc:    alloc,
		timeouts: make(map[vniPair]time.Duration),
	}
}

// Sessions exposes the session table, for eviction sweeps and CLI dumps.
func (s *Stage) Sessions() *FlowTable { return s.flows }

// SetIdleTimeout configures the session idle timeout for flows from
// srcVni to dstVni (and is normally called for both directions).
func (s *Stage) SetIdleTimeout(srcVni, dstVni uint32, d time.Duration) {
	s.mu.Lock()
	s.timeouts[vniPair{srcVni, dstVni}] = d
	s.mu.Unlock()
}

func (s *Stage) idleTimeout(srcVni, dstVni uint32) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.timeouts[vniPair{srcVni, dstVni}]; ok {
		return d
	}
	return DefaultIdleTimeout
}

// Translate applies the stateful NAT stage to p:
// existing sessions are applied and refreshed; ICMP Errors are matched
// against the session of their embedded flow; otherwise the allocator is
// consulted and, if it owns a pool for the tuple, forward and reverse
// sessions are installed before the translated packet leaves the stage.
func (s *Stage) Translate(p *packet.Packet, now time.Time) error {
	if !p.Meta.Nat {
		return nil
	}
	if !p.Meta.HasSrcVni || !p.Meta.HasDstVni {
		return newErr(KindUnexpectedKeyVariant, "statefulnat: packet missing vni metadata")
	}
	h := p.Headers

	key, err := extractFlowKey(h, p.Meta.SrcVni, p.Meta.DstVni)
	if err != nil {
		return err
	}

	if key.Proto == ProtoKeyIcmpError {
		return s.handleIcmpError(p, key, now)
	}

	if sess, ok := s.flows.Lookup(key, now); ok {
		if err := applyTranslation(h, sess.Translation()); err != nil {
			return err
		}
		p.Meta.ChecksumRefresh = true
		return nil
	}

	return s.allocateAndTranslate(p, key, now)
}

// allocateAndTranslate is the session-miss path: consult the allocator,
// synthesize the forward and reverse sessions, install both, and only
// then translate the packet, so the ordering guarantee (sessions
// visible before the first translated packet leaves) holds.
func (s *Stage) allocateAndTranslate(p *packet.Packet, key FlowKey, now time.Time) error {
	h := p.Headers

	proto, err := protoOf(key.Proto)
	if err != nil {
		return err
	}
	tuple := apalloc.Tuple{
		Protocol: proto,
		SrcVni:   key.SrcVni,
		DstVni:   key.DstVni,
		SrcIP:    key.SrcIP,
		DstIP:    key.DstIP,
	}
	result, err := s.alloc.Allocate(tuple)
	if err != nil {
		return wrapAllocErr(err)
	}
	if result.Src == nil && result.Dst == nil {
		// No pool owns this tuple; the packet passes through untranslated.
		return nil
	}

	var fwd Translation
	var allocs []*apalloc.AllocatedIpPort
	if result.Src != nil {
		fwd.SrcIP, fwd.HasSrcIP = result.Src.IP, true
		fwd.SrcPort, fwd.HasSrcPort = result.Src.Port(), true
		allocs = append(allocs, result.Src)
	}
	if result.Dst != nil {
		fwd.DstIP, fwd.HasDstIP = result.Dst.IP, true
		fwd.DstPort, fwd.HasDstPort = result.Dst.Port(), true
		allocs = append(allocs, result.Dst)
	}
	if err := checkUnicast(fwd); err != nil {
		for _, a := range allocs {
			a.Release()
		}
		return err
	}

	revKey, rev := reverseSession(key, fwd)
	timeout := s.idleTimeout(key.SrcVni, key.DstVni)
	fwdInfo := NewFlowInfo(fwd, timeout, now, allocs...)
	revInfo := NewFlowInfo(rev, timeout, now)
	s.flows.InsertPair(key, fwdInfo, revKey, revInfo)

	if err := applyTranslation(h, fwd); err != nil {
		return err
	}
	p.Meta.ChecksumRefresh = true
	return nil
}

// reverseSession derives the return-direction key and translation from
// the forward flow: the reverse 5-tuple uses the
// NATed endpoints swapped, and the reverse translation restores the
// original endpoints.
func reverseSession(key FlowKey, fwd Translation) (FlowKey, Translation) {
	natSrcIP, natSrcPort := key.SrcIP, key.SrcPort
	if fwd.HasSrcIP {
		natSrcIP = fwd.SrcIP
	}
	if fwd.HasSrcPort {
		natSrcPort = fwd.SrcPort
	}
	natDstIP, natDstPort := key.DstIP, key.DstPort
	if fwd.HasDstIP {
		natDstIP = fwd.DstIP
	}
	if fwd.HasDstPort {
		natDstPort = fwd.DstPort
	}

	revKey := FlowKey{
		SrcVni: key.DstVni, DstVni: key.SrcVni,
		SrcIP: natDstIP, DstIP: natSrcIP,
		Proto:   key.Proto,
		SrcPort: natDstPort, DstPort: natSrcPort,
	}

	var rev Translation
	if fwd.HasDstIP {
		rev.SrcIP, rev.HasSrcIP = key.DstIP, true
	}
	if fwd.HasDstPort {
		rev.SrcPort, rev.HasSrcPort = key.DstPort, true
	}
	if fwd.HasSrcIP {
		rev.DstIP, rev.HasDstIP = key.SrcIP, true
	}
	if fwd.HasSrcPort {
		rev.DstPort, rev.HasDstPort = key.SrcPort, true
	}
	return revKey, rev
}

func protoOf(p ProtoKey) (wire.IpProto, error) {
	switch p {
	case ProtoKeyTCP:
		return wire.ProtoTCP, nil
	case ProtoKeyUDP:
		return wire.ProtoUDP, nil
	default:
		return 0, newErr(KindAllocationFailure, "statefulnat: no allocator support for protocol key %d", p)
	}
}

func checkUnicast(t Translation) error {
	if t.HasSrcIP && t.SrcIP.Is4() && t.SrcIP.IsMulticast() {
		return newErr(KindNotUnicast, "statefulnat: translated source %s is not unicast", t.SrcIP)
	}
	if t.HasDstIP && t.DstIP.Is4() && t.DstIP.IsMulticast() {
		return newErr(KindNotUnicast, "statefulnat: translated destination %s is not unicast", t.DstIP)
	}
	return nil
}

// applyTranslation rewrites h's addresses and ports per t.
func applyTranslation(h *wire.Headers, t Translation) error {
	switch n := h.Net.(type) {
	case wire.Ipv4:
		if t.HasSrcIP {
			if !t.SrcIP.Is4() {
				return newErr(KindInvalidIpVersion, "statefulnat: v6 translation for v4 header")
			}
			n.Src = t.SrcIP
		}
		if t.HasDstIP {
			if !t.DstIP.Is4() {
				return newErr(KindInvalidIpVersion, "statefulnat: v6 translation for v4 header")
			}
			n.Dst = t.DstIP
		}
		h.Net = n
	case wire.Ipv6:
		if t.HasSrcIP {
			if !t.SrcIP.Is6() {
				return newErr(KindInvalidIpVersion, "statefulnat: v4 translation for v6 header")
			}
			n.Src = t.SrcIP
		}
		if t.HasDstIP {
			if !t.DstIP.Is6() {
				return newErr(KindInvalidIpVersion, "statefulnat: v4 translation for v6 header")
			}
			n.Dst = t.DstIP
		}
		h.Net = n
	default:
		return newErr(KindBadIpHeader, "statefulnat: packet has no IP header")
	}

	switch tr := h.Transport.(type) {
	case wire.Tcp:
		if t.HasSrcPort {
			tr.SrcPort = t.SrcPort
		}
		if t.HasDstPort {
			tr.DstPort = t.DstPort
		}
		h.Transport = tr
	case wire.Udp:
		if t.HasSrcPort {
			tr.SrcPort = t.SrcPort
		}
		if t.HasDstPort {
			tr.DstPort = t.DstPort
		}
		h.Transport = tr
	case wire.Icmp4, wire.Icmp6:
		// Query identifiers are preserved; nothing port-shaped to rewrite.
	default:
		if t.HasSrcPort || t.HasDstPort {
			return newErr(KindBadTransportHeader, "statefulnat: port translation on portless transport")
		}
	}
	return nil
}
