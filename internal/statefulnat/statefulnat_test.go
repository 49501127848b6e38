// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statefulnat

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/statefulnat/apalloc"
	"github.com/grimm-is/gwcore/internal/wire"
)

const (
	vniA uint32 = 100
	vniB uint32 = 200
)

func newTestStage(t *testing.T) *Stage {
	t.Helper()
	alloc := apalloc.New()
	// Flows from VPC-A sources in 10.0.0.0/24 toward VPC-B draw their
	// translated source from 100.64.1.0/30.
	alloc.RegisterSrcPool(wire.ProtoUDP, vniA, vniB,
		netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("10.0.0.255"),
		prefix.MustParse("100.64.1.0/30"))
	return NewStage(alloc)
}

func udpPacket(src, dst netip.Addr, sport, dport uint16, srcVni, dstVni uint32) *packet.Packet {
	h := &wire.Headers{
		Net:       wire.Ipv4{Src: src, Dst: dst, Protocol: wire.ProtoUDP, TTL: 64},
		Transport: wire.Udp{SrcPort: sport, DstPort: dport},
	}
	p := packet.New(h)
	p.Meta.Nat = true
	p.Meta.SrcVni, p.Meta.HasSrcVni = srcVni, true
	p.Meta.DstVni, p.Meta.HasDstVni = dstVni, true
	return p
}

func addrsOf(t *testing.T, p *packet.Packet) (netip.Addr, netip.Addr, uint16, uint16) {
	t.Helper()
	v4, ok := p.Headers.Net.(wire.Ipv4)
	require.True(t, ok)
	udp, ok := p.Headers.Transport.(wire.Udp)
	require.True(t, ok)
	return v4.Src, v4.Dst, udp.SrcPort, udp.DstPort
}

func TestStatefulForwardAndReverseSymmetry(t *testing.T) {
	s := newTestStage(t)
	now := time.Unix(1000, 0)

	origSrc := netip.MustParseAddr("10.0.0.5")
	origDst := netip.MustParseAddr("10.0.1.5")

	fwd := udpPacket(origSrc, origDst, 1000, 80, vniA, vniB)
	require.NoError(t, s.Translate(fwd, now))
	require.True(t, fwd.Meta.ChecksumRefresh)

	natSrc, dst, natPort, dport := addrsOf(t, fwd)
	require.True(t, prefix.MustParse("100.64.1.0/30").Contains(natSrc))
	require.Equal(t, origDst, dst)
	require.Equal(t, uint16(80), dport)
	require.NotZero(t, natPort)

	// Both directions are installed at the same instant.
	require.Equal(t, 2, s.Sessions().Len())

	// The reply traverses the reverse session and is restored exactly.
	rev := udpPacket(origDst, natSrc, 80, natPort, vniB, vniA)
	require.NoError(t, s.Translate(rev, now))

	revSrc, revDst, revSport, revDport := addrsOf(t, rev)
	require.Equal(t, origDst, revSrc)
	require.Equal(t, origSrc, revDst)
	require.Equal(t, uint16(80), revSport)
	require.Equal(t, uint16(1000), revDport)
}

func TestStatefulSessionReusedForSubsequentPackets(t *testing.T) {
	s := newTestStage(t)
	now := time.Unix(1000, 0)

	p1 := udpPacket(netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.1.5"), 1000, 80, vniA, vniB)
	require.NoError(t, s.Translate(p1, now))
	natSrc1, _, natPort1, _ := addrsOf(t, p1)
	require.Equal(t, 2, s.Sessions().Len())

	p2 := udpPacket(netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.1.5"), 1000, 80, vniA, vniB)
	require.NoError(t, s.Translate(p2, now.Add(time.Second)))
	natSrc2, _, natPort2, _ := addrsOf(t, p2)

	require.Equal(t, natSrc1, natSrc2)
	require.Equal(t, natPort1, natPort2)
	require.Equal(t, 2, s.Sessions().Len())
}

func TestStatefulExpiryIsMonotonic(t *testing.T) {
	s := newTestStage(t)
	t0 := time.Unix(1000, 0)

	p := udpPacket(netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.1.5"), 1000, 80, vniA, vniB)
	require.NoError(t, s.Translate(p, t0))

	fwdKey := FlowKey{
		SrcVni: vniA, DstVni: vniB,
		SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5"),
		Proto: ProtoKeyUDP, SrcPort: 1000, DstPort: 80,
	}

	sess, ok := s.Sessions().Lookup(fwdKey, t0.Add(10*time.Second))
	require.True(t, ok)
	e1 := sess.Expires()

	// A packet carrying an older timestamp never shortens the expiry.
	sess2, ok := s.Sessions().Lookup(fwdKey, t0.Add(5*time.Second))
	require.True(t, ok)
	require.Equal(t, sess, sess2)
	require.False(t, sess2.Expires().Before(e1))

	// A later packet strictly extends it.
	sess3, ok := s.Sessions().Lookup(fwdKey, t0.Add(20*time.Second))
	require.True(t, ok)
	require.True(t, sess3.Expires().After(e1))
}

func TestStatefulExpiredSessionIsEvictedOnLookup(t *testing.T) {
	s := newTestStage(t)
	t0 := time.Unix(1000, 0)

	p := udpPacket(netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.1.5"), 1000, 80, vniA, vniB)
	require.NoError(t, s.Translate(p, t0))
	require.Equal(t, 2, s.Sessions().Len())

	late := t0.Add(DefaultIdleTimeout + time.Minute)
	require.Equal(t, 2, s.Sessions().Sweep(late))
	require.Equal(t, 0, s.Sessions().Len())

	// A fresh flow can allocate again after eviction returned the pool
	// resources.
	p2 := udpPacket(netip.MustParseAddr("10.0.0.6"), netip.MustParseAddr("10.0.1.5"), 2000, 80, vniA, vniB)
	require.NoError(t, s.Translate(p2, late))
	require.Equal(t, 2, s.Sessions().Len())
}

func TestStatefulNoPoolLeavesPacketUnchanged(t *testing.T) {
	s := newTestStage(t)
	now := time.Unix(1000, 0)

	// 172.16.0.9 falls in no registered pool range.
	p := udpPacket(netip.MustParseAddr("172.16.0.9"), netip.MustParseAddr("10.0.1.5"), 1000, 80, vniA, vniB)
	require.NoError(t, s.Translate(p, now))

	src, _, sport, _ := addrsOf(t, p)
	require.Equal(t, netip.MustParseAddr("172.16.0.9"), src)
	require.Equal(t, uint16(1000), sport)
	require.Equal(t, 0, s.Sessions().Len())
	require.False(t, p.Meta.ChecksumRefresh)
}

func TestStatefulIcmpErrorRevertsEmbeddedPacket(t *testing.T) {
	s := newTestStage(t)
	now := time.Unix(1000, 0)

	origSrc := netip.MustParseAddr("10.0.0.5")
	origDst := netip.MustParseAddr("10.0.1.5")
	fwd := udpPacket(origSrc, origDst, 1000, 80, vniA, vniB)
	require.NoError(t, s.Translate(fwd, now))
	natSrc, _, natPort, _ := addrsOf(t, fwd)

	// An upstream host on the B side raises Time Exceeded, embedding the
	// NATed datagram it saw.
	inner := wire.Ipv4{Src: natSrc, Dst: origDst, Protocol: wire.ProtoUDP, TTL: 1}
	innerBuf := make([]byte, inner.HeaderLen()+8)
	_, err := inner.Deparse(innerBuf)
	require.NoError(t, err)
	innerBuf[inner.HeaderLen()+0] = byte(natPort >> 8)
	innerBuf[inner.HeaderLen()+1] = byte(natPort)
	innerBuf[inner.HeaderLen()+2] = 0
	innerBuf[inner.HeaderLen()+3] = 80

	icmp := wire.Icmp4{Type: wire.Icmp4TimeExceeded, Payload: innerBuf}
	icmp.FixIcmp4Checksum()

	h := &wire.Headers{
		Net:       wire.Ipv4{Src: origDst, Dst: natSrc, Protocol: wire.ProtoICMPv4, TTL: 64},
		Transport: icmp,
	}
	ep := packet.New(h)
	ep.Meta.Nat = true
	ep.Meta.SrcVni, ep.Meta.HasSrcVni = vniB, true
	ep.Meta.DstVni, ep.Meta.HasDstVni = vniA, true

	require.NoError(t, s.Translate(ep, now))

	outer := h.Net.(wire.Ipv4)
	require.Equal(t, origSrc, outer.Dst)
	require.Equal(t, origDst, outer.Src)

	gotIcmp := h.Transport.(wire.Icmp4)
	embGot, n, err := wire.ParseIpv4(gotIcmp.Payload)
	require.NoError(t, err)
	require.Equal(t, origSrc, embGot.Src)
	require.Equal(t, origDst, embGot.Dst)
	sport := uint16(gotIcmp.Payload[n])<<8 | uint16(gotIcmp.Payload[n+1])
	require.Equal(t, uint16(1000), sport)

	// Outer ICMP checksum was recomputed over the reverted payload.
	verify := gotIcmp
	verify.FixIcmp4Checksum()
	require.Equal(t, verify.Checksum, gotIcmp.Checksum)
}

func TestStatefulIcmpErrorWithoutSessionIsDropped(t *testing.T) {
	s := newTestStage(t)
	now := time.Unix(1000, 0)

	inner := wire.Ipv4{Src: netip.MustParseAddr("100.64.1.1"), Dst: netip.MustParseAddr("10.0.1.5"), Protocol: wire.ProtoUDP, TTL: 1}
	innerBuf := make([]byte, inner.HeaderLen()+8)
	_, err := inner.Deparse(innerBuf)
	require.NoError(t, err)

	icmp := wire.Icmp4{Type: wire.Icmp4TimeExceeded, Payload: innerBuf}
	icmp.FixIcmp4Checksum()

	h := &wire.Headers{
		Net:       wire.Ipv4{Src: netip.MustParseAddr("10.0.1.5"), Dst: netip.MustParseAddr("100.64.1.1"), Protocol: wire.ProtoICMPv4, TTL: 64},
		Transport: icmp,
	}
	p := packet.New(h)
	p.Meta.Nat = true
	p.Meta.SrcVni, p.Meta.HasSrcVni = vniB, true
	p.Meta.DstVni, p.Meta.HasDstVni = vniA, true

	err = s.Translate(p, now)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, KindNoSession, e.Kind)
	require.Equal(t, packet.DoneNatFailure, ToDoneReason(err))
}

func TestStatefulSkipsPacketWithoutNatFlag(t *testing.T) {
	s := newTestStage(t)
	p := udpPacket(netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.1.5"), 1000, 80, vniA, vniB)
	p.Meta.Nat = false
	require.NoError(t, s.Translate(p, time.Unix(1000, 0)))
	require.Equal(t, 0, s.Sessions().Len())
}
