// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forward

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/gwcore/internal/fib"
	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/wire"
)

func testVtep() Vtep {
	return Vtep{
		Ip:  netip.MustParseAddr("10.0.0.1"),
		Mac: wire.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
	}
}

// innerUdpFrame builds an inner Ethernet+IPv4+UDP frame whose total
// on-wire size is exactly total bytes.
func innerUdpFrame(t *testing.T, total int) (*wire.Headers, []byte) {
	t.Helper()
	h := &wire.Headers{
		Eth: wire.Eth{
			Dst:   wire.MAC{0xde, 0xad, 0xbe, 0xef, 0x00, 0x02},
			Src:   wire.MAC{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01},
			Proto: wire.EtherTypeIPv4,
		},
		Net: wire.Ipv4{
			Src:      netip.MustParseAddr("10.1.0.5"),
			Dst:      netip.MustParseAddr("10.2.0.7"),
			Protocol: wire.ProtoUDP,
			TTL:      64,
		},
		Transport: wire.Udp{SrcPort: 1234, DstPort: 5678},
	}
	payloadLen := total - h.Size()
	require.GreaterOrEqual(t, payloadLen, 0)
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	return h, payload
}

func singleEntryFibs(vrf uint32, instructions ...fib.PktInstruction) (*Fibs, *fib.FibGroupStore) {
	store := fib.NewFibGroupStore()
	key := fib.WithIfindex(7)
	store.AddOrReplace(key, []fib.FibEntry{{Instructions: instructions}})
	g, _ := store.GetRef(key)

	route := fib.NewFibRoute()
	route.Append(g)

	rt := fib.NewRouteTable()
	rt.Insert(netip.MustParsePrefix("0.0.0.0/0"), route)

	fibs := NewFibs()
	fibs.ByVrf[vrf] = rt
	return fibs, store
}

// TestEncapScenario: a 100-byte inner IPv4
// UDP frame encapsulated toward VTEP 10.0.0.2 with VNI 1000.
func TestEncapScenario(t *testing.T) {
	inner, payload := innerUdpFrame(t, 100)

	dstMac := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	enc := fib.Encapsulation{
		DstVtep: netip.MustParseAddr("10.0.0.2"),
		Vni:     1000,
		DstMac:  dstMac,
	}
	fibs, _ := singleEntryFibs(1,
		fib.EncapInstr(enc),
		fib.Egress(3, true, netip.MustParseAddr("10.0.0.2"), true),
	)

	p := packet.NewWithPayload(inner, payload)
	p.Meta.Vrf, p.Meta.HasVrf = 1, true

	redo := Process(fibs, testVtep(), p)
	require.False(t, redo)
	require.False(t, p.IsDone())
	require.NotNil(t, p.Outer)

	outerUdp, ok := p.Outer.Transport.(wire.Udp)
	require.True(t, ok)
	require.Equal(t, uint16(wire.DstPortVxlan), outerUdp.DstPort)
	require.Equal(t, uint16(100+8+8), outerUdp.Length)
	require.Zero(t, outerUdp.Checksum)

	outerIp, ok := p.Outer.Net.(wire.Ipv4)
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), outerIp.Src)
	require.Equal(t, netip.MustParseAddr("10.0.0.2"), outerIp.Dst)
	require.Equal(t, uint8(64), outerIp.TTL)
	require.Equal(t, wire.ProtoUDP, outerIp.Protocol)

	require.NotNil(t, p.Outer.Vxlan)
	require.Equal(t, uint32(1000), p.Outer.Vxlan.Vni)

	// Inner MAC rewrite toward the overlay next hop.
	require.Equal(t, testVtep().Mac, p.Headers.Eth.Src)
	require.Equal(t, wire.MAC(dstMac), p.Headers.Eth.Dst)

	// Inner TTL was decremented before encap.
	require.Equal(t, uint8(63), p.Headers.Net.(wire.Ipv4).TTL)

	// The serialized outer IPv4 header carries a valid checksum.
	buf := make([]byte, p.Outer.Size())
	n, err := p.Outer.Deparse(buf)
	require.NoError(t, err)
	require.Equal(t, p.Outer.Size(), n)
	require.Equal(t, uint16(0), wire.Checksum16(buf[wire.EthHeaderLen:wire.EthHeaderLen+wire.Ipv4HeaderLen]))
}

// TestEncapDecapRoundTrip asserts decap(encap(inner)).inner == inner.
func TestEncapDecapRoundTrip(t *testing.T) {
	inner, payload := innerUdpFrame(t, 120)
	enc := fib.Encapsulation{
		DstVtep: netip.MustParseAddr("10.0.0.2"),
		Vni:     42,
		DstMac:  [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
	}
	fibs, _ := singleEntryFibs(1, fib.EncapInstr(enc))

	p := packet.NewWithPayload(inner, payload)
	p.Meta.Vrf, p.Meta.HasVrf = 1, true
	Process(fibs, testVtep(), p)
	require.NotNil(t, p.Outer)

	// Serialize inner as the decapper would see it.
	innerBuf := make([]byte, p.Headers.Size()+len(p.Payload))
	n, err := p.Headers.Deparse(innerBuf)
	require.NoError(t, err)
	copy(innerBuf[n:], p.Payload)

	gotInner, rest, err := Decap(p.Outer, innerBuf)
	require.NoError(t, err)
	require.Equal(t, p.Payload, rest)
	require.Equal(t, p.Headers.Eth, gotInner.Eth)
	require.Equal(t, p.Headers.Net.(wire.Ipv4).Src, gotInner.Net.(wire.Ipv4).Src)
	require.Equal(t, p.Headers.Net.(wire.Ipv4).Dst, gotInner.Net.(wire.Ipv4).Dst)
	require.Equal(t, p.Headers.Transport.(wire.Udp).DstPort, gotInner.Transport.(wire.Udp).DstPort)
}

func TestProcessLocalVxlanDecapsRecirculates(t *testing.T) {
	fibs, _ := singleEntryFibs(0, fib.Local(1))
	fibs.VrfByVni[5000] = 33
	fibs.ByVrf[33] = fib.NewRouteTable()

	inner, payload := innerUdpFrame(t, 80)
	innerBuf := make([]byte, inner.Size()+len(payload))
	n, err := inner.Deparse(innerBuf)
	require.NoError(t, err)
	copy(innerBuf[n:], payload)

	outer := &wire.Headers{
		Eth: wire.Eth{Proto: wire.EtherTypeIPv4},
		Net: wire.Ipv4{
			Src:      netip.MustParseAddr("10.0.0.2"),
			Dst:      netip.MustParseAddr("10.0.0.1"),
			Protocol: wire.ProtoUDP,
			TTL:      64,
		},
		Transport: wire.Udp{SrcPort: 50000, DstPort: wire.DstPortVxlan, Length: uint16(len(innerBuf) + 16)},
		Vxlan:     &wire.Vxlan{Vni: 5000},
	}

	p := packet.NewWithPayload(outer, innerBuf)
	p.Meta.Vrf, p.Meta.HasVrf = 0, true

	redo := Process(fibs, testVtep(), p)
	require.True(t, redo)
	require.False(t, p.IsDone())
	require.True(t, p.Meta.HasSrcVni)
	require.Equal(t, uint32(5000), p.Meta.SrcVni)
	require.Equal(t, uint32(33), p.Meta.Vrf)
	require.Equal(t, netip.MustParseAddr("10.1.0.5"), p.Headers.Net.(wire.Ipv4).Src)
}

func TestProcessLocalNonVxlanDelivers(t *testing.T) {
	fibs, _ := singleEntryFibs(0, fib.Local(1))
	h := &wire.Headers{
		Eth:       wire.Eth{Proto: wire.EtherTypeIPv4},
		Net:       wire.Ipv4{Src: netip.MustParseAddr("192.0.2.1"), Dst: netip.MustParseAddr("10.0.0.1"), Protocol: wire.ProtoTCP, TTL: 12},
		Transport: wire.Tcp{SrcPort: 1, DstPort: 2},
	}
	p := packet.New(h)
	p.Meta.Vrf, p.Meta.HasVrf = 0, true

	require.False(t, Process(fibs, testVtep(), p))
	require.True(t, p.IsDone())
	require.Equal(t, packet.DoneDelivered, p.Reason())
}

func TestProcessHopLimitExceeded(t *testing.T) {
	fibs, _ := singleEntryFibs(0, fib.Egress(3, true, netip.Addr{}, false))
	h := &wire.Headers{
		Net:       wire.Ipv4{Src: netip.MustParseAddr("192.0.2.1"), Dst: netip.MustParseAddr("198.51.100.1"), Protocol: wire.ProtoUDP, TTL: 1},
		Transport: wire.Udp{SrcPort: 1, DstPort: 2},
	}
	p := packet.New(h)
	p.Meta.Vrf, p.Meta.HasVrf = 0, true

	Process(fibs, testVtep(), p)
	require.True(t, p.IsDone())
	require.Equal(t, packet.DoneHopLimitExceeded, p.Reason())
}

func TestProcessRouteDrop(t *testing.T) {
	fibs, _ := singleEntryFibs(0, fib.Drop())
	h := &wire.Headers{
		Net:       wire.Ipv4{Src: netip.MustParseAddr("192.0.2.1"), Dst: netip.MustParseAddr("198.51.100.1"), Protocol: wire.ProtoUDP, TTL: 64},
		Transport: wire.Udp{SrcPort: 1, DstPort: 2},
	}
	p := packet.New(h)
	p.Meta.Vrf, p.Meta.HasVrf = 0, true

	Process(fibs, testVtep(), p)
	require.True(t, p.IsDone())
	require.Equal(t, packet.DoneRouteDrop, p.Reason())
}

func TestProcessMissingFibIsInternalFailure(t *testing.T) {
	fibs := NewFibs()
	h := &wire.Headers{
		Net:       wire.Ipv4{Src: netip.MustParseAddr("192.0.2.1"), Dst: netip.MustParseAddr("198.51.100.1"), Protocol: wire.ProtoUDP, TTL: 64},
		Transport: wire.Udp{SrcPort: 1, DstPort: 2},
	}
	p := packet.New(h)
	p.Meta.Vrf, p.Meta.HasVrf = 9, true

	Process(fibs, testVtep(), p)
	require.True(t, p.IsDone())
	require.Equal(t, packet.DoneInternalFailure, p.Reason())
}

// TestFibGroupFanOut: many
// routes share one next-hop key; replacing that key's FibGroup must be
// observable through every route on the very next lookup, with no
// per-route write.
func TestFibGroupFanOut(t *testing.T) {
	store := fib.NewFibGroupStore()
	key := fib.WithAddress(netip.MustParseAddr("10.9.9.9"))
	store.AddOrReplace(key, []fib.FibEntry{
		{Instructions: []fib.PktInstruction{fib.Egress(1, true, netip.Addr{}, false)}},
	})
	g, ok := store.GetRef(key)
	require.True(t, ok)

	rt := fib.NewRouteTable()
	const nroutes = 10000
	routes := make([]*fib.FibRoute, 0, nroutes)
	for i := 0; i < nroutes; i++ {
		r := fib.NewFibRoute()
		r.Append(g)
		routes = append(routes, r)
		p := netip.PrefixFrom(netip.AddrFrom4([4]byte{byte(10 + i>>16), byte(i >> 8), byte(i), 0}), 24)
		rt.Insert(p, r)
	}

	newEntries := []fib.FibEntry{
		{Instructions: []fib.PktInstruction{fib.Egress(2, true, netip.Addr{}, false)}},
		{Instructions: []fib.PktInstruction{fib.Egress(3, true, netip.Addr{}, false)}},
		{Instructions: []fib.PktInstruction{fib.Drop()}},
	}
	store.AddOrReplace(key, newEntries)

	for _, i := range []int{0, 1, nroutes / 2, nroutes - 1} {
		r := routes[i]
		require.Equal(t, 3, r.Len())
		for j := 0; j < 3; j++ {
			e, ok := r.GetEntry(j)
			require.True(t, ok)
			require.Equal(t, newEntries[j], e)
		}
	}
}
