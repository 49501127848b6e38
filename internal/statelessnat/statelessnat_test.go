// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statelessnat

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/gwcore/internal/config"
	"github.com/grimm-is/gwcore/internal/natcompile"
	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/wire"
)

func pfx(s string) prefix.Prefix { return prefix.MustParse(s) }

// buildTables compiles a two-VPC peering: VPC-A (ips=10.0.0.0/24,
// as_range=100.64.1.0/24) peered with VPC-B (ips=10.0.1.0/24, no
// translation).
func buildTables(t *testing.T) (*natcompile.NatTables, uint32, uint32) {
	t.Helper()
	overlay := config.NewOverlay()
	require.NoError(t, overlay.Vpcs.Add(&config.Vpc{Name: "vpc-a", Id: "id-a", Vni: 100}))
	require.NoError(t, overlay.Vpcs.Add(&config.Vpc{Name: "vpc-b", Id: "id-b", Vni: 200}))

	left := config.VpcManifest{
		Name: "vpc-a",
		Exposes: []config.VpcExpose{
			{Name: "e1", Ips: []prefix.Prefix{pfx("10.0.0.0/24")}, AsRange: []prefix.Prefix{pfx("100.64.1.0/24")}, Mode: config.NatStateless},
		},
	}
	right := config.VpcManifest{
		Name: "vpc-b",
		Exposes: []config.VpcExpose{
			{Name: "e1", Ips: []prefix.Prefix{pfx("10.0.1.0/24")}},
		},
	}
	require.NoError(t, overlay.Peerings.Add(&config.VpcPeering{Name: "a-b", Left: left, Right: right}))
	require.NoError(t, overlay.Validate())

	tables, err := natcompile.Compile(overlay)
	require.NoError(t, err)
	return tables, 100, 200
}

func ipv4Packet(src, dst netip.Addr, proto wire.IpProto, transport wire.Transport) *wire.Headers {
	return &wire.Headers{
		Net:       wire.Ipv4{Src: src, Dst: dst, Protocol: proto, TTL: 64},
		Transport: transport,
	}
}

func TestStatelessTranslateForwardDirection(t *testing.T) {
	tables, vniA, vniB := buildTables(t)

	h := ipv4Packet(
		netip.MustParseAddr("10.0.0.5"),
		netip.MustParseAddr("10.0.1.7"),
		wire.ProtoUDP,
		wire.Udp{SrcPort: 5000, DstPort: 6000},
	)
	p := packet.New(h)
	p.Meta.SrcVni, p.Meta.HasSrcVni = vniA, true
	p.Meta.DstVni, p.Meta.HasDstVni = vniB, true

	modified, err := Translate(tables, p)
	require.NoError(t, err)
	require.True(t, modified)

	v4, ok := h.Net.(wire.Ipv4)
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("100.64.1.5"), v4.Src)
	require.Equal(t, netip.MustParseAddr("10.0.1.7"), v4.Dst)
}

func TestStatelessTranslateReverseDirection(t *testing.T) {
	tables, vniA, vniB := buildTables(t)

	h := ipv4Packet(
		netip.MustParseAddr("10.0.1.7"),
		netip.MustParseAddr("100.64.1.5"),
		wire.ProtoUDP,
		wire.Udp{SrcPort: 6000, DstPort: 5000},
	)
	p := packet.New(h)
	p.Meta.SrcVni, p.Meta.HasSrcVni = vniB, true
	p.Meta.DstVni, p.Meta.HasDstVni = vniA, true

	modified, err := Translate(tables, p)
	require.NoError(t, err)
	require.True(t, modified)

	v4, ok := h.Net.(wire.Ipv4)
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("10.0.1.7"), v4.Src)
	require.Equal(t, netip.MustParseAddr("10.0.0.5"), v4.Dst)
}

func TestStatelessTranslateNoMatchingRangeLeavesPacketUntouched(t *testing.T) {
	tables, vniA, vniB := buildTables(t)

	h := ipv4Packet(
		netip.MustParseAddr("192.168.9.9"),
		netip.MustParseAddr("10.0.1.7"),
		wire.ProtoUDP,
		wire.Udp{SrcPort: 1, DstPort: 2},
	)
	p := packet.New(h)
	p.Meta.SrcVni, p.Meta.HasSrcVni = vniA, true
	p.Meta.DstVni, p.Meta.HasDstVni = vniB, true

	modified, err := Translate(tables, p)
	require.NoError(t, err)
	require.False(t, modified)

	v4 := h.Net.(wire.Ipv4)
	require.Equal(t, netip.MustParseAddr("192.168.9.9"), v4.Src)
}

// An ICMP Error generated on the VPC-B side and returned to VPC-A
// carries an embedded copy of the offending packet as it appeared on
// B's network, which must be re-translated the same way the outer
// header was.
func TestStatelessTranslateIcmpErrorRewritesEmbeddedHeader(t *testing.T) {
	tables, vniA, vniB := buildTables(t)

	// The embedded datagram is the original offending packet as seen on
	// VPC-B's network: source already bears A's translated public
	// address, destination is B's own, untranslated address.
	innerSrc := netip.MustParseAddr("100.64.1.5")
	innerDst := netip.MustParseAddr("10.0.1.7")
	inner := wire.Ipv4{Src: innerSrc, Dst: innerDst, Protocol: wire.ProtoUDP, TTL: 64}
	innerBuf := make([]byte, inner.HeaderLen()+8)
	_, err := inner.Deparse(innerBuf)
	require.NoError(t, err)

	icmp := wire.Icmp4{Type: wire.Icmp4DestinationUnreach, Code: 1, Payload: innerBuf}
	icmp.FixIcmp4Checksum()

	h := ipv4Packet(
		netip.MustParseAddr("10.0.1.7"),
		netip.MustParseAddr("100.64.1.5"),
		wire.ProtoICMPv4,
		icmp,
	)
	p := packet.New(h)
	p.Meta.SrcVni, p.Meta.HasSrcVni = vniB, true
	p.Meta.DstVni, p.Meta.HasDstVni = vniA, true

	modified, err := Translate(tables, p)
	require.NoError(t, err)
	require.True(t, modified)

	outer := h.Net.(wire.Ipv4)
	require.Equal(t, netip.MustParseAddr("10.0.0.5"), outer.Dst)

	gotIcmp := h.Transport.(wire.Icmp4)
	innerGot, _, err := wire.ParseIpv4(gotIcmp.Payload)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("10.0.0.5"), innerGot.Src)
	require.Equal(t, netip.MustParseAddr("10.0.1.7"), innerGot.Dst)
}

func TestStatelessTranslateMissingTableReturnsError(t *testing.T) {
	tables, _, _ := buildTables(t)

	h := ipv4Packet(
		netip.MustParseAddr("10.0.0.5"),
		netip.MustParseAddr("10.0.1.7"),
		wire.ProtoUDP,
		wire.Udp{SrcPort: 1, DstPort: 2},
	)
	p := packet.New(h)
	p.Meta.SrcVni, p.Meta.HasSrcVni = 9999, true
	p.Meta.DstVni, p.Meta.HasDstVni = 200, true

	_, err := Translate(tables, p)
	require.Error(t, err)
	require.Equal(t, packet.DoneUnroutable, ToDoneReason(err))
}
