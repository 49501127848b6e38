// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package apalloc

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/wire"
)

func TestAllocateAssignsDistinctPorts(t *testing.T) {
	a := New()
	pool := prefix.MustParse("100.64.5.0/30")
	a.RegisterSrcPool(wire.ProtoTCP, 100, 200, netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("10.0.0.255"), pool)

	seen := map[uint16]bool{}
	for i := 0; i < 4; i++ {
		res, err := a.Allocate(Tuple{
			Protocol: wire.ProtoTCP, SrcVni: 100, DstVni: 200,
			SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5"),
		})
		require.NoError(t, err)
		require.NotNil(t, res.Src)
		require.Nil(t, res.Dst)
		require.False(t, seen[res.Src.Port()])
		seen[res.Src.Port()] = true
	}
}

func TestAllocateNoPoolRegisteredLeavesSideNil(t *testing.T) {
	a := New()
	res, err := a.Allocate(Tuple{
		Protocol: wire.ProtoUDP, SrcVni: 1, DstVni: 2,
		SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5"),
	})
	require.NoError(t, err)
	require.Nil(t, res.Src)
	require.Nil(t, res.Dst)
}

func TestAllocateRejectsUnsupportedProtocol(t *testing.T) {
	a := New()
	_, err := a.Allocate(Tuple{Protocol: wire.ProtoICMPv4, SrcVni: 1, DstVni: 2,
		SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5")})
	require.Error(t, err)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, KindUnsupportedProtocol, aerr.Kind)
}

func TestReleaseReturnsPortToPool(t *testing.T) {
	a := New()
	pool := prefix.MustParse("100.64.5.0/32")
	a.RegisterSrcPool(wire.ProtoTCP, 100, 200, netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("10.0.0.255"), pool)

	tuple := Tuple{Protocol: wire.ProtoTCP, SrcVni: 100, DstVni: 200,
		SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5")}

	res, err := a.Allocate(tuple)
	require.NoError(t, err)
	port := res.Src.Port()
	res.Src.Release()

	res2, err := a.Allocate(tuple)
	require.NoError(t, err)
	require.Equal(t, port, res2.Src.Port())
}

func TestPoolExhaustion(t *testing.T) {
	a := New()
	pool := prefix.MustParse("100.64.5.5/32")
	a.RegisterSrcPool(wire.ProtoTCP, 1, 2, netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("10.0.0.255"), pool)

	tuple := Tuple{Protocol: wire.ProtoTCP, SrcVni: 1, DstVni: 2,
		SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5")}

	var last error
	for i := 0; i < 1<<16; i++ {
		_, last = a.Allocate(tuple)
		if last != nil {
			break
		}
	}
	require.Error(t, last)
	var aerr *Error
	require.ErrorAs(t, last, &aerr)
	require.Equal(t, KindPoolExhausted, aerr.Kind)
}

func TestPoolTableFloorLookupRespectsVniAndProtocol(t *testing.T) {
	a := New()
	poolA := prefix.MustParse("100.64.1.0/30")
	poolB := prefix.MustParse("100.64.2.0/30")
	a.RegisterSrcPool(wire.ProtoTCP, 100, 200, netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("10.0.0.255"), poolA)
	a.RegisterSrcPool(wire.ProtoTCP, 300, 400, netip.MustParseAddr("10.0.0.0"), netip.MustParseAddr("10.0.0.255"), poolB)

	res, err := a.Allocate(Tuple{Protocol: wire.ProtoTCP, SrcVni: 300, DstVni: 400,
		SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5")})
	require.NoError(t, err)
	require.True(t, poolB.Contains(res.Src.IP))

	_, err = a.Allocate(Tuple{Protocol: wire.ProtoTCP, SrcVni: 999, DstVni: 999,
		SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("10.0.1.5")})
	require.NoError(t, err) // no pool matches -> nil result, not an error
}
