// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cpi

import (
	"io"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/gwcore/internal/forward"
	"github.com/grimm-is/gwcore/internal/logging"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/rib"
)

func testLogger() *logging.Logger {
	return logging.New(io.Discard, logging.LevelError)
}

func newTestHandler(t *testing.T) (*Handler, *rib.VrfTable, *rib.FibSync, *[]*forward.Fibs) {
	t.Helper()
	vrfs := rib.NewVrfTable()
	def := rib.NewVrf("default", 0)
	require.NoError(t, vrfs.AddVrf(def))
	ten := rib.NewVrf("vrf-tenant", 10)
	ten.SetVni(3000)
	require.NoError(t, vrfs.AddVrf(ten))

	sync := rib.NewFibSync()
	published := &[]*forward.Fibs{}
	h := NewHandler(vrfs, sync, rib.NewRmacStore(), func(f *forward.Fibs) {
		*published = append(*published, f)
	}, testLogger())
	return h, vrfs, sync, published
}

func connect(t *testing.T, h *Handler) {
	t.Helper()
	resp := h.Handle(&Request{Op: OpConnect, Seqn: 1, Connect: ConnectMsg{Major: VersionMajor, Minor: VersionMinor, Patch: VersionPatch}})
	require.Equal(t, ResOk, resp.Code)
}

func TestRequestCodecRoundTrip(t *testing.T) {
	reqs := []*Request{
		{Op: OpConnect, Seqn: 1, Connect: ConnectMsg{Major: 1, Minor: 2, Patch: 3}},
		{Op: OpAddRoute, Seqn: 2, Route: RouteMsg{
			VrfId:    10,
			Prefix:   prefix.MustParse("10.0.0.0/16"),
			Type:     4,
			Distance: 20,
			Metric:   100,
			Nat:      true,
			Nhops: []NhopMsg{
				{HasAddress: true, Address: netip.MustParseAddr("192.0.2.1"), HasIfindex: true, Ifindex: 3},
				{HasEncap: true, EncapVtep: netip.MustParseAddr("10.200.0.2"), EncapVni: 3000, EncapMac: [6]byte{1, 2, 3, 4, 5, 6}, HasAddress: true, Address: netip.MustParseAddr("10.200.0.2")},
				{Drop: true},
			},
		}},
		{Op: OpAddIfAddr, Seqn: 3, IfAddr: IfAddrMsg{VrfId: 0, Prefix: prefix.MustParse("192.0.2.10/32"), Ifindex: 4}},
		{Op: OpAddRmac, Seqn: 4, Rmac: RmacMsg{Vtep: netip.MustParseAddr("10.200.0.2"), Mac: [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, Vni: 3000}},
		{Op: OpControl, Seqn: 5, Control: ControlMsg{Refresh: true}},
		{Op: OpDelRoute, Seqn: 6, Route: RouteMsg{VrfId: 10, Prefix: prefix.MustParse("2001:db8::/32")}},
	}
	for _, req := range reqs {
		got, err := Decode(Encode(req))
		require.NoError(t, err)
		require.Equal(t, req, got)
	}
}

func TestResponseCodecRoundTrip(t *testing.T) {
	resp := &Response{Op: OpAddRoute, Seqn: 99, Code: ResFailure, Objects: 2}
	got, err := DecodeResponse(EncodeResponse(resp))
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	full := Encode(&Request{Op: OpAddIfAddr, Seqn: 3, IfAddr: IfAddrMsg{Prefix: prefix.MustParse("10.0.0.0/8"), Ifindex: 1}})
	_, err := Decode(full[:len(full)-3])
	require.Error(t, err)
}

func TestConnectVersionMismatchFails(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	resp := h.Handle(&Request{Op: OpConnect, Seqn: 1, Connect: ConnectMsg{Major: VersionMajor + 1}})
	require.Equal(t, ResFailure, resp.Code)

	// The failed handshake leaves the session disconnected.
	resp = h.Handle(&Request{Op: OpControl, Seqn: 2, Control: ControlMsg{Refresh: true}})
	require.Equal(t, ResIgnored, resp.Code)
}

func TestRequestsBeforeConnectAreIgnored(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	resp := h.Handle(&Request{Op: OpAddRoute, Seqn: 1, Route: RouteMsg{VrfId: 0, Prefix: prefix.MustParse("10.0.0.0/8")}})
	require.Equal(t, ResIgnored, resp.Code)

	connect(t, h)
	resp = h.Handle(&Request{Op: OpAddRoute, Seqn: 2, Route: RouteMsg{
		VrfId: 0, Prefix: prefix.MustParse("10.0.0.0/8"),
		Nhops: []NhopMsg{{HasAddress: true, Address: netip.MustParseAddr("192.0.2.1"), HasIfindex: true, Ifindex: 3}},
	}})
	require.Equal(t, ResOk, resp.Code)
}

func TestAddRouteInstallsAndPublishes(t *testing.T) {
	h, vrfs, sync, published := newTestHandler(t)
	connect(t, h)

	resp := h.Handle(&Request{Op: OpAddRoute, Seqn: 2, Route: RouteMsg{
		VrfId: 0, Prefix: prefix.MustParse("10.0.0.0/8"), Type: 4,
		Nhops: []NhopMsg{{HasAddress: true, Address: netip.MustParseAddr("192.0.2.1"), HasIfindex: true, Ifindex: 3}},
	}})
	require.Equal(t, ResOk, resp.Code)
	require.Equal(t, uint16(1), resp.Objects)

	def, _ := vrfs.Get(0)
	r, ok := def.Lookup(netip.MustParseAddr("10.1.1.1"))
	require.True(t, ok)
	require.Equal(t, rib.RouteTypeBGP, r.Type)

	_, _, ok = sync.RouteTable(0).Lookup(netip.MustParseAddr("10.1.1.1"))
	require.True(t, ok)

	require.NotEmpty(t, *published)
	snap := (*published)[len(*published)-1]
	require.Contains(t, snap.ByVrf, uint32(0))
	require.Equal(t, uint32(10), snap.VrfByVni[3000])
}

func TestRouteForUnknownVrfFails(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	connect(t, h)
	resp := h.Handle(&Request{Op: OpAddRoute, Seqn: 2, Route: RouteMsg{VrfId: 77, Prefix: prefix.MustParse("10.0.0.0/8")}})
	require.Equal(t, ResFailure, resp.Code)
}

func TestRmacResolutionFillsEncapMac(t *testing.T) {
	h, _, sync, _ := newTestHandler(t)
	connect(t, h)

	mac := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	resp := h.Handle(&Request{Op: OpAddRmac, Seqn: 2, Rmac: RmacMsg{Vtep: netip.MustParseAddr("10.200.0.2"), Mac: mac, Vni: 3000}})
	require.Equal(t, ResOk, resp.Code)

	// Underlay reachability for the remote VTEP.
	resp = h.Handle(&Request{Op: OpAddRoute, Seqn: 3, Route: RouteMsg{
		VrfId: 0, Prefix: prefix.MustParse("10.200.0.0/24"),
		Nhops: []NhopMsg{{HasAddress: true, Address: netip.MustParseAddr("10.200.0.2"), HasIfindex: true, Ifindex: 2}},
	}})
	require.Equal(t, ResOk, resp.Code)

	resp = h.Handle(&Request{Op: OpAddRoute, Seqn: 4, Route: RouteMsg{
		VrfId: 0, Prefix: prefix.MustParse("10.30.0.0/16"), Type: 5, Nat: true,
		Nhops: []NhopMsg{{
			HasAddress: true, Address: netip.MustParseAddr("10.200.0.2"),
			HasEncap: true, EncapVtep: netip.MustParseAddr("10.200.0.2"), EncapVni: 3000,
		}},
	}})
	require.Equal(t, ResOk, resp.Code)

	_, route, ok := sync.RouteTable(0).Lookup(netip.MustParseAddr("10.30.1.1"))
	require.True(t, ok)
	e, ok := route.GetEntry(0)
	require.True(t, ok)
	var sawEncap bool
	for _, ins := range e.Instructions {
		if ins.Encap.DstMac == mac {
			sawEncap = true
		}
	}
	require.True(t, sawEncap)
}

func TestDelIfAddrRemovesLocalRoute(t *testing.T) {
	h, _, sync, _ := newTestHandler(t)
	connect(t, h)

	addr := prefix.MustParse("192.0.2.10/32")
	resp := h.Handle(&Request{Op: OpAddIfAddr, Seqn: 2, IfAddr: IfAddrMsg{VrfId: 0, Prefix: addr, Ifindex: 4}})
	require.Equal(t, ResOk, resp.Code)

	p, _, ok := sync.RouteTable(0).Lookup(netip.MustParseAddr("192.0.2.10"))
	require.True(t, ok)
	require.Equal(t, 32, p.Bits())

	resp = h.Handle(&Request{Op: OpDelIfAddr, Seqn: 3, IfAddr: IfAddrMsg{VrfId: 0, Prefix: addr, Ifindex: 4}})
	require.Equal(t, ResOk, resp.Code)

	p, _, ok = sync.RouteTable(0).Lookup(netip.MustParseAddr("192.0.2.10"))
	require.True(t, ok) // default root still matches
	require.Equal(t, 0, p.Bits())
}
