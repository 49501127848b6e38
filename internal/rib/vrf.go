// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rib

import (
	"net/netip"

	"github.com/gaissmai/bart"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/fib"
	gwprefix "github.com/grimm-is/gwcore/internal/prefix"
)

// RouteType mirrors the routing-daemon's protocol/origin tag for a route.
type RouteType int

const (
	RouteTypeOther RouteType = iota
	RouteTypeLocal
	RouteTypeConnected
	RouteTypeStatic
	RouteTypeBGP
	RouteTypeEVPN
)

// Route holds protocol/distance/metric and an ordered list of shared
// next-hop keys Nat marks overlay routes whose FIB
// entries must grant the NAT stage permission to translate.
type Route struct {
	Type     RouteType
	Distance uint8
	Metric   uint32
	Nhops    []NhopKey
	Nat      bool
}

// DefaultDropRoute is installed at the root prefix of every VRF/family
// and reinstated whenever the root entry is deleted.
func DefaultDropRoute() Route {
	return Route{Type: RouteTypeOther, Nhops: []NhopKey{fib.DropKey}}
}

// VrfId uniquely identifies a VRF.
type VrfId uint32

// Vrf holds the IPv4 and IPv6 LPM routing tables for one VRF, plus the
// next-hop store shared across both families.
type Vrf struct {
	Name    string
	Id      VrfId
	Vni     uint32
	HasVni  bool

	routesV4 *bart.Table[Route]
	routesV6 *bart.Table[Route]
	Nhops    *NhopStore
}

// NewVrf returns a Vrf with the default drop routes installed at
// 0.0.0.0/0 and ::/0.
func NewVrf(name string, id VrfId) *Vrf {
	v := &Vrf{
		Name:     name,
		Id:       id,
		routesV4: new(bart.Table[Route]),
		routesV6: new(bart.Table[Route]),
		Nhops:    NewNhopStore(),
	}
	v.routesV4.Insert(netip.PrefixFrom(netip.IPv4Unspecified(), 0), DefaultDropRoute())
	v.routesV6.Insert(netip.PrefixFrom(netip.IPv6Unspecified(), 0), DefaultDropRoute())
	return v
}

// SetVni associates this VRF with an overlay VNI, for decap's
// vni->vrf lookup.
func (v *Vrf) SetVni(vni uint32) { v.Vni, v.HasVni = vni, true }

func (v *Vrf) tableFor(p gwprefix.Prefix) *bart.Table[Route] {
	if p.Is4() {
		return v.routesV4
	}
	return v.routesV6
}

// AddRoute installs or replaces the route at p.
func (v *Vrf) AddRoute(p gwprefix.Prefix, r Route) {
	wp := netip.PrefixFrom(p.Addr(), p.Len())
	v.tableFor(p).Insert(wp, r)
}

// DelRoute removes the route at p. Deleting the root default route
// reinstates the drop route rather than leaving the prefix absent.
func (v *Vrf) DelRoute(p gwprefix.Prefix) {
	wp := netip.PrefixFrom(p.Addr(), p.Len())
	if p.Len() == 0 {
		v.tableFor(p).Insert(wp, DefaultDropRoute())
		return
	}
	v.tableFor(p).Delete(wp)
}

// GetRoute returns the route installed exactly at p, if any.
func (v *Vrf) GetRoute(p gwprefix.Prefix) (Route, bool) {
	return v.tableFor(p).Get(netip.PrefixFrom(p.Addr(), p.Len()))
}

// Lookup performs a longest-prefix match for dst, returning the matched
// route. Because both families always carry a root default entry, a
// miss is impossible in a well-formed VRF; callers should treat it as an
// internal error.
func (v *Vrf) Lookup(dst netip.Addr) (Route, bool) {
	var t *bart.Table[Route]
	if dst.Is4() || dst.Is4In6() {
		t = v.routesV4
		dst = dst.Unmap()
	} else {
		t = v.routesV6
	}
	return t.Lookup(dst)
}

// VrfTable holds every VRF known to the routing DB, keyed by id.
type VrfTable struct {
	byId  map[VrfId]*Vrf
	byVni map[uint32]VrfId
}

// NewVrfTable returns an empty VrfTable.
func NewVrfTable() *VrfTable {
	return &VrfTable{byId: make(map[VrfId]*Vrf), byVni: make(map[uint32]VrfId)}
}

// AddVrf registers vrf, indexing it by VNI if set.
func (t *VrfTable) AddVrf(v *Vrf) error {
	if _, ok := t.byId[v.Id]; ok {
		return gwerrors.Errorf(gwerrors.KindConflict, "rib: vrf id %d already exists", v.Id)
	}
	t.byId[v.Id] = v
	if v.HasVni {
		t.byVni[v.Vni] = v.Id
	}
	return nil
}

// Get returns the VRF registered under id.
func (t *VrfTable) Get(id VrfId) (*Vrf, bool) {
	v, ok := t.byId[id]
	return v, ok
}

// All returns every registered VRF.
func (t *VrfTable) All() []*Vrf {
	out := make([]*Vrf, 0, len(t.byId))
	for _, v := range t.byId {
		out = append(out, v)
	}
	return out
}

// GetByVni returns the VRF associated with vni, used by the forwarding
// stage's decap path.
func (t *VrfTable) GetByVni(vni uint32) (*Vrf, bool) {
	id, ok := t.byVni[vni]
	if !ok {
		return nil, false
	}
	return t.Get(id)
}
