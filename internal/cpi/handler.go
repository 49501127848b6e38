// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cpi

import (
	"github.com/grimm-is/gwcore/internal/fib"
	"github.com/grimm-is/gwcore/internal/forward"
	"github.com/grimm-is/gwcore/internal/logging"
	"github.com/grimm-is/gwcore/internal/rib"
)

// Handler applies CPI requests to the routing DB. It runs on the
// single-threaded I/O loop; after each mutating request it assembles a
// fresh FIB snapshot and hands it to the publish callback for atomic
// swap toward the dataplane workers.
type Handler struct {
	vrfs    *rib.VrfTable
	sync    *rib.FibSync
	rmacs   *rib.RmacStore
	publish func(*forward.Fibs)
	log     *logging.Logger

	connected bool
}

// NewHandler builds a Handler over the routing DB. publish may be nil
// when no dataplane is attached (tests, dry runs).
func NewHandler(vrfs *rib.VrfTable, sync *rib.FibSync, rmacs *rib.RmacStore, publish func(*forward.Fibs), log *logging.Logger) *Handler {
	return &Handler{vrfs: vrfs, sync: sync, rmacs: rmacs, publish: publish, log: log}
}

// Reset drops the connected state, as after a dataplane restart: every
// request other than Connect is answered Ignored until the daemon
// re-handshakes.
func (h *Handler) Reset() { h.connected = false }

// Handle applies one request and returns its acknowledgement.
func (h *Handler) Handle(req *Request) *Response {
	resp := &Response{Op: req.Op, Seqn: req.Seqn, Code: ResOk}

	if req.Op == OpConnect {
		if req.Connect.Major != VersionMajor || req.Connect.Minor != VersionMinor || req.Connect.Patch != VersionPatch {
			h.log.Warn("cpi: connect version mismatch",
				logging.F("got_major", req.Connect.Major),
				logging.F("got_minor", req.Connect.Minor),
				logging.F("got_patch", req.Connect.Patch))
			resp.Code = ResFailure
			return resp
		}
		h.connected = true
		h.log.Info("cpi: routing daemon connected")
		return resp
	}

	if !h.connected {
		resp.Code = ResIgnored
		return resp
	}

	switch req.Op {
	case OpAddRoute, OpUpdateRoute:
		resp.Code = h.applyRoute(&req.Route)
	case OpDelRoute:
		resp.Code = h.removeRoute(&req.Route)
	case OpAddIfAddr:
		resp.Code = h.applyIfAddr(&req.IfAddr)
	case OpDelIfAddr:
		resp.Code = h.removeIfAddr(&req.IfAddr)
	case OpAddRmac:
		h.rmacs.Set(req.Rmac.Vtep, req.Rmac.Mac)
		h.refreshAll()
	case OpDelRmac:
		h.rmacs.Delete(req.Rmac.Vtep)
		h.refreshAll()
	case OpControl:
		if req.Control.Refresh {
			h.refreshAll()
		}
	default:
		resp.Code = ResInvalidRequest
		return resp
	}

	if resp.Code == ResOk {
		resp.Objects = 1
		h.Republish()
	}
	return resp
}

func (h *Handler) vrf(id uint32) (*rib.Vrf, bool) {
	v, ok := h.vrfs.Get(rib.VrfId(id))
	return v, ok
}

func (h *Handler) applyRoute(m *RouteMsg) ResCode {
	v, ok := h.vrf(m.VrfId)
	if !ok {
		h.log.Warn("cpi: route for unknown vrf", logging.F("vrf", m.VrfId))
		return ResFailure
	}
	if !m.Prefix.IsValid() {
		return ResInvalidRequest
	}
	route := rib.Route{
		Type:     routeType(m.Type),
		Distance: m.Distance,
		Metric:   m.Metric,
		Nat:      m.Nat,
	}
	for _, nh := range m.Nhops {
		key := nh.nhopKey()
		if key.HasEncap && key.Encap.DstMac == ([6]byte{}) {
			// EVPN routes may arrive before their RMAC advertisement
			// carried the MAC inline; resolve it from the store.
			if mac, ok := h.rmacs.Lookup(key.Encap.DstVtep); ok {
				key.Encap.DstMac = mac
			}
		}
		route.Nhops = append(route.Nhops, key)
	}
	if len(route.Nhops) == 0 {
		route.Nhops = []rib.NhopKey{fib.DropKey}
	}
	h.sync.InstallRoute(v, m.Prefix, route)
	return ResOk
}

func (h *Handler) removeRoute(m *RouteMsg) ResCode {
	v, ok := h.vrf(m.VrfId)
	if !ok {
		return ResFailure
	}
	if !m.Prefix.IsValid() {
		return ResInvalidRequest
	}
	h.sync.RemoveRoute(v, m.Prefix)
	return ResOk
}

func (h *Handler) applyIfAddr(m *IfAddrMsg) ResCode {
	v, ok := h.vrf(m.VrfId)
	if !ok {
		return ResFailure
	}
	if !m.Prefix.IsValid() {
		return ResInvalidRequest
	}
	h.sync.InstallRoute(v, m.Prefix, rib.Route{
		Type:  rib.RouteTypeLocal,
		Nhops: []rib.NhopKey{fib.WithIfindex(m.Ifindex)},
	})
	return ResOk
}

func (h *Handler) removeIfAddr(m *IfAddrMsg) ResCode {
	v, ok := h.vrf(m.VrfId)
	if !ok {
		return ResFailure
	}
	if !m.Prefix.IsValid() {
		return ResInvalidRequest
	}
	h.sync.RemoveRoute(v, m.Prefix)
	return ResOk
}

// refreshAll re-resolves every VRF's next-hops, the O(next-hops)
// fan-out on ARP/RMAC/interface change.
func (h *Handler) refreshAll() {
	for _, v := range h.vrfs.All() {
		h.sync.RefreshVrf(v)
	}
}

// Republish assembles and publishes a fresh FIB snapshot toward the
// dataplane workers.
func (h *Handler) Republish() {
	if h.publish == nil {
		return
	}
	fibs := forward.NewFibs()
	for id, rt := range h.sync.Tables() {
		fibs.ByVrf[uint32(id)] = rt
	}
	for _, v := range h.vrfs.All() {
		if v.HasVni {
			fibs.VrfByVni[v.Vni] = uint32(v.Id)
		}
	}
	h.publish(fibs)
}
