// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cpi implements the control-plane interface to the routing
// daemon: a unix-datagram RPC carrying length-delimited binary records
// with operation codes for Connect, route, interface-address, and
// router-MAC mutations. Every request carries a monotonic sequence
// number and is acknowledged with (op, seqn, rescode, objects).
//
// All mutations run on the single-threaded I/O loop that owns the
// routing DB, so the handler takes no locks.
package cpi

import (
	"encoding/binary"
	"net/netip"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/fib"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/rib"
)

// DefaultSocketPath is where the routing daemon expects the dataplane
// to listen.
const DefaultSocketPath = "/var/run/frr/hh/dataplane.sock"

// Compiled CPI version; a Connect carrying a different tuple is refused.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
	VersionPatch uint8 = 0
)

// Op is a CPI operation code.
type Op uint8

const (
	OpConnect Op = iota + 1
	OpAddRoute
	OpUpdateRoute
	OpDelRoute
	OpAddIfAddr
	OpDelIfAddr
	OpAddRmac
	OpDelRmac
	OpControl
)

// ResCode is a CPI response code.
type ResCode uint8

const (
	ResOk ResCode = iota
	ResFailure
	ResInvalidRequest
	ResIgnored
)

// NhopMsg is one next-hop of a route message.
type NhopMsg struct {
	HasAddress bool
	Address    netip.Addr
	HasIfindex bool
	Ifindex    uint32
	HasEncap   bool
	EncapVtep  netip.Addr
	EncapVni   uint32
	EncapMac   [6]byte
	Drop       bool
}

// RouteMsg is the payload of Add/Update/DelRoute.
type RouteMsg struct {
	VrfId    uint32
	Prefix   prefix.Prefix
	Type     uint8
	Distance uint8
	Metric   uint32
	Nat      bool
	Nhops    []NhopMsg
}

// IfAddrMsg is the payload of Add/DelIfAddr.
type IfAddrMsg struct {
	VrfId   uint32
	Prefix  prefix.Prefix
	Ifindex uint32
}

// RmacMsg is the payload of Add/DelRmac.
type RmacMsg struct {
	Vtep netip.Addr
	Mac  [6]byte
	Vni  uint32
}

// ConnectMsg is the payload of Connect.
type ConnectMsg struct {
	Major, Minor, Patch uint8
}

// ControlMsg is the payload of Control.
type ControlMsg struct {
	Refresh bool
}

// Request is one decoded CPI request.
type Request struct {
	Op   Op
	Seqn uint64

	Connect ConnectMsg
	Route   RouteMsg
	IfAddr  IfAddrMsg
	Rmac    RmacMsg
	Control ControlMsg
}

// Response is the acknowledgement for one request.
type Response struct {
	Op      Op
	Seqn    uint64
	Code    ResCode
	Objects uint16
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) addr(a netip.Addr) {
	if a.Is4() {
		w.u8(4)
		b := a.As4()
		w.buf = append(w.buf, b[:]...)
		return
	}
	w.u8(6)
	b := a.As16()
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) prefix(p prefix.Prefix) {
	w.addr(p.Addr())
	w.u8(uint8(p.Len()))
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = gwerrors.New(gwerrors.KindValidation, "cpi: "+msg)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil || r.off+n > len(r.buf) {
		r.fail("truncated message")
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) bool() bool { return r.u8() != 0 }

func (r *reader) addr() netip.Addr {
	switch r.u8() {
	case 4:
		b := r.take(4)
		if b == nil {
			return netip.Addr{}
		}
		return netip.AddrFrom4([4]byte(b))
	case 6:
		b := r.take(16)
		if b == nil {
			return netip.Addr{}
		}
		return netip.AddrFrom16([16]byte(b))
	default:
		r.fail("bad address family")
		return netip.Addr{}
	}
}

func (r *reader) prefix() prefix.Prefix {
	a := r.addr()
	plen := r.u8()
	if r.err != nil {
		return prefix.Prefix{}
	}
	p, err := prefix.New(a, int(plen))
	if err != nil {
		r.err = err
		return prefix.Prefix{}
	}
	return p
}

// Encode serializes req as one datagram record.
func Encode(req *Request) []byte {
	w := &writer{}
	w.u8(uint8(req.Op))
	w.u64(req.Seqn)
	switch req.Op {
	case OpConnect:
		w.u8(req.Connect.Major)
		w.u8(req.Connect.Minor)
		w.u8(req.Connect.Patch)
	case OpAddRoute, OpUpdateRoute, OpDelRoute:
		m := &req.Route
		w.u32(m.VrfId)
		w.prefix(m.Prefix)
		w.u8(m.Type)
		w.u8(m.Distance)
		w.u32(m.Metric)
		w.bool(m.Nat)
		w.u8(uint8(len(m.Nhops)))
		for _, nh := range m.Nhops {
			w.bool(nh.Drop)
			w.bool(nh.HasAddress)
			if nh.HasAddress {
				w.addr(nh.Address)
			}
			w.bool(nh.HasIfindex)
			if nh.HasIfindex {
				w.u32(nh.Ifindex)
			}
			w.bool(nh.HasEncap)
			if nh.HasEncap {
				w.addr(nh.EncapVtep)
				w.u32(nh.EncapVni)
				w.buf = append(w.buf, nh.EncapMac[:]...)
			}
		}
	case OpAddIfAddr, OpDelIfAddr:
		w.u32(req.IfAddr.VrfId)
		w.prefix(req.IfAddr.Prefix)
		w.u32(req.IfAddr.Ifindex)
	case OpAddRmac, OpDelRmac:
		w.addr(req.Rmac.Vtep)
		w.buf = append(w.buf, req.Rmac.Mac[:]...)
		w.u32(req.Rmac.Vni)
	case OpControl:
		w.bool(req.Control.Refresh)
	}

	// Length-delimited record framing.
	out := make([]byte, 4+len(w.buf))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(w.buf)))
	copy(out[4:], w.buf)
	return out
}

// Decode parses one datagram record into a Request.
func Decode(buf []byte) (*Request, error) {
	if len(buf) < 4 {
		return nil, gwerrors.Errorf(gwerrors.KindValidation, "cpi: record too short (%d)", len(buf))
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	if int(n) != len(buf)-4 {
		return nil, gwerrors.Errorf(gwerrors.KindValidation, "cpi: record length mismatch (%d != %d)", n, len(buf)-4)
	}
	r := &reader{buf: buf[4:]}
	req := &Request{}
	req.Op = Op(r.u8())
	req.Seqn = r.u64()
	switch req.Op {
	case OpConnect:
		req.Connect.Major = r.u8()
		req.Connect.Minor = r.u8()
		req.Connect.Patch = r.u8()
	case OpAddRoute, OpUpdateRoute, OpDelRoute:
		m := &req.Route
		m.VrfId = r.u32()
		m.Prefix = r.prefix()
		m.Type = r.u8()
		m.Distance = r.u8()
		m.Metric = r.u32()
		m.Nat = r.bool()
		count := int(r.u8())
		for i := 0; i < count && r.err == nil; i++ {
			var nh NhopMsg
			nh.Drop = r.bool()
			nh.HasAddress = r.bool()
			if nh.HasAddress {
				nh.Address = r.addr()
			}
			nh.HasIfindex = r.bool()
			if nh.HasIfindex {
				nh.Ifindex = r.u32()
			}
			nh.HasEncap = r.bool()
			if nh.HasEncap {
				nh.EncapVtep = r.addr()
				nh.EncapVni = r.u32()
				if b := r.take(6); b != nil {
					copy(nh.EncapMac[:], b)
				}
			}
			m.Nhops = append(m.Nhops, nh)
		}
	case OpAddIfAddr, OpDelIfAddr:
		req.IfAddr.VrfId = r.u32()
		req.IfAddr.Prefix = r.prefix()
		req.IfAddr.Ifindex = r.u32()
	case OpAddRmac, OpDelRmac:
		req.Rmac.Vtep = r.addr()
		if b := r.take(6); b != nil {
			copy(req.Rmac.Mac[:], b)
		}
		req.Rmac.Vni = r.u32()
	case OpControl:
		req.Control.Refresh = r.bool()
	default:
		return nil, gwerrors.Errorf(gwerrors.KindValidation, "cpi: unknown op %d", req.Op)
	}
	if r.err != nil {
		return nil, r.err
	}
	return req, nil
}

// EncodeResponse serializes resp as one datagram record.
func EncodeResponse(resp *Response) []byte {
	w := &writer{}
	w.u8(uint8(resp.Op))
	w.u64(resp.Seqn)
	w.u8(uint8(resp.Code))
	w.u16(resp.Objects)
	out := make([]byte, 4+len(w.buf))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(w.buf)))
	copy(out[4:], w.buf)
	return out
}

// DecodeResponse parses one response record.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < 4 {
		return nil, gwerrors.Errorf(gwerrors.KindValidation, "cpi: response too short (%d)", len(buf))
	}
	if int(binary.LittleEndian.Uint32(buf[:4])) != len(buf)-4 {
		return nil, gwerrors.New(gwerrors.KindValidation, "cpi: response length mismatch")
	}
	r := &reader{buf: buf[4:]}
	resp := &Response{}
	resp.Op = Op(r.u8())
	resp.Seqn = r.u64()
	resp.Code = ResCode(r.u8())
	resp.Objects = r.u16()
	if r.err != nil {
		return nil, r.err
	}
	return resp, nil
}

// nhopKey converts a wire next-hop into the RIB's key form.
func (m NhopMsg) nhopKey() rib.NhopKey {
	if m.Drop {
		return fib.DropKey
	}
	key := rib.NhopKey{
		Address: m.Address, HasAddress: m.HasAddress,
		Ifindex: m.Ifindex, HasIfindex: m.HasIfindex,
	}
	if m.HasEncap {
		key.Encap = fib.Encapsulation{DstVtep: m.EncapVtep, Vni: m.EncapVni, DstMac: m.EncapMac}
		key.HasEncap = true
	}
	return key
}

// routeType maps the wire route type codes to RIB route types; unknown
// codes fall back to Other rather than failing the whole record.
func routeType(code uint8) rib.RouteType {
	switch code {
	case 1:
		return rib.RouteTypeLocal
	case 2:
		return rib.RouteTypeConnected
	case 3:
		return rib.RouteTypeStatic
	case 4:
		return rib.RouteTypeBGP
	case 5:
		return rib.RouteTypeEVPN
	default:
		return rib.RouteTypeOther
	}
}
