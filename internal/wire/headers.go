// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// Net is the network-layer header of a parsed frame: either Ipv4 or Ipv6.
type Net interface{ isNet() }

func (Ipv4) isNet() {}
func (Ipv6) isNet() {}

// Transport is the transport-layer header of a parsed frame.
type Transport interface{ isTransport() }

func (Tcp) isTransport()   {}
func (Udp) isTransport()   {}
func (Icmp4) isTransport() {}
func (Icmp6) isTransport() {}

// Headers is the fully parsed representation of one frame: an Ethernet
// header, a bounded VLAN stack, an optional network header, its
// extension headers, an optional transport header, and an optional
// VXLAN encapsulation (present only on the outer header of an
// already-decapsulated packet's saved copy, or being built for encap).
type Headers struct {
	Eth       Eth
	Vlans     []Vlan
	Net       Net
	NetExt    []Ipv6Ext
	Transport Transport
	Vxlan     *Vxlan
}

// Parse decodes buf into a Headers value, stopping at the first
// unrecognized or malformed layer. VLAN tags beyond MaxVlanDepth and
// IPv6 extension headers beyond the bound are not descended into
// further; the remainder is left unparsed rather than erroring.
func Parse(buf []byte) (*Headers, int, error) {
	h := &Headers{}
	eth, n, err := ParseEth(buf)
	if err != nil {
		return nil, 0, err
	}
	h.Eth = eth
	off := n
	etherType := eth.Proto

	for IsVlanEtherType(etherType) {
		if len(h.Vlans) >= MaxVlanDepth {
			return h, off, nil
		}
		v, n, err := ParseVlan(buf[off:], etherType)
		if err != nil {
			return nil, 0, err
		}
		h.Vlans = append(h.Vlans, v)
		off += n
		etherType = v.Inner
	}

	var nextHeader IpProto
	switch etherType {
	case EtherTypeIPv4:
		ip, n, err := ParseIpv4(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		h.Net = ip
		off += n
		nextHeader = ip.Protocol
	case EtherTypeIPv6:
		ip, n, err := ParseIpv6(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		h.Net = ip
		off += n
		nextHeader = ip.NextHeader
		const maxExt = 2
		for IsIpv6ExtHeader(nextHeader) && len(h.NetExt) < maxExt {
			ext, n, err := ParseIpv6Ext(buf[off:])
			if err != nil {
				return nil, 0, err
			}
			h.NetExt = append(h.NetExt, ext)
			off += n
			nextHeader = ext.NextHeader
		}
	default:
		return h, off, nil
	}

	switch nextHeader {
	case ProtoTCP:
		t, n, err := ParseTcp(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		h.Transport = t
		off += n
	case ProtoUDP:
		u, n, err := ParseUdp(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		h.Transport = u
		off += n
		if u.DstPort == DstPortVxlan && off+VxlanHeaderLen <= len(buf) {
			vx, n, err := ParseVxlan(buf[off:])
			if err == nil {
				h.Vxlan = &vx
				off += n
			}
		}
	case ProtoICMPv4:
		m, n, err := ParseIcmp4(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		h.Transport = m
		off += n
	case ProtoICMPv6:
		m, n, err := ParseIcmp6(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		h.Transport = m
		off += n
	}

	return h, off, nil
}

// Size returns the total on-wire size of h.
func (h *Headers) Size() int {
	n := EthHeaderLen
	n += len(h.Vlans) * VlanHeaderLen
	switch net := h.Net.(type) {
	case Ipv4:
		n += net.HeaderLen()
	case Ipv6:
		n += Ipv6HeaderLen
	}
	for _, ext := range h.NetExt {
		n += len(ext.Data)
	}
	switch t := h.Transport.(type) {
	case Tcp:
		n += t.HeaderLen()
	case Udp:
		n += UdpHeaderLen
		if h.Vxlan != nil {
			n += VxlanHeaderLen
		}
	case Icmp4:
		n += icmpHeaderLen + len(t.Payload)
	case Icmp6:
		n += icmpHeaderLen + len(t.Payload)
	}
	return n
}

// Deparse serializes h into buf, which must be at least h.Size() bytes.
func (h *Headers) Deparse(buf []byte) (int, error) {
	if len(buf) < h.Size() {
		return 0, gwerrors.Errorf(gwerrors.KindInternal, "wire: headers: buffer too short to deparse (%d < %d)", len(buf), h.Size())
	}
	off := 0
	n, err := h.Eth.Deparse(buf[off:])
	if err != nil {
		return 0, err
	}
	off += n
	for _, v := range h.Vlans {
		n, err := v.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	switch net := h.Net.(type) {
	case Ipv4:
		n, err := net.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	case Ipv6:
		n, err := net.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	for _, ext := range h.NetExt {
		n, err := ext.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	switch t := h.Transport.(type) {
	case Tcp:
		n, err := t.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	case Udp:
		n, err := t.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
		if h.Vxlan != nil {
			n, err := h.Vxlan.Deparse(buf[off:])
			if err != nil {
				return 0, err
			}
			off += n
		}
	case Icmp4:
		n, err := t.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	case Icmp6:
		n, err := t.Deparse(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}
