// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package reconcile

import (
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	mdlnetlink "github.com/mdlayher/netlink"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// Kernel link-info attribute types for the kinds this loop manages.
const (
	iflaVxlanId     = 1
	iflaVxlanLocal  = 4
	iflaVxlanLocal6 = 17
	iflaVrfTable    = 1
)

// NetlinkKernel is the production Kernel: observation through a raw
// rtnetlink dump (the kind-specific attributes are decoded straight off
// the link-info payload), mutation through the high-level netlink
// package. Both handles are pinned to the namespace the daemon started
// in.
type NetlinkKernel struct {
	observe *rtnetlink.Conn
	handle  *netlink.Handle
}

// NewNetlinkKernel opens the netlink connections in the current network
// namespace.
func NewNetlinkKernel() (*NetlinkKernel, error) {
	ns, err := netns.Get()
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindUnavailable, "reconcile: current netns")
	}
	handle, err := netlink.NewHandleAt(ns)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindUnavailable, "reconcile: netlink handle")
	}
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		handle.Close()
		return nil, gwerrors.Wrap(err, gwerrors.KindUnavailable, "reconcile: rtnetlink dial")
	}
	return &NetlinkKernel{observe: conn, handle: handle}, nil
}

// Close releases both netlink connections.
func (k *NetlinkKernel) Close() {
	if k.observe != nil {
		k.observe.Close()
	}
	if k.handle != nil {
		k.handle.Close()
	}
}

// Observe dumps all links and keeps those of the managed kinds.
func (k *NetlinkKernel) Observe() ([]Observed, error) {
	msgs, err := k.observe.Link.List()
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindUnavailable, "reconcile: link dump")
	}

	nameByIndex := make(map[uint32]string, len(msgs))
	for _, m := range msgs {
		if m.Attributes != nil {
			nameByIndex[m.Index] = m.Attributes.Name
		}
	}

	var out []Observed
	for _, m := range msgs {
		if m.Attributes == nil || m.Attributes.Info == nil {
			continue
		}
		o := Observed{
			Name:  m.Attributes.Name,
			Index: int(m.Index),
			Up:    m.Flags&unix.IFF_UP != 0,
		}
		if m.Attributes.Master != nil {
			o.Master = nameByIndex[*m.Attributes.Master]
		}
		switch m.Attributes.Info.Kind {
		case "vrf":
			o.Kind = KindVrf
			o.TableId = vrfTable(m.Attributes.Info.Data)
		case "bridge":
			o.Kind = KindBridge
		case "vxlan":
			o.Kind = KindVtep
			o.Vni, o.LocalIP = vxlanInfo(m.Attributes.Info.Data)
		default:
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func vrfTable(data []byte) uint32 {
	ad, err := mdlnetlink.NewAttributeDecoder(data)
	if err != nil {
		return 0
	}
	for ad.Next() {
		if ad.Type() == iflaVrfTable {
			return ad.Uint32()
		}
	}
	return 0
}

func vxlanInfo(data []byte) (vni uint32, local netip.Addr) {
	ad, err := mdlnetlink.NewAttributeDecoder(data)
	if err != nil {
		return 0, netip.Addr{}
	}
	for ad.Next() {
		switch ad.Type() {
		case iflaVxlanId:
			vni = ad.Uint32()
		case iflaVxlanLocal:
			if b := ad.Bytes(); len(b) == 4 {
				local = netip.AddrFrom4([4]byte(b))
			}
		case iflaVxlanLocal6:
			if b := ad.Bytes(); len(b) == 16 {
				local = netip.AddrFrom16([16]byte(b))
			}
		}
	}
	return vni, local
}

func (k *NetlinkKernel) build(req Requirement) (netlink.Link, error) {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = req.Name
	switch req.Kind {
	case KindVrf:
		return &netlink.Vrf{LinkAttrs: attrs, Table: req.TableId}, nil
	case KindBridge:
		return &netlink.Bridge{LinkAttrs: attrs}, nil
	case KindVtep:
		vx := &netlink.Vxlan{
			LinkAttrs: attrs,
			VxlanId:   int(req.Vni),
			Port:      4789,
			Learning:  false,
		}
		if req.LocalIP.IsValid() {
			vx.SrcAddr = net.IP(req.LocalIP.AsSlice())
		}
		return vx, nil
	default:
		return nil, gwerrors.Errorf(gwerrors.KindValidation, "reconcile: unknown link kind %d", req.Kind)
	}
}

// Create realizes req: add the link, enslave it if required, bring it up.
func (k *NetlinkKernel) Create(req Requirement) error {
	link, err := k.build(req)
	if err != nil {
		return err
	}
	if err := k.handle.LinkAdd(link); err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "reconcile: add %s", req.Name)
	}
	return k.converge(req, link)
}

// Update converges an existing link toward req. Identity changes (VNI,
// VRF table, VTEP source) force a recreate since the kernel refuses to
// change them in place.
func (k *NetlinkKernel) Update(req Requirement, got Observed) error {
	identityChanged := (req.Kind == KindVrf && req.TableId != got.TableId) ||
		(req.Kind == KindVtep && (req.Vni != got.Vni || req.LocalIP != got.LocalIP))
	if identityChanged {
		if err := k.Remove(req.Name); err != nil {
			return err
		}
		return k.Create(req)
	}
	link, err := k.handle.LinkByName(req.Name)
	if err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindNotFound, "reconcile: lookup %s", req.Name)
	}
	return k.converge(req, link)
}

// converge applies the association and admin state of req to link.
func (k *NetlinkKernel) converge(req Requirement, link netlink.Link) error {
	if req.Master != "" {
		master, err := k.handle.LinkByName(req.Master)
		if err != nil {
			return gwerrors.Wrapf(err, gwerrors.KindNotFound, "reconcile: master %s of %s", req.Master, req.Name)
		}
		if err := k.handle.LinkSetMaster(link, master); err != nil {
			return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "reconcile: enslave %s to %s", req.Name, req.Master)
		}
	} else {
		if err := k.handle.LinkSetNoMaster(link); err != nil {
			return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "reconcile: unslave %s", req.Name)
		}
	}
	if err := k.handle.LinkSetUp(link); err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "reconcile: set %s up", req.Name)
	}
	return nil
}

// Remove deletes the named link; a link already gone is success.
func (k *NetlinkKernel) Remove(name string) error {
	link, err := k.handle.LinkByName(name)
	if err != nil {
		if _, notFound := err.(netlink.LinkNotFoundError); notFound {
			return nil
		}
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "reconcile: lookup %s", name)
	}
	if err := k.handle.LinkDel(link); err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "reconcile: delete %s", name)
	}
	return nil
}
