// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statefulnat

import (
	"net/netip"

	"github.com/grimm-is/gwcore/internal/config"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/statefulnat/apalloc"
	"github.com/grimm-is/gwcore/internal/wire"
)

func lastAddress(p prefix.Prefix) netip.Addr {
	last, err := prefix.AddOffset(p.Addr(), p.Size()-1)
	if err != nil {
		return p.Addr()
	}
	return last
}

// Provision registers allocator pools and idle timeouts from the
// validated overlay: every stateful expose contributes source-NAT pools
// drawing translated addresses from its public range, for flows from
// its own VNI toward the peer's, over both supported protocols.
func Provision(alloc *apalloc.Allocator, stage *Stage, overlay *config.Overlay) error {
	for _, p := range overlay.Peerings.All() {
		leftVpc, ok := overlay.Vpcs.Get(p.Left.Name)
		if !ok {
			continue
		}
		rightVpc, ok := overlay.Vpcs.Get(p.Right.Name)
		if !ok {
			continue
		}
		if err := provisionHalf(alloc, stage, &p.Left, leftVpc.Vni, rightVpc.Vni); err != nil {
			return err
		}
		if err := provisionHalf(alloc, stage, &p.Right, rightVpc.Vni, leftVpc.Vni); err != nil {
			return err
		}
	}
	return nil
}

func provisionHalf(alloc *apalloc.Allocator, stage *Stage, m *config.VpcManifest, localVni, remoteVni uint32) error {
	for i := range m.Exposes {
		e := &m.Exposes[i]
		if e.Mode != config.NatStateful || len(e.AsRange) == 0 {
			continue
		}
		private, public, err := config.CollapseExpose(e)
		if err != nil {
			return err
		}
		if len(public) == 0 {
			continue
		}
		for j, priv := range private {
			pool := public[j%len(public)]
			for _, proto := range []wire.IpProto{wire.ProtoTCP, wire.ProtoUDP} {
				alloc.RegisterSrcPool(proto, localVni, remoteVni, priv.Addr(), lastAddress(priv), pool)
			}
		}
		timeout := e.Stateful.IdleTimeout
		if timeout <= 0 {
			timeout = config.DefaultStatefulIdleTimeout
		}
		stage.SetIdleTimeout(localVni, remoteVni, timeout)
		stage.SetIdleTimeout(remoteVni, localVni, timeout)
	}
	return nil
}
