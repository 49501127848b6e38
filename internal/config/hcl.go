// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/prefix"
)

// hclExpose mirrors VpcExpose in HCL-decodable form; prefixes are decoded
// as strings and parsed afterward so a malformed CIDR produces a config
// error rather than an HCL decode panic.
type hclExpose struct {
	Name     string   `hcl:"name,label"`
	Ips      []string `hcl:"ips,optional"`
	Nots     []string `hcl:"nots,optional"`
	AsRange  []string `hcl:"as_range,optional"`
	NotAs    []string `hcl:"not_as,optional"`
	Nat      *string  `hcl:"nat,optional"`
	IdleSecs *int     `hcl:"idle_timeout_seconds,optional"`
}

type hclManifest struct {
	Name    string      `hcl:"name,label"`
	Exposes []hclExpose `hcl:"expose,block"`
}

type hclPeering struct {
	Name  string      `hcl:"name,label"`
	Left  hclManifest `hcl:"left,block"`
	Right hclManifest `hcl:"right,block"`
}

type hclVpc struct {
	Name string `hcl:"name,label"`
	Id   string `hcl:"id"`
	Vni  int    `hcl:"vni"`
}

type hclOverlay struct {
	Vpcs     []hclVpc     `hcl:"vpc,block"`
	Peerings []hclPeering `hcl:"peering,block"`
}

func parsePrefixList(ss []string) ([]prefix.Prefix, error) {
	out := make([]prefix.Prefix, 0, len(ss))
	for _, s := range ss {
		p, err := prefix.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeExpose(h hclExpose) (VpcExpose, error) {
	var e VpcExpose
	e.Name = h.Name

	var err error
	if e.Ips, err = parsePrefixList(h.Ips); err != nil {
		return e, err
	}
	if e.Nots, err = parsePrefixList(h.Nots); err != nil {
		return e, err
	}
	if e.AsRange, err = parsePrefixList(h.AsRange); err != nil {
		return e, err
	}
	if e.NotAs, err = parsePrefixList(h.NotAs); err != nil {
		return e, err
	}

	e.Stateful.IdleTimeout = DefaultStatefulIdleTimeout
	if h.IdleSecs != nil {
		e.Stateful.IdleTimeout = time.Duration(*h.IdleSecs) * time.Second
	}
	if h.Nat != nil {
		switch *h.Nat {
		case "stateless":
			e.Mode = NatStateless
		case "stateful":
			e.Mode = NatStateful
		default:
			return e, gwerrors.Errorf(gwerrors.KindValidation, "config: unknown nat mode %q", *h.Nat)
		}
	}
	return e, nil
}

func decodeManifest(h hclManifest) (VpcManifest, error) {
	m := VpcManifest{Name: h.Name}
	for _, he := range h.Exposes {
		e, err := decodeExpose(he)
		if err != nil {
			return m, err
		}
		m.Exposes = append(m.Exposes, e)
	}
	return m, nil
}

// evalContext exposes the handful of host variables overlay files may
// interpolate (e.g. naming a VPC after the gateway host).
func evalContext() *hcl.EvalContext {
	hostname, _ := os.Hostname()
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"hostname": cty.StringVal(hostname),
		},
	}
}

// LoadOverlayHCL reads and decodes an overlay configuration file written
// in the gateway's HCL dialect (vpc/peering/expose blocks), validating
// every VPC and peering as it is inserted.
func LoadOverlayHCL(path string) (*Overlay, error) {
	var raw hclOverlay
	if err := hclsimple.DecodeFile(path, evalContext(), &raw); err != nil {
		var diags hcl.Diagnostics
		if hclErrAs(err, &diags) {
			return nil, gwerrors.Wrapf(err, gwerrors.KindValidation, "config: %s", diags.Error())
		}
		return nil, gwerrors.Wrapf(err, gwerrors.KindValidation, "config: decode %s", path)
	}

	overlay := NewOverlay()
	for _, hv := range raw.Vpcs {
		if hv.Vni < 0 {
			return nil, errInvalidVpcVni(0)
		}
		if err := overlay.Vpcs.Add(&Vpc{Name: hv.Name, Id: hv.Id, Vni: uint32(hv.Vni)}); err != nil {
			return nil, err
		}
	}
	for _, hp := range raw.Peerings {
		left, err := decodeManifest(hp.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeManifest(hp.Right)
		if err != nil {
			return nil, err
		}
		peering := &VpcPeering{Name: hp.Name, Left: left, Right: right}
		if err := overlay.Peerings.Add(peering); err != nil {
			return nil, err
		}
	}
	if err := overlay.Validate(); err != nil {
		return nil, err
	}
	return overlay, nil
}

func hclErrAs(err error, target *hcl.Diagnostics) bool {
	diags, ok := err.(hcl.Diagnostics)
	if !ok {
		return false
	}
	*target = diags
	return true
}
