// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config implements the gateway core's declarative configuration
// model: VPCs, peerings, manifests and exposes, and the validator that
// checks the invariants the NAT compiler depends on.
package config

import (
	"time"

	"github.com/grimm-is/gwcore/internal/prefix"
)

// NatMode selects how an expose's public range is derived and translated.
type NatMode int

const (
	// NatNone means the expose carries no public range; only the private
	// prefixes are used, with no address translation.
	NatNone NatMode = iota
	NatStateless
	NatStateful
)

// StatefulNatConfig holds the parameters of a stateful NAT expose.
type StatefulNatConfig struct {
	IdleTimeout time.Duration
}

// DefaultStatefulIdleTimeout is used when a stateful expose does not
// specify one explicitly.
const DefaultStatefulIdleTimeout = 120 * time.Second

// VpcExpose is a quadruple of prefix sets plus an optional NAT mode.
type VpcExpose struct {
	Name   string
	Ips    []prefix.Prefix
	Nots   []prefix.Prefix
	AsRange []prefix.Prefix
	NotAs  []prefix.Prefix

	Mode    NatMode
	Stateful StatefulNatConfig
}

// HasNat reports whether this expose performs any address translation.
func (e *VpcExpose) HasNat() bool { return e.Mode != NatNone }

// PublicIps returns AsRange when non-empty, else Ips
// "public prefix set" definition.
func (e *VpcExpose) PublicIps() []prefix.Prefix {
	if len(e.AsRange) > 0 {
		return e.AsRange
	}
	return e.Ips
}

// PublicExcludes returns NotAs when AsRange is non-empty, else Nots,
// keyed on the same branch as PublicIps: an expose with a public range
// takes only its own public exclusions, never the private ones.
func (e *VpcExpose) PublicExcludes() []prefix.Prefix {
	if len(e.AsRange) > 0 {
		return e.NotAs
	}
	return e.Nots
}

// VpcManifest is a named set of exposes belonging to one side of a peering.
type VpcManifest struct {
	Name    string
	Exposes []VpcExpose
}

// VpcPeering is a directed pair of manifests describing what each VPC
// exposes to the other.
type VpcPeering struct {
	Name  string
	Left  VpcManifest
	Right VpcManifest
}

// Vpc is a logical tenant network.
type Vpc struct {
	Name string
	Id   string
	Vni  uint32
}

// MinVni and MaxVni bound the 24-bit VXLAN network identifier space;
// Vni 0 is reserved and never assigned to a tenant VPC.
const (
	MinVni = 1
	MaxVni = 1<<24 - 1
)

// VpcTable holds the set of known VPCs, indexed for uniqueness checks.
type VpcTable struct {
	byName map[string]*Vpc
	byId   map[string]*Vpc
	byVni  map[uint32]*Vpc
	order  []*Vpc
}

// NewVpcTable returns an empty VpcTable.
func NewVpcTable() *VpcTable {
	return &VpcTable{
		byName: make(map[string]*Vpc),
		byId:   make(map[string]*Vpc),
		byVni:  make(map[uint32]*Vpc),
	}
}

// Get returns the VPC registered under name, if any.
func (t *VpcTable) Get(name string) (*Vpc, bool) {
	v, ok := t.byName[name]
	return v, ok
}

// All returns the VPCs in insertion order.
func (t *VpcTable) All() []*Vpc { return t.order }

// VpcPeeringTable holds the set of peerings, keyed by name for duplicate
// detection.
type VpcPeeringTable struct {
	byName map[string]*VpcPeering
	order  []*VpcPeering
}

// NewVpcPeeringTable returns an empty VpcPeeringTable.
func NewVpcPeeringTable() *VpcPeeringTable {
	return &VpcPeeringTable{byName: make(map[string]*VpcPeering)}
}

// All returns the peerings in insertion order.
func (t *VpcPeeringTable) All() []*VpcPeering { return t.order }

// Overlay is the top-level validated configuration object: a set of VPCs
// and the peerings between them.
type Overlay struct {
	Vpcs     *VpcTable
	Peerings *VpcPeeringTable
}
