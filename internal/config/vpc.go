// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

// Add validates and inserts v, rejecting duplicate names, ids, vnis or an
// out-of-range vni.
func (t *VpcTable) Add(v *Vpc) error {
	if v.Name == "" {
		return errMissingIdentifier("vpc name")
	}
	if v.Id == "" {
		return errBadVpcId(v.Id)
	}
	if v.Vni < MinVni || v.Vni > MaxVni {
		return errInvalidVpcVni(v.Vni)
	}
	if _, ok := t.byName[v.Name]; ok {
		return errDuplicateVpcName(v.Name)
	}
	if _, ok := t.byId[v.Id]; ok {
		return errDuplicateVpcId(v.Id)
	}
	if _, ok := t.byVni[v.Vni]; ok {
		return errDuplicateVpcVni(v.Vni)
	}
	t.byName[v.Name] = v
	t.byId[v.Id] = v
	t.byVni[v.Vni] = v
	t.order = append(t.order, v)
	return nil
}

// Add validates and inserts p, rejecting a duplicate peering name.
func (t *VpcPeeringTable) Add(p *VpcPeering) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := t.byName[p.Name]; ok {
		return errDuplicateVpcPeeringId(p.Name)
	}
	t.byName[p.Name] = p
	t.order = append(t.order, p)
	return nil
}

// NewOverlay returns an empty Overlay ready for population.
func NewOverlay() *Overlay {
	return &Overlay{Vpcs: NewVpcTable(), Peerings: NewVpcPeeringTable()}
}

// Validate checks that every peering's manifests reference VPCs that
// exist in the overlay's VPC table. Per-peering and per-manifest
// invariants were already checked by VpcPeeringTable.Add/VpcPeering.Validate
// at insertion time.
func (o *Overlay) Validate() error {
	for _, p := range o.Peerings.All() {
		if _, ok := o.Vpcs.Get(p.Left.Name); !ok {
			return errNoSuchVpc(p.Left.Name)
		}
		if _, ok := o.Vpcs.Get(p.Right.Name); !ok {
			return errNoSuchVpc(p.Right.Name)
		}
	}
	return nil
}
