// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestRejectsOverlappingExposes(t *testing.T) {
	m := &VpcManifest{
		Name: "vpc-a",
		Exposes: []VpcExpose{
			{Name: "e1", Ips: pfxs("10.0.0.0/24")},
			{Name: "e2", Ips: pfxs("10.0.0.128/25")},
		},
	}
	err := m.Validate()
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindOverlappingPrefixes, cerr.Kind)
}

func TestManifestAllowsOverlapExcludedOnOneSide(t *testing.T) {
	m := &VpcManifest{
		Name: "vpc-a",
		Exposes: []VpcExpose{
			{Name: "e1", Ips: pfxs("10.0.0.0/24"), Nots: pfxs("10.0.0.128/25")},
			{Name: "e2", Ips: pfxs("10.0.0.128/25")},
		},
	}
	require.NoError(t, m.Validate())
}

func TestManifestIgnoresPublicOverlapWithoutNat(t *testing.T) {
	m := &VpcManifest{
		Name: "vpc-a",
		Exposes: []VpcExpose{
			{Name: "e1", Ips: pfxs("10.0.0.0/24"), AsRange: pfxs("100.64.0.0/24")},
			{Name: "e2", Ips: pfxs("10.0.1.0/24"), AsRange: pfxs("100.64.0.0/24")},
		},
	}
	require.NoError(t, m.Validate())
}

func TestVpcTableRejectsDuplicateVni(t *testing.T) {
	tbl := NewVpcTable()
	require.NoError(t, tbl.Add(&Vpc{Name: "a", Id: "id-a", Vni: 100}))
	err := tbl.Add(&Vpc{Name: "b", Id: "id-b", Vni: 100})
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindDuplicateVpcVni, cerr.Kind)
}

func TestVpcTableRejectsVniOutOfRange(t *testing.T) {
	tbl := NewVpcTable()
	err := tbl.Add(&Vpc{Name: "a", Id: "id-a", Vni: 1 << 24})
	require.Error(t, err)
}

func TestOverlayValidateRejectsMissingVpc(t *testing.T) {
	o := NewOverlay()
	require.NoError(t, o.Vpcs.Add(&Vpc{Name: "vpc-a", Id: "id-a", Vni: 10}))
	err := o.Peerings.Add(&VpcPeering{
		Name: "p1",
		Left: VpcManifest{Name: "vpc-a"},
		Right: VpcManifest{Name: "vpc-b"},
	})
	require.NoError(t, err)

	err = o.Validate()
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindNoSuchVpc, cerr.Kind)
}

func TestPeeringTableRejectsDuplicateName(t *testing.T) {
	tbl := NewVpcPeeringTable()
	p := &VpcPeering{Name: "p1", Left: VpcManifest{Name: "a"}, Right: VpcManifest{Name: "b"}}
	require.NoError(t, tbl.Add(p))
	err := tbl.Add(p)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindDuplicateVpcPeeringId, cerr.Kind)
}
