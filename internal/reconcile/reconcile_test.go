// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reconcile

import (
	"io"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/gwcore/internal/logging"
)

// fakeKernel realizes requirements in an in-memory link table.
type fakeKernel struct {
	links   map[string]Observed
	nextIdx int

	createErr map[string]error
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{links: make(map[string]Observed), createErr: make(map[string]error)}
}

func (f *fakeKernel) Observe() ([]Observed, error) {
	out := make([]Observed, 0, len(f.links))
	for _, o := range f.links {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeKernel) Create(req Requirement) error {
	if err := f.createErr[req.Name]; err != nil {
		return err
	}
	f.nextIdx++
	f.links[req.Name] = Observed{
		Name: req.Name, Kind: req.Kind, Index: f.nextIdx,
		TableId: req.TableId, Vni: req.Vni, LocalIP: req.LocalIP,
		Master: req.Master, Up: true,
	}
	return nil
}

func (f *fakeKernel) Update(req Requirement, got Observed) error {
	got.Master = req.Master
	got.Up = true
	got.TableId = req.TableId
	got.Vni = req.Vni
	got.LocalIP = req.LocalIP
	f.links[req.Name] = got
	return nil
}

func (f *fakeKernel) Remove(name string) error {
	delete(f.links, name)
	return nil
}

func testLogger() *logging.Logger { return logging.New(io.Discard, logging.LevelError) }

func declaredSet() []Requirement {
	return []Requirement{
		{Name: "vrf-tenant", Kind: KindVrf, TableId: 1010},
		{Name: "br-tenant", Kind: KindBridge, Master: "vrf-tenant"},
		{Name: "vtep-tenant", Kind: KindVtep, Vni: 3000, LocalIP: netip.MustParseAddr("10.200.0.1"), Master: "br-tenant"},
	}
}

func TestStepCreatesMissingLinks(t *testing.T) {
	k := newFakeKernel()
	r := New(k, testLogger())
	r.SetDeclared(declaredSet())

	plan, err := r.Step()
	require.NoError(t, err)
	require.Len(t, plan.Creates, 3)
	require.Empty(t, plan.Updates)
	require.Empty(t, plan.Removes)
	require.Len(t, k.links, 3)
	require.Equal(t, uint32(3000), k.links["vtep-tenant"].Vni)
	require.Equal(t, "br-tenant", k.links["vtep-tenant"].Master)
}

func TestStepIsIdempotentOnceConverged(t *testing.T) {
	k := newFakeKernel()
	r := New(k, testLogger())
	r.SetDeclared(declaredSet())

	_, err := r.Step()
	require.NoError(t, err)

	plan, err := r.Step()
	require.NoError(t, err)
	require.True(t, plan.Empty())
}

func TestStepRepairsDriftedAssociation(t *testing.T) {
	k := newFakeKernel()
	r := New(k, testLogger())
	r.SetDeclared(declaredSet())
	_, err := r.Step()
	require.NoError(t, err)

	// Someone unslaved the bridge and downed the VTEP behind our back.
	br := k.links["br-tenant"]
	br.Master = ""
	k.links["br-tenant"] = br
	vtep := k.links["vtep-tenant"]
	vtep.Up = false
	k.links["vtep-tenant"] = vtep

	plan, err := r.Step()
	require.NoError(t, err)
	require.Len(t, plan.Updates, 2)
	require.Equal(t, "vrf-tenant", k.links["br-tenant"].Master)
	require.True(t, k.links["vtep-tenant"].Up)
}

func TestStepRemovesUndeclaredOwnedLinks(t *testing.T) {
	k := newFakeKernel()
	r := New(k, testLogger())
	r.SetDeclared(declaredSet())
	_, err := r.Step()
	require.NoError(t, err)

	// The tenant is torn down: only the VRF remains declared.
	r.SetDeclared(declaredSet()[:1])
	plan, err := r.Step()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"br-tenant", "vtep-tenant"}, plan.Removes)
	require.Len(t, k.links, 1)
}

func TestStepLeavesForeignLinksAlone(t *testing.T) {
	k := newFakeKernel()
	// A vxlan device this reconciler never declared.
	k.links["vtep-other"] = Observed{Name: "vtep-other", Kind: KindVtep, Vni: 9999, Up: true}

	r := New(k, testLogger())
	r.SetDeclared(declaredSet())
	plan, err := r.Step()
	require.NoError(t, err)
	require.Empty(t, plan.Removes)
	require.Contains(t, k.links, "vtep-other")
}

func TestStepContinuesPastFailedCreate(t *testing.T) {
	k := newFakeKernel()
	k.createErr["br-tenant"] = io.ErrClosedPipe

	r := New(k, testLogger())
	r.SetDeclared(declaredSet())
	_, err := r.Step()
	require.NoError(t, err)

	// The failing link is retried next cycle; the others exist already.
	require.Contains(t, k.links, "vrf-tenant")
	require.Contains(t, k.links, "vtep-tenant")
	require.NotContains(t, k.links, "br-tenant")

	delete(k.createErr, "br-tenant")
	plan, err := r.Step()
	require.NoError(t, err)
	require.Len(t, plan.Creates, 1)
	require.Contains(t, k.links, "br-tenant")
}
