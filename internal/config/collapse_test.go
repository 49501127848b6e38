// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/gwcore/internal/prefix"
)

func pfxs(ss ...string) []prefix.Prefix {
	out := make([]prefix.Prefix, len(ss))
	for i, s := range ss {
		out[i] = prefix.MustParse(s)
	}
	return out
}

func TestCollapseScenario1(t *testing.T) {
	got, err := collapsePrefixList(pfxs("10.0.0.0/16"), pfxs("10.0.1.0/24"))
	require.NoError(t, err)

	want := pfxs(
		"10.0.0.0/24", "10.0.2.0/23", "10.0.4.0/22", "10.0.8.0/21",
		"10.0.16.0/20", "10.0.32.0/19", "10.0.64.0/18", "10.0.128.0/17",
	)
	require.ElementsMatch(t, want, got)
}

func TestCollapseFullRangeMinusHost(t *testing.T) {
	got, err := collapsePrefixList(pfxs("0.0.0.0/0"), pfxs("0.0.0.0/32"))
	require.NoError(t, err)
	require.Len(t, got, 32)
	require.NoError(t, noOverlap(got))
}

func TestCollapseNoOverlapInvariant(t *testing.T) {
	got, err := collapsePrefixList(pfxs("172.16.0.0/12"), pfxs("172.16.4.0/22", "172.20.0.0/16"))
	require.NoError(t, err)
	require.NoError(t, noOverlap(got))
}

func TestCollapseIsEquivalentToSetDifference(t *testing.T) {
	positive := pfxs("10.0.0.0/16")
	exclude := pfxs("10.0.1.0/24")
	collapsed, err := collapsePrefixList(positive, exclude)
	require.NoError(t, err)

	inPositive := func(addr string) bool {
		a := prefix.MustParse(addr + "/32")
		for _, p := range positive {
			if p.Contains(a.Addr()) {
				return true
			}
		}
		return false
	}
	inExclude := func(addr string) bool {
		a := prefix.MustParse(addr + "/32")
		for _, p := range exclude {
			if p.Contains(a.Addr()) {
				return true
			}
		}
		return false
	}
	inCollapsed := func(addr string) bool {
		a := prefix.MustParse(addr + "/32")
		for _, p := range collapsed {
			if p.Contains(a.Addr()) {
				return true
			}
		}
		return false
	}

	for _, addr := range []string{"10.0.0.1", "10.0.1.1", "10.0.2.1", "10.0.255.254"} {
		want := inPositive(addr) && !inExclude(addr)
		require.Equal(t, want, inCollapsed(addr), "address %s", addr)
	}
}

func TestExposeValidateRejectsSizeMismatch(t *testing.T) {
	e := &VpcExpose{
		Ips:     pfxs("10.0.0.0/16"),
		Nots:    pfxs("10.0.1.0/24"),
		AsRange: pfxs("2.0.0.0/24"),
	}
	err := e.Validate()
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindMismatchedPrefixSizes, cerr.Kind)
}

func TestExposeValidateAcceptsWellFormed(t *testing.T) {
	e := &VpcExpose{
		Ips:     pfxs("10.0.0.0/24"),
		AsRange: pfxs("100.64.1.0/24"),
		Mode:    NatStateless,
	}
	require.NoError(t, e.Validate())
}

func TestExposeValidateRejectsUncoveredExclusion(t *testing.T) {
	e := &VpcExpose{
		Ips:  pfxs("10.0.0.0/24"),
		Nots: pfxs("10.0.1.0/28"),
	}
	err := e.Validate()
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindOutOfRangeExclusionPrefix, cerr.Kind)
}

func TestExposeValidateRejectsMixedFamily(t *testing.T) {
	e := &VpcExpose{
		Ips: pfxs("10.0.0.0/24", "2001:db8::/64"),
	}
	err := e.Validate()
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindInconsistentIpVersion, cerr.Kind)
}
