// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"sort"

	"github.com/grimm-is/gwcore/internal/prefix"
)

// applyExclude returns prefix.Prefix(p) \ e as a minimal set of
// non-overlapping prefixes, by iteratively splitting p toward e and
// keeping, at each step, the half that does not contain e.
func applyExclude(p, e prefix.Prefix) ([]prefix.Prefix, error) {
	var result []prefix.Prefix
	current := p
	for current.Len() < e.Len() {
		lo, hi, err := current.Split()
		if err != nil {
			return nil, err
		}
		if lo.Covers(e) {
			result = append(result, hi)
			current = lo
		} else {
			result = append(result, lo)
			current = hi
		}
	}
	return result, nil
}

// collapsePrefixList computes (positive \ exclude) as a flat set of
// non-overlapping prefixes. exclude is sorted ascending by length before
// processing so shorter (broader) exclusions are applied before narrower
// ones nested within them.
func collapsePrefixList(positive, exclude []prefix.Prefix) ([]prefix.Prefix, error) {
	sorted := append([]prefix.Prefix{}, exclude...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Len() < sorted[j].Len() })

	s := append([]prefix.Prefix{}, positive...)
	for _, e := range sorted {
		var next []prefix.Prefix
		for _, p := range s {
			switch {
			case e.Covers(p):
				// p is entirely excluded; drop it.
			case p.Covers(e):
				split, err := applyExclude(p, e)
				if err != nil {
					return nil, err
				}
				next = append(next, split...)
			default:
				next = append(next, p)
			}
		}
		s = next
	}
	return s, nil
}

// CollapseExpose applies collapsePrefixList to an expose's private and
// public prefix sets, used by the NAT compiler.
func CollapseExpose(e *VpcExpose) (privatePositive []prefix.Prefix, publicPositive []prefix.Prefix, err error) {
	privatePositive, err = collapsePrefixList(e.Ips, e.Nots)
	if err != nil {
		return nil, nil, err
	}
	publicPositive, err = collapsePrefixList(e.PublicIps(), e.PublicExcludes())
	if err != nil {
		return nil, nil, err
	}
	return privatePositive, publicPositive, nil
}

func sumSize(ps []prefix.Prefix) uint64 {
	var total uint64
	for _, p := range ps {
		total += p.Size()
	}
	return total
}

func noOverlap(ps []prefix.Prefix) error {
	sorted := append([]prefix.Prefix{}, ps...)
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].Addr().Compare(sorted[j].Addr()); c != 0 {
			return c < 0
		}
		return sorted[i].Len() < sorted[j].Len()
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Overlaps(sorted[i]) {
			return errOverlappingPrefixes(sorted[i-1], sorted[i])
		}
	}
	return nil
}

func consistentIpVersion(sets ...[]prefix.Prefix) error {
	var sawV4, sawV6 bool
	for _, set := range sets {
		for _, p := range set {
			if p.Is4() {
				sawV4 = true
			} else {
				sawV6 = true
			}
		}
	}
	if sawV4 && sawV6 {
		return errInconsistentIpVersion()
	}
	return nil
}

func everyExclusionCovered(positive, exclude []prefix.Prefix) error {
	if len(positive) == 0 {
		return nil
	}
	for _, e := range exclude {
		covered := false
		for _, p := range positive {
			if p.Covers(e) {
				covered = true
				break
			}
		}
		if !covered {
			return errOutOfRangeExclusionPrefix(e)
		}
	}
	return nil
}

func sizesConsistent(positive, exclude []prefix.Prefix) error {
	ps := sumSize(positive)
	es := sumSize(exclude)
	if ps == 0 {
		return nil
	}
	if ps <= es {
		return errExcludedAllPrefixes(ps, es)
	}
	return nil
}

func forbidEmptyPositiveWithExclusions(positive, exclude []prefix.Prefix, side string) error {
	if len(positive) == 0 && len(exclude) > 0 {
		return errForbidden(side + ": empty positive set with non-empty exclusions")
	}
	return nil
}

// Validate checks a VpcExpose's invariants: consistent IP version, no
// overlapping prefixes per set, every exclusion covered, excluded sizes
// strictly below positive sizes, no exclusions on an empty set, and
// matching collapsed sizes between the private and public sides when a
// public range is present.
func (e *VpcExpose) Validate() error {
	if err := consistentIpVersion(e.Ips, e.Nots, e.AsRange, e.NotAs); err != nil {
		return err
	}
	for _, set := range [][]prefix.Prefix{e.Ips, e.Nots, e.AsRange, e.NotAs} {
		if err := noOverlap(set); err != nil {
			return err
		}
	}
	if err := everyExclusionCovered(e.Ips, e.Nots); err != nil {
		return err
	}
	if err := everyExclusionCovered(e.AsRange, e.NotAs); err != nil {
		return err
	}
	if err := sizesConsistent(e.Ips, e.Nots); err != nil {
		return err
	}
	if err := sizesConsistent(e.AsRange, e.NotAs); err != nil {
		return err
	}
	if err := forbidEmptyPositiveWithExclusions(e.Ips, e.Nots, "private"); err != nil {
		return err
	}
	if err := forbidEmptyPositiveWithExclusions(e.AsRange, e.NotAs, "public"); err != nil {
		return err
	}
	if len(e.AsRange) > 0 {
		// A public range must cover exactly as many addresses as the
		// private set it translates, after exclusions on both sides.
		private, public, err := CollapseExpose(e)
		if err != nil {
			return err
		}
		if ps, qs := sumSize(private), sumSize(public); ps != qs {
			return errMismatchedPrefixSizes(ps, qs)
		}
	}
	return nil
}
