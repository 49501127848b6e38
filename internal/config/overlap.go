// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import "github.com/grimm-is/gwcore/internal/prefix"

// excludedCovers reports whether some prefix in excludes fully covers
// region, meaning the overlap inside region is not actually present on
// that side's effective address set.
func excludedCovers(excludes []prefix.Prefix, region prefix.Prefix) bool {
	for _, e := range excludes {
		if e.Covers(region) {
			return true
		}
	}
	return false
}

// checkPrefixSetsDontOverlap implements the cross-expose overlap check:
// for every colliding pair between aPositive and bPositive, the smaller
// (more specific) of the two is the intersection; if neither side's
// exclusion set fully covers that intersection, the two sides genuinely
// contend for the same addresses.
//
// validate_overlapping: that implementation sums an explicit union of
// qualifying exclusion prefixes and compares its size against the
// intersection's size. Because a qualifying exclusion prefix (one that
// covers the intersection) always has size >= the intersection's size,
// "the union is smaller than the intersection" reduces exactly to "no
// qualifying exclusion exists on either side" — the equivalent, simpler
// check implemented here.
func checkPrefixSetsDontOverlap(aPositive, aExclude, bPositive, bExclude []prefix.Prefix) error {
	for _, pa := range aPositive {
		for _, pb := range bPositive {
			if !pa.Overlaps(pb) {
				continue
			}
			intersection := pa
			if pb.Len() > pa.Len() {
				intersection = pb
			}
			if excludedCovers(aExclude, intersection) || excludedCovers(bExclude, intersection) {
				continue
			}
			return errOverlappingPrefixes(pa, pb)
		}
	}
	return nil
}

// checkExposePairDontCollide implements VpcManifest's cross-expose rule:
// private prefix sets must never overlap; public prefix sets must not
// overlap either, but only when at least one of the two exposes performs
// NAT (an expose with no NAT has no public address footprint to contend
// over).
func checkExposePairDontCollide(a, b *VpcExpose) error {
	if err := checkPrefixSetsDontOverlap(a.Ips, a.Nots, b.Ips, b.Nots); err != nil {
		return err
	}
	if a.HasNat() || b.HasNat() {
		if err := checkPrefixSetsDontOverlap(a.PublicIps(), a.PublicExcludes(), b.PublicIps(), b.PublicExcludes()); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every expose in the manifest individually, then every
// pair of exposes for private/public prefix collisions.
func (m *VpcManifest) Validate() error {
	for i := range m.Exposes {
		if err := m.Exposes[i].Validate(); err != nil {
			return err
		}
	}
	for i := 0; i < len(m.Exposes); i++ {
		for j := i + 1; j < len(m.Exposes); j++ {
			if err := checkExposePairDontCollide(&m.Exposes[i], &m.Exposes[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks both sides of a peering independently.
func (p *VpcPeering) Validate() error {
	if p.Name == "" {
		return errMissingIdentifier("peering name")
	}
	if err := p.Left.Validate(); err != nil {
		return err
	}
	return p.Right.Validate()
}
