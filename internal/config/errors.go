// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// Kind enumerates the configuration-validation failure modes named in
// the "Config validation" group.
type Kind int

const (
	KindInconsistentIpVersion Kind = iota
	KindOverlappingPrefixes
	KindOutOfRangeExclusionPrefix
	KindExcludedAllPrefixes
	KindMismatchedPrefixSizes
	KindDuplicateVpcName
	KindDuplicateVpcId
	KindDuplicateVpcVni
	KindInvalidVpcVni
	KindBadVpcId
	KindMissingIdentifier
	KindDuplicateVpcPeeringId
	KindNoSuchVpc
	KindForbidden
)

// Error is the config package's domain error, embedding a Kind alongside
// the ambient *gwerrors.Error it wraps.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, err: gwerrors.Errorf(gwerrors.KindValidation, format, args...)}
}

func errInconsistentIpVersion() error {
	return newErr(KindInconsistentIpVersion, "config: expose mixes IPv4 and IPv6 prefixes")
}

func errOverlappingPrefixes(a, b fmt.Stringer) error {
	return newErr(KindOverlappingPrefixes, "config: overlapping prefixes %s and %s", a, b)
}

func errOutOfRangeExclusionPrefix(p fmt.Stringer) error {
	return newErr(KindOutOfRangeExclusionPrefix, "config: exclusion prefix %s is not covered by any positive prefix", p)
}

func errExcludedAllPrefixes(positive, excluded uint64) error {
	return newErr(KindExcludedAllPrefixes, "config: excluded size %d >= positive size %d", excluded, positive)
}

func errMismatchedPrefixSizes(a, b uint64) error {
	return newErr(KindMismatchedPrefixSizes, "config: MismatchedPrefixSizes(%d, %d)", a, b)
}

func errForbidden(reason string) error {
	return newErr(KindForbidden, "config: forbidden: %s", reason)
}

func errDuplicateVpcName(name string) error {
	return newErr(KindDuplicateVpcName, "config: duplicate vpc name %q", name)
}

func errDuplicateVpcId(id string) error {
	return newErr(KindDuplicateVpcId, "config: duplicate vpc id %q", id)
}

func errDuplicateVpcVni(vni uint32) error {
	return newErr(KindDuplicateVpcVni, "config: duplicate vpc vni %d", vni)
}

func errInvalidVpcVni(vni uint32) error {
	return newErr(KindInvalidVpcVni, "config: vni %d out of range [%d, %d]", vni, MinVni, MaxVni)
}

func errBadVpcId(id string) error {
	return newErr(KindBadVpcId, "config: bad vpc id %q", id)
}

func errMissingIdentifier(what string) error {
	return newErr(KindMissingIdentifier, "config: missing %s", what)
}

func errDuplicateVpcPeeringId(name string) error {
	return newErr(KindDuplicateVpcPeeringId, "config: duplicate vpc peering name %q", name)
}

func errNoSuchVpc(name string) error {
	return newErr(KindNoSuchVpc, "config: no such vpc %q", name)
}
