// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package prefix

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"10.0.0.0/16", "0.0.0.0/0", "10.0.1.0/24", "2001:db8::/32", "::/0"} {
		p, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, s, p.String())
	}
}

func TestParseRejectsHostBits(t *testing.T) {
	_, err := Parse("10.0.0.1/24")
	require.Error(t, err)
}

func TestRootCoversEverything(t *testing.T) {
	p := MustParse("10.1.2.0/24")
	require.True(t, Root4.Covers(p))
	require.True(t, p.Covers(p))
}

func TestCoversRequiresShorterOrEqualLength(t *testing.T) {
	a := MustParse("10.0.0.0/16")
	b := MustParse("10.0.1.0/24")
	require.True(t, a.Covers(b))
	require.False(t, b.Covers(a))
}

func TestSize(t *testing.T) {
	require.Equal(t, uint64(65536), MustParse("10.0.0.0/16").Size())
	require.Equal(t, uint64(256), MustParse("10.0.1.0/24").Size())
}

func TestSplitProducesEqualNonOverlappingHalves(t *testing.T) {
	p := MustParse("10.0.0.0/24")
	lo, hi, err := p.Split()
	require.NoError(t, err)
	require.Equal(t, "10.0.0.0/25", lo.String())
	require.Equal(t, "10.0.0.128/25", hi.String())
	require.False(t, lo.Overlaps(hi))
	require.True(t, p.Covers(lo))
	require.True(t, p.Covers(hi))
}

func TestSplitHostPrefixErrors(t *testing.T) {
	p := MustParse("10.0.0.1/32")
	_, _, err := p.Split()
	require.Error(t, err)
}

func TestOffsetAndAddOffsetRoundTrip(t *testing.T) {
	base := netip.MustParseAddr("10.0.0.0")
	addr := netip.MustParseAddr("10.0.0.42")
	off := MustParse("10.0.0.0/24").Offset(addr)
	require.Equal(t, uint64(42), off)

	got, err := AddOffset(base, off)
	require.NoError(t, err)
	require.Equal(t, addr, got)
}
