// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDropGroupIsPermanent(t *testing.T) {
	s := NewFibGroupStore()
	g := s.DropGroupRef()
	require.Equal(t, 1, g.Len())
	s.Delete(DropKey)
	g2 := s.DropGroupRef()
	require.Same(t, g, g2)
}

func TestFanOutUpdateVisibleToAllRoutes(t *testing.T) {
	s := NewFibGroupStore()
	key := WithIfindex(7)
	s.AddOrReplace(key, []FibEntry{{Instructions: []PktInstruction{Local(7)}}})
	groupRef, ok := s.GetRef(key)
	require.True(t, ok)

	const numRoutes = 1000
	routes := make([]*FibRoute, numRoutes)
	for i := range routes {
		r := NewFibRoute()
		r.Append(groupRef)
		routes[i] = r
	}
	for _, r := range routes {
		e, ok := r.GetEntry(0)
		require.True(t, ok)
		require.Equal(t, InstrLocal, e.Instructions[0].Kind)
	}

	// Replace the single group's instructions: every route observes the
	// update without being re-established.
	s.AddOrReplace(key, []FibEntry{
		{Instructions: []PktInstruction{Drop()}},
		{Instructions: []PktInstruction{Drop()}},
		{Instructions: []PktInstruction{Drop()}},
	})
	for _, r := range routes {
		require.Equal(t, 3, r.Len())
		e, ok := r.GetEntry(0)
		require.True(t, ok)
		require.Equal(t, InstrDrop, e.Instructions[0].Kind)
	}
}

func TestFibRouteVirtualIndexProportionalToTotal(t *testing.T) {
	s := NewFibGroupStore()
	kA := WithIfindex(1)
	kB := WithIfindex(2)
	s.AddOrReplace(kA, []FibEntry{
		{Instructions: []PktInstruction{Local(1)}},
		{Instructions: []PktInstruction{Local(1)}},
	})
	s.AddOrReplace(kB, []FibEntry{
		{Instructions: []PktInstruction{Local(2)}},
		{Instructions: []PktInstruction{Local(2)}},
		{Instructions: []PktInstruction{Local(2)}},
	})
	gA, _ := s.GetRef(kA)
	gB, _ := s.GetRef(kB)
	r := NewFibRoute()
	r.Append(gA)
	r.Append(gB)

	require.Equal(t, 5, r.Len())
	e0, _ := r.GetEntry(0)
	require.Equal(t, uint32(1), e0.Instructions[0].Ifindex)
	e2, _ := r.GetEntry(2)
	require.Equal(t, uint32(2), e2.Instructions[0].Ifindex)
	e4, _ := r.GetEntry(4)
	require.Equal(t, uint32(2), e4.Instructions[0].Ifindex)
	_, ok := r.GetEntry(5)
	require.False(t, ok)
}

func TestSelectEntryWrapsBySize(t *testing.T) {
	s := NewFibGroupStore()
	key := WithIfindex(9)
	s.AddOrReplace(key, []FibEntry{
		{Instructions: []PktInstruction{Local(1)}},
		{Instructions: []PktInstruction{Local(2)}},
	})
	g, _ := s.GetRef(key)
	r := NewFibRoute()
	r.Append(g)
	e, err := r.SelectEntry(3)
	require.NoError(t, err)
	require.Equal(t, uint32(2), e.Instructions[0].Ifindex)
}
