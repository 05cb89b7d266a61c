package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinmapFindFreeAndSetUsed(t *testing.T) {
	m := NewBinmap(8)
	seen := map[uint]bool{}
	for i := 0; i < 8; i++ {
		idx, ok := m.FindFreeAndSetUsed()
		require.True(t, ok)
		require.False(t, seen[idx])
		seen[idx] = true
	}
	_, ok := m.FindFreeAndSetUsed()
	require.False(t, ok, "all 8 slots are used, nothing left to hand out")
}

func TestBinmapRoundTrip(t *testing.T) {
	m := NewBinmap(4)
	idx, ok := m.FindFreeAndSetUsed()
	require.True(t, ok)
	require.True(t, m.FindUsed(idx))
	m.SetFree(idx)
	require.False(t, m.FindUsed(idx))
	require.Equal(t, uint(0), m.Count())
}

func TestBinmapNextUsedUp(t *testing.T) {
	m := NewBinmap(8)
	m.SetUsed(2)
	m.SetUsed(5)
	idx, ok := m.NextUsedUp(0)
	require.True(t, ok)
	require.Equal(t, uint(2), idx)

	idx, ok = m.NextUsedUp(3)
	require.True(t, ok)
	require.Equal(t, uint(5), idx)

	_, ok = m.NextUsedUp(6)
	require.False(t, ok)
}

func TestBinmapLazyMaterializesOnDemand(t *testing.T) {
	m := NewLazyBinmap(1000)
	require.True(t, m.FindFree(999))
	idx, ok := m.FindFreeAndSetUsed()
	require.True(t, ok)
	require.Equal(t, uint(0), idx, "first free slot after lazy init is index 0")
}

func TestDuomapFreeUsedAgree(t *testing.T) {
	d := NewDuomap(4)
	idx, ok := d.FindFreeAndSetUsed()
	require.True(t, ok)
	require.True(t, d.FindUsed(idx))
	require.False(t, d.FindFree(idx))
}
