package offset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

func TestSeedScenario(t *testing.T) {
	a := New(256*mib, 256+8)

	allocs := make([]Allocation, 256)
	for i := 0; i < 256; i++ {
		alloc := a.Allocate(1 * mib)
		require.NotEqual(t, NoSpace, alloc.Metadata, "alloc %d", i)
		require.EqualValues(t, uint32(i)*mib, alloc.Offset, "alloc %d", i)
		allocs[i] = alloc
	}

	freeIdx := []int{243, 5, 123, 95, 151, 152, 153, 154}
	for _, i := range freeIdx {
		a.Free(allocs[i])
	}

	for _, i := range []int{243, 5, 123, 95} {
		alloc := a.Allocate(1 * mib)
		require.NotEqual(t, NoSpace, alloc.Metadata)
		allocs[i] = alloc
	}
	alloc := a.Allocate(4 * mib)
	require.NotEqual(t, NoSpace, alloc.Metadata)
	allocs[151] = alloc

	a.Reset()
	full := a.Allocate(256 * mib)
	require.NotEqual(t, NoSpace, full.Metadata)
	require.EqualValues(t, 0, full.Offset)
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	a := New(1024, 16)
	before := a.StorageReport().TotalFreeSpace

	x := a.Allocate(100)
	require.NotEqual(t, NoSpace, x.Metadata)
	y := a.Allocate(200)
	require.NotEqual(t, NoSpace, y.Metadata)

	a.Free(x)
	a.Free(y)

	require.Equal(t, before, a.StorageReport().TotalFreeSpace)
}

func TestOutOfSpaceReturnsNoSpace(t *testing.T) {
	a := New(64, 4)
	x := a.Allocate(1000)
	require.Equal(t, uint32(NoSpace), x.Metadata)
}

func TestOutOfNodesReturnsNoSpace(t *testing.T) {
	// One node per live allocation plus one for the trailing free
	// remainder: two allocations that each leave a remainder need three.
	a := New(1024, 3)
	x := a.Allocate(10)
	require.NotEqual(t, NoSpace, x.Metadata)
	y := a.Allocate(10)
	require.NotEqual(t, NoSpace, y.Metadata)
	z := a.Allocate(10)
	require.Equal(t, uint32(NoSpace), z.Metadata)
}

func TestAllocationSizeTracksRequestedSize(t *testing.T) {
	a := New(1024, 8)
	x := a.Allocate(37)
	require.EqualValues(t, 37, a.AllocationSize(x))
}

func TestDoubleFreePanics(t *testing.T) {
	a := New(1024, 8)
	x := a.Allocate(10)
	a.Free(x)
	require.Panics(t, func() { a.Free(x) })
}

func TestDoubleFreeInvokesHookBeforePanicking(t *testing.T) {
	var gotErr error
	a := NewWithOptions(1024, 8, Options{Hook: func(err error) { gotErr = err }})
	x := a.Allocate(10)
	a.Free(x)
	require.Panics(t, func() { a.Free(x) })
	require.Error(t, gotErr)
	require.Contains(t, gotErr.Error(), a.Magic().String())
}
