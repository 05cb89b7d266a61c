package dlmalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAllocateFreeRoundTrip(t *testing.T) {
	c := New(1 << 20)
	before := c.TotalFree()

	var ptrs []unsafe.Pointer
	for i := 0; i < 100; i++ {
		p := c.Allocate(64, 8)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		c.Deallocate(p)
	}
	require.Equal(t, before, c.TotalFree())
}

func TestSmallAndTreeBinsBothServeRequests(t *testing.T) {
	c := New(4 << 20)
	small := c.Allocate(32, 8)
	large := c.Allocate(4096, 8)
	require.NotNil(t, small)
	require.NotNil(t, large)
	require.GreaterOrEqual(t, c.UsableSize(small), uint32(32))
	require.GreaterOrEqual(t, c.UsableSize(large), uint32(4096))
	c.Deallocate(small)
	c.Deallocate(large)
}

func TestOutOfMemoryWithoutSysAllocReturnsNil(t *testing.T) {
	c := New(256)
	p := c.Allocate(1<<20, 8)
	require.Nil(t, p)
}

func TestSysAllocGrowsOnDemand(t *testing.T) {
	grown := false
	c := NewWithOptions(256, Options{
		SysAlloc: func(minBytes uint32) ([]byte, bool) {
			grown = true
			return make([]byte, minBytes), true
		},
	})
	p := c.Allocate(4096, 8)
	require.NotNil(t, p)
	require.True(t, grown)
}

func TestInvalidAlignInvokesHookAndReturnsNil(t *testing.T) {
	var gotErr error
	c := NewWithOptions(4096, Options{Hook: func(err error) { gotErr = err }})

	p := c.Allocate(16, 1024) // exceeds the alignment floor
	require.Nil(t, p)
	require.Error(t, gotErr)
	require.Contains(t, gotErr.Error(), c.Magic().String())
}

func TestCoalesceOfThreeAdjacentChunks(t *testing.T) {
	c := New(4096)
	a := c.Allocate(64, 8)
	b := c.Allocate(64, 8)
	d := c.Allocate(64, 8)
	before := c.TotalFree()
	_ = before

	c.Deallocate(a)
	c.Deallocate(b)
	c.Deallocate(d)

	after := c.TotalFree()
	require.Greater(t, after, before)
}

func TestReallocateGrowsInPlaceIntoTop(t *testing.T) {
	c := New(1 << 20)
	p := c.Allocate(32, 8)
	require.NotNil(t, p)
	before := c.TotalFree()

	q := c.Reallocate(p, 256)
	require.Equal(t, p, q, "growing into top must not move the payload")
	require.GreaterOrEqual(t, c.UsableSize(q), uint32(256))
	require.Less(t, c.TotalFree(), before)
}

func TestReallocateCopiesDataWhenItMustMove(t *testing.T) {
	c := New(1 << 20)
	a := c.Allocate(32, 8)
	b := c.Allocate(32, 8) // pins a's physical successor as in-use
	require.NotNil(t, a)
	require.NotNil(t, b)

	src := unsafe.Slice((*byte)(a), 32)
	for i := range src {
		src[i] = byte(i)
	}

	q := c.Reallocate(a, 4096)
	require.NotNil(t, q)
	require.NotEqual(t, a, q)

	got := unsafe.Slice((*byte)(q), 32)
	for i := range got {
		require.Equal(t, byte(i), got[i])
	}

	c.Deallocate(b)
	c.Deallocate(q)
}

func TestReleaseChecksReclaimsIdleExternalSegment(t *testing.T) {
	var freedSegs int
	c := NewWithOptions(1<<16, Options{
		SysFree: func(seg []byte) { freedSegs++ },
	})
	c.addSegment(make([]byte, 4096), true) // pristine external segment, never allocated from

	for i := 0; i < releaseCheckRate; i++ {
		p := c.Allocate(1024, 8)
		require.NotNil(t, p, "iteration %d", i)
		c.Deallocate(p)
	}

	require.Equal(t, 1, freedSegs)
}
