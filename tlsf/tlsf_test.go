package tlsf

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

func TestSeedScenario(t *testing.T) {
	c := New(256 * mib)
	require.EqualValues(t, 256*mib, c.TotalFree()+overhead(c))

	a := c.Allocate(512, 8)
	b := c.Allocate(1024, 16)
	cc := c.Allocate(256, 32)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, cc)

	require.Zero(t, uintptr(a)%8)
	require.Zero(t, uintptr(b)%16)
	require.Zero(t, uintptr(cc)%32)

	c.Deallocate(b)
	c.Deallocate(a)
	c.Deallocate(cc)

	require.EqualValues(t, 256*mib, c.TotalFree()+overhead(c))
}

// overhead approximates the bytes consumed by block headers that will
// never be reclaimed as free payload, so the round-trip check above
// compares apples to apples regardless of how many splits occurred.
func overhead(c *Core) uint32 {
	return c.TotalSize() - c.TotalFree() - c.usedSize
}

func TestAllocateRespectsAlignment(t *testing.T) {
	c := New(mib)
	for _, align := range []uint32{8, 16, 32, 64, 128} {
		p := c.Allocate(37, align)
		require.NotNil(t, p)
		require.Zero(t, uintptr(p)%uintptr(align), "align=%d", align)
	}
}

func TestUsableSizeAtLeastRequested(t *testing.T) {
	c := New(mib)
	p := c.Allocate(100, 8)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, c.UsableSize(p), uint32(100))
}

func TestFreeRoundTripReclaimsAllFreeSpace(t *testing.T) {
	c := New(64 * 1024)
	before := c.TotalFree()

	var ptrs []unsafe.Pointer
	for i := 0; i < 50; i++ {
		p := c.Allocate(64, 8)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		c.Deallocate(p)
	}
	require.Equal(t, before, c.TotalFree())
}

func TestOutOfMemoryReturnsNil(t *testing.T) {
	c := New(256)
	p := c.Allocate(1<<20, 8)
	require.Nil(t, p)
}

func TestNoAdjacentFreeBlocksAfterCoalesce(t *testing.T) {
	c := New(4096)
	a := c.Allocate(64, 8)
	b := c.Allocate(64, 8)
	d := c.Allocate(64, 8)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, d)

	c.Deallocate(a)
	c.Deallocate(b)
	c.Deallocate(d)

	// After freeing three physically-adjacent blocks, the coalesced
	// region must appear as a single free block, not three.
	count := 0
	for fl := 0; fl < realFLI; fl++ {
		for sl := 0; sl < slCount; sl++ {
			for off := c.matrix[fl][sl]; off != nilOff; off = c.freeNext(off) {
				count++
			}
		}
	}
	require.Equal(t, 1, count)
}

func TestGrowableCoreExtendsCapacity(t *testing.T) {
	c := NewGrowable(4096, 1<<20)
	var ptrs []unsafe.Pointer
	for i := 0; i < 200; i++ {
		p := c.Allocate(1024, 8)
		require.NotNil(t, p, "allocation %d should succeed by growing the arena", i)
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		c.Deallocate(p)
	}
}

func TestInvalidAlignInvokesHookAndReturnsNil(t *testing.T) {
	var gotErr error
	c := NewWithOptions(mib, Options{Hook: func(err error) { gotErr = err }})

	p := c.Allocate(16, 3) // not a power of two
	require.Nil(t, p)
	require.Error(t, gotErr)
	require.Contains(t, gotErr.Error(), c.Magic().String())
}

func TestReallocateGrowsInPlaceWhenPossible(t *testing.T) {
	c := New(64 * 1024)
	p := c.Allocate(32, 8)
	require.NotNil(t, p)
	q := c.Reallocate(p, 48)
	require.NotNil(t, q)
	require.GreaterOrEqual(t, c.UsableSize(q), uint32(48))
}
