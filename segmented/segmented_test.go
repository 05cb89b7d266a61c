package segmented

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedScenario(t *testing.T) {
	const minSize = uint32(64)
	const maxSize = 32 * minSize
	const total = uint64(1) << 31

	c := New(minSize, maxSize, total)

	sizes := []uint32{minSize, minSize, 2 * minSize, 4 * minSize, 8 * minSize, 16 * minSize, 32 * minSize}
	wantOffsets := []uint64{0, uint64(minSize), 2 * uint64(minSize), 4 * uint64(minSize), 8 * uint64(minSize), 16 * uint64(minSize), 32 * uint64(minSize)}

	allocs := make([]struct {
		off  uint64
		size uint32
	}, len(sizes))

	for i, s := range sizes {
		off, ok := c.Allocate(s)
		require.True(t, ok, "allocate %d", i)
		require.Equal(t, wantOffsets[i], off, "allocate %d", i)
		allocs[i] = struct {
			off  uint64
			size uint32
		}{off, s}
	}

	for _, a := range allocs {
		c.Deallocate(a.off, a.size)
	}

	require.True(t, c.RootFree())
}

func TestSizeFreeStaysConsistentAcrossAllocateDeallocate(t *testing.T) {
	c := New(32, 1024, 1<<16)
	require.True(t, c.SizeFreeConsistent())

	off, ok := c.Allocate(64)
	require.True(t, ok)
	require.True(t, c.SizeFreeConsistent())

	c.Deallocate(off, 64)
	require.True(t, c.SizeFreeConsistent())
	require.True(t, c.RootFree())
}

func TestAllocateFailsAboveMaxSize(t *testing.T) {
	c := New(16, 256, 4096)
	_, ok := c.Allocate(512)
	require.False(t, ok)
}

func TestAllocateExhaustsCapacity(t *testing.T) {
	c := New(16, 16, 64)
	var offs []uint64
	for i := 0; i < 4; i++ {
		off, ok := c.Allocate(16)
		require.True(t, ok)
		offs = append(offs, off)
	}
	_, ok := c.Allocate(16)
	require.False(t, ok)

	for _, off := range offs {
		c.Deallocate(off, 16)
	}
	require.True(t, c.RootFree())
}
