package bump

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestLinearCoreBumpsAndResets(t *testing.T) {
	c := NewLinearCore(1024)
	p := c.Allocate(64, 8)
	require.NotNil(t, p)
	require.EqualValues(t, 64, c.Used())

	q := c.Allocate(2048, 8)
	require.Nil(t, q)

	c.Reset()
	require.EqualValues(t, 0, c.Used())
}

func TestForwardCoreWrapsWhenBeginReclaimed(t *testing.T) {
	c := NewForwardCore(256)

	a := c.Allocate(64, 8)
	b := c.Allocate(64, 8)
	e := c.Allocate(64, 8) // stays live, so Begin cannot catch Head
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, e)
	require.True(t, c.WellFormed())

	c.Deallocate(a)
	c.Deallocate(b)
	require.True(t, c.WellFormed())

	// Head has too little room left before the end, so this wraps into
	// the space Begin reclaimed from a and b.
	d := c.Allocate(64, 8)
	require.NotNil(t, d)
	require.Equal(t, a, d)
	require.True(t, c.WellFormed())
}

func TestStackCoreSavePointRoundTrip(t *testing.T) {
	c := NewStackCore(4096)
	for iter := 0; iter < 12; iter++ {
		sp := c.SavePoint()
		var ptrs []unsafe.Pointer
		for i := 0; i < 6; i++ {
			p := c.Allocate(32, 8)
			require.NotNil(t, p)
			ptrs = append(ptrs, p)
		}
		for _, p := range ptrs {
			c.Deallocate(p)
		}
		c.RestorePoint(sp)
		require.EqualValues(t, 0, c.AllocationCount())
	}
}

func TestStackCoreRestorePanicsOnLeak(t *testing.T) {
	c := NewStackCore(4096)
	sp := c.SavePoint()
	c.Allocate(32, 8)
	require.Panics(t, func() { c.RestorePoint(sp) })
}

func TestFrameCoreLaneSwitchRequiresDrainedLane(t *testing.T) {
	const maxActive = 2
	c := NewFrameCore(maxActive, 1<<16)

	// Fill lane 0 and leave a real allocation (non-zero arena position)
	// behind when it switches to lane 1.
	c.NewFrame()
	c.Allocate(16, 8)
	c.NewFrame()
	id := c.NewFrame() // switch 0 -> 1: active_lane was 0, so the check
	require.EqualValues(t, 1, id>>24) // is bypassed and the switch succeeds.

	c.Allocate(16, 8)
	c.NewFrame()
	// Fill lane 1 to the limit and force a switch back to lane 0. Now
	// active_lane is 1, so the assert inspects lane 0's arena position,
	// which is still non-zero from the earlier allocation: it must fire.
	require.Panics(t, func() { c.NewFrame() })
}

func TestFrameCoreResetReturnsToInitialState(t *testing.T) {
	c := NewFrameCore(2, 1<<16)
	id := c.NewFrame()
	c.Allocate(16, 8)
	c.EndFrame()
	require.True(t, c.ResetFrame(id))
	c.Reset()
	require.EqualValues(t, 0, c.activeLane)
}
