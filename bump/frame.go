package bump

import (
	"unsafe"

	"galloc"
	"galloc/memarena"
)

// FrameCore is a double-buffered bump allocator, grounded directly on
// original_source's frame_allocator_t: two lanes, each holding up to
// max_active_frames in-flight frames; when a lane fills up, the
// allocator switches to the other lane, panicking unless every frame
// on that lane has ended, and then resets that lane's arena itself.
type FrameCore struct {
	lane              [2]*memarena.Arena
	activeFrames      [2]uint32
	endedFrames       [2]uint32
	maxActiveFrames   uint32
	activeLane        int
	frames            [2][]frameRecord
	currentFrame      int32 // index into frames[activeLane], -1 if none
}

type frameRecord struct {
	number          uint32
	numAllocations  uint32
	numDeallocation uint32
	ended           bool
}

// NewFrameCore creates a FrameCore with maxActiveFrames frames per
// lane, each lane backed by a growable arena up to reservedSize bytes.
func NewFrameCore(maxActiveFrames uint32, reservedSize uint32) *FrameCore {
	c := &FrameCore{maxActiveFrames: maxActiveFrames, currentFrame: -1}
	for i := 0; i < 2; i++ {
		c.lane[i] = memarena.Reserve(reservedSize)
		c.frames[i] = make([]frameRecord, maxActiveFrames)
	}
	return c
}

// NewFrame ends the current frame (if any), possibly switching lanes,
// and begins a new one. The returned id encodes the lane in its high
// byte, matching the original's `frame_number | (lane << 24)`.
func (c *FrameCore) NewFrame() uint32 {
	if c.currentFrame >= 0 {
		c.EndFrame()
	}

	if c.activeFrames[c.activeLane] >= c.maxActiveFrames {
		// Mirrors the original source's ASSERT(m_active_lane == 0 ||
		// m_arena[0]->m_pos == 0) literally: the drained-lane check only
		// ever inspects lane 0, regardless of which direction the switch
		// is going.
		if c.activeLane != 0 && c.lane[0].Committed() != 0 {
			panic(galloc.ErrUsage)
		}
		c.activeLane = 1 - c.activeLane
		if c.activeFrames[c.activeLane] == c.endedFrames[c.activeLane] {
			c.activeFrames[c.activeLane] = 0
			c.endedFrames[c.activeLane] = 0
			c.lane[c.activeLane].Reset()
		} else {
			panic(galloc.ErrUsage)
		}
	}

	idx := c.activeFrames[c.activeLane]
	c.frames[c.activeLane][idx] = frameRecord{number: idx}
	c.currentFrame = int32(idx)
	c.activeFrames[c.activeLane]++

	return idx | (uint32(c.activeLane) << 24)
}

// EndFrame marks the current frame as ended.
func (c *FrameCore) EndFrame() bool {
	if c.currentFrame < 0 {
		panic(galloc.ErrUsage)
	}
	f := &c.frames[c.activeLane][c.currentFrame]
	if f.ended {
		panic(galloc.ErrUsage)
	}
	f.ended = true
	c.endedFrames[c.activeLane]++
	c.currentFrame = -1
	return true
}

// ResetFrame marks a previously-ended frame's slot as reusable.
func (c *FrameCore) ResetFrame(frameID uint32) bool {
	lane := int(frameID >> 24)
	number := frameID & 0xffffff
	if lane < 0 || lane > 1 || number >= c.maxActiveFrames {
		return false
	}
	f := &c.frames[lane][number]
	if f.number != number {
		return false
	}
	*f = frameRecord{number: ^uint32(0)}
	return true
}

// Allocate bumps the active lane's arena on behalf of the current
// frame.
func (c *FrameCore) Allocate(size, align uint32) unsafe.Pointer {
	if c.currentFrame < 0 {
		panic(galloc.ErrUsage)
	}
	off, ok := c.lane[c.activeLane].Commit(size, align)
	if !ok {
		return nil
	}
	c.frames[c.activeLane][c.currentFrame].numAllocations++
	return c.lane[c.activeLane].Ptr(off)
}

// Deallocate records a deallocation against the current frame.
func (c *FrameCore) Deallocate(ptr unsafe.Pointer) uint32 {
	if ptr == nil {
		return 0
	}
	if c.currentFrame < 0 {
		panic(galloc.ErrUsage)
	}
	f := &c.frames[c.activeLane][c.currentFrame]
	if f.numAllocations <= f.numDeallocation {
		panic(galloc.ErrUsage)
	}
	f.numDeallocation++
	return 0
}

// Reset brings both lanes back to their initial, empty state.
func (c *FrameCore) Reset() {
	for i := 0; i < 2; i++ {
		c.activeFrames[i] = 0
		c.endedFrames[i] = 0
		c.lane[i].Reset()
		for j := range c.frames[i] {
			c.frames[i][j] = frameRecord{}
		}
	}
	c.activeLane = 0
	c.currentFrame = -1
}

// Release discards both lanes' backing storage.
func (c *FrameCore) Release() {
	c.lane[0].Release()
	c.lane[1].Release()
}
