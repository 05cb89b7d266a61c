package bump

import (
	"encoding/binary"
	"unsafe"
)

const fwdHeaderSize = 8
const fwdFreeFlag = uint32(1)

// ForwardCore is a ring-buffer bump allocator: allocations advance a
// Head pointer forward through a fixed-capacity byte region; once Head
// reaches the end, it wraps back to the start provided enough space
// has been reclaimed at Begin to fit the new request. Deallocation is
// lazy — a freed chunk is only reclaimed once Begin walks forward and
// reaches it.
type ForwardCore struct {
	buf      []byte
	capacity uint32

	beginOff uint32 // offset of the oldest still-tracked chunk
	headOff  uint32 // offset of the next allocation
	headEnd  uint32 // end of the currently active head lap
}

// NewForwardCore creates a ForwardCore over a fixed capacity.
func NewForwardCore(capacity uint32) *ForwardCore {
	return &ForwardCore{buf: make([]byte, capacity), capacity: capacity, headEnd: capacity}
}

func (c *ForwardCore) header(off uint32) uint32 {
	return binary.LittleEndian.Uint32(c.buf[off : off+4])
}
func (c *ForwardCore) setHeader(off, v uint32) {
	binary.LittleEndian.PutUint32(c.buf[off:off+4], v)
}
func (c *ForwardCore) chunkSize(off uint32) uint32 { return c.header(off) &^ fwdFreeFlag }
func (c *ForwardCore) isFree(off uint32) bool      { return c.header(off)&fwdFreeFlag != 0 }
func (c *ForwardCore) nextOf(off uint32) uint32    { return off + fwdHeaderSize + c.chunkSize(off) }

// Allocate reserves size bytes. Every payload is 8-byte aligned
// relative to the backing buffer; an align above 8 is not honored,
// since ForwardCore chunks are not independently relocatable.
func (c *ForwardCore) Allocate(size, align uint32) unsafe.Pointer {
	if align == 0 {
		align = 1
	}
	need := roundUp8(size) + fwdHeaderSize

	if c.headOff+need > c.headEnd {
		if c.headEnd > c.headOff && c.headEnd-c.headOff >= fwdHeaderSize {
			c.setHeader(c.headOff, (c.headEnd-c.headOff-fwdHeaderSize)|fwdFreeFlag)
			if c.headOff == c.beginOff {
				c.reclaim()
			}
		}
		if need > c.beginOff {
			return nil
		}
		c.headEnd = c.beginOff
		c.headOff = 0
	}

	off := c.headOff
	c.setHeader(off, need-fwdHeaderSize)
	c.headOff += need
	return unsafe.Add(unsafe.Pointer(&c.buf[0]), off+fwdHeaderSize)
}

// Deallocate frees the chunk at ptr. If it is the oldest chunk (Begin),
// Begin walks forward over it and any further consecutive free chunks.
func (c *ForwardCore) Deallocate(ptr unsafe.Pointer) uint32 {
	off := uint32(uintptr(ptr) - uintptr(unsafe.Pointer(&c.buf[0]))) - fwdHeaderSize
	size := c.chunkSize(off)
	c.setHeader(off, size|fwdFreeFlag)
	if off == c.beginOff {
		c.reclaim()
	}
	return size + fwdHeaderSize
}

// reclaim advances Begin past every consecutive free chunk, wrapping
// the whole ring back to its initial state once Begin catches Head.
func (c *ForwardCore) reclaim() {
	for c.beginOff != c.headOff {
		if c.beginOff >= c.headEnd {
			c.beginOff = 0
			if c.beginOff == c.headOff {
				break
			}
		}
		if !c.isFree(c.beginOff) {
			break
		}
		c.beginOff = c.nextOf(c.beginOff)
	}
	if c.beginOff == c.headOff {
		c.beginOff, c.headOff, c.headEnd = 0, 0, c.capacity
	}
}

// WellFormed reports the invariant of spec.md §8 property 6: Head is
// never adjacent to Begin on both sides simultaneously (i.e. the ring
// isn't simultaneously full and empty).
func (c *ForwardCore) WellFormed() bool {
	return !(c.beginOff == c.headOff && c.headEnd != c.capacity && c.headOff != 0)
}

// Release discards the backing storage.
func (c *ForwardCore) Release() { c.buf = nil }

func roundUp8(n uint32) uint32 { return (n + 7) &^ 7 }
