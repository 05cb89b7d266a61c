package bump

import (
	"unsafe"

	"galloc"
	"galloc/memarena"
)

// StackCore is a bump allocator with LIFO save/restore scoping,
// grounded on original_source's stack_allocator_t: a save point
// records the arena position and the live allocation count in the
// returned SavePoint value (nothing is written into the arena), and
// restore asserts that count is unchanged (every allocation made since
// the save has been deallocated) before rewinding the arena's position.
type StackCore struct {
	arena           *memarena.Arena
	allocationCount uint32
}

// SavePoint is an opaque token returned by StackCore.SavePoint.
type SavePoint struct {
	pos   uint32
	count uint32
}

// NewStackCore creates a StackCore managing sizeBytes of memory.
func NewStackCore(sizeBytes uint32) *StackCore {
	return &StackCore{arena: memarena.Reserve(sizeBytes)}
}

// Allocate bumps the cursor by size, aligned to align.
func (c *StackCore) Allocate(size, align uint32) unsafe.Pointer {
	off, ok := c.arena.Commit(size, align)
	if !ok {
		return nil
	}
	c.allocationCount++
	return c.arena.Ptr(off)
}

// Deallocate decrements the live allocation count. It does not reclaim
// arena space directly; space is only reclaimed by RestorePoint/Reset.
func (c *StackCore) Deallocate(ptr unsafe.Pointer) uint32 {
	if ptr == nil {
		return 0
	}
	if c.allocationCount == 0 {
		panic(galloc.ErrUsage)
	}
	c.allocationCount--
	return 0
}

// SavePoint records the current position and live allocation count.
func (c *StackCore) SavePoint() SavePoint {
	return SavePoint{pos: c.arena.Committed(), count: c.allocationCount}
}

// RestorePoint rewinds to a previously recorded SavePoint. It panics
// if any allocation made since the save point has not been freed,
// mirroring the original's ASSERT(m_allocation_count == *allocation_count).
func (c *StackCore) RestorePoint(p SavePoint) {
	if c.allocationCount != p.count {
		panic(galloc.ErrUsage)
	}
	c.arena.Restore(p.pos)
}

// Reset rewinds the whole arena and resets the allocation count.
func (c *StackCore) Reset() {
	c.arena.Reset()
	c.allocationCount = 0
}

// Release discards the backing storage.
func (c *StackCore) Release() { c.arena.Release() }

// AllocationCount returns the number of outstanding allocations.
func (c *StackCore) AllocationCount() uint32 { return c.allocationCount }
