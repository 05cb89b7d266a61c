// Package segmented implements the power-of-two segmented/buddy-like
// allocator of spec.md §4.4: every size class in `[min_size, max_size]`
// is tracked by its own occupancy bitmap, with split-on-miss and
// merge-on-free buddy policy.
//
// It is grounded on original_source/source/main/cpp/
// c_allocator_segment.cpp for the allocate side (the cascading
// size-bitmap walk and the split loop) and on
// other_examples/…cloudwego-gopkg__unsafex-malloc-buddy.go.go for the
// free side: the original source's segment_alloc_t::deallocate is an
// empty stub ("compute the bit from the offset and size" with no
// body — see spec.md §9's open question), so the buddy-merge policy
// here is filled in from the cloudwego buddy allocator's
// free/coalesce loop, translated onto this module's bit-per-class
// layout. Each size class's occupancy is a bitmap.Binmap (spec.md's
// external bit-vector collaborator) rather than the original's
// hand-rolled three-level u64 cascade: Binmap's NextSet-based find
// scans the class's bitmap word by word from the start, one level deep
// instead of three.
package segmented

import (
	"math/bits"

	"galloc"
	"galloc/bitmap"
)

// Core manages offsets in [0, total) in power-of-two blocks ranging
// from minSize to maxSize.
type Core struct {
	minShift uint
	maxShift uint
	numSizes uint
	total    uint64

	classes  []*bitmap.Binmap // classes[i]: occupancy bitmap for size (1<<(minShift+i)), bit set = free
	sizeFree uint32           // bit i set iff classes[i] has >=1 free cell
}

// New creates a Core over [0, total) with classes for every power of
// two in [minSize, maxSize].
func New(minSize, maxSize uint32, total uint64) *Core {
	if !galloc.IsPowerOfTwo(minSize) || !galloc.IsPowerOfTwo(maxSize) {
		panic(galloc.ErrInvalidArgument)
	}
	minShift := uint(bits.TrailingZeros32(minSize))
	maxShift := uint(bits.TrailingZeros32(maxSize))
	numSizes := maxShift - minShift + 1

	c := &Core{minShift: minShift, maxShift: maxShift, numSizes: numSizes, total: total}
	c.classes = make([]*bitmap.Binmap, numSizes)
	for i := range c.classes {
		cells := total >> (minShift + uint(i))
		c.classes[i] = bitmap.NewBinmapAllUsed(uint(cells))
	}

	// Start state: the whole range is free as maximal blocks, every cell
	// of the top class free, mirroring TLSF/Offset's "one big free
	// node" reset.
	topIdx := numSizes - 1
	c.classes[topIdx].InitAllFree(uint(total >> maxShift))
	c.sizeFree = 1 << topIdx
	return c
}

func (c *Core) classIndex(size uint32) uint {
	shift := uint(32 - bits.LeadingZeros32(size-1))
	if size == 1 {
		shift = 0
	}
	if shift < c.minShift {
		shift = c.minShift
	}
	return shift - c.minShift
}

func (c *Core) classSize(idx uint) uint32 { return uint32(1) << (c.minShift + idx) }

// Allocate reserves size bytes (rounded up to the next size class) and
// returns its offset; ok is false if the request cannot be satisfied.
func (c *Core) Allocate(size uint32) (offset uint64, ok bool) {
	idx := c.classIndex(size)
	if idx >= c.numSizes {
		return 0, false
	}

	mask := c.sizeFree &^ ((1 << idx) - 1)
	if mask == 0 {
		return 0, false
	}
	srcIdx := uint(bits.TrailingZeros32(mask)) // lowest set bit >= idx

	cell, found := c.classes[srcIdx].FindFreeAndSetUsed()
	if !found {
		c.sizeFree &^= 1 << srcIdx
		return 0, false
	}
	if !c.classHasFree(srcIdx) {
		c.sizeFree &^= 1 << srcIdx
	}

	// Split srcIdx down to idx, marking the unused buddy free at each
	// intermediate level.
	for srcIdx > idx {
		srcIdx--
		cell *= 2
		buddy := cell + 1
		c.classes[srcIdx].SetFree(buddy)
		c.sizeFree |= 1 << srcIdx
	}

	return uint64(cell) * uint64(c.classSize(idx)), true
}

func (c *Core) classHasFree(idx uint) bool {
	return c.classes[idx].AnyFree()
}

// Deallocate returns the block at offset, sized size, to the pool,
// merging with its buddy up through as many levels as stay free.
func (c *Core) Deallocate(offset uint64, size uint32) {
	idx := c.classIndex(size)
	cell := uint(offset / uint64(c.classSize(idx)))

	for idx < c.numSizes-1 {
		buddy := cell ^ 1
		if !c.classes[idx].FindFree(buddy) {
			break
		}
		c.classes[idx].SetUsed(buddy)
		if !c.classHasFree(idx) {
			c.sizeFree &^= 1 << idx
		}
		cell /= 2
		idx++
	}
	c.classes[idx].SetFree(cell)
	c.sizeFree |= 1 << idx
}

// RootFree reports whether the top size class currently has a free
// cell — true only when the entire range has been coalesced back to
// one block (spec.md §8 seed scenario).
func (c *Core) RootFree() bool {
	return c.sizeFree&(1<<(c.numSizes-1)) != 0
}

// SizeFreeConsistent reports whether sizeFree agrees with the
// underlying per-class bitmaps (spec.md §8, property 7).
func (c *Core) SizeFreeConsistent() bool {
	for i := uint(0); i < c.numSizes; i++ {
		has := c.classHasFree(i)
		bit := c.sizeFree&(1<<i) != 0
		if has != bit {
			return false
		}
	}
	return true
}
