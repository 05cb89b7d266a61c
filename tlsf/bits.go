package tlsf

import "math/bits"

// Two-level segregated fit sizing constants (spec.md §3.2).
//
// The teacher (warawara28-tlsf-go) hand-rolled an msb/lsb lookup table
// tuned to a 32-bit small-block threshold of 128 with 32 second-level
// bins; this module follows spec.md §3.2 literally (SL_COUNT = 16) and
// replaces the lookup table with math/bits, the same stdlib bit-trick
// package the retrieval pack's cloudwego-gopkg buddy allocator reaches
// for (other_examples/…cloudwego-gopkg__unsafex-malloc-buddy.go.go) —
// there is no third-party bit-twiddling library in the pack, and
// math/bits is the precise stdlib primitive for this, so no corpus
// library is being passed over here (see DESIGN.md).
const (
	log2SLI = 4
	slCount = 1 << log2SLI // 16

	smallBlockSize = 256 // below this, fl is always 0
	fliOffset      = 7   // msb(smallBlockSize) - 1, keeps fl contiguous across the small/large boundary

	maxFLI  = 32
	realFLI = maxFLI - fliOffset // 25 first-level classes

	alignFloor   = 8
	headerSize   = 8 // sizeAndFlags (u32) + prevPhysical (u32)
	backptrSize  = 4 // back-pointer to the block header, stored just before the returned ptr
	minBlockSize = 8 // payload reserved for intrusive free-list links (nextFree, prevFree)

	nilOff = ^uint32(0)

	flagFree     = uint32(1)
	flagPrevFree = uint32(2)
	flagMask     = flagFree | flagPrevFree
)

func roundUp(size, align uint32) uint32   { return (size + align - 1) &^ (align - 1) }
func roundDown(size, align uint32) uint32 { return size &^ (align - 1) }

// msb returns the index of the highest set bit (floor(log2(size))).
// size must be non-zero.
func msb(size uint32) uint32 {
	return uint32(31 - bits.LeadingZeros32(size))
}

// lsb returns the index of the lowest set bit of a non-zero bitmap.
func lsb(bitmap uint32) uint32 {
	return uint32(bits.TrailingZeros32(bitmap))
}

// determineLevels maps an already block-sized (rounded, non-ceiled)
// payload size to its (fl, sl) free-list coordinates.
func determineLevels(size uint32) (fl, sl uint32) {
	if size < smallBlockSize {
		return 0, size / (smallBlockSize / slCount)
	}
	f := msb(size)
	s := (size >> (f - log2SLI)) - slCount
	return f - fliOffset, s
}

// selectLevelsAndSize ceil-rounds size up to the next size class and
// returns the rounded size together with its (fl, sl) coordinates, so
// that any free block found at (fl, sl) or later is guaranteed to
// satisfy the request.
func selectLevelsAndSize(size uint32) (rounded, fl, sl uint32) {
	if size < smallBlockSize {
		size = roundUp(size, smallBlockSize/slCount)
		if size < smallBlockSize {
			return size, 0, size / (smallBlockSize / slCount)
		}
	}
	round := (uint32(1) << (msb(size) - log2SLI)) - 1
	size += round
	f := msb(size)
	s := (size >> (f - log2SLI)) - slCount
	size &^= round
	return size, f - fliOffset, s
}

// findBitAtOrAbove returns the lowest set bit in bitmap at index >= from,
// per the design note in spec.md §9.
func findBitAtOrAbove(bitmap uint32, from uint32) (uint32, bool) {
	if from >= 32 {
		return 0, false
	}
	masked := bitmap &^ ((uint32(1) << from) - 1)
	if masked == 0 {
		return 0, false
	}
	return lsb(masked), true
}
