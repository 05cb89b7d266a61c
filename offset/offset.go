// Package offset implements the offset allocator of spec.md §4.2: a
// node-graph allocator that hands back a (offset, metadata) pair
// instead of a pointer, suited to managing ranges of an external
// resource (a GPU heap, a file, a virtual address range) that the
// caller addresses by integer offset.
//
// It is grounded directly on original_source/source/main/cpp/
// c_allocator_offset.cpp (the teacher, warawara28-tlsf-go, has no
// offset-style allocator); the node/neighbor arrays, floating-point
// bin quantization and two-level bitmap search are carried over
// faithfully, translated from fixed-capacity C arrays into Go slices
// and from manual bit-scan intrinsics into math/bits.
package offset

import (
	"math/bits"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"galloc"
)

const (
	// NoSpace is returned in Offset/Metadata fields to signal failure,
	// matching allocation_t::NO_SPACE in the original source.
	NoSpace = ^uint32(0)

	nilNode = ^uint32(0)

	mantissaBits  = 3
	mantissaValue = 1 << mantissaBits
	mantissaMask  = mantissaValue - 1

	topBinsIndexShift = 3
	numTopBins        = 32
	numLeafBins       = numTopBins << topBinsIndexShift
	leafBinsIndexMask = (1 << topBinsIndexShift) - 1
)

// Allocation identifies a reservation made by an Allocator: Offset is
// the caller-facing address, Metadata is an opaque node handle that
// must be passed back to Free.
type Allocation struct {
	Offset   uint32
	Metadata uint32
}

type node struct {
	dataOffset   uint32
	dataSize     uint32
	binListPrev  uint32
	binListNext  uint32
}

type neighbor struct {
	prev uint32
	next uint32
}

// Allocator manages offsets into a region of the given size using
// floating-point-quantized segregated free bins.
type Allocator struct {
	size    uint32
	maxAllocs uint32

	freeStorage uint32

	usedBinsTop uint32
	usedBins    [numTopBins]uint8
	binIndices  [numLeafBins]uint32

	nodes     []node
	neighbors []neighbor
	used      []uint32 // bitset, 32 nodes per word

	freeIndex    uint32
	freeListHead uint32

	magic uuid.UUID // spec.md §3.3: random, non-zero arena tag carried in hook diagnostics
	hook  galloc.CorruptionHook
}

// Options configures an Allocator at construction time.
type Options struct {
	// Hook, if non-nil, is invoked (in addition to the usage/argument
	// panic spec.md §7 requires) on detected corruption or usage
	// errors, so a caller managing many Allocators can attribute a
	// failure to the one that raised it via its Magic tag.
	Hook galloc.CorruptionHook
}

// New creates an Allocator managing [0, size) with room for up to
// maxAllocs live allocations at once.
func New(size, maxAllocs uint32) *Allocator {
	return NewWithOptions(size, maxAllocs, Options{})
}

// NewWithOptions creates an Allocator with explicit Options.
func NewWithOptions(size, maxAllocs uint32, opts Options) *Allocator {
	if size >= 0x80000000 {
		panic("offset: size must be less than 2^31")
	}
	a := &Allocator{size: size, maxAllocs: maxAllocs, hook: opts.Hook, magic: uuid.New()}
	a.nodes = make([]node, maxAllocs)
	a.neighbors = make([]neighbor, maxAllocs)
	a.used = make([]uint32, (maxAllocs+31)/32)
	a.Reset()
	return a
}

// Magic returns this Allocator's arena tag (spec.md §3.3), generated
// once at construction.
func (a *Allocator) Magic() uuid.UUID { return a.magic }

func (a *Allocator) fail(err error, format string, args ...interface{}) {
	if a.hook != nil {
		a.hook(errors.Wrapf(err, "offset[%s]: "+format, append([]interface{}{a.magic}, args...)...))
	}
	panic(errors.Wrapf(err, format, args...))
}

// Reset discards all outstanding allocations and returns the allocator
// to its initial, single-free-region state.
func (a *Allocator) Reset() {
	a.freeStorage = 0
	a.usedBinsTop = 0
	for i := range a.usedBins {
		a.usedBins[i] = 0
	}
	for i := range a.binIndices {
		a.binIndices[i] = nilNode
	}
	for i := range a.used {
		a.used[i] = 0
	}
	a.freeIndex = 0
	a.freeListHead = nilNode

	a.insertNodeIntoBin(a.size, 0)
}

func (a *Allocator) isUsed(idx uint32) bool {
	return a.used[idx>>5]&(1<<(idx&31)) != 0
}
func (a *Allocator) setUsed(idx uint32)   { a.used[idx>>5] |= 1 << (idx & 31) }
func (a *Allocator) setUnused(idx uint32) { a.used[idx>>5] &^= 1 << (idx & 31) }

// --- nfloat size-class quantization -------------------------------------

func uintToFloatRoundUp(size uint32) uint32 {
	var exp, mantissa uint32
	if size < mantissaValue {
		mantissa = size
	} else {
		highestSetBit := uint32(31 - bits.LeadingZeros32(size))
		mantissaStartBit := highestSetBit - mantissaBits
		exp = mantissaStartBit + 1
		mantissa = (size >> mantissaStartBit) & mantissaMask
		lowBitsMask := uint32(1<<mantissaStartBit) - 1
		if size&lowBitsMask != 0 {
			mantissa++
		}
	}
	return (exp << mantissaBits) + mantissa
}

func uintToFloatRoundDown(size uint32) uint32 {
	var exp, mantissa uint32
	if size < mantissaValue {
		mantissa = size
	} else {
		highestSetBit := uint32(31 - bits.LeadingZeros32(size))
		mantissaStartBit := highestSetBit - mantissaBits
		exp = mantissaStartBit + 1
		mantissa = (size >> mantissaStartBit) & mantissaMask
	}
	return (exp << mantissaBits) | mantissa
}

func floatToUint(floatValue uint32) uint32 {
	exponent := floatValue >> mantissaBits
	mantissa := floatValue & mantissaMask
	if exponent == 0 {
		return mantissa
	}
	return (mantissa | mantissaValue) << (exponent - 1)
}

func findLowestSetBitAfter(bitMask uint32, startBitIndex uint32) uint32 {
	maskBeforeStart := uint32(1<<startBitIndex) - 1
	bitsAfter := bitMask &^ maskBeforeStart
	if bitsAfter == 0 {
		return NoSpace
	}
	return uint32(bits.TrailingZeros32(bitsAfter))
}

// --- allocator contract --------------------------------------------------

// Allocate reserves size units of offset space, returning an
// Allocation whose Metadata is NoSpace on failure.
func (a *Allocator) Allocate(size uint32) Allocation {
	if a.freeIndex == a.maxAllocs && a.freeListHead == nilNode {
		return Allocation{Offset: NoSpace, Metadata: NoSpace}
	}

	minBinIndex := uintToFloatRoundUp(size)
	minTopBinIndex := minBinIndex >> topBinsIndexShift
	minLeafBinIndex := minBinIndex & leafBinsIndexMask

	topBinIndex := minTopBinIndex
	leafBinIndex := NoSpace

	if a.usedBinsTop&(1<<topBinIndex) != 0 {
		leafBinIndex = findLowestSetBitAfter(uint32(a.usedBins[topBinIndex]), minLeafBinIndex)
	}

	if leafBinIndex == NoSpace {
		topBinIndex = findLowestSetBitAfter(a.usedBinsTop, minTopBinIndex+1)
		if topBinIndex == NoSpace {
			return Allocation{Offset: NoSpace, Metadata: NoSpace}
		}
		leafBinIndex = uint32(bits.TrailingZeros32(uint32(a.usedBins[topBinIndex])))
	}

	binIndex := (topBinIndex << topBinsIndexShift) | leafBinIndex

	nodeIndex := a.binIndices[binIndex]
	n := &a.nodes[nodeIndex]
	nb := &a.neighbors[nodeIndex]
	nodeTotalSize := n.dataSize
	n.dataSize = size
	a.setUsed(nodeIndex)
	a.binIndices[binIndex] = n.binListNext
	if n.binListNext != nilNode {
		a.nodes[n.binListNext].binListPrev = nilNode
	}

	a.freeStorage -= nodeTotalSize

	if a.binIndices[binIndex] == nilNode {
		a.usedBins[topBinIndex] &^= 1 << leafBinIndex
		if a.usedBins[topBinIndex] == 0 {
			a.usedBinsTop &^= 1 << topBinIndex
		}
	}

	remainderSize := nodeTotalSize - size
	if remainderSize > 0 {
		newNodeIndex := a.insertNodeIntoBin(remainderSize, n.dataOffset+size)
		if nb.next != nilNode {
			a.neighbors[nb.next].prev = newNodeIndex
		}
		a.neighbors[newNodeIndex].prev = nodeIndex
		a.neighbors[newNodeIndex].next = nb.next
		nb.next = newNodeIndex
	}

	return Allocation{Offset: n.dataOffset, Metadata: nodeIndex}
}

// Free releases an Allocation previously returned by Allocate,
// coalescing it with any free physical neighbors.
func (a *Allocator) Free(alloc Allocation) {
	if alloc.Metadata == NoSpace {
		a.fail(galloc.ErrInvalidArgument, "free: alloc.Metadata is NoSpace")
	}
	nodeIndex := alloc.Metadata
	n := &a.nodes[nodeIndex]
	nb := &a.neighbors[nodeIndex]

	if !a.isUsed(nodeIndex) {
		a.fail(galloc.ErrUsage, "free: node %d is already free (double free)", nodeIndex) // double free
	}

	offset := n.dataOffset
	size := n.dataSize

	if nb.prev != nilNode && !a.isUsed(nb.prev) {
		prevNode := &a.nodes[nb.prev]
		prevNeighbor := &a.neighbors[nb.prev]
		offset = prevNode.dataOffset
		size += prevNode.dataSize
		a.removeNodeFromBin(nb.prev)
		nb.prev = prevNeighbor.prev
	}

	if nb.next != nilNode && !a.isUsed(nb.next) {
		nextNeighbor := &a.neighbors[nb.next]
		nextNode := &a.nodes[nb.next]
		size += nextNode.dataSize
		a.removeNodeFromBin(nb.next)
		nb.next = nextNeighbor.next
	}

	nodeNext := nb.next
	nodePrev := nb.prev

	a.pushFreelist(nodeIndex)

	combinedNodeIndex := a.insertNodeIntoBin(size, offset)

	if nodeNext != nilNode {
		a.neighbors[combinedNodeIndex].next = nodeNext
		a.neighbors[nodeNext].prev = combinedNodeIndex
	}
	if nodePrev != nilNode {
		a.neighbors[combinedNodeIndex].prev = nodePrev
		a.neighbors[nodePrev].next = combinedNodeIndex
	}
}

func (a *Allocator) pushFreelist(nodeIndex uint32) {
	n := &a.nodes[nodeIndex]
	if a.freeListHead == nilNode {
		n.binListPrev = nilNode
		n.binListNext = nilNode
		a.freeListHead = nodeIndex
	} else {
		n.binListPrev = nilNode
		n.binListNext = a.freeListHead
		a.nodes[a.freeListHead].binListPrev = nodeIndex
		a.freeListHead = nodeIndex
	}
}

func (a *Allocator) insertNodeIntoBin(size, dataOffset uint32) uint32 {
	binIndex := uintToFloatRoundDown(size)
	topBinIndex := binIndex >> topBinsIndexShift
	leafBinIndex := binIndex & leafBinsIndexMask

	if a.binIndices[binIndex] == nilNode {
		a.usedBins[topBinIndex] |= 1 << leafBinIndex
		a.usedBinsTop |= 1 << topBinIndex
	}

	topNodeIndex := a.binIndices[binIndex]
	var nodeIndex uint32
	if a.freeListHead != nilNode {
		nodeIndex = a.freeListHead
		a.freeListHead = a.nodes[nodeIndex].binListNext
		if a.freeListHead != nilNode {
			a.nodes[a.freeListHead].binListPrev = nilNode
		}
	} else if a.freeIndex < a.maxAllocs {
		nodeIndex = a.freeIndex
		a.freeIndex++
	} else {
		return nilNode
	}

	a.nodes[nodeIndex].dataOffset = dataOffset
	a.nodes[nodeIndex].dataSize = size
	a.nodes[nodeIndex].binListNext = topNodeIndex
	a.nodes[nodeIndex].binListPrev = nilNode

	a.neighbors[nodeIndex].prev = nilNode
	a.neighbors[nodeIndex].next = nilNode
	a.setUnused(nodeIndex)

	if topNodeIndex != nilNode {
		a.nodes[topNodeIndex].binListPrev = nodeIndex
	}
	a.binIndices[binIndex] = nodeIndex

	a.freeStorage += size
	return nodeIndex
}

func (a *Allocator) removeNodeFromBin(nodeIndex uint32) {
	n := &a.nodes[nodeIndex]

	if n.binListPrev != nilNode {
		a.nodes[n.binListPrev].binListNext = n.binListNext
		if n.binListNext != nilNode {
			a.nodes[n.binListNext].binListPrev = n.binListPrev
		}
	} else {
		binIndex := uintToFloatRoundDown(n.dataSize)
		topBinIndex := binIndex >> topBinsIndexShift
		leafBinIndex := binIndex & leafBinsIndexMask

		a.binIndices[binIndex] = n.binListNext
		if n.binListNext != nilNode {
			a.nodes[n.binListNext].binListPrev = nilNode
		}

		if a.binIndices[binIndex] == nilNode {
			a.usedBins[topBinIndex] &^= 1 << leafBinIndex
			if a.usedBins[topBinIndex] == 0 {
				a.usedBinsTop &^= 1 << topBinIndex
			}
		}
	}

	a.pushFreelist(nodeIndex)
	a.freeStorage -= n.dataSize
}

// AllocationSize returns the size of the live allocation identified by
// alloc, or 0 if alloc is not a valid handle.
func (a *Allocator) AllocationSize(alloc Allocation) uint32 {
	if alloc.Metadata == NoSpace {
		return 0
	}
	return a.nodes[alloc.Metadata].dataSize
}

// StorageReport summarizes free space, per spec.md §4.2.
type StorageReport struct {
	TotalFreeSpace    uint32
	LargestFreeRegion uint32
}

// StorageReport returns the total free space and an estimate (rounded
// down to its bin's representative size) of the largest contiguous
// free region.
func (a *Allocator) StorageReport() StorageReport {
	var largest uint32
	freeStorage := a.freeStorage
	if a.usedBinsTop != 0 {
		topBinIndex := uint32(31 - bits.LeadingZeros32(a.usedBinsTop))
		leafBinIndex := uint32(31 - bits.LeadingZeros32(uint32(a.usedBins[topBinIndex])))
		largest = floatToUint((topBinIndex << topBinsIndexShift) | leafBinIndex)
	}
	return StorageReport{TotalFreeSpace: freeStorage, LargestFreeRegion: largest}
}

// FreeRegion describes one leaf bin's representative size and how many
// free nodes currently occupy it.
type FreeRegion struct {
	Size  uint32
	Count uint32
}

// StorageReportFull enumerates every leaf bin, for diagnostics and
// tests (spec.md §4.2's full storage report).
func (a *Allocator) StorageReportFull() [numLeafBins]FreeRegion {
	var report [numLeafBins]FreeRegion
	for i := uint32(0); i < numLeafBins; i++ {
		var count uint32
		nodeIndex := a.binIndices[i]
		for nodeIndex != nilNode {
			nodeIndex = a.nodes[nodeIndex].binListNext
			count++
		}
		report[i] = FreeRegion{Size: floatToUint(i), Count: count}
	}
	return report
}
