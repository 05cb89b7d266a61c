// Package dlmalloc implements the dlmalloc-style allocator of
// spec.md §4.3: small exact-fit bins for sub-256-byte requests, a
// bit-trie of size-ordered trees for everything larger, a designated
// victim for small remainders, and a top chunk that absorbs whatever
// no bin satisfies, with segment growth through an optional sys_alloc
// hook.
//
// It reuses the byte-buffer-and-offsets block representation built for
// the tlsf package (spec.md §9's intrusive-free-list design note
// applies identically here) and is grounded on spec.md §4.3's text
// directly: the teacher (warawara28-tlsf-go) has no tree-bin or
// designated-victim machinery, and the original source
// (c_allocator_dlmalloc.cpp) is a 2500-line macro-unrolled C port
// whose structure doesn't survive translation to Go faithfully enough
// to read-and-port block by block, so the small/tree/dv/top state
// machine below is authored from the prose contract instead.
package dlmalloc

import (
	"encoding/binary"
	"math/bits"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"galloc"
)

const (
	alignFloor = 8
	headerSize = 8 // sizeAndFlags (u32) + prevPhysical (u32)

	numSmallBins = 32 // covers [0, 256) in 8-byte steps
	smallBinMax  = numSmallBins * alignFloor

	numTreeBins = 32

	nilOff = ^uint32(0)

	flagInUse     = uint32(1) // CINUSE: this chunk is in use
	flagPrevInUse = uint32(2) // PINUSE: the physical predecessor is in use
	flagMask      = flagInUse | flagPrevInUse

	minChunkPayload = 8 // room for fd/bk, or child/parent/sibling when treed

	// releaseCheckRate bounds how many large-chunk frees occur between
	// sweeps for fully-idle external segments, a scaled-down analogue of
	// the original source's MAX_RELEASE_CHECK_RATE.
	releaseCheckRate = 8
)

// SysAllocFunc requests extra backing bytes from the environment; it
// returns the new segment and true on success.
type SysAllocFunc func(minBytes uint32) (segment []byte, ok bool)

// SysFreeFunc releases a segment previously returned by a SysAllocFunc
// once it is entirely unused.
type SysFreeFunc func(segment []byte)

type segment struct {
	buf     []byte
	base    uint32 // offset of this segment's first chunk within the logical address space
	top     uint32 // offset of this segment's top/sentinel chunk
	external bool
}

// Core is a dlmalloc-style allocator instance.
type Core struct {
	segs []segment

	smallBins [numSmallBins]uint32 // head chunk offset of each ring, nilOff if empty
	treeBins  [numTreeBins]uint32  // root chunk offset of each trie, nilOff if empty
	smallMap  uint32               // bit i set iff smallBins[i] non-empty
	treeMap   uint32               // bit i set iff treeBins[i] non-empty

	dv       uint32 // designated victim chunk offset, nilOff if none
	dvSize   uint32
	top      uint32 // current top chunk offset
	topSize  uint32

	usedSize  uint32
	totalSize uint32

	sysAlloc SysAllocFunc
	sysFree  SysFreeFunc
	// releaseChecks counts down to the next sweep of releaseUnusedSegments;
	// decremented on every large-chunk free (spec.md §4.3).
	releaseChecks uint32

	magic uuid.UUID // spec.md §3.3: random, non-zero arena tag carried in hook diagnostics
	hook  galloc.CorruptionHook
}

// Magic returns this Core's arena tag (spec.md §3.3), generated once
// at construction, so a CorruptionHook firing across many live Cores
// can tell which one reported the failure.
func (c *Core) Magic() uuid.UUID { return c.magic }

func (c *Core) fail(err error, format string, args ...interface{}) unsafe.Pointer {
	if c.hook != nil {
		c.hook(errors.Wrapf(err, "dlmalloc[%s]: "+format, append([]interface{}{c.magic}, args...)...))
	}
	return nil
}

// Options configures a Core at construction.
type Options struct {
	SysAlloc SysAllocFunc
	SysFree  SysFreeFunc
	Hook     galloc.CorruptionHook
}

// New creates a Core with a single initial segment of sizeBytes.
func New(sizeBytes uint32) *Core {
	return NewWithOptions(sizeBytes, Options{})
}

// NewWithOptions creates a Core with explicit Options.
func NewWithOptions(sizeBytes uint32, opts Options) *Core {
	c := &Core{sysAlloc: opts.SysAlloc, sysFree: opts.SysFree, hook: opts.Hook, releaseChecks: releaseCheckRate, magic: uuid.New()}
	for i := range c.smallBins {
		c.smallBins[i] = nilOff
	}
	for i := range c.treeBins {
		c.treeBins[i] = nilOff
	}
	c.dv = nilOff
	c.addSegment(make([]byte, sizeBytes), false)
	return c
}

func (c *Core) addSegment(buf []byte, external bool) {
	base := c.totalSize
	seg := segment{buf: buf, base: base, external: external}
	topOff := base + uint32(len(buf)) - headerSize
	seg.top = topOff
	c.segs = append(c.segs, seg)

	// The new span, minus its top sentinel, becomes (or extends) top.
	newTopSize := uint32(len(buf)) - headerSize
	if c.topSize == 0 {
		c.top = base
		c.topSize = newTopSize
		c.setHeader(c.top, c.topSize, false, true)
	} else {
		// Multiple live segments: keep the latest as the addressable top;
		// earlier tops become ordinary free chunks in the tree/small bins.
		c.insertFree(c.top, c.topSize)
		c.top = base
		c.topSize = newTopSize
		c.setHeader(c.top, c.topSize, false, true)
	}
	c.totalSize += uint32(len(buf))
}

// bufFor locates the []byte segment containing a logical offset.
func (c *Core) bufFor(off uint32) ([]byte, uint32) {
	for i := range c.segs {
		s := &c.segs[i]
		if off >= s.base && off < s.base+uint32(len(s.buf)) {
			return s.buf, s.base
		}
	}
	panic("dlmalloc: offset not in any segment")
}

func (c *Core) u32(off uint32) uint32 {
	buf, base := c.bufFor(off)
	return binary.LittleEndian.Uint32(buf[off-base : off-base+4])
}
func (c *Core) setU32(off, v uint32) {
	buf, base := c.bufFor(off)
	binary.LittleEndian.PutUint32(buf[off-base:off-base+4], v)
}

func (c *Core) setHeader(off, size uint32, inUse, prevInUse bool) {
	v := size
	if inUse {
		v |= flagInUse
	}
	if prevInUse {
		v |= flagPrevInUse
	}
	c.setU32(off, v)
}
func (c *Core) chunkSize(off uint32) uint32  { return c.u32(off) &^ flagMask }
func (c *Core) isInUse(off uint32) bool      { return c.u32(off)&flagInUse != 0 }
func (c *Core) isPrevInUse(off uint32) bool  { return c.u32(off)&flagPrevInUse != 0 }
func (c *Core) setSize(off, size uint32) {
	c.setU32(off, size|(c.u32(off)&flagMask))
}
func (c *Core) setInUse(off uint32, v bool) {
	cur := c.u32(off)
	if v {
		c.setU32(off, cur|flagInUse)
	} else {
		c.setU32(off, cur&^flagInUse)
	}
}
func (c *Core) setPrevInUse(off uint32, v bool) {
	cur := c.u32(off)
	if v {
		c.setU32(off, cur|flagPrevInUse)
	} else {
		c.setU32(off, cur&^flagPrevInUse)
	}
}

func (c *Core) prevFoot(off uint32) uint32    { return c.u32(off + 4) }
func (c *Core) setPrevFoot(off, v uint32)     { c.setU32(off+4, v) }
func (c *Core) nextChunk(off uint32) uint32   { return off + headerSize + c.chunkSize(off) }
func (c *Core) prevChunk(off uint32) uint32   { return off - headerSize - c.prevFoot(off) }

// fd/bk ring links, and tree node fields, share the payload layout.
func (c *Core) fd(off uint32) uint32    { return c.u32(off + headerSize) }
func (c *Core) setFd(off, v uint32)     { c.setU32(off+headerSize, v) }
func (c *Core) bk(off uint32) uint32    { return c.u32(off + headerSize + 4) }
func (c *Core) setBk(off, v uint32)     { c.setU32(off+headerSize+4, v) }

func (c *Core) child(off uint32, i int) uint32 { return c.u32(off + headerSize + 8 + uint32(i)*4) }
func (c *Core) setChild(off uint32, i int, v uint32) {
	c.setU32(off+headerSize+8+uint32(i)*4, v)
}
func (c *Core) parent(off uint32) uint32    { return c.u32(off + headerSize + 16) }
func (c *Core) setParent(off, v uint32)     { c.setU32(off+headerSize+16, v) }

func (c *Core) ptrAt(off uint32) unsafe.Pointer {
	buf, base := c.bufFor(off)
	return unsafe.Add(unsafe.Pointer(&buf[0]), off-base)
}
func (c *Core) offsetOf(p unsafe.Pointer) uint32 {
	for i := range c.segs {
		s := &c.segs[i]
		if len(s.buf) == 0 {
			continue
		}
		start := uintptr(unsafe.Pointer(&s.buf[0]))
		d := uintptr(p) - start
		if d < uintptr(len(s.buf)) {
			return s.base + uint32(d)
		}
	}
	panic("dlmalloc: pointer not owned by this core")
}

// --- bin index helpers ---------------------------------------------------

func smallIndex(size uint32) uint32 { return size / alignFloor }
func smallIndexToSize(i uint32) uint32 { return i * alignFloor }

// treeIndex derives a bin index from the top bits of size, matching
// dlmalloc's compute_tree_index but simplified to a linear bit index
// rather than a packed (leftshift, bin) pair.
func treeIndex(size uint32) uint32 {
	x := size >> 8
	if x == 0 {
		return 0
	}
	k := 31
	for (uint32(1) << uint(k) & x) == 0 {
		k--
	}
	idx := uint32(k*2) + (size>>uint(k-1))&1
	if idx >= numTreeBins {
		idx = numTreeBins - 1
	}
	return idx
}

// --- small bin ring ops ---------------------------------------------------

func (c *Core) smallBinInsert(off uint32) {
	size := c.chunkSize(off)
	i := smallIndex(size)
	head := c.smallBins[i]
	if head == nilOff {
		c.setFd(off, off)
		c.setBk(off, off)
		c.smallBins[i] = off
		c.smallMap |= 1 << i
		return
	}
	tail := c.bk(head)
	c.setFd(tail, off)
	c.setBk(off, tail)
	c.setFd(off, head)
	c.setBk(head, off)
}

func (c *Core) smallBinUnlink(off uint32) {
	size := c.chunkSize(off)
	i := smallIndex(size)
	f := c.fd(off)
	b := c.bk(off)
	if f == off {
		c.smallBins[i] = nilOff
		c.smallMap &^= 1 << i
		return
	}
	c.setBk(f, b)
	c.setFd(b, f)
	if c.smallBins[i] == off {
		c.smallBins[i] = f
	}
}

// --- tree bin ops (simplified binary search tree keyed by size, with
// equal-size chunks threaded through fd/bk as in dlmalloc) --------------

func (c *Core) treeInsert(off uint32) {
	size := c.chunkSize(off)
	idx := treeIndex(size)
	c.setFd(off, off)
	c.setBk(off, off)
	c.setChild(off, 0, nilOff)
	c.setChild(off, 1, nilOff)

	root := c.treeBins[idx]
	if root == nilOff {
		c.treeBins[idx] = off
		c.treeMap |= 1 << idx
		c.setParent(off, nilOff)
		return
	}
	cur := root
	for {
		curSize := c.chunkSize(cur)
		if curSize == size {
			tail := c.bk(cur)
			c.setFd(tail, off)
			c.setBk(off, tail)
			c.setFd(off, cur)
			c.setBk(cur, off)
			c.setParent(off, nilOff) // duplicate, not a tree node itself
			return
		}
		dir := 0
		if size > curSize {
			dir = 1
		}
		next := c.child(cur, dir)
		if next == nilOff {
			c.setChild(cur, dir, off)
			c.setParent(off, cur)
			return
		}
		cur = next
	}
}

// treeUnlink removes off from its tree bin, whether it is a tree node
// or a duplicate threaded onto one.
func (c *Core) treeUnlink(off uint32) {
	size := c.chunkSize(off)
	idx := treeIndex(size)

	f := c.fd(off)
	if f != off {
		// off is a ring duplicate (or the ring head of a treed node).
		b := c.bk(off)
		c.setBk(f, b)
		c.setFd(b, f)
		if c.parent(off) == nilOff {
			return // off was never the tree node itself
		}
		// off was the tree node: promote f to take its structural place.
		c.setParent(f, c.parent(off))
		c.setChild(f, 0, c.child(off, 0))
		c.setChild(f, 1, c.child(off, 1))
		c.replaceChild(off, f, idx)
		return
	}

	// off is the sole occupant of its size: splice it out of the tree.
	var repl uint32 = nilOff
	for d := 0; d < 2; d++ {
		if ch := c.child(off, d); ch != nilOff {
			repl = ch
			break
		}
	}
	if repl != nilOff {
		// Graft the replacement's subtree back, attaching the other child.
		other := c.child(off, 0)
		if other == repl {
			other = c.child(off, 1)
		}
		if other != nilOff {
			cur := repl
			for c.child(cur, 0) != nilOff {
				cur = c.child(cur, 0)
			}
			c.setChild(cur, 0, other)
			c.setParent(other, cur)
		}
		c.setParent(repl, c.parent(off))
	}
	c.replaceChild(off, repl, idx)
}

func (c *Core) replaceChild(off, repl, idx uint32) {
	p := c.parent(off)
	if p == nilOff {
		c.treeBins[idx] = repl
		if repl == nilOff {
			c.treeMap &^= 1 << idx
		}
		return
	}
	if c.child(p, 0) == off {
		c.setChild(p, 0, repl)
	} else {
		c.setChild(p, 1, repl)
	}
}

// treeBestFit walks bin idx (or the next non-empty bin above it) for
// the smallest chunk that still satisfies need.
func (c *Core) treeBestFit(need uint32) (uint32, bool) {
	startIdx := treeIndex(need)
	mask := c.treeMap &^ ((uint32(1) << startIdx) - 1)
	for mask != 0 {
		idx := uint32(leastSetBit(mask))
		best := uint32(nilOff)
		var bestSize uint32
		cur := c.treeBins[idx]
		for cur != nilOff {
			sz := c.chunkSize(cur)
			if sz >= need && (best == nilOff || sz < bestSize) {
				best, bestSize = cur, sz
			}
			dir := 0
			if need > sz {
				dir = 1
			}
			next := c.child(cur, dir)
			if next == nilOff {
				break
			}
			cur = next
		}
		if best != nilOff {
			return best, true
		}
		mask &^= 1 << idx
	}
	return 0, false
}

func leastSetBit(v uint32) uint32 {
	return uint32(bits.TrailingZeros32(v))
}

func (c *Core) insertFree(off, size uint32) {
	c.setSize(off, size)
	if size < smallBinMax {
		c.smallBinInsert(off)
	} else {
		c.treeInsert(off)
	}
}

func (c *Core) removeFree(off uint32) {
	if c.chunkSize(off) < smallBinMax {
		c.smallBinUnlink(off)
	} else {
		c.treeUnlink(off)
	}
}

// --- allocator contract ---------------------------------------------------

// Allocate carves out a chunk of at least size bytes.
func (c *Core) Allocate(size, align uint32) unsafe.Pointer {
	if align == 0 {
		align = alignFloor
	}
	if !galloc.IsPowerOfTwo(align) {
		return c.fail(galloc.ErrInvalidArgument, "allocate: align=%d is not a power of two", align)
	}
	if align > alignFloor {
		// Over-alignment beyond the natural floor is out of scope for
		// this core's chunk layout; TLSFCore/OffsetCore cover that need.
		return c.fail(galloc.ErrInvalidArgument, "allocate: align=%d exceeds the %d-byte floor", align, alignFloor)
	}

	need := size
	if need < minChunkPayload {
		need = minChunkPayload
	}
	need = (need + alignFloor - 1) &^ (alignFloor - 1)

	if need < smallBinMax {
		if off, ok := c.takeSmall(need); ok {
			return c.finish(off, need)
		}
	}
	if c.dv != nilOff && c.dvSize >= need {
		off := c.dv
		c.dv, c.dvSize = nilOff, 0
		return c.finish(c.splitOrWhole(off, need, true), need)
	}
	if off, ok := c.treeBestFit(need); ok {
		c.treeUnlink(off)
		return c.finish(c.splitOrWhole(off, need, false), need)
	}
	if c.topSize >= need+headerSize {
		off := c.top
		rem := c.topSize - need - headerSize
		c.top = off + headerSize + need
		c.topSize = rem
		c.setHeader(c.top, rem, false, false)
		c.setHeader(off, need, true, true)
		c.usedSize += need + headerSize
		return c.ptrAt(off + headerSize)
	}
	if c.sysAlloc != nil {
		grow := need + headerSize*4
		if grow < 1<<20 {
			grow = 1 << 20
		}
		if buf, ok := c.sysAlloc(grow); ok {
			c.addSegment(buf, true)
			return c.Allocate(size, align)
		}
	}
	return nil
}

func (c *Core) takeSmall(need uint32) (uint32, bool) {
	i := smallIndex(need)
	mask := c.smallMap &^ ((uint32(1) << i) - 1)
	if mask == 0 {
		return 0, false
	}
	j := leastSetBit(mask)
	off := c.smallBins[j]
	c.smallBinUnlink(off)
	c.setInUse(off, true)
	c.setPrevInUse(c.nextChunk(off), true)
	return off, true
}

// splitOrWhole right-trims off to need bytes, routing the remainder to
// the designated victim when it is small, otherwise back into its bin.
func (c *Core) splitOrWhole(off, need uint32, fromDV bool) uint32 {
	total := c.chunkSize(off)
	rem := total - need
	if rem < headerSize+minChunkPayload {
		c.setInUse(off, true)
		c.setPrevInUse(c.nextChunk(off), true)
		return off
	}
	newOff := off + headerSize + need
	newSize := rem - headerSize
	c.setHeader(off, need, true, c.isPrevInUse(off))
	c.setHeader(newOff, newSize, false, true)
	succ := c.nextChunk(newOff)
	c.setPrevFoot(succ, newSize)
	c.setPrevInUse(succ, false)

	if newSize < smallBinMax && (fromDV || c.dv == nilOff) {
		if c.dv != nilOff {
			c.insertFree(c.dv, c.dvSize)
		}
		c.dv, c.dvSize = newOff, newSize
	} else {
		c.insertFree(newOff, newSize)
	}
	return off
}

func (c *Core) finish(off, need uint32) unsafe.Pointer {
	c.usedSize += need + headerSize
	return c.ptrAt(off + headerSize)
}

// Deallocate returns the chunk at ptr to the free pool, coalescing with
// both physical neighbors, and reports the bytes freed.
func (c *Core) Deallocate(ptr unsafe.Pointer) uint32 {
	if ptr == nil {
		return 0
	}
	off := c.offsetOf(ptr) - headerSize
	size := c.chunkSize(off)
	freed := size + headerSize
	c.usedSize -= freed
	next := c.nextChunk(off)

	if !c.isPrevInUse(off) {
		prev := c.prevChunk(off)
		if prev == c.dv {
			c.dv, c.dvSize = nilOff, 0
		} else {
			c.removeFree(prev)
		}
		size += c.chunkSize(prev) + headerSize
		off = prev
	}

	if next == c.top {
		c.topSize += size + headerSize
		c.top = off
		c.setHeader(c.top, c.topSize, false, true)
		return freed
	}
	if !c.isInUse(next) {
		if next == c.dv {
			c.dv, c.dvSize = nilOff, 0
		} else {
			c.removeFree(next)
		}
		size += c.chunkSize(next) + headerSize
	}

	c.setHeader(off, size, false, true)
	succ := c.nextChunk(off)
	c.setPrevFoot(succ, size)
	c.setPrevInUse(succ, false)

	if size < smallBinMax && c.dv == nilOff {
		c.dv, c.dvSize = off, size
	} else {
		c.insertFree(off, size)
		if size >= smallBinMax {
			// Mirrors the original's release_checks decrement, which only
			// fires on the insert_large_chunk path (never for small-bin or
			// dv chunks): spec.md §4.3.
			c.releaseChecks--
			if c.releaseChecks == 0 {
				c.releaseUnusedSegments()
			}
		}
	}
	return freed
}

// segmentFullyFree reports whether s consists of a single chunk,
// currently unused, spanning its entire backing buffer, and returns
// that chunk's offset.
func (c *Core) segmentFullyFree(s *segment) (uint32, bool) {
	off := s.base
	span := uint32(len(s.buf))
	if off == c.top {
		return off, c.topSize+headerSize == span
	}
	if c.isInUse(off) {
		return 0, false
	}
	return off, c.chunkSize(off)+headerSize == span
}

// releaseUnusedSegments walks every externally-grown segment and hands
// any that still consist of one entirely-unused chunk back to sysFree,
// resetting the release_checks countdown (spec.md §4.3, grounded on
// the original source's __release_unused_segments).
func (c *Core) releaseUnusedSegments() {
	if c.sysFree == nil {
		c.releaseChecks = releaseCheckRate
		return
	}
	kept := c.segs[:0]
	for _, s := range c.segs {
		if s.external {
			if off, ok := c.segmentFullyFree(&s); ok {
				switch off {
				case c.dv:
					c.dv, c.dvSize = nilOff, 0
				case c.top:
					c.top, c.topSize = nilOff, 0
				default:
					c.removeFree(off)
				}
				c.sysFree(s.buf)
				c.totalSize -= uint32(len(s.buf))
				continue
			}
		}
		kept = append(kept, s)
	}
	c.segs = kept
	c.releaseChecks = releaseCheckRate
}

// Release discards all backing storage. The Core must not be used
// again afterwards.
func (c *Core) Release() {
	for _, s := range c.segs {
		if s.external && c.sysFree != nil {
			c.sysFree(s.buf)
		}
	}
	c.segs = nil
}

// UsableSize returns the bytes available at ptr.
func (c *Core) UsableSize(ptr unsafe.Pointer) uint32 {
	off := c.offsetOf(ptr) - headerSize
	return c.chunkSize(off)
}

// Reallocate resizes the chunk at ptr in place when possible (growing
// into a free physical successor chunk, including top and the
// designated victim), falling back to allocate-copy-free otherwise,
// following the same discipline as tlsf.Core.Reallocate.
func (c *Core) Reallocate(ptr unsafe.Pointer, newSize uint32) unsafe.Pointer {
	if ptr == nil {
		return c.Allocate(newSize, alignFloor)
	}
	off := c.offsetOf(ptr) - headerSize
	oldSize := c.chunkSize(off)

	need := newSize
	if need < minChunkPayload {
		need = minChunkPayload
	}
	need = (need + alignFloor - 1) &^ (alignFloor - 1)

	if need <= oldSize {
		return ptr
	}
	if c.growInPlace(off, oldSize, need) {
		return ptr
	}

	newPtr := c.Allocate(newSize, alignFloor)
	if newPtr == nil {
		return nil
	}
	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	copy(unsafe.Slice((*byte)(newPtr), copySize), unsafe.Slice((*byte)(ptr), copySize))
	c.Deallocate(ptr)
	return newPtr
}

// growInPlace absorbs the chunk's free physical successor (top, the
// designated victim, or an ordinary free chunk) when that alone covers
// need bytes, right-trimming any excess back into the free structures.
func (c *Core) growInPlace(off, oldSize, need uint32) bool {
	next := c.nextChunk(off)
	if next == c.top {
		avail := oldSize + headerSize + c.topSize
		if avail < need {
			return false
		}
		grow := need - oldSize
		c.top += grow
		c.topSize -= grow
		c.setHeader(c.top, c.topSize, false, true)
		c.setHeader(off, need, true, c.isPrevInUse(off))
		c.usedSize += grow
		return true
	}
	if c.isInUse(next) {
		return false
	}
	avail := oldSize + headerSize + c.chunkSize(next)
	if avail < need {
		return false
	}
	if next == c.dv {
		c.dv, c.dvSize = nilOff, 0
	} else {
		c.removeFree(next)
	}
	c.setHeader(off, avail, true, c.isPrevInUse(off))
	succ := c.nextChunk(off)
	c.setPrevInUse(succ, true)

	if avail-need >= headerSize+minChunkPayload {
		c.splitInUse(off, need)
	}
	c.usedSize += c.chunkSize(off) - oldSize
	return true
}

// splitInUse right-trims the in-use chunk at off down to need bytes,
// routing the freed remainder into top, the designated victim, or an
// ordinary free bin, matching splitOrWhole's placement policy.
func (c *Core) splitInUse(off, need uint32) {
	total := c.chunkSize(off)
	newOff := off + headerSize + need
	newSize := total - need - headerSize
	c.setHeader(off, need, true, c.isPrevInUse(off))
	c.setHeader(newOff, newSize, false, true)
	succ := c.nextChunk(newOff)

	if succ == c.top {
		c.topSize += headerSize + newSize
		c.top = newOff
		c.setHeader(c.top, c.topSize, false, true)
		return
	}

	c.setPrevFoot(succ, newSize)
	c.setPrevInUse(succ, false)
	if newSize < smallBinMax && c.dv == nilOff {
		c.dv, c.dvSize = newOff, newSize
	} else {
		c.insertFree(newOff, newSize)
	}
}

// TotalFree sums every free chunk's usable size, including dv and top
// (spec.md §8, property 3).
func (c *Core) TotalFree() uint32 {
	total := c.topSize
	if c.dv != nilOff {
		total += c.dvSize
	}
	for i := uint32(0); i < numSmallBins; i++ {
		for off := c.smallBins[i]; off != nilOff; {
			total += c.chunkSize(off)
			off = c.fd(off)
			if off == c.smallBins[i] {
				break
			}
		}
	}
	for i := uint32(0); i < numTreeBins; i++ {
		c.walkTree(c.treeBins[i], &total)
	}
	return total
}

func (c *Core) walkTree(off uint32, total *uint32) {
	if off == nilOff {
		return
	}
	for dup := off; ; {
		*total += c.chunkSize(dup)
		dup = c.fd(dup)
		if dup == off {
			break
		}
	}
	c.walkTree(c.child(off, 0), total)
	c.walkTree(c.child(off, 1), total)
}

// TotalSize returns the number of bytes committed across all segments.
func (c *Core) TotalSize() uint32 { return c.totalSize }
