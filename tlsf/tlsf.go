/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

// Package tlsf implements a Two-Level Segregated Fit memory allocator:
// constant-time best-fit over segregated free lists driven by two
// bitmaps (spec.md §4.1).
//
// It is adapted from warawara28-tlsf-go's tlsf.go/bits.go, generalized
// from a fixed-alignment, pointer-intrusive design (free-list links
// stored as typed *FreeBlockHeader inside a Go 1.22 experimental
// arena.Arena) to the byte-buffer-and-offsets representation spec.md
// §9 calls for: every header field is read and written through
// encoding/binary at a computed offset, never through a cast struct
// pointer, and the only real pointer in the whole core is the payload
// pointer returned to the caller.
//
// IMPORTANT: This package is NOT goroutine-safe. It is the caller's
// responsibility to synchronize concurrent access.
package tlsf

import (
	"encoding/binary"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"galloc"
	"galloc/memarena"
)

// Options configures a Core at construction time.
type Options struct {
	// Growable, when true, pairs the core with a memarena.Arena that is
	// committed into on demand instead of a single fixed-size buffer.
	Growable bool
	// Reserved is the maximum size a growable core may ever reach.
	// Ignored when Growable is false.
	Reserved uint32
	// Hook, if non-nil, is invoked on detected corruption or usage
	// errors (spec.md §7). The default is silent failure-closed.
	Hook galloc.CorruptionHook
}

// Core is a single contiguous (or growable) TLSF-managed region.
type Core struct {
	buf   []byte
	arena *memarena.Arena

	flBitmap uint32
	slBitmap [realFLI]uint32
	matrix   [realFLI][slCount]uint32 // free-list head block offsets, nilOff when empty

	sentinel  uint32 // offset of the always-in-use, size-0 tail block
	usedSize  uint32
	totalSize uint32

	magic uuid.UUID // spec.md §3.3: random, non-zero arena tag carried in hook diagnostics
	hook  galloc.CorruptionHook
}

// Magic returns this Core's arena tag (spec.md §3.3), generated once at
// construction. It has no cryptographic purpose; it exists so a
// CorruptionHook firing across many live Cores can tell which one
// reported the failure.
func (c *Core) Magic() uuid.UUID { return c.magic }

// fail wraps err with call-site context via pkg/errors, routes it to
// the configured CorruptionHook (if any), and returns nil so callers
// can `return c.fail(...)` directly from Allocate.
func (c *Core) fail(err error, format string, args ...interface{}) unsafe.Pointer {
	if c.hook != nil {
		c.hook(errors.Wrapf(err, "tlsf[%s]: "+format, append([]interface{}{c.magic}, args...)...))
	}
	return nil
}

// New creates a fixed-size Core managing sizeBytes of memory.
func New(sizeBytes uint32) *Core {
	return NewWithOptions(sizeBytes, Options{})
}

// NewGrowable creates a Core that starts with initial bytes committed
// and may grow up to reserved bytes over its lifetime.
func NewGrowable(initial, reserved uint32) *Core {
	return NewWithOptions(initial, Options{Growable: true, Reserved: reserved})
}

// NewWithOptions creates a Core with explicit Options.
func NewWithOptions(sizeBytes uint32, opts Options) *Core {
	c := &Core{hook: opts.Hook, magic: uuid.New()}
	for fl := range c.matrix {
		for sl := range c.matrix[fl] {
			c.matrix[fl][sl] = nilOff
		}
	}

	if opts.Growable {
		c.arena = memarena.Reserve(opts.Reserved)
		if _, ok := c.arena.Commit(sizeBytes, alignFloor); !ok {
			panic("tlsf: initial size exceeds reserved size")
		}
		c.buf = c.arena.Bytes()
	} else {
		c.buf = make([]byte, sizeBytes)
	}

	c.initRegion(0, sizeBytes)
	return c
}

// initRegion lays down one free block spanning [from, from+n) followed
// by a size-0, permanently-used sentinel block, and links the free
// block into the matrix.
func (c *Core) initRegion(from, n uint32) {
	payload := roundDown(n-2*headerSize, alignFloor)
	blockOff := from
	c.setSizeAndFlags(blockOff, payload|flagFree)
	c.setPrevPhysical(blockOff, nilOff)

	sentinelOff := blockOff + headerSize + payload
	c.setSizeAndFlags(sentinelOff, flagPrevFree) // size 0, in use, prev free
	c.setPrevPhysical(sentinelOff, blockOff)
	c.sentinel = sentinelOff

	fl, sl := determineLevels(payload)
	c.insertBlock(blockOff, fl, sl)

	c.totalSize += n
}

// --- header accessors -------------------------------------------------

func (c *Core) u32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(c.buf[off : off+4])
}
func (c *Core) setU32(off, v uint32) {
	binary.LittleEndian.PutUint32(c.buf[off:off+4], v)
}

func (c *Core) setSizeAndFlags(off, v uint32) { c.setU32(off, v) }
func (c *Core) blockSize(off uint32) uint32   { return c.u32(off) &^ flagMask }
func (c *Core) isFree(off uint32) bool        { return c.u32(off)&flagFree != 0 }
func (c *Core) isPrevFree(off uint32) bool    { return c.u32(off)&flagPrevFree != 0 }

func (c *Core) setBlockSize(off, size uint32) {
	c.setU32(off, size|(c.u32(off)&flagMask))
}
func (c *Core) setFreeFlag(off uint32, v bool) {
	cur := c.u32(off)
	if v {
		c.setU32(off, cur|flagFree)
	} else {
		c.setU32(off, cur&^flagFree)
	}
}
func (c *Core) setPrevFreeFlag(off uint32, v bool) {
	cur := c.u32(off)
	if v {
		c.setU32(off, cur|flagPrevFree)
	} else {
		c.setU32(off, cur&^flagPrevFree)
	}
}

func (c *Core) prevPhysical(off uint32) uint32    { return c.u32(off + 4) }
func (c *Core) setPrevPhysical(off, v uint32)     { c.setU32(off+4, v) }
func (c *Core) nextPhysical(off uint32) uint32    { return off + headerSize + c.blockSize(off) }
func (c *Core) freeNext(off uint32) uint32        { return c.u32(off + headerSize) }
func (c *Core) setFreeNext(off, v uint32)         { c.setU32(off+headerSize, v) }
func (c *Core) freePrev(off uint32) uint32        { return c.u32(off + headerSize + 4) }
func (c *Core) setFreePrev(off, v uint32)         { c.setU32(off+headerSize+4, v) }

func (c *Core) ptr(off uint32) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(&c.buf[0]), off)
}
func (c *Core) offsetOf(p unsafe.Pointer) uint32 {
	return uint32(uintptr(p) - uintptr(unsafe.Pointer(&c.buf[0])))
}

// --- free-list bookkeeping ---------------------------------------------

func (c *Core) insertBlock(off, fl, sl uint32) {
	head := c.matrix[fl][sl]
	c.setFreePrev(off, nilOff)
	c.setFreeNext(off, head)
	if head != nilOff {
		c.setFreePrev(head, off)
	}
	c.matrix[fl][sl] = off
	c.slBitmap[fl] |= 1 << sl
	c.flBitmap |= 1 << fl
}

// removeBlock unlinks off from the (fl, sl) free list, wherever in the
// list it sits.
func (c *Core) removeBlock(off, fl, sl uint32) {
	next := c.freeNext(off)
	prev := c.freePrev(off)
	if next != nilOff {
		c.setFreePrev(next, prev)
	}
	if prev != nilOff {
		c.setFreeNext(prev, next)
	} else {
		c.matrix[fl][sl] = next
		if next == nilOff {
			c.slBitmap[fl] &^= 1 << sl
			if c.slBitmap[fl] == 0 {
				c.flBitmap &^= 1 << fl
			}
		}
	}
}

// findSuitableBlock locates a free block at (fl, sl) or the next
// non-empty class above it, per the search order in spec.md §4.1.
func (c *Core) findSuitableBlock(fl, sl uint32) (off, foundFL, foundSL uint32, ok bool) {
	if s, found := findBitAtOrAbove(c.slBitmap[fl], sl); found {
		return c.matrix[fl][s], fl, s, true
	}
	f, found := findBitAtOrAbove(c.flBitmap, fl+1)
	if !found {
		return 0, 0, 0, false
	}
	s := lsb(c.slBitmap[f])
	return c.matrix[f][s], f, s, true
}

// --- allocator contract -------------------------------------------------

// Allocate carves out a block of at least size bytes aligned to align.
func (c *Core) Allocate(size, align uint32) unsafe.Pointer {
	if align == 0 {
		align = 1
	}
	if !galloc.IsPowerOfTwo(align) {
		return c.fail(galloc.ErrInvalidArgument, "allocate: align=%d is not a power of two", align)
	}

	if align < alignFloor {
		align = alignFloor
	}
	need := size + backptrSize + align
	adj := need
	if adj < minBlockSize {
		adj = minBlockSize
	}
	adj = roundUp(adj, alignFloor)

	rounded, fl, sl := selectLevelsAndSize(adj)

	off, foundFL, foundSL, ok := c.findSuitableBlock(fl, sl)
	if !ok && c.arena != nil {
		if c.grow(rounded) {
			off, foundFL, foundSL, ok = c.findSuitableBlock(fl, sl)
		}
	}
	if !ok {
		return nil
	}

	c.removeBlock(off, foundFL, foundSL)
	c.useBlock(off, rounded)

	payloadOff := off + headerSize
	returnOff := roundUp(payloadOff+backptrSize, align)
	c.setU32(returnOff-backptrSize, off)

	c.usedSize += c.blockSize(off) + headerSize
	return c.ptr(returnOff)
}

// useBlock marks the popped block at off in-use, right-trimming off any
// remainder larger than a minimal free block back into the free lists.
func (c *Core) useBlock(off, adj uint32) {
	total := c.blockSize(off)
	remainder := total - adj

	if remainder >= headerSize+minBlockSize {
		newOff := off + headerSize + adj
		newPayload := remainder - headerSize

		successor := c.nextPhysical(off)

		c.setSizeAndFlags(newOff, newPayload|flagFree)
		c.setPrevPhysical(newOff, off)

		c.setPrevPhysical(successor, newOff)
		c.setPrevFreeFlag(successor, true)

		fl, sl := determineLevels(newPayload)
		c.insertBlock(newOff, fl, sl)

		c.setBlockSize(off, adj)
	}
	c.setFreeFlag(off, false)
	if remainder < headerSize+minBlockSize {
		c.setPrevFreeFlag(c.nextPhysical(off), false)
	}
}

// grow commits at least need additional bytes from the paired arena and
// splices the new span in as a free region directly before the
// sentinel, per spec.md §9.
func (c *Core) grow(need uint32) bool {
	extra := need + 2*headerSize
	if extra < 1<<16 {
		extra = 1 << 16
	}
	from := c.sentinel
	if _, ok := c.arena.Commit(extra, alignFloor); !ok {
		return false
	}
	c.buf = c.arena.Bytes()
	c.initRegion(from, extra)
	return true
}

// Deallocate returns the block pointed to by ptr to the pool, coalescing
// with free physical neighbors, and reports the number of bytes freed.
func (c *Core) Deallocate(ptr unsafe.Pointer) uint32 {
	if ptr == nil {
		return 0
	}
	retOff := c.offsetOf(ptr)
	off := c.u32(retOff - backptrSize)
	freed := c.blockSize(off) + headerSize

	c.setFreeFlag(off, true)
	c.usedSize -= freed

	next := c.nextPhysical(off)
	if c.isFree(next) {
		nfl, nsl := determineLevels(c.blockSize(next))
		c.removeBlock(next, nfl, nsl)
		c.setBlockSize(off, c.blockSize(off)+headerSize+c.blockSize(next))
	}

	if c.isPrevFree(off) {
		prev := c.prevPhysical(off)
		pfl, psl := determineLevels(c.blockSize(prev))
		c.removeBlock(prev, pfl, psl)
		c.setBlockSize(prev, c.blockSize(prev)+headerSize+c.blockSize(off))
		off = prev
	}

	successor := c.nextPhysical(off)
	c.setPrevPhysical(successor, off)
	c.setPrevFreeFlag(successor, true)

	fl, sl := determineLevels(c.blockSize(off))
	c.insertBlock(off, fl, sl)

	return freed
}

// Release discards the backing storage. The Core must not be used
// again afterwards.
func (c *Core) Release() {
	if c.arena != nil {
		c.arena.Release()
		c.arena = nil
	}
	c.buf = nil
}

// Reallocate resizes the block at ptr in place when possible (growing
// into a free successor), falling back to allocate-copy-free otherwise.
// When newSize already fits the block, ptr is returned unchanged and the
// block is not trimmed.
func (c *Core) Reallocate(ptr unsafe.Pointer, newSize uint32) unsafe.Pointer {
	if ptr == nil {
		return c.Allocate(newSize, alignFloor)
	}
	retOff := c.offsetOf(ptr)
	off := c.u32(retOff - backptrSize)
	oldUsable := c.blockSize(off) + off + headerSize - retOff

	need := roundUp(retOff-off-headerSize+newSize, alignFloor)
	if need < minBlockSize {
		need = minBlockSize
	}

	if need <= c.blockSize(off) {
		return ptr
	}

	next := c.nextPhysical(off)
	if c.isFree(next) && c.blockSize(off)+headerSize+c.blockSize(next) >= need {
		oldBlockSize := c.blockSize(off)
		nfl, nsl := determineLevels(c.blockSize(next))
		c.removeBlock(next, nfl, nsl)
		c.setBlockSize(off, oldBlockSize+headerSize+c.blockSize(next))
		c.useBlock(off, need) // may right-trim the merged block back into the free lists
		c.usedSize += c.blockSize(off) - oldBlockSize
		return ptr
	}

	newPtr := c.Allocate(newSize, alignFloor)
	if newPtr == nil {
		return nil
	}
	copySize := oldUsable
	if newSize < copySize {
		copySize = newSize
	}
	copy(unsafe.Slice((*byte)(newPtr), copySize), unsafe.Slice((*byte)(ptr), copySize))
	c.Deallocate(ptr)
	return newPtr
}

// UsableSize returns the number of bytes available to the caller from
// ptr to the end of its block.
func (c *Core) UsableSize(ptr unsafe.Pointer) uint32 {
	retOff := c.offsetOf(ptr)
	off := c.u32(retOff - backptrSize)
	return off + headerSize + c.blockSize(off) - retOff
}

// TotalFree returns the sum of every free block's payload across the
// whole managed region (spec.md §8, property 3).
func (c *Core) TotalFree() uint32 {
	var total uint32
	for fl := 0; fl < realFLI; fl++ {
		for sl := 0; sl < slCount; sl++ {
			for off := c.matrix[fl][sl]; off != nilOff; off = c.freeNext(off) {
				total += c.blockSize(off)
			}
		}
	}
	return total
}

// TotalSize returns the total number of bytes ever committed into this
// core (initial size plus any growth).
func (c *Core) TotalSize() uint32 { return c.totalSize }
