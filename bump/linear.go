// Package bump implements the four bump-pointer allocator variants of
// spec.md §4.5: all allocate in strictly ascending arena addresses and
// differ only in their reclamation discipline (never / ring-wraparound
// / LIFO scopes / double-buffered frame lanes).
//
// They are grounded on spec.md §4.5's prose together with
// original_source/source/main/cpp/c_allocator_stack.cpp and
// c_allocator_frame.cpp (both read in full): those two original files
// map onto StackCore and FrameCore closely enough to port structurally;
// LinearCore and ForwardCore have no single dedicated original file
// (linear allocation is inlined ad hoc throughout the original
// codebase) and are authored from the spec text directly. LinearCore,
// StackCore and FrameCore share this module's memarena.Arena as their
// backing store, reusing its Commit/Restore/Reset primitives instead of
// re-deriving bump arithmetic from scratch; ForwardCore manages its own
// fixed []byte with in-buffer chunk headers.
package bump

import (
	"unsafe"

	"galloc/memarena"
)

// LinearCore is the simplest bump allocator: monotonic forward
// allocation, no per-allocation deallocation, and a single reset back
// to the arena base.
type LinearCore struct {
	arena *memarena.Arena
}

// NewLinearCore creates a LinearCore managing sizeBytes of memory.
func NewLinearCore(sizeBytes uint32) *LinearCore {
	return &LinearCore{arena: memarena.Reserve(sizeBytes)}
}

// Allocate bumps the cursor by size, aligned to align, returning nil
// if the arena is exhausted.
func (c *LinearCore) Allocate(size, align uint32) unsafe.Pointer {
	off, ok := c.arena.Commit(size, align)
	if !ok {
		return nil
	}
	return c.arena.Ptr(off)
}

// Deallocate is a no-op: LinearCore tracks no per-allocation metadata.
func (c *LinearCore) Deallocate(unsafe.Pointer) uint32 { return 0 }

// Reset rewinds the cursor to the arena base, invalidating every
// outstanding pointer.
func (c *LinearCore) Reset() { c.arena.Reset() }

// Release discards the backing storage.
func (c *LinearCore) Release() { c.arena.Release() }

// Used returns the number of bytes committed since the last Reset.
func (c *LinearCore) Used() uint32 { return c.arena.Committed() }
