/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

// Package galloc collects the general-purpose memory allocators and the
// related object-indexing pools described by the module: TLSF, offset,
// dlmalloc-style, segmented (buddy-like), bump-pointer (linear, forward,
// stack, frame), an object-component store, and an offline time-stamped
// allocation planner.
//
// IMPORTANT: none of the allocators in this module are goroutine-safe.
// Every core is single-owner; a caller that needs to share one across
// goroutines must wrap it under its own mutex.
package galloc

import (
	"errors"
	"unsafe"
)

// Allocator is the contract implemented by the pointer-returning cores
// (tlsf, dlmalloc, and the bump cores). The offset and segmented cores
// hand out offsets through their own Allocate signatures and do not
// implement it.
type Allocator interface {
	// Allocate carves out a block of at least size bytes aligned to align,
	// which must be a power of two. It returns nil when no block is
	// currently available.
	Allocate(size, align uint32) unsafe.Pointer

	// Deallocate returns the block pointed to by ptr and reports the
	// number of bytes that were freed. The behavior is undefined if ptr
	// was not produced by Allocate on this core, or has already been
	// freed.
	Deallocate(ptr unsafe.Pointer) uint32

	// Release frees every resource owned by the core. The core must not
	// be used again afterwards.
	Release()
}

// Resizer is implemented by cores that can grow or shrink a block in
// place without a copy when possible (TLSFCore, DlmallocCore).
type Resizer interface {
	Reallocate(ptr unsafe.Pointer, newSize uint32) unsafe.Pointer
	UsableSize(ptr unsafe.Pointer) uint32
}

// Scoped describes LIFO save/restore discipline with a uintptr token.
// StackCore offers the same discipline with its own SavePoint token
// type, so it does not satisfy this interface.
type Scoped interface {
	SavePoint() uintptr
	RestorePoint(token uintptr)
}

// ErrOutOfMemory is returned when a core cannot satisfy a request from
// its current backing region and (if growable) cannot grow further.
var ErrOutOfMemory = errors.New("galloc: out of memory")

// ErrInvalidArgument is returned when align is not a power of two or
// size exceeds a core's maximum request size.
var ErrInvalidArgument = errors.New("galloc: invalid argument")

// ErrCorruption is returned (or passed to a corruption hook) when a
// core detects a broken invariant: a bad footer, an out-of-range
// neighbor, or a free-list/bitmap inconsistency.
var ErrCorruption = errors.New("galloc: corruption detected")

// ErrUsage is returned (or passed to a usage-error hook) when a core
// detects a client misuse such as a double free.
var ErrUsage = errors.New("galloc: usage error")

// CorruptionHook is invoked when a core fails closed on detected
// corruption or a usage error. The default (nil) hook is silent; the
// call site state is left unchanged either way. Hooks must not call
// back into the allocator that invoked them (§5: allocators are not
// reentrant).
type CorruptionHook func(err error)

// AlignUp rounds size up to the next multiple of align. align must be
// a power of two.
func AlignUp(size, align uint32) uint32 {
	return (size + align - 1) &^ (align - 1)
}

// AlignDown rounds size down to the previous multiple of align. align
// must be a power of two.
func AlignDown(size, align uint32) uint32 {
	return size &^ (align - 1)
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
