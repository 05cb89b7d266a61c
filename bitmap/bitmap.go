// Package bitmap implements the bit-vector primitive that spec.md treats
// as an external collaborator (binmap/duomap/hbb): free/used tracking
// with find-free, find-used and next-used-up queries. FindUsed/FindFree
// test a single bit; FindFreeAndSetUsed scans word by word from index 0
// and NextUsedUp scans bit by bit upward from idx.
//
// It is grounded on github.com/bits-and-blooms/bitset, the bit-vector
// package carried by the retrieval pack's nmxmxh-inos_v1 dependency
// graph, rather than a hand-rolled word array: the scan primitives
// (NextSet/NextClear) it exposes are exactly the "find first bit at or
// above index" operation every core in this module needs.
package bitmap

import "github.com/bits-and-blooms/bitset"

// Binmap tracks, for each of N indices, whether a slot is free (bit set)
// or used (bit clear). It is used by segmented (per-size-class cell
// occupancy) and by ecs (per-component local-slot occupancy).
type Binmap struct {
	bits      *bitset.BitSet
	n         uint
	lazy      bool
	watermark uint
}

// NewBinmap returns a Binmap of n slots, all initially free.
func NewBinmap(n uint) *Binmap {
	m := &Binmap{}
	m.InitAllFree(n)
	return m
}

// NewLazyBinmap returns a Binmap of n slots, all conceptually free but
// materialized on demand via TickAllFreeLazy / first access. Use this
// for large N where eagerly setting every bit is wasteful.
func NewLazyBinmap(n uint) *Binmap {
	m := &Binmap{}
	m.InitAllFreeLazy(n)
	return m
}

// NewBinmapAllUsed returns a Binmap of n slots, all initially used. A
// fresh bitset.BitSet clears every bit by construction, which under
// this package's bit-set-means-free convention is already "all used",
// so this is a plain zero-value bitset with no slot-by-slot work.
func NewBinmapAllUsed(n uint) *Binmap {
	return &Binmap{n: n, bits: bitset.New(n)}
}

// InitAllFree (re)initializes the map to n slots, all free.
func (m *Binmap) InitAllFree(n uint) {
	m.n = n
	m.bits = bitset.New(n)
	for i := uint(0); i < n; i++ {
		m.bits.Set(i)
	}
	m.lazy = false
	m.watermark = n
}

// InitAllFreeLazy (re)initializes the map to n slots, all conceptually
// free, without eagerly touching the backing bitset.
func (m *Binmap) InitAllFreeLazy(n uint) {
	m.n = n
	m.bits = bitset.New(n)
	m.lazy = true
	m.watermark = 0
}

// TickAllFreeLazy materializes the next step slots (starting at the
// current watermark) as free. It is a no-op once the whole map has been
// materialized.
func (m *Binmap) TickAllFreeLazy(step uint) {
	if !m.lazy {
		return
	}
	end := m.watermark + step
	if end > m.n {
		end = m.n
	}
	for i := m.watermark; i < end; i++ {
		m.bits.Set(i)
	}
	m.watermark = end
	if m.watermark >= m.n {
		m.lazy = false
	}
}

// ensure materializes every slot up to and including idx.
func (m *Binmap) ensure(idx uint) {
	if m.lazy && idx >= m.watermark {
		m.TickAllFreeLazy(idx - m.watermark + 1)
	}
}

// Len returns the number of slots tracked.
func (m *Binmap) Len() uint { return m.n }

// FindFreeAndSetUsed finds the lowest-indexed free slot, marks it used
// and returns its index. ok is false when no free slot remains.
func (m *Binmap) FindFreeAndSetUsed() (idx uint, ok bool) {
	if m.lazy {
		// A miss against the materialized prefix doesn't prove there is
		// no free slot beyond the watermark; materialize the rest before
		// giving up.
		if i, found := m.bits.NextSet(0); !found || i >= m.watermark {
			m.TickAllFreeLazy(m.n - m.watermark)
		}
	}
	i, found := m.bits.NextSet(0)
	if !found || i >= m.n {
		return 0, false
	}
	m.bits.Clear(i)
	return i, true
}

// AnyFree reports whether at least one slot is currently free, without
// consuming it.
func (m *Binmap) AnyFree() bool {
	if m.lazy && m.watermark < m.n {
		return true
	}
	_, found := m.bits.NextSet(0)
	return found
}

// SetFree marks idx as free.
func (m *Binmap) SetFree(idx uint) {
	m.ensure(idx)
	m.bits.Set(idx)
}

// SetUsed marks idx as used.
func (m *Binmap) SetUsed(idx uint) {
	m.ensure(idx)
	m.bits.Clear(idx)
}

// FindUsed reports whether idx is currently used.
func (m *Binmap) FindUsed(idx uint) bool {
	m.ensure(idx)
	return !m.bits.Test(idx)
}

// FindFree reports whether idx is currently free.
func (m *Binmap) FindFree(idx uint) bool {
	m.ensure(idx)
	return m.bits.Test(idx)
}

// NextUsedUp returns the lowest used index >= idx, if any.
func (m *Binmap) NextUsedUp(idx uint) (uint, bool) {
	if m.lazy {
		m.TickAllFreeLazy(m.n - m.watermark)
	}
	for i := idx; i < m.n; i++ {
		if !m.bits.Test(i) {
			return i, true
		}
	}
	return 0, false
}

// Count returns the number of used slots.
func (m *Binmap) Count() uint {
	if m.lazy {
		m.TickAllFreeLazy(m.n - m.watermark)
	}
	return m.n - m.bits.Count()
}

// Duomap layers free/used queries that must remain independently
// answerable (spec.md §3.4: "both free and used queryable") on top of a
// single Binmap — a slot is used iff it is not free, so the two views
// are always consistent by construction.
type Duomap struct {
	Binmap
}

// NewDuomap returns a Duomap of n slots, all initially free.
func NewDuomap(n uint) *Duomap {
	return &Duomap{Binmap: *NewBinmap(n)}
}
