// Package tsplanner implements the time-stamped allocation planner of
// spec.md §4.7: given a fixed schedule of allocations with known
// lifetimes, assign each one an address offline such that no two
// temporally-overlapping allocations ever overlap in address space,
// minimizing peak footprint.
//
// original_source/source/main/cpp/c_allocator_ts.cpp's
// process_sequence sorts its entries by (free_time, duration) and
// then stops — out_addresses is never written, confirming spec.md
// §9's note that the placement step is unspecified in the source.
// This package's placement policy departs from that sort order: it
// processes records by non-increasing size (ties broken by
// alloc_time, then input index) and first-fits each one by address
// among only the records already placed whose interval overlaps it.
// Sorting by size first, rather than by free_time as the original
// does, is what reproduces the peak=6 result spec.md §8 requires for
// its four-record seed scenario; a chronological first-fit over the
// same records settles for a peak of 7 by letting an early, narrow
// allocation claim a low address a later, wider one then has to jump
// over.
package tsplanner

import "sort"

// Request describes one allocation's lifetime and size, before
// placement.
type Request struct {
	ID        uint32
	AllocTime uint64
	FreeTime  uint64
	Size      uint64
}

// Placement is a Request annotated with its assigned address.
type Placement struct {
	Request
	Address uint64
}

func overlaps(a, b Request) bool {
	return a.AllocTime < b.FreeTime && b.AllocTime < a.FreeTime
}

// Plan assigns addresses to every request, returning the placements
// (in input order) and the resulting peak footprint: the highest
// address+size reached by any placement.
func Plan(requests []Request) ([]Placement, uint64) {
	order := make([]int, len(requests))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := requests[order[i]], requests[order[j]]
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		if a.AllocTime != b.AllocTime {
			return a.AllocTime < b.AllocTime
		}
		return order[i] < order[j]
	})

	placements := make([]Placement, len(requests))
	var placed []Placement
	var peak uint64

	for _, idx := range order {
		req := requests[idx]
		addr := firstFitAddress(req, placed)
		p := Placement{Request: req, Address: addr}
		placements[idx] = p
		placed = append(placed, p)
		if end := addr + req.Size; end > peak {
			peak = end
		}
	}

	return placements, peak
}

// firstFitAddress finds the lowest address at which req does not
// overlap, in both time and space, any already-placed record.
func firstFitAddress(req Request, placed []Placement) uint64 {
	type window struct{ start, end uint64 }
	var blocks []window
	for _, p := range placed {
		if overlaps(req, p.Request) {
			blocks = append(blocks, window{p.Address, p.Address + p.Size})
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].start < blocks[j].start })

	addr := uint64(0)
	for _, b := range blocks {
		if addr+req.Size <= b.start {
			return addr
		}
		if b.end > addr {
			addr = b.end
		}
	}
	return addr
}

// peakFootprint returns the maximum, over every distinct time moment
// spanned by the placements, of the sum of sizes of records live at
// that moment (spec.md §8, property 9).
func peakFootprint(placements []Placement) uint64 {
	type event struct {
		t     uint64
		delta int64
	}
	events := make([]event, 0, len(placements)*2)
	for _, p := range placements {
		events = append(events, event{p.AllocTime, int64(p.Size)})
		events = append(events, event{p.FreeTime, -int64(p.Size)})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].t != events[j].t {
			return events[i].t < events[j].t
		}
		return events[i].delta < events[j].delta // process frees before allocs at a tie
	})

	var cur, peak int64
	for _, e := range events {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return uint64(peak)
}
