package tsplanner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedScenarioPeakFootprint(t *testing.T) {
	requests := []Request{
		{ID: 0, AllocTime: 0, FreeTime: 4, Size: 1},
		{ID: 1, AllocTime: 1, FreeTime: 8, Size: 4},
		{ID: 2, AllocTime: 4, FreeTime: 9, Size: 2},
		{ID: 3, AllocTime: 9, FreeTime: 12, Size: 1},
	}

	placements, peak := Plan(requests)
	require.Len(t, placements, 4)
	require.EqualValues(t, 6, peak)
}

func TestNoTwoOverlappingPlacementsOverlapInAddress(t *testing.T) {
	requests := []Request{
		{ID: 0, AllocTime: 0, FreeTime: 10, Size: 3},
		{ID: 1, AllocTime: 2, FreeTime: 6, Size: 2},
		{ID: 2, AllocTime: 3, FreeTime: 5, Size: 1},
		{ID: 3, AllocTime: 7, FreeTime: 9, Size: 4},
		{ID: 4, AllocTime: 0, FreeTime: 1, Size: 5},
	}

	placements, peak := Plan(requests)
	require.EqualValues(t, expectedPeak(requests), peak)

	for i := range placements {
		for j := i + 1; j < len(placements); j++ {
			a, b := placements[i], placements[j]
			if !overlaps(a.Request, b.Request) {
				continue
			}
			aEnd := a.Address + a.Size
			bEnd := b.Address + b.Size
			require.False(t, a.Address < bEnd && b.Address < aEnd,
				"placements %d and %d overlap in both time and address", a.ID, b.ID)
		}
	}
}

// expectedPeak recomputes the lower bound directly from the input
// (spec.md §8 property 9: the planner must achieve it, not merely
// approach it) to cross-check Plan's own accounting.
func expectedPeak(requests []Request) uint64 {
	type event struct {
		t     uint64
		delta int64
	}
	var events []event
	for _, r := range requests {
		events = append(events, event{r.AllocTime, int64(r.Size)})
		events = append(events, event{r.FreeTime, -int64(r.Size)})
	}
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			if events[j].t < events[i].t || (events[j].t == events[i].t && events[j].delta < events[i].delta) {
				events[i], events[j] = events[j], events[i]
			}
		}
	}
	var cur, peak int64
	for _, e := range events {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return uint64(peak)
}

func TestSingleRequestPlacesAtZero(t *testing.T) {
	placements, peak := Plan([]Request{{ID: 0, AllocTime: 0, FreeTime: 1, Size: 42}})
	require.Len(t, placements, 1)
	require.EqualValues(t, 0, placements[0].Address)
	require.EqualValues(t, 42, peak)
}

func TestNonOverlappingRequestsCanShareAnAddress(t *testing.T) {
	requests := []Request{
		{ID: 0, AllocTime: 0, FreeTime: 5, Size: 10},
		{ID: 1, AllocTime: 5, FreeTime: 10, Size: 10},
	}
	placements, peak := Plan(requests)
	require.EqualValues(t, 10, peak)
	require.Equal(t, placements[0].Address, placements[1].Address)
}
