// Package slots holds the pure interval arithmetic behind date
// configurations: splitting an open range into fixed-length slots, overlap
// detection, and the key-based reconciliation of stored and desired slots.
package slots

import (
	"sort"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
)

// Split returns consecutive slots of exactly durationMinutes starting at
// start. A trailing remainder shorter than the duration is dropped.
func Split(start, end model.TimeOfDay, durationMinutes int) []model.TimeRange {
	if durationMinutes <= 0 || start >= end {
		return nil
	}
	if int(end-start) < durationMinutes {
		return nil
	}

	out := make([]model.TimeRange, 0, int(end-start)/durationMinutes)
	for t := start; t.Add(durationMinutes) <= end; t = t.Add(durationMinutes) {
		out = append(out, model.TimeRange{Start: t, End: t.Add(durationMinutes)})
	}
	return out
}

// Overlaps reports whether two half-open ranges share any minute. Ranges that
// only touch at a boundary do not overlap.
func Overlaps(a, b model.TimeRange) bool {
	return a.Start < b.End && b.Start < a.End
}

// FirstOverlap returns the input indexes i < j of an overlapping pair, if
// any. Ranges must satisfy Start < End.
func FirstOverlap(ranges []model.TimeRange) (int, int, bool) {
	idx := make([]int, len(ranges))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return ranges[idx[a]].Start < ranges[idx[b]].Start
	})

	// After sorting by start, any overlap involves some range and a later
	// one starting before the furthest end seen so far.
	furthest := -1
	for k, cur := range idx {
		if furthest >= 0 && Overlaps(ranges[furthest], ranges[cur]) {
			i, j := furthest, cur
			if j < i {
				i, j = j, i
			}
			return i, j, true
		}
		if furthest < 0 || ranges[cur].End > ranges[furthest].End {
			furthest = idx[k]
		}
	}
	return 0, 0, false
}

// Diff reconciles stored intervals against the desired ranges, keyed by
// (start, end). It returns the ranges to insert and the stored intervals to
// remove, both sorted by start. Intervals present on both sides are left out
// so their stored state is kept. Duplicate desired ranges collapse.
func Diff(existing []model.Interval, desired []model.TimeRange) ([]model.TimeRange, []model.Interval) {
	want := make(map[model.TimeRange]struct{}, len(desired))
	for _, r := range desired {
		want[r] = struct{}{}
	}
	have := make(map[model.TimeRange]struct{}, len(existing))

	var remove []model.Interval
	for _, iv := range existing {
		key := iv.Range()
		if _, ok := want[key]; ok {
			have[key] = struct{}{}
			continue
		}
		remove = append(remove, iv)
	}

	var insert []model.TimeRange
	for r := range want {
		if _, ok := have[r]; !ok {
			insert = append(insert, r)
		}
	}

	sort.Slice(insert, func(i, j int) bool {
		if insert[i].Start != insert[j].Start {
			return insert[i].Start < insert[j].Start
		}
		return insert[i].End < insert[j].End
	})
	sort.SliceStable(remove, func(i, j int) bool {
		return remove[i].Start < remove[j].Start
	})
	return insert, remove
}
