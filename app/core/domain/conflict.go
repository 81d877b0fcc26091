package domain

import (
	"sort"
	"time"
)

// DetectConflicts computes pairwise time overlaps among non-DONE tasks and
// returns, per task id, the sorted ids of the tasks it overlaps. A task with
// no end is treated as the instant [start, start]. The test is inclusive on
// both bounds: touching endpoints count as a conflict.
func DetectConflicts(tasks []Task) map[string][]string {
	active := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status != StatusDone {
			active = append(active, t)
		}
	}

	conflicts := make(map[string]map[string]struct{})
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if !Overlaps(a.Start, a.EffectiveEnd(), b.Start, b.EffectiveEnd()) {
				continue
			}
			record(conflicts, a.ID, b.ID)
			record(conflicts, b.ID, a.ID)
		}
	}

	out := make(map[string][]string, len(conflicts))
	for id, set := range conflicts {
		ids := make([]string, 0, len(set))
		for other := range set {
			ids = append(ids, other)
		}
		sort.Strings(ids)
		out[id] = ids
	}
	return out
}

// Overlaps reports whether [aStart, aEnd] intersects [bStart, bEnd],
// boundaries included.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}

func record(m map[string]map[string]struct{}, id, other string) {
	set, ok := m[id]
	if !ok {
		set = make(map[string]struct{})
		m[id] = set
	}
	set[other] = struct{}{}
}
