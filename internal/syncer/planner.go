package syncer

import (
	"time"
)

// Range is an inclusive [Start, End] catch-up window.
type Range struct {
	Start time.Time
	End   time.Time
}

// PlanCatchUp computes the range a tracked table must (re)fetch to reach
// target. latest/haveLatest come from the store's MaxTimestamp; step is the
// table's native interval (a day for daily tables, an hour for hourly ones);
// lookback bounds first-run cost when the table is empty.
//
// The function is pure: it performs no I/O, so it can be tested against
// mocked cursors.
func PlanCatchUp(latest time.Time, haveLatest bool, target time.Time, step, lookback time.Duration) (Range, bool) {
	if !haveLatest {
		return Range{Start: target.Add(-lookback), End: target}, true
	}
	if !latest.Before(target) {
		return Range{}, false
	}
	return Range{Start: latest.Add(step), End: target}, true
}
