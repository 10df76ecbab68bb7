package syncer

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPlanCatchUpBehindTarget(t *testing.T) {
	r, ok := PlanCatchUp(day(2024, 1, 5), true, day(2024, 1, 8), 24*time.Hour, 30*24*time.Hour)
	if !ok {
		t.Fatal("expected a catch-up range")
	}
	if !r.Start.Equal(day(2024, 1, 6)) || !r.End.Equal(day(2024, 1, 8)) {
		t.Errorf("range = [%v, %v], want [2024-01-06, 2024-01-08]", r.Start, r.End)
	}
}

func TestPlanCatchUpEmptyTableUsesLookback(t *testing.T) {
	target := day(2024, 1, 8)
	r, ok := PlanCatchUp(time.Time{}, false, target, 24*time.Hour, 30*24*time.Hour)
	if !ok {
		t.Fatal("expected a catch-up range")
	}
	if !r.Start.Equal(target.Add(-30*24*time.Hour)) || !r.End.Equal(target) {
		t.Errorf("range = [%v, %v], want [target-30d, target]", r.Start, r.End)
	}
}

func TestPlanCatchUpUpToDate(t *testing.T) {
	if _, ok := PlanCatchUp(day(2024, 1, 8), true, day(2024, 1, 8), 24*time.Hour, time.Hour); ok {
		t.Error("latest == target should plan nothing")
	}
	if _, ok := PlanCatchUp(day(2024, 1, 9), true, day(2024, 1, 8), 24*time.Hour, time.Hour); ok {
		t.Error("latest beyond target should plan nothing")
	}
}

func TestPlanCatchUpHourlyStep(t *testing.T) {
	latest := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	target := time.Date(2024, 1, 5, 14, 0, 0, 0, time.UTC)
	r, ok := PlanCatchUp(latest, true, target, time.Hour, time.Hour)
	if !ok {
		t.Fatal("expected a catch-up range")
	}
	if !r.Start.Equal(latest.Add(time.Hour)) || !r.End.Equal(target) {
		t.Errorf("range = [%v, %v]", r.Start, r.End)
	}
}
