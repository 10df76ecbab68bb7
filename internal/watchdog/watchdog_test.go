package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridwatch/pjm-sync/internal/pjm"
	"github.com/gridwatch/pjm-sync/internal/store"
	"github.com/gridwatch/pjm-sync/internal/syncer"
)

// fakeSource serves canned 5-minute data and records which windows were
// fetched.
type fakeSource struct {
	fiveMin     []pjm.FiveMinRecord
	constraints []pjm.ConstraintRecord

	failConstraints bool
	fetchedWindows  []time.Time
}

func (f *fakeSource) FetchFiveMin(_ context.Context, pnodeID int64, start, end time.Time) ([]pjm.FiveMinRecord, error) {
	f.fetchedWindows = append(f.fetchedWindows, start)
	var out []pjm.FiveMinRecord
	for _, r := range f.fiveMin {
		if r.PnodeID == pnodeID && !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchVerifiedHourly(_ context.Context, _, _ time.Time) ([]pjm.HourlyRecord, error) {
	return nil, nil
}

func (f *fakeSource) FetchDayAhead(_ context.Context, _ int64, _, _ time.Time) ([]pjm.HourlyRecord, error) {
	return nil, nil
}

func (f *fakeSource) FetchInstLoad(_ context.Context, _, _ time.Time) ([]pjm.InstLoadRecord, error) {
	return nil, nil
}

func (f *fakeSource) FetchMeteredLoad(_ context.Context, _, _ time.Time) ([]pjm.MeteredLoadRecord, error) {
	return nil, nil
}

func (f *fakeSource) FetchTemperatureSets(_ context.Context, _, _ time.Time) ([]pjm.TemperatureRecord, error) {
	return nil, nil
}

func (f *fakeSource) FetchConstraints(_ context.Context, start, end time.Time) ([]pjm.ConstraintRecord, error) {
	if f.failConstraints {
		return nil, pjm.ErrTransientFetch
	}
	var out []pjm.ConstraintRecord
	for _, r := range f.constraints {
		if !r.Bucket.Before(start) && !r.Bucket.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newWatchdog(src *fakeSource, st pjm.Store, now time.Time) *Watchdog {
	pnodeIDs := []int64{51217}
	verified := syncer.NewVerifiedOverride(src, st, pnodeIDs, 5*24*time.Hour, zerolog.Nop())
	resync := syncer.NewFullResync(src, st, pnodeIDs, 30*24*time.Hour, verified, zerolog.Nop())

	w := New(src, st, resync, Config{
		PnodeIDs:           pnodeIDs,
		CycleInterval:      5 * time.Minute,
		FullResyncInterval: 6 * time.Hour,
		BootstrapLookback:  12 * time.Hour,
	}, zerolog.Nop())
	// The scenario under test is the incremental pass alone.
	w.lastSweep = now
	return w
}

// TestIncrementalPassEndToEnd drives one pass over a seeded day where only
// hours 00:00-02:00 have 5-minute data, and checks the resulting ledger.
func TestIncrementalPassEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)
	midnight := pjm.DayFloor(now)

	src := &fakeSource{}
	for hour := 0; hour < 3; hour++ {
		base := midnight.Add(time.Duration(hour) * time.Hour)
		for i := 0; i < 12; i++ {
			src.fiveMin = append(src.fiveMin, pjm.FiveMinRecord{
				Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
				PnodeID:   51217,
				TotalLMP:  float64(10 * (hour + 1)),
			})
		}
	}

	w := newWatchdog(src, st, now)
	live, err := w.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !live {
		t.Fatal("expected pass to reach the live hour")
	}

	states, err := st.StatusRange(ctx, midnight, midnight.Add(23*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 24 {
		t.Fatalf("expected 24 ledger rows for today, got %d", len(states))
	}
	for _, s := range states {
		hour := s.Bucket.Hour()
		want := pjm.StatusMissing
		if hour < 3 {
			want = pjm.StatusUnverified
		}
		if s.Status != want {
			t.Errorf("hour %02d: status = %s, want %s", hour, s.Status, want)
		}
	}

	// Computed averages are the per-hour constant values.
	rows, err := st.HourlyRange(ctx, midnight, midnight.Add(23*time.Hour), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 aggregated hours, got %d", len(rows))
	}
	for i, r := range rows {
		if want := float64(10 * (i + 1)); r.TotalLMP != want {
			t.Errorf("hour %d: mean = %v, want %v", i, r.TotalLMP, want)
		}
	}

	// No fetch window starts beyond the current hour floor.
	currentHour := pjm.HourFloor(now)
	for _, wst := range src.fetchedWindows {
		if wst.After(currentHour) {
			t.Errorf("fetched window beyond current hour: %v", wst)
		}
	}
}

func TestIncrementalPassSkipsVerifiedHours(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)
	verifiedHour := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)

	// The resume point derives from the hourly table.
	if err := st.UpsertHourly(ctx, []pjm.HourlyRecord{{Bucket: verifiedHour, PnodeID: 51217, TotalLMP: 55}}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetStatus(ctx, []time.Time{verifiedHour}, pjm.StatusVerified); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{fiveMin: []pjm.FiveMinRecord{
		{Timestamp: verifiedHour.Add(5 * time.Minute), PnodeID: 51217, TotalLMP: 1},
	}}

	w := newWatchdog(src, st, now)
	if _, err := w.RunCycle(ctx, now); err != nil {
		t.Fatal(err)
	}

	// The verified hour was not re-fetched and its value is untouched.
	for _, wst := range src.fetchedWindows {
		if wst.Equal(verifiedHour) {
			t.Error("verified hour was re-fetched")
		}
	}
	rows, err := st.HourlyRange(ctx, verifiedHour, verifiedHour, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].TotalLMP != 55 {
		t.Fatalf("verified value changed: %+v", rows)
	}
}

func TestIncrementalPassConstraintFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)
	midnight := pjm.DayFloor(now)

	src := &fakeSource{failConstraints: true}
	src.fiveMin = []pjm.FiveMinRecord{
		{Timestamp: midnight, PnodeID: 51217, TotalLMP: 20},
	}

	w := newWatchdog(src, st, now)
	live, err := w.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("constraint failures must not fail the cycle: %v", err)
	}
	if !live {
		t.Fatal("expected pass to reach the live hour")
	}

	states, err := st.StatusRange(ctx, midnight, midnight)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 || states[0].Status != pjm.StatusUnverified {
		t.Fatalf("hour 00 not aggregated despite constraint failure: %+v", states)
	}
}

func TestRunCycleHonorsCancellation(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)

	w := newWatchdog(&fakeSource{}, st, now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.RunCycle(ctx, now); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestFullResyncCadence(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)
	bucket := time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC)

	src := &fakeSource{}
	verified := syncer.NewVerifiedOverride(&verifiedOnlySource{bucket: bucket}, st, []int64{51217}, 5*24*time.Hour, zerolog.Nop())
	resync := syncer.NewFullResync(src, st, []int64{51217}, 30*24*time.Hour, verified, zerolog.Nop())
	w := New(src, st, resync, Config{
		PnodeIDs:           []int64{51217},
		FullResyncInterval: 6 * time.Hour,
		BootstrapLookback:  2 * time.Hour,
	}, zerolog.Nop())

	// First cycle: lastSweep is zero, the sweep runs and the verified feed
	// lands.
	if _, err := w.RunCycle(ctx, now); err != nil {
		t.Fatal(err)
	}
	states, _ := st.StatusRange(ctx, bucket, bucket)
	if len(states) != 1 || states[0].Status != pjm.StatusVerified {
		t.Fatalf("first cycle did not run the full resync: %+v", states)
	}
	if !w.lastSweep.Equal(now) {
		t.Errorf("lastSweep = %v, want %v", w.lastSweep, now)
	}

	// A cycle shortly after must not sweep again.
	if _, err := w.RunCycle(ctx, now.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if !w.lastSweep.Equal(now) {
		t.Error("full resync ran again before its interval elapsed")
	}
}

// verifiedOnlySource serves a single verified hourly record.
type verifiedOnlySource struct {
	bucket time.Time
}

func (s *verifiedOnlySource) FetchVerifiedHourly(_ context.Context, _, _ time.Time) ([]pjm.HourlyRecord, error) {
	return []pjm.HourlyRecord{{Bucket: s.bucket, PnodeID: 51217, TotalLMP: 33}}, nil
}
