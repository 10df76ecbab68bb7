package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// MemoryStore is a concurrency-safe in-memory implementation of the store
// contract. It backs tests and mirrors the upsert / insert-if-absent /
// monotonic-status semantics of the Postgres store exactly.
type MemoryStore struct {
	mu sync.RWMutex

	fiveMin     map[string]pjm.FiveMinRecord
	hourly      map[string]pjm.HourlyRecord
	dayAhead    map[string]pjm.HourlyRecord
	constraints map[string]pjm.ConstraintRecord
	instLoad    map[string]pjm.InstLoadRecord
	metered     map[string]pjm.MeteredLoadRecord
	tempSets    map[string]pjm.TemperatureRecord
	status      map[time.Time]pjm.BucketStatus
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fiveMin:     make(map[string]pjm.FiveMinRecord),
		hourly:      make(map[string]pjm.HourlyRecord),
		dayAhead:    make(map[string]pjm.HourlyRecord),
		constraints: make(map[string]pjm.ConstraintRecord),
		instLoad:    make(map[string]pjm.InstLoadRecord),
		metered:     make(map[string]pjm.MeteredLoadRecord),
		tempSets:    make(map[string]pjm.TemperatureRecord),
		status:      make(map[time.Time]pjm.BucketStatus),
	}
}

func tsPnodeKey(ts time.Time, pnodeID int64) string {
	return fmt.Sprintf("%d|%d", ts.Unix(), pnodeID)
}

func tsNameKey(ts time.Time, name string) string {
	return fmt.Sprintf("%d|%s", ts.Unix(), name)
}

func constraintKey(r pjm.ConstraintRecord) string {
	return fmt.Sprintf("%d|%s|%s", r.Bucket.Unix(), r.MonitoredFacility, r.ContingencyFacility)
}

// MaxTimestamp returns the latest stored timestamp for a tracked table.
func (s *MemoryStore) MaxTimestamp(_ context.Context, table pjm.Table) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	consider := func(ts time.Time) {
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}

	switch table {
	case pjm.TableFiveMin:
		for _, r := range s.fiveMin {
			consider(r.Timestamp)
		}
	case pjm.TableHourly:
		for _, r := range s.hourly {
			consider(r.Bucket)
		}
	case pjm.TableDayAhead:
		for _, r := range s.dayAhead {
			consider(r.Bucket)
		}
	case pjm.TableConstraints:
		for _, r := range s.constraints {
			consider(r.Bucket)
		}
	case pjm.TableInstLoad:
		for _, r := range s.instLoad {
			consider(r.Timestamp)
		}
	case pjm.TableMeteredLoad:
		for _, r := range s.metered {
			consider(r.Bucket)
		}
	case pjm.TableTemperature:
		for _, r := range s.tempSets {
			consider(r.Bucket)
		}
	default:
		return time.Time{}, false, fmt.Errorf("unknown table %q", table)
	}

	return latest, found, nil
}

// UpsertFiveMin stores raw readings keyed by (timestamp, pnode).
func (s *MemoryStore) UpsertFiveMin(_ context.Context, records []pjm.FiveMinRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.fiveMin[tsPnodeKey(r.Timestamp, r.PnodeID)] = r
	}
	return nil
}

// UpsertHourly stores hourly values keyed by (bucket, pnode), last writer wins.
func (s *MemoryStore) UpsertHourly(_ context.Context, records []pjm.HourlyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.hourly[tsPnodeKey(r.Bucket, r.PnodeID)] = r
	}
	return nil
}

// UpsertDayAhead stores day-ahead hourly values keyed by (bucket, pnode).
func (s *MemoryStore) UpsertDayAhead(_ context.Context, records []pjm.HourlyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.dayAhead[tsPnodeKey(r.Bucket, r.PnodeID)] = r
	}
	return nil
}

// UpsertInstLoad stores instantaneous load readings keyed by (timestamp, area).
func (s *MemoryStore) UpsertInstLoad(_ context.Context, records []pjm.InstLoadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.instLoad[tsNameKey(r.Timestamp, r.Area)] = r
	}
	return nil
}

// UpsertMeteredLoad stores metered load values keyed by (bucket, load area).
func (s *MemoryStore) UpsertMeteredLoad(_ context.Context, records []pjm.MeteredLoadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.metered[tsNameKey(r.Bucket, r.LoadArea)] = r
	}
	return nil
}

// UpsertTemperatureSets stores temperature sets keyed by (bucket, zone).
func (s *MemoryStore) UpsertTemperatureSets(_ context.Context, records []pjm.TemperatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.tempSets[tsNameKey(r.Bucket, r.Zone)] = r
	}
	return nil
}

// InsertConstraints inserts events not already present and reports how many
// were new. Duplicates are no-ops.
func (s *MemoryStore) InsertConstraints(_ context.Context, records []pjm.ConstraintRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, r := range records {
		k := constraintKey(r)
		if _, exists := s.constraints[k]; exists {
			continue
		}
		s.constraints[k] = r
		inserted++
	}
	return inserted, nil
}

// SeedStatus creates ledger rows for buckets with none; existing rows keep
// their current status.
func (s *MemoryStore) SeedStatus(_ context.Context, buckets []time.Time, status pjm.BucketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range buckets {
		b = pjm.HourFloor(b)
		if _, exists := s.status[b]; !exists {
			s.status[b] = status
		}
	}
	return nil
}

// SetStatus promotes buckets, silently skipping any write that would
// downgrade a verified bucket.
func (s *MemoryStore) SetStatus(_ context.Context, buckets []time.Time, status pjm.BucketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range buckets {
		b = pjm.HourFloor(b)
		current, exists := s.status[b]
		if exists && !pjm.CanTransition(current, status) {
			continue
		}
		s.status[b] = status
	}
	return nil
}

// BucketsByStatus returns buckets in [start, end] matching the status set,
// ascending.
func (s *MemoryStore) BucketsByStatus(_ context.Context, start, end time.Time, statuses []pjm.BucketStatus) ([]time.Time, error) {
	want := make(map[pjm.BucketStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var buckets []time.Time
	for b, st := range s.status {
		if !want[st] {
			continue
		}
		if b.Before(start) || b.After(end) {
			continue
		}
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })
	return buckets, nil
}

// FiveMinRange returns raw readings with timestamps in [start, end].
func (s *MemoryStore) FiveMinRange(_ context.Context, start, end time.Time) ([]pjm.FiveMinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []pjm.FiveMinRecord
	for _, r := range s.fiveMin {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].PnodeID < records[j].PnodeID
	})
	return records, nil
}

// HourlyRange returns hourly values in [start, end], optionally restricted to
// a pnode set.
func (s *MemoryStore) HourlyRange(_ context.Context, start, end time.Time, pnodeIDs []int64) ([]pjm.HourlyRecord, error) {
	var filter map[int64]bool
	if len(pnodeIDs) > 0 {
		filter = make(map[int64]bool, len(pnodeIDs))
		for _, id := range pnodeIDs {
			filter[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []pjm.HourlyRecord
	for _, r := range s.hourly {
		if r.Bucket.Before(start) || r.Bucket.After(end) {
			continue
		}
		if filter != nil && !filter[r.PnodeID] {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Bucket.Equal(records[j].Bucket) {
			return records[i].Bucket.Before(records[j].Bucket)
		}
		return records[i].PnodeID < records[j].PnodeID
	})
	return records, nil
}

// ConstraintsRange returns constraint events with buckets in [start, end].
func (s *MemoryStore) ConstraintsRange(_ context.Context, start, end time.Time) ([]pjm.ConstraintRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []pjm.ConstraintRecord
	for _, r := range s.constraints {
		if r.Bucket.Before(start) || r.Bucket.After(end) {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Bucket.Before(records[j].Bucket) })
	return records, nil
}

// StatusRange returns the ledger rows with buckets in [start, end].
func (s *MemoryStore) StatusRange(_ context.Context, start, end time.Time) ([]pjm.BucketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []pjm.BucketState
	for b, st := range s.status {
		if b.Before(start) || b.After(end) {
			continue
		}
		states = append(states, pjm.BucketState{Bucket: b, Status: st})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Bucket.Before(states[j].Bucket) })
	return states, nil
}
