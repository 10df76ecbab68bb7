package pjm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransientFetch marks network-level upstream failures (timeouts,
	// 5xx, connection resets). Callers log, wait the pacing delay, and move
	// on to the next unit of work.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrMalformedResponse marks payloads that could not be decoded.
	// Callers skip the unit and continue; a bad payload never kills a cycle.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// FiveMinSource fetches raw 5-minute LMP readings for one pricing node
// inside [start, end]. One call per node keeps a single response under the
// upstream row cap.
type FiveMinSource interface {
	FetchFiveMin(ctx context.Context, pnodeID int64, start, end time.Time) ([]FiveMinRecord, error)
}

// HourlySource fetches the officially verified hourly feed for a window,
// across all nodes; callers restrict the result to tracked nodes.
type HourlySource interface {
	FetchVerifiedHourly(ctx context.Context, start, end time.Time) ([]HourlyRecord, error)
}

// DayAheadSource fetches day-ahead hourly LMPs for one pricing node.
type DayAheadSource interface {
	FetchDayAhead(ctx context.Context, pnodeID int64, start, end time.Time) ([]HourlyRecord, error)
}

// ConstraintSource fetches binding-constraint events for a window.
type ConstraintSource interface {
	FetchConstraints(ctx context.Context, start, end time.Time) ([]ConstraintRecord, error)
}

// LoadSource fetches the system-load and temperature feeds. These tables
// carry no freshness semantics of their own; the full resync catches them up
// in bounded windows.
type LoadSource interface {
	FetchInstLoad(ctx context.Context, start, end time.Time) ([]InstLoadRecord, error)
	FetchMeteredLoad(ctx context.Context, start, end time.Time) ([]MeteredLoadRecord, error)
	FetchTemperatureSets(ctx context.Context, start, end time.Time) ([]TemperatureRecord, error)
}

// Source is the full upstream surface the reconciliation loop depends on.
// The production implementation lives in the feeds package; tests substitute
// fakes.
type Source interface {
	FiveMinSource
	HourlySource
	DayAheadSource
	ConstraintSource
	LoadSource
}

// Table identifies a tracked store table for cursor computation.
type Table string

const (
	TableFiveMin     Table = "pjm_rt_unverified_fivemin_lmps"
	TableHourly      Table = "pjm_rt_hrl_lmps"
	TableDayAhead    Table = "pjm_da_hrl_lmps"
	TableConstraints Table = "pjm_binding_constraints"
	TableInstLoad    Table = "inst_load"
	TableMeteredLoad Table = "pjm_metered_load"
	TableTemperature Table = "da_temperature_sets"
)

// Store is the contract the persistent store (and the in-memory test store)
// must satisfy. All writes are idempotent batch upserts; cursors are derived
// from store contents on demand rather than persisted separately.
type Store interface {
	// MaxTimestamp returns the latest stored timestamp for a tracked table,
	// or ok=false when the table holds no rows.
	MaxTimestamp(ctx context.Context, table Table) (time.Time, bool, error)

	UpsertFiveMin(ctx context.Context, records []FiveMinRecord) error
	UpsertHourly(ctx context.Context, records []HourlyRecord) error
	UpsertDayAhead(ctx context.Context, records []HourlyRecord) error
	UpsertInstLoad(ctx context.Context, records []InstLoadRecord) error
	UpsertMeteredLoad(ctx context.Context, records []MeteredLoadRecord) error
	UpsertTemperatureSets(ctx context.Context, records []TemperatureRecord) error

	// InsertConstraints inserts events that are not already present and
	// returns the number of new rows; duplicates are silent no-ops.
	InsertConstraints(ctx context.Context, records []ConstraintRecord) (int, error)

	// SeedStatus creates ledger rows for buckets that have none. Existing
	// rows are left untouched.
	SeedStatus(ctx context.Context, buckets []time.Time, status BucketStatus) error

	// SetStatus promotes the given buckets, honoring the monotonicity rule:
	// a verified bucket is never downgraded (the write is a no-op for it).
	SetStatus(ctx context.Context, buckets []time.Time, status BucketStatus) error

	// BucketsByStatus returns buckets in [start, end] whose status is one of
	// the given set, ordered ascending.
	BucketsByStatus(ctx context.Context, start, end time.Time, statuses []BucketStatus) ([]time.Time, error)

	// FiveMinRange returns raw readings with timestamps in [start, end].
	FiveMinRange(ctx context.Context, start, end time.Time) ([]FiveMinRecord, error)
}

// QueryStore is the read surface the HTTP query layer consumes. It is kept
// separate from Store so the reconciliation loop never depends on it.
type QueryStore interface {
	HourlyRange(ctx context.Context, start, end time.Time, pnodeIDs []int64) ([]HourlyRecord, error)
	ConstraintsRange(ctx context.Context, start, end time.Time) ([]ConstraintRecord, error)
	StatusRange(ctx context.Context, start, end time.Time) ([]BucketState, error)
}
