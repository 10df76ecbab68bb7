package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// VerifiedOverride reconciles the store against the officially verified
// hourly feed. It is the only writer allowed to promote buckets to verified,
// and the only path that may leapfrog the unverified state.
type VerifiedOverride struct {
	source  pjm.HourlySource
	store   pjm.Store
	tracked map[int64]bool
	window  time.Duration
	log     zerolog.Logger
}

// NewVerifiedOverride builds a verified-override sync over a trailing window,
// chosen to exceed the upstream's worst-case publication delay.
func NewVerifiedOverride(source pjm.HourlySource, store pjm.Store, pnodeIDs []int64, window time.Duration, log zerolog.Logger) *VerifiedOverride {
	tracked := make(map[int64]bool, len(pnodeIDs))
	for _, id := range pnodeIDs {
		tracked[id] = true
	}
	return &VerifiedOverride{
		source:  source,
		store:   store,
		tracked: tracked,
		window:  window,
		log:     log,
	}
}

// Reconcile fetches the trailing window of the verified feed, restricts it to
// tracked nodes, overwrites any provisional hourly values unconditionally,
// and promotes every touched bucket to verified. Verified data always wins on
// value; running it twice with identical upstream data is a no-op the second
// time.
func (v *VerifiedOverride) Reconcile(ctx context.Context, now time.Time) error {
	start := now.Add(-v.window)

	records, err := v.source.FetchVerifiedHourly(ctx, start, now)
	if err != nil {
		return fmt.Errorf("verified feed fetch: %w", err)
	}

	filtered := records[:0:0]
	for _, r := range records {
		if v.tracked[r.PnodeID] {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		v.log.Info().Time("window_start", start).Msg("no verified data for tracked nodes")
		return nil
	}

	if err := v.store.UpsertHourly(ctx, filtered); err != nil {
		return fmt.Errorf("verified upsert: %w", err)
	}

	buckets := pjm.TouchedBuckets(filtered)
	if err := v.store.SetStatus(ctx, buckets, pjm.StatusVerified); err != nil {
		return fmt.Errorf("verified status promote: %w", err)
	}

	v.log.Info().Int("rows", len(filtered)).Int("buckets", len(buckets)).
		Msg("verified override applied")
	return nil
}
