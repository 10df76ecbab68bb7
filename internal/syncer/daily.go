package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// Per-feed backfill window sizes, chosen to keep a single response under the
// upstream row cap for each feed's row density.
const (
	instLoadChunkDays    = 6
	meteredLoadChunkDays = 30
	temperatureChunkDays = 200
)

// FullResync drives the catch-up of every tracked table: day-ahead prices,
// the constraints backfill, the load and temperature tables, and the verified
// override. Tasks run in-process and sequentially; one task failing is
// captured and never stops the others.
type FullResync struct {
	source   pjm.Source
	store    pjm.Store
	pnodeIDs []int64
	lookback time.Duration
	verified *VerifiedOverride
	log      zerolog.Logger
}

// NewFullResync builds the full-resync runner. lookback bounds the first-run
// backfill when a tracked table is still empty.
func NewFullResync(source pjm.Source, store pjm.Store, pnodeIDs []int64, lookback time.Duration, verified *VerifiedOverride, log zerolog.Logger) *FullResync {
	return &FullResync{
		source:   source,
		store:    store,
		pnodeIDs: pnodeIDs,
		lookback: lookback,
		verified: verified,
		log:      log,
	}
}

// Run executes one full resync. Errors from individual tasks are joined into
// the return value for the caller's log; partial progress is always safe
// because the next run replans from store contents.
func (r *FullResync) Run(ctx context.Context, now time.Time) error {
	var errs []error

	if err := r.syncDayAhead(ctx, now); err != nil {
		r.log.Error().Err(err).Msg("day-ahead sync failed")
		errs = append(errs, fmt.Errorf("day-ahead: %w", err))
	}
	if err := r.syncConstraints(ctx, now); err != nil {
		r.log.Error().Err(err).Msg("constraints backfill failed")
		errs = append(errs, fmt.Errorf("constraints: %w", err))
	}
	if err := r.syncLoads(ctx, now); err != nil {
		r.log.Error().Err(err).Msg("load backfill failed")
		errs = append(errs, fmt.Errorf("loads: %w", err))
	}
	if err := r.verified.Reconcile(ctx, now); err != nil {
		r.log.Error().Err(err).Msg("verified override failed")
		errs = append(errs, fmt.Errorf("verified: %w", err))
	}

	return errors.Join(errs...)
}

// planDaily computes a day-granular catch-up range for a table whose rows
// keep landing inside the current day. The range always re-reads the last
// stored day in full: a day written partway (a failed node, a mid-day fetch)
// heals on the next pass, and upsert semantics absorb the overlap.
func (r *FullResync) planDaily(ctx context.Context, table pjm.Table, target time.Time) (Range, bool, error) {
	latest, ok, err := r.store.MaxTimestamp(ctx, table)
	if err != nil {
		return Range{}, false, err
	}
	plan, needed := PlanCatchUp(pjm.DayFloor(latest), ok, target, 0, r.lookback)
	if needed {
		return plan, true, nil
	}
	if !ok || pjm.DayFloor(latest).After(target) {
		return Range{}, false, nil
	}
	return Range{Start: target, End: target}, true, nil
}

// syncDayAhead catches the day-ahead table up to tomorrow (the feed publishes
// a day ahead), one call per tracked node over the whole missing range. The
// range restarts at the last stored day, not the day after it, so a day left
// partial by a failed node is re-fetched.
func (r *FullResync) syncDayAhead(ctx context.Context, now time.Time) error {
	// Day-ahead prices for tomorrow are published today.
	target := pjm.DayFloor(now).Add(24 * time.Hour)

	latest, ok, err := r.store.MaxTimestamp(ctx, pjm.TableDayAhead)
	if err != nil {
		return err
	}

	plan, needed := PlanCatchUp(pjm.DayFloor(latest), ok, target, 0, r.lookback)
	if !needed {
		r.log.Debug().Msg("day-ahead table is up to date")
		return nil
	}

	end := plan.End.Add(24*time.Hour - time.Second)
	var errs []error
	for _, pnodeID := range r.pnodeIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records, err := r.source.FetchDayAhead(ctx, pnodeID, plan.Start, end)
		if err != nil {
			// One node failing must not block the rest of the pass.
			r.log.Warn().Err(err).Int64("pnode_id", pnodeID).Msg("day-ahead fetch failed, skipping node")
			errs = append(errs, err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		if err := r.store.UpsertDayAhead(ctx, records); err != nil {
			r.log.Warn().Err(err).Int64("pnode_id", pnodeID).Msg("day-ahead upsert failed, skipping node")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// syncConstraints backfills the constraints table day by day up to now.
// Late events keep landing inside the current day, so the last stored day is
// always re-read even when the table looks up to date; duplicates are
// dropped by the store.
func (r *FullResync) syncConstraints(ctx context.Context, now time.Time) error {
	plan, needed, err := r.planDaily(ctx, pjm.TableConstraints, pjm.DayFloor(now))
	if err != nil {
		return err
	}
	if !needed {
		return nil
	}

	var errs []error
	for day := plan.Start; !day.After(plan.End); day = day.Add(24 * time.Hour) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records, err := r.source.FetchConstraints(ctx, day, day.Add(24*time.Hour-time.Second))
		if err != nil {
			r.log.Warn().Err(err).Time("day", day).Msg("constraints fetch failed, skipping day")
			errs = append(errs, err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		inserted, err := r.store.InsertConstraints(ctx, records)
		if err != nil {
			r.log.Warn().Err(err).Time("day", day).Msg("constraints insert failed, skipping day")
			errs = append(errs, err)
			continue
		}
		r.log.Debug().Time("day", day).Int("fetched", len(records)).Int("inserted", inserted).
			Msg("constraints day backfilled")
	}
	return errors.Join(errs...)
}

// syncLoads catches the load and temperature tables up to today, each in its
// own bounded windows. One feed failing is captured and never stops the
// others.
func (r *FullResync) syncLoads(ctx context.Context, now time.Time) error {
	var errs []error

	if err := r.syncChunked(ctx, now, pjm.TableInstLoad, instLoadChunkDays,
		func(ctx context.Context, start, end time.Time) error {
			records, err := r.source.FetchInstLoad(ctx, start, end)
			if err != nil {
				return err
			}
			return r.store.UpsertInstLoad(ctx, records)
		}); err != nil {
		errs = append(errs, fmt.Errorf("inst load: %w", err))
	}

	if err := r.syncChunked(ctx, now, pjm.TableMeteredLoad, meteredLoadChunkDays,
		func(ctx context.Context, start, end time.Time) error {
			records, err := r.source.FetchMeteredLoad(ctx, start, end)
			if err != nil {
				return err
			}
			return r.store.UpsertMeteredLoad(ctx, records)
		}); err != nil {
		errs = append(errs, fmt.Errorf("metered load: %w", err))
	}

	if err := r.syncChunked(ctx, now, pjm.TableTemperature, temperatureChunkDays,
		func(ctx context.Context, start, end time.Time) error {
			records, err := r.source.FetchTemperatureSets(ctx, start, end)
			if err != nil {
				return err
			}
			return r.store.UpsertTemperatureSets(ctx, records)
		}); err != nil {
		errs = append(errs, fmt.Errorf("temperature sets: %w", err))
	}

	return errors.Join(errs...)
}

// syncChunked drives one backfill-only table from its last stored day up to
// today, in windows of at most chunkDays. A failed window is logged and
// skipped; the next pass replans it from store contents.
func (r *FullResync) syncChunked(ctx context.Context, now time.Time, table pjm.Table, chunkDays int, load func(ctx context.Context, start, end time.Time) error) error {
	plan, needed, err := r.planDaily(ctx, table, pjm.DayFloor(now))
	if err != nil {
		return err
	}
	if !needed {
		return nil
	}

	chunk := time.Duration(chunkDays) * 24 * time.Hour
	var errs []error
	for start := plan.Start; !start.After(plan.End); start = start.Add(chunk) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start.Add(chunk - time.Second)
		if limit := plan.End.Add(24*time.Hour - time.Second); end.After(limit) {
			end = limit
		}
		if err := load(ctx, start, end); err != nil {
			r.log.Warn().Err(err).Str("table", string(table)).Time("start", start).
				Msg("load window failed, skipping")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
