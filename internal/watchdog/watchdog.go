package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/gridwatch/pjm-sync/internal/pjm"
	"github.com/gridwatch/pjm-sync/internal/syncer"
)

// Config holds the watchdog's operational knobs.
type Config struct {
	// PnodeIDs is the tracked pricing-node list.
	PnodeIDs []int64

	// CycleInterval is the tick between incremental passes once caught up.
	CycleInterval time.Duration

	// FullResyncInterval is the cadence of the full resync across all
	// tracked tables.
	FullResyncInterval time.Duration

	// BootstrapLookback bounds the first pass when the hourly table is
	// empty.
	BootstrapLookback time.Duration
}

// Watchdog is the single control loop that keeps the store reconciled. One
// instance is the only writer; the gocron job runs in singleton mode so
// passes never overlap.
type Watchdog struct {
	source pjm.Source
	store  pjm.Store
	resync *syncer.FullResync
	cfg    Config
	log    zerolog.Logger

	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
	lastSweep time.Time
}

// New creates a Watchdog.
func New(source pjm.Source, store pjm.Store, resync *syncer.FullResync, cfg Config, log zerolog.Logger) *Watchdog {
	return &Watchdog{
		source:    source,
		store:     store,
		resync:    resync,
		cfg:       cfg,
		log:       log,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the periodic cycle and starts the underlying scheduler.
func (w *Watchdog) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	seconds := int(w.cfg.CycleInterval.Seconds())
	if seconds <= 0 {
		seconds = 300
	}

	job, err := w.scheduler.Every(seconds).Seconds().Do(func() {
		live, err := w.RunCycle(ctx, time.Now().UTC())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("cycle failed")
			return
		}
		if live {
			w.log.Info().Msg("caught up to live hour, idling until next tick")
		}
	})
	if err != nil {
		return err
	}
	job.SingletonMode()

	w.scheduler.StartAsync()
	return nil
}

// Stop cancels any in-flight pass and stops the scheduler. Cancellation is
// cooperative: the pass exits between hours and entities, never mid-batch,
// so the store is always left resumable.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.scheduler.Stop()
}

// RunCycle executes one pass: a full resync when its cadence has elapsed,
// then the incremental hour-by-hour advance up to the current hour floor.
// It reports live=true when the pass reached the current partial hour, which
// tells the caller there is nothing more to catch up on.
func (w *Watchdog) RunCycle(ctx context.Context, now time.Time) (live bool, err error) {
	if now.Sub(w.lastSweep) > w.cfg.FullResyncInterval {
		w.log.Info().Msg("starting full resync")
		if err := w.resync.Run(ctx, now); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			// Individual task failures were already logged; the next sweep
			// replans from store contents.
			w.log.Warn().Err(err).Msg("full resync finished with errors")
		}
		w.lastSweep = now
	}

	return w.runIncremental(ctx, now)
}

// runIncremental advances the ledger hour by hour from the earliest
// non-reconciled bucket up to the current hour floor.
func (w *Watchdog) runIncremental(ctx context.Context, now time.Time) (bool, error) {
	// Every hour of today has a ledger row before any sync logic asks about
	// it; a bucket without a row would be indistinguishable from one never
	// considered.
	if err := w.store.SeedStatus(ctx, pjm.DayBuckets(now), pjm.StatusMissing); err != nil {
		w.log.Error().Err(err).Msg("status ticker seed failed")
	}

	cursor, err := w.resumeHour(ctx, now)
	if err != nil {
		return false, err
	}
	currentHour := pjm.HourFloor(now)

	w.log.Info().Time("from", cursor).Time("to", currentHour).Msg("incremental pass")

	for !cursor.After(currentHour) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if err := w.processHour(ctx, cursor, now); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			// A failed hour never blocks the hours behind it.
			w.log.Error().Err(err).Time("hour", cursor).Msg("hour failed, continuing")
		}

		if cursor.Equal(currentHour) {
			// The live hour is still accumulating 5-minute data; one pass
			// over it is enough until the next tick.
			return true, nil
		}
		cursor = cursor.Add(time.Hour)
	}

	return true, nil
}

// resumeHour derives the pass's starting hour from store contents: the hour
// of the latest stored hourly value, re-processed in case it was partial, or
// a bounded lookback on an empty store. No in-memory position survives a
// restart, and none is needed.
func (w *Watchdog) resumeHour(ctx context.Context, now time.Time) (time.Time, error) {
	latest, ok, err := w.store.MaxTimestamp(ctx, pjm.TableHourly)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return pjm.HourFloor(now.Add(-w.cfg.BootstrapLookback)), nil
	}
	return pjm.HourFloor(latest), nil
}

// processHour fetches 5-minute data and constraints for one hour window and
// aggregates eligible buckets.
func (w *Watchdog) processHour(ctx context.Context, hour, now time.Time) error {
	hourEnd := hour.Add(time.Hour - time.Second)

	// A verified hour is final; re-fetching it would only spend rate budget.
	verified, err := w.store.BucketsByStatus(ctx, hour, hour, []pjm.BucketStatus{pjm.StatusVerified})
	if err != nil {
		return err
	}
	if len(verified) > 0 {
		return nil
	}

	var errs []error
	for _, pnodeID := range w.cfg.PnodeIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records, err := w.source.FetchFiveMin(ctx, pnodeID, hour, hourEnd)
		if err != nil {
			w.log.Warn().Err(err).Int64("pnode_id", pnodeID).Time("hour", hour).
				Msg("5-minute fetch failed, skipping node")
			errs = append(errs, err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		if err := w.store.UpsertFiveMin(ctx, records); err != nil {
			w.log.Warn().Err(err).Int64("pnode_id", pnodeID).Msg("5-minute upsert failed")
			errs = append(errs, err)
		}
	}

	// Constraint failures are logged and skipped, never fatal to the hour.
	if records, err := w.source.FetchConstraints(ctx, hour, hourEnd); err != nil {
		w.log.Warn().Err(err).Time("hour", hour).Msg("constraints fetch failed, skipping")
	} else if len(records) > 0 {
		if _, err := w.store.InsertConstraints(ctx, records); err != nil {
			w.log.Warn().Err(err).Time("hour", hour).Msg("constraints insert failed")
		}
	}

	if err := w.aggregateHour(ctx, hour, now); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// aggregateHour recomputes the provisional hourly value for one bucket from
// stored 5-minute data and promotes it to unverified. Buckets that are still
// missing input data yield no value and keep their status.
func (w *Watchdog) aggregateHour(ctx context.Context, hour, now time.Time) error {
	hourEnd := hour.Add(time.Hour - time.Second)

	fiveMin, err := w.store.FiveMinRange(ctx, hour, hourEnd)
	if err != nil {
		return err
	}

	candidates := pjm.AggregateFiveMin([]time.Time{hour}, fiveMin, now)
	if len(candidates) == 0 {
		return nil
	}

	if err := w.store.UpsertHourly(ctx, candidates); err != nil {
		return err
	}
	if err := w.store.SetStatus(ctx, pjm.TouchedBuckets(candidates), pjm.StatusUnverified); err != nil {
		return err
	}

	w.log.Debug().Time("hour", hour).Int("rows", len(candidates)).Msg("hour aggregated")
	return nil
}
