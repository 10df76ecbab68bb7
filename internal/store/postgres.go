package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// PostgresStore is the persistent store. All writes are batch upserts scoped
// to one table inside one transaction, so a crash mid-pass never leaves a
// half-written batch visible to readers.
type PostgresStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, log zerolog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db, log: log}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tracked tables and the status ledger if they do
// not exist, then seeds ledger rows as verified for every hour already
// present in the hourly table. Both steps are idempotent and run once at
// startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pjm_rt_unverified_fivemin_lmps (
			datetime_beginning_ept  TIMESTAMP NOT NULL,
			pnode_id                BIGINT NOT NULL,
			pnode_name              TEXT,
			total_lmp_rt            DOUBLE PRECISION,
			congestion_price_rt     DOUBLE PRECISION,
			marginal_loss_price_rt  DOUBLE PRECISION,
			PRIMARY KEY (datetime_beginning_ept, pnode_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pjm_rt_hrl_lmps (
			datetime_beginning_ept  TIMESTAMP NOT NULL,
			pnode_id                BIGINT NOT NULL,
			pnode_name              TEXT,
			total_lmp_rt            DOUBLE PRECISION,
			congestion_price_rt     DOUBLE PRECISION,
			marginal_loss_price_rt  DOUBLE PRECISION,
			PRIMARY KEY (datetime_beginning_ept, pnode_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pjm_da_hrl_lmps (
			datetime_beginning_ept  TIMESTAMP NOT NULL,
			pnode_id                BIGINT NOT NULL,
			pnode_name              TEXT,
			total_lmp_da            DOUBLE PRECISION,
			congestion_price_da     DOUBLE PRECISION,
			marginal_loss_price_da  DOUBLE PRECISION,
			PRIMARY KEY (datetime_beginning_ept, pnode_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pjm_binding_constraints (
			datetime_beginning_ept                   TIMESTAMP NOT NULL,
			monitored_facility                       TEXT NOT NULL,
			contingency_facility                     TEXT NOT NULL,
			transmission_constraint_penalty_factor   DOUBLE PRECISION,
			limit_control_percentage                 DOUBLE PRECISION,
			shadow_price                             DOUBLE PRECISION,
			PRIMARY KEY (datetime_beginning_ept, monitored_facility, contingency_facility)
		)`,
		`CREATE TABLE IF NOT EXISTS inst_load (
			datetime_beginning_ept  TIMESTAMP NOT NULL,
			area                    TEXT NOT NULL,
			instantaneous_load      DOUBLE PRECISION,
			PRIMARY KEY (datetime_beginning_ept, area)
		)`,
		`CREATE TABLE IF NOT EXISTS pjm_metered_load (
			datetime_beginning_ept  TIMESTAMP NOT NULL,
			zone                    TEXT,
			load_area               TEXT NOT NULL,
			mw                      DOUBLE PRECISION,
			nerc_region             TEXT,
			mkt_region              TEXT,
			PRIMARY KEY (datetime_beginning_ept, load_area)
		)`,
		`CREATE TABLE IF NOT EXISTS da_temperature_sets (
			datetime_beginning_ept  TIMESTAMP NOT NULL,
			datetime_ending_ept     TIMESTAMP,
			zone                    TEXT NOT NULL,
			da_temperature_set      INTEGER,
			PRIMARY KEY (datetime_beginning_ept, zone)
		)`,
		`CREATE TABLE IF NOT EXISTS pjm_hourly_status (
			datetime_beginning_ept  TIMESTAMP NOT NULL,
			status                  CHAR(1) NOT NULL DEFAULT 'm',
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (datetime_beginning_ept)
		)`,
		// Historical hours that predate the ledger are already official data:
		// seed them verified so the loop never re-fetches them.
		`INSERT INTO pjm_hourly_status (datetime_beginning_ept, status)
			SELECT DISTINCT datetime_beginning_ept, 'v' FROM pjm_rt_hrl_lmps
			ON CONFLICT (datetime_beginning_ept) DO NOTHING`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var tableColumns = map[pjm.Table]string{
	pjm.TableFiveMin:     "datetime_beginning_ept",
	pjm.TableHourly:      "datetime_beginning_ept",
	pjm.TableDayAhead:    "datetime_beginning_ept",
	pjm.TableConstraints: "datetime_beginning_ept",
	pjm.TableInstLoad:    "datetime_beginning_ept",
	pjm.TableMeteredLoad: "datetime_beginning_ept",
	pjm.TableTemperature: "datetime_beginning_ept",
}

// MaxTimestamp returns the latest stored timestamp for a tracked table, or
// ok=false when the table is empty.
func (s *PostgresStore) MaxTimestamp(ctx context.Context, table pjm.Table) (time.Time, bool, error) {
	col, ok := tableColumns[table]
	if !ok {
		return time.Time{}, false, fmt.Errorf("unknown table %q", table)
	}

	var max sql.NullTime
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", col, string(table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return time.Time{}, false, fmt.Errorf("max timestamp %s: %w", table, err)
	}
	if !max.Valid {
		return time.Time{}, false, nil
	}
	return asUTC(max.Time), true, nil
}

// asUTC reinterprets a stored wall-clock timestamp as UTC, matching the
// upstream's zone-free "beginning" convention.
func asUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// withTx runs fn inside a transaction, rolling back on error. One failed
// batch never blocks later batches in the same pass.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// UpsertFiveMin batch-upserts raw 5-minute readings.
func (s *PostgresStore) UpsertFiveMin(ctx context.Context, records []pjm.FiveMinRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pjm_rt_unverified_fivemin_lmps
				(datetime_beginning_ept, pnode_id, pnode_name, total_lmp_rt, congestion_price_rt, marginal_loss_price_rt)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (datetime_beginning_ept, pnode_id) DO UPDATE SET
				pnode_name = EXCLUDED.pnode_name,
				total_lmp_rt = EXCLUDED.total_lmp_rt,
				congestion_price_rt = EXCLUDED.congestion_price_rt,
				marginal_loss_price_rt = EXCLUDED.marginal_loss_price_rt`)
		if err != nil {
			return fmt.Errorf("prepare fivemin upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Timestamp, r.PnodeID, r.PnodeName,
				r.TotalLMP, r.CongestionPrice, r.MarginalLossPrice); err != nil {
				return fmt.Errorf("upsert fivemin row: %w", err)
			}
		}
		return nil
	})
}

// UpsertHourly batch-upserts hourly values. The value is overwritten
// unconditionally; which writer class produced it is the ledger's concern.
func (s *PostgresStore) UpsertHourly(ctx context.Context, records []pjm.HourlyRecord) error {
	return s.upsertHourlyTable(ctx, "pjm_rt_hrl_lmps",
		[3]string{"total_lmp_rt", "congestion_price_rt", "marginal_loss_price_rt"}, records)
}

// UpsertDayAhead batch-upserts day-ahead hourly values.
func (s *PostgresStore) UpsertDayAhead(ctx context.Context, records []pjm.HourlyRecord) error {
	return s.upsertHourlyTable(ctx, "pjm_da_hrl_lmps",
		[3]string{"total_lmp_da", "congestion_price_da", "marginal_loss_price_da"}, records)
}

func (s *PostgresStore) upsertHourlyTable(ctx context.Context, table string, cols [3]string, records []pjm.HourlyRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (datetime_beginning_ept, pnode_id, pnode_name, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (datetime_beginning_ept, pnode_id) DO UPDATE SET
			pnode_name = EXCLUDED.pnode_name,
			%[2]s = EXCLUDED.%[2]s,
			%[3]s = EXCLUDED.%[3]s,
			%[4]s = EXCLUDED.%[4]s`,
		table, cols[0], cols[1], cols[2])

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare %s upsert: %w", table, err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Bucket, r.PnodeID, r.PnodeName,
				r.TotalLMP, r.CongestionPrice, r.MarginalLossPrice); err != nil {
				return fmt.Errorf("upsert %s row: %w", table, err)
			}
		}
		return nil
	})
}

// UpsertInstLoad batch-upserts instantaneous load readings.
func (s *PostgresStore) UpsertInstLoad(ctx context.Context, records []pjm.InstLoadRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO inst_load (datetime_beginning_ept, area, instantaneous_load)
			VALUES ($1, $2, $3)
			ON CONFLICT (datetime_beginning_ept, area) DO UPDATE SET
				instantaneous_load = EXCLUDED.instantaneous_load`)
		if err != nil {
			return fmt.Errorf("prepare inst_load upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Timestamp, r.Area, r.LoadMW); err != nil {
				return fmt.Errorf("upsert inst_load row: %w", err)
			}
		}
		return nil
	})
}

// UpsertMeteredLoad batch-upserts hourly metered load values.
func (s *PostgresStore) UpsertMeteredLoad(ctx context.Context, records []pjm.MeteredLoadRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pjm_metered_load (datetime_beginning_ept, zone, load_area, mw, nerc_region, mkt_region)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (datetime_beginning_ept, load_area) DO UPDATE SET
				mw = EXCLUDED.mw`)
		if err != nil {
			return fmt.Errorf("prepare metered load upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Bucket, r.Zone, r.LoadArea,
				r.MW, r.NercRegion, r.MktRegion); err != nil {
				return fmt.Errorf("upsert metered load row: %w", err)
			}
		}
		return nil
	})
}

// UpsertTemperatureSets batch-upserts day-ahead temperature sets.
func (s *PostgresStore) UpsertTemperatureSets(ctx context.Context, records []pjm.TemperatureRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO da_temperature_sets (datetime_beginning_ept, datetime_ending_ept, zone, da_temperature_set)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (datetime_beginning_ept, zone) DO UPDATE SET
				datetime_ending_ept = EXCLUDED.datetime_ending_ept,
				da_temperature_set = EXCLUDED.da_temperature_set`)
		if err != nil {
			return fmt.Errorf("prepare temperature set upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Bucket, r.BucketEnd, r.Zone, r.TempSet); err != nil {
				return fmt.Errorf("upsert temperature set row: %w", err)
			}
		}
		return nil
	})
}

// InsertConstraints inserts events that are not already present; duplicates
// from overlapping windows are silent no-ops.
func (s *PostgresStore) InsertConstraints(ctx context.Context, records []pjm.ConstraintRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pjm_binding_constraints
				(datetime_beginning_ept, monitored_facility, contingency_facility,
				 transmission_constraint_penalty_factor, limit_control_percentage, shadow_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (datetime_beginning_ept, monitored_facility, contingency_facility) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare constraints insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			res, err := stmt.ExecContext(ctx, r.Bucket, r.MonitoredFacility, r.ContingencyFacility,
				r.PenaltyFactor, r.LimitControlPct, r.ShadowPrice)
			if err != nil {
				return fmt.Errorf("insert constraint row: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// SeedStatus creates ledger rows for buckets that have none.
func (s *PostgresStore) SeedStatus(ctx context.Context, buckets []time.Time, status pjm.BucketStatus) error {
	if len(buckets) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pjm_hourly_status (datetime_beginning_ept, status)
			VALUES ($1, $2)
			ON CONFLICT (datetime_beginning_ept) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare status seed: %w", err)
		}
		defer stmt.Close()

		for _, b := range buckets {
			if _, err := stmt.ExecContext(ctx, pjm.HourFloor(b), status.Char()); err != nil {
				return fmt.Errorf("seed status row: %w", err)
			}
		}
		return nil
	})
}

// SetStatus promotes buckets. The WHERE guard makes the write a no-op for
// verified rows unless the new status is itself verified, enforcing the
// monotonicity invariant at the store boundary.
func (s *PostgresStore) SetStatus(ctx context.Context, buckets []time.Time, status pjm.BucketStatus) error {
	if len(buckets) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pjm_hourly_status (datetime_beginning_ept, status)
			VALUES ($1, $2)
			ON CONFLICT (datetime_beginning_ept) DO UPDATE SET
				status = EXCLUDED.status,
				updated_at = now()
			WHERE pjm_hourly_status.status <> 'v' OR EXCLUDED.status = 'v'`)
		if err != nil {
			return fmt.Errorf("prepare status set: %w", err)
		}
		defer stmt.Close()

		for _, b := range buckets {
			if _, err := stmt.ExecContext(ctx, pjm.HourFloor(b), status.Char()); err != nil {
				return fmt.Errorf("set status row: %w", err)
			}
		}
		return nil
	})
}

// BucketsByStatus returns buckets in [start, end] whose status is in the
// given set, ascending.
func (s *PostgresStore) BucketsByStatus(ctx context.Context, start, end time.Time, statuses []pjm.BucketStatus) ([]time.Time, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, 0, len(statuses))
	args := []interface{}{start, end}
	for i, st := range statuses {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+3))
		args = append(args, st.Char())
	}

	query := fmt.Sprintf(`
		SELECT datetime_beginning_ept FROM pjm_hourly_status
		WHERE datetime_beginning_ept BETWEEN $1 AND $2
		  AND status IN (%s)
		ORDER BY datetime_beginning_ept`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("buckets by status: %w", err)
	}
	defer rows.Close()

	var buckets []time.Time
	for rows.Next() {
		var b time.Time
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, asUTC(b))
	}
	return buckets, rows.Err()
}

// FiveMinRange returns raw readings with timestamps in [start, end].
func (s *PostgresStore) FiveMinRange(ctx context.Context, start, end time.Time) ([]pjm.FiveMinRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT datetime_beginning_ept, pnode_id, COALESCE(pnode_name, ''),
		       COALESCE(total_lmp_rt, 0), COALESCE(congestion_price_rt, 0), COALESCE(marginal_loss_price_rt, 0)
		FROM pjm_rt_unverified_fivemin_lmps
		WHERE datetime_beginning_ept BETWEEN $1 AND $2
		ORDER BY datetime_beginning_ept, pnode_id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("fivemin range: %w", err)
	}
	defer rows.Close()

	var records []pjm.FiveMinRecord
	for rows.Next() {
		var r pjm.FiveMinRecord
		if err := rows.Scan(&r.Timestamp, &r.PnodeID, &r.PnodeName,
			&r.TotalLMP, &r.CongestionPrice, &r.MarginalLossPrice); err != nil {
			return nil, fmt.Errorf("scan fivemin row: %w", err)
		}
		r.Timestamp = asUTC(r.Timestamp)
		records = append(records, r)
	}
	return records, rows.Err()
}

// HourlyRange returns hourly values in [start, end], optionally restricted to
// a pnode set. Feeds the read-only query layer.
func (s *PostgresStore) HourlyRange(ctx context.Context, start, end time.Time, pnodeIDs []int64) ([]pjm.HourlyRecord, error) {
	query := `
		SELECT datetime_beginning_ept, pnode_id, COALESCE(pnode_name, ''),
		       COALESCE(total_lmp_rt, 0), COALESCE(congestion_price_rt, 0), COALESCE(marginal_loss_price_rt, 0)
		FROM pjm_rt_hrl_lmps
		WHERE datetime_beginning_ept BETWEEN $1 AND $2`
	args := []interface{}{start, end}
	if len(pnodeIDs) > 0 {
		query += " AND pnode_id = ANY($3)"
		args = append(args, pq.Array(pnodeIDs))
	}
	query += " ORDER BY datetime_beginning_ept, pnode_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hourly range: %w", err)
	}
	defer rows.Close()

	var records []pjm.HourlyRecord
	for rows.Next() {
		var r pjm.HourlyRecord
		if err := rows.Scan(&r.Bucket, &r.PnodeID, &r.PnodeName,
			&r.TotalLMP, &r.CongestionPrice, &r.MarginalLossPrice); err != nil {
			return nil, fmt.Errorf("scan hourly row: %w", err)
		}
		r.Bucket = asUTC(r.Bucket)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ConstraintsRange returns constraint events with buckets in [start, end].
func (s *PostgresStore) ConstraintsRange(ctx context.Context, start, end time.Time) ([]pjm.ConstraintRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT datetime_beginning_ept, monitored_facility, contingency_facility,
		       COALESCE(transmission_constraint_penalty_factor, 0),
		       COALESCE(limit_control_percentage, 0), COALESCE(shadow_price, 0)
		FROM pjm_binding_constraints
		WHERE datetime_beginning_ept BETWEEN $1 AND $2
		ORDER BY datetime_beginning_ept`, start, end)
	if err != nil {
		return nil, fmt.Errorf("constraints range: %w", err)
	}
	defer rows.Close()

	var records []pjm.ConstraintRecord
	for rows.Next() {
		var r pjm.ConstraintRecord
		if err := rows.Scan(&r.Bucket, &r.MonitoredFacility, &r.ContingencyFacility,
			&r.PenaltyFactor, &r.LimitControlPct, &r.ShadowPrice); err != nil {
			return nil, fmt.Errorf("scan constraint row: %w", err)
		}
		r.Bucket = asUTC(r.Bucket)
		records = append(records, r)
	}
	return records, rows.Err()
}

// StatusRange returns ledger rows with buckets in [start, end].
func (s *PostgresStore) StatusRange(ctx context.Context, start, end time.Time) ([]pjm.BucketState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT datetime_beginning_ept, status FROM pjm_hourly_status
		WHERE datetime_beginning_ept BETWEEN $1 AND $2
		ORDER BY datetime_beginning_ept`, start, end)
	if err != nil {
		return nil, fmt.Errorf("status range: %w", err)
	}
	defer rows.Close()

	var states []pjm.BucketState
	for rows.Next() {
		var b time.Time
		var c string
		if err := rows.Scan(&b, &c); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		states = append(states, pjm.BucketState{Bucket: asUTC(b), Status: pjm.StatusFromChar(strings.TrimSpace(c))})
	}
	return states, rows.Err()
}
