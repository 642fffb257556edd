// Package sqlitestore is a durable repository.Store backed by SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/okian/avisurv/internal/adapters/repository"
	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/metrics"
)

const dateLayout = "2006-01-02"

// Store implements repository.Store on a SQLite database.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ repository.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// one writer; commits for a key and day must not interleave
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return repository.ErrClosed
	}
	return ctx.Err()
}

// ─── Metrics ─────────────────────────────────────────────────────────────────

// PutMetrics upserts metrics in one transaction.
func (s *Store) PutMetrics(ctx context.Context, ms []model.DailyMetric) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, m := range ms {
		if m.StationID == "" || m.Species == "" {
			return fmt.Errorf("%w: metric without station or species", repository.ErrInvalidKey)
		}
		day := model.Day(m.Date)
		soundscape, err := marshalOptional(m.Soundscape)
		if err != nil {
			return err
		}
		weather, err := marshalOptional(m.Weather)
		if err != nil {
			return err
		}
		var v sql.NullFloat64
		if m.VAR != nil {
			v = sql.NullFloat64{Float64: *m.VAR, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO daily_metrics(station_id, species, date, week, detection_count, qualifying_count,
                recording_hours, var, soundscape, weather, excluded, excluded_reason)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
            ON CONFLICT(station_id, species, date) DO UPDATE SET
                detection_count  = excluded.detection_count,
                qualifying_count = excluded.qualifying_count,
                recording_hours  = excluded.recording_hours,
                var              = excluded.var,
                soundscape       = excluded.soundscape,
                weather          = excluded.weather,
                excluded         = excluded.excluded,
                excluded_reason  = excluded.excluded_reason`,
			m.StationID, m.Species, day.Format(dateLayout), model.WeekOf(day).Week,
			m.DetectionCount, m.QualifyingCount, m.RecordingHours, v, soundscape, weather,
			boolInt(m.Excluded), m.ExcludedReason,
		)
		if err != nil {
			return fmt.Errorf("upsert metric %s/%s: %w", m.Key(), day.Format(dateLayout), err)
		}
	}
	return tx.Commit()
}

const metricColumns = `station_id, species, date, detection_count, qualifying_count, recording_hours,
    var, soundscape, weather, excluded, excluded_reason`

// WeekHistory returns the series' metrics in ISO week-of-year week, by date.
func (s *Store) WeekHistory(ctx context.Context, stationID, species string, week int) ([]model.DailyMetric, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+metricColumns+` FROM daily_metrics
        WHERE station_id = ? AND species = ? AND week = ? ORDER BY date ASC`, stationID, species, week)
	if err != nil {
		return nil, fmt.Errorf("query week history: %w", err)
	}
	return scanMetrics(rows)
}

// MetricsOn returns all metrics for the day of date, ordered by key.
func (s *Store) MetricsOn(ctx context.Context, date time.Time) ([]model.DailyMetric, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+metricColumns+` FROM daily_metrics
        WHERE date = ? ORDER BY station_id, species`, model.Day(date).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	return scanMetrics(rows)
}

// SeriesKeys lists stored series ordered by station then species.
func (s *Store) SeriesKeys(ctx context.Context) ([]model.Key, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT station_id, species FROM daily_metrics ORDER BY station_id, species`)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()
	var keys []model.Key
	for rows.Next() {
		var k model.Key
		if err := rows.Scan(&k.StationID, &k.Species); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanMetrics(rows *sql.Rows) ([]model.DailyMetric, error) {
	defer rows.Close()
	var out []model.DailyMetric
	for rows.Next() {
		var (
			m                   model.DailyMetric
			date                string
			v                   sql.NullFloat64
			soundscape, weather sql.NullString
			excluded            int
		)
		if err := rows.Scan(&m.StationID, &m.Species, &date, &m.DetectionCount, &m.QualifyingCount,
			&m.RecordingHours, &v, &soundscape, &weather, &excluded, &m.ExcludedReason); err != nil {
			return nil, err
		}
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parse metric date %q: %w", date, err)
		}
		m.Date = d
		if v.Valid {
			f := v.Float64
			m.VAR = &f
		}
		m.Excluded = excluded != 0
		if soundscape.Valid {
			m.Soundscape = new(model.Soundscape)
			if err := json.Unmarshal([]byte(soundscape.String), m.Soundscape); err != nil {
				return nil, err
			}
		}
		if weather.Valid {
			m.Weather = new(model.Weather)
			if err := json.Unmarshal([]byte(weather.String), m.Weather); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ─── Baselines ───────────────────────────────────────────────────────────────

// PutBaseline replaces the snapshot for b.Key and assigns the next version.
func (s *Store) PutBaseline(ctx context.Context, b model.Baseline) (model.Baseline, error) {
	if err := s.check(ctx); err != nil {
		return model.Baseline{}, err
	}
	if b.Key.StationID == "" || b.Key.Species == "" || b.Key.Week < 1 {
		return model.Baseline{}, fmt.Errorf("%w: %+v", repository.ErrInvalidKey, b.Key)
	}
	years, err := json.Marshal(nonNil(b.SourceYears))
	if err != nil {
		return model.Baseline{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Baseline{}, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := tx.QueryRowContext(ctx, `
        INSERT INTO sequences(name, value) VALUES('baseline', 1)
        ON CONFLICT(name) DO UPDATE SET value = value + 1
        RETURNING value`).Scan(&b.Version); err != nil {
		return model.Baseline{}, fmt.Errorf("next baseline version: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO baselines(station_id, species, week, mean, std_dev, sample_count, pooled_count,
            source_years, pooled, std_floored, version, computed_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(station_id, species, week) DO UPDATE SET
            mean         = excluded.mean,
            std_dev      = excluded.std_dev,
            sample_count = excluded.sample_count,
            pooled_count = excluded.pooled_count,
            source_years = excluded.source_years,
            pooled       = excluded.pooled,
            std_floored  = excluded.std_floored,
            version      = excluded.version,
            computed_at  = excluded.computed_at`,
		b.Key.StationID, b.Key.Species, b.Key.Week, b.Mean, b.StdDev, b.SampleCount, b.PooledCount,
		string(years), boolInt(b.Pooled), boolInt(b.StdFloored), b.Version, formatTime(b.ComputedAt),
	)
	if err != nil {
		return model.Baseline{}, fmt.Errorf("upsert baseline: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Baseline{}, err
	}
	b.SourceYears = append([]int(nil), b.SourceYears...)
	return b, nil
}

// Baseline returns the latest snapshot for key.
func (s *Store) Baseline(ctx context.Context, key model.BaselineKey) (model.Baseline, error) {
	if err := s.check(ctx); err != nil {
		return model.Baseline{}, err
	}
	b := model.Baseline{Key: key}
	var (
		years, computedAt  string
		pooled, stdFloored int
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT mean, std_dev, sample_count, pooled_count, source_years, pooled, std_floored, version, computed_at
        FROM baselines WHERE station_id = ? AND species = ? AND week = ?`,
		key.StationID, key.Species, key.Week,
	).Scan(&b.Mean, &b.StdDev, &b.SampleCount, &b.PooledCount, &years, &pooled, &stdFloored, &b.Version, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Baseline{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Baseline{}, fmt.Errorf("query baseline: %w", err)
	}
	if err := json.Unmarshal([]byte(years), &b.SourceYears); err != nil {
		return model.Baseline{}, fmt.Errorf("decode source years: %w", err)
	}
	if len(b.SourceYears) == 0 {
		b.SourceYears = nil
	}
	b.Pooled = pooled != 0
	b.StdFloored = stdFloored != 0
	b.ComputedAt, _ = parseTime(computedAt)
	return b, nil
}

// DeleteBaseline withdraws the snapshot for key.
func (s *Store) DeleteBaseline(ctx context.Context, key model.BaselineKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM baselines WHERE station_id = ? AND species = ? AND week = ?`,
		key.StationID, key.Species, key.Week)
	return err
}

// ─── Observations ────────────────────────────────────────────────────────────

// Observations returns a key's observations dated within [from, to].
func (s *Store) Observations(ctx context.Context, key model.Key, from, to time.Time) ([]model.AnomalyObservation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, date, kind, z_score, score, factors, severity, type_hint, model_version, computed_at
        FROM observations
        WHERE station_id = ? AND species = ? AND date >= ? AND date <= ?
        ORDER BY date ASC, computed_at ASC`,
		key.StationID, key.Species, model.Day(from).Format(dateLayout), model.Day(to).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []model.AnomalyObservation
	for rows.Next() {
		o := model.AnomalyObservation{StationID: key.StationID, Species: key.Species}
		var (
			date, factors, computedAt string
			kind, typeHint            string
			severity                  int
		)
		if err := rows.Scan(&o.ID, &date, &kind, &o.ZScore, &o.Score, &factors, &severity, &typeHint,
			&o.ModelVersion, &computedAt); err != nil {
			return nil, err
		}
		if o.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse observation date %q: %w", date, err)
		}
		if err := json.Unmarshal([]byte(factors), &o.Factors); err != nil {
			return nil, fmt.Errorf("decode factors: %w", err)
		}
		o.Kind = model.ObservationKind(kind)
		o.Severity = model.Severity(severity)
		o.TypeHint = model.AlertType(typeHint)
		o.ComputedAt, _ = parseTime(computedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

// AlertState returns the hysteresis state for key.
func (s *Store) AlertState(ctx context.Context, key model.Key) (alerting.State, error) {
	if err := s.check(ctx); err != nil {
		return alerting.State{}, err
	}
	var (
		st                 alerting.State
		open, sev, pending int
		lastDate           string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT open, alert_id, severity, pending_severity, lower_streak, normal_streak, last_date
        FROM alert_states WHERE station_id = ? AND species = ?`, key.StationID, key.Species,
	).Scan(&open, &st.AlertID, &sev, &pending, &st.LowerStreak, &st.NormalStreak, &lastDate)
	if errors.Is(err, sql.ErrNoRows) {
		return alerting.State{}, repository.ErrNotFound
	}
	if err != nil {
		return alerting.State{}, fmt.Errorf("query alert state: %w", err)
	}
	st.Open = open != 0
	st.Severity = model.Severity(sev)
	st.PendingSeverity = model.Severity(pending)
	st.LastDate, _ = parseTime(lastDate)
	return st, nil
}

const alertColumns = `id, station_id, species, type, severity, status, stations, species_list,
    triggered_at, updated_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (*model.Alert, error) {
	var (
		a                          model.Alert
		typ, status                string
		severity                   int
		stations, species          string
		triggeredAt, updatedAt     string
		acknowledgedAt, resolvedAt sql.NullString
	)
	if err := r.Scan(&a.ID, &a.Key.StationID, &a.Key.Species, &typ, &severity, &status, &stations, &species,
		&triggeredAt, &updatedAt, &acknowledgedAt, &a.AcknowledgedBy, &resolvedAt, &a.ResolvedBy, &a.Version); err != nil {
		return nil, err
	}
	a.Type = model.AlertType(typ)
	a.Severity = model.Severity(severity)
	a.Status = model.AlertStatus(status)
	if err := json.Unmarshal([]byte(stations), &a.Stations); err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}
	if err := json.Unmarshal([]byte(species), &a.Species); err != nil {
		return nil, fmt.Errorf("decode species: %w", err)
	}
	a.TriggeredAt, _ = parseTime(triggeredAt)
	a.UpdatedAt, _ = parseTime(updatedAt)
	a.AcknowledgedAt = parseOptionalTime(acknowledgedAt)
	a.ResolvedAt = parseOptionalTime(resolvedAt)
	return &a, nil
}

// Alert returns the alert with id.
func (s *Store) Alert(ctx context.Context, id string) (*model.Alert, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	a, err := scanAlert(s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	return a, nil
}

// UpdateAlert replaces a stored alert and bumps its version.
func (s *Store) UpdateAlert(ctx context.Context, a *model.Alert) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var version uint64
	err = tx.QueryRowContext(ctx, `SELECT version FROM alerts WHERE id = ?`, a.ID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query alert version: %w", err)
	}
	if err := upsertAlert(ctx, tx, a, version+1); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	a.Version = version + 1
	return nil
}

func upsertAlert(ctx context.Context, tx *sql.Tx, a *model.Alert, version uint64) error {
	stations, err := json.Marshal(nonNil(a.Stations))
	if err != nil {
		return err
	}
	species, err := json.Marshal(nonNil(a.Species))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO alerts(`+alertColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            type            = excluded.type,
            severity        = excluded.severity,
            status          = excluded.status,
            stations        = excluded.stations,
            species_list    = excluded.species_list,
            updated_at      = excluded.updated_at,
            acknowledged_at = excluded.acknowledged_at,
            acknowledged_by = excluded.acknowledged_by,
            resolved_at     = excluded.resolved_at,
            resolved_by     = excluded.resolved_by,
            version         = excluded.version`,
		a.ID, a.Key.StationID, a.Key.Species, string(a.Type), int(a.Severity), string(a.Status),
		string(stations), string(species), formatTime(a.TriggeredAt), formatTime(a.UpdatedAt),
		formatOptionalTime(a.AcknowledgedAt), a.AcknowledgedBy, formatOptionalTime(a.ResolvedAt), a.ResolvedBy,
		version,
	)
	if err != nil {
		return fmt.Errorf("upsert alert %s: %w", a.ID, err)
	}
	return nil
}

// OpenAlerts returns every active alert ordered by trigger time.
func (s *Store) OpenAlerts(ctx context.Context) ([]*model.Alert, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts
        WHERE status = ? ORDER BY triggered_at ASC, id ASC`, string(model.AlertActive))
	if err != nil {
		return nil, fmt.Errorf("query open alerts: %w", err)
	}
	defer rows.Close()
	var out []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── Stations ────────────────────────────────────────────────────────────────

// PutStation upserts a station.
func (s *Store) PutStation(ctx context.Context, st model.Station) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if st.ID == "" {
		return fmt.Errorf("%w: station without id", repository.ErrInvalidKey)
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO stations(id, latitude, longitude, habitat, region, active, first_seen, last_seen)
        VALUES(?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            latitude   = excluded.latitude,
            longitude  = excluded.longitude,
            habitat    = excluded.habitat,
            region     = excluded.region,
            active     = excluded.active,
            first_seen = excluded.first_seen,
            last_seen  = excluded.last_seen`,
		st.ID, st.Latitude, st.Longitude, st.Habitat, st.Region, boolInt(st.Active),
		formatTime(st.FirstSeen), formatTime(st.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("upsert station %s: %w", st.ID, err)
	}
	return nil
}

const stationColumns = `id, latitude, longitude, habitat, region, active, first_seen, last_seen`

func scanStation(r rowScanner) (model.Station, error) {
	var (
		st                  model.Station
		active              int
		firstSeen, lastSeen string
	)
	if err := r.Scan(&st.ID, &st.Latitude, &st.Longitude, &st.Habitat, &st.Region, &active, &firstSeen, &lastSeen); err != nil {
		return model.Station{}, err
	}
	st.Active = active != 0
	st.FirstSeen, _ = parseTime(firstSeen)
	st.LastSeen, _ = parseTime(lastSeen)
	return st, nil
}

// Station returns the station with id.
func (s *Store) Station(ctx context.Context, id string) (model.Station, error) {
	if err := s.check(ctx); err != nil {
		return model.Station{}, err
	}
	st, err := scanStation(s.db.QueryRowContext(ctx, `SELECT `+stationColumns+` FROM stations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Station{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Station{}, fmt.Errorf("query station: %w", err)
	}
	return st, nil
}

// Stations returns all stations ordered by id.
func (s *Store) Stations(ctx context.Context) ([]model.Station, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+stationColumns+` FROM stations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()
	var out []model.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ─── Commit ──────────────────────────────────────────────────────────────────

// Commit writes the observation, the hysteresis state and the alert in one
// transaction.
func (s *Store) Commit(ctx context.Context, c repository.Commit) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if o := c.Observation; o != nil {
		factors, err := json.Marshal(nonNil(o.Factors))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO observations(id, station_id, species, date, kind, z_score, score, factors,
                severity, type_hint, model_version, computed_at)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
            ON CONFLICT(station_id, species, date) DO UPDATE SET
                id            = excluded.id,
                kind          = excluded.kind,
                z_score       = excluded.z_score,
                score         = excluded.score,
                factors       = excluded.factors,
                severity      = excluded.severity,
                type_hint     = excluded.type_hint,
                model_version = excluded.model_version,
                computed_at   = excluded.computed_at`,
			o.ID, o.StationID, o.Species, model.Day(o.Date).Format(dateLayout), string(o.Kind),
			o.ZScore, o.Score, string(factors), int(o.Severity), string(o.TypeHint), o.ModelVersion,
			formatTime(o.ComputedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert observation %s: %w", o.ID, err)
		}
	}

	var alertVersion uint64
	if out := c.Outcome; out != nil {
		st := out.State
		_, err := tx.ExecContext(ctx, `
            INSERT INTO alert_states(station_id, species, open, alert_id, severity, pending_severity,
                lower_streak, normal_streak, last_date)
            VALUES(?,?,?,?,?,?,?,?,?)
            ON CONFLICT(station_id, species) DO UPDATE SET
                open             = excluded.open,
                alert_id         = excluded.alert_id,
                severity         = excluded.severity,
                pending_severity = excluded.pending_severity,
                lower_streak     = excluded.lower_streak,
                normal_streak    = excluded.normal_streak,
                last_date        = excluded.last_date`,
			out.Key.StationID, out.Key.Species, boolInt(st.Open), st.AlertID, int(st.Severity),
			int(st.PendingSeverity), st.LowerStreak, st.NormalStreak, formatDate(st.LastDate),
		)
		if err != nil {
			return fmt.Errorf("upsert alert state %s: %w", out.Key, err)
		}
		if a := out.Alert; a != nil {
			err := tx.QueryRowContext(ctx, `SELECT version FROM alerts WHERE id = ?`, a.ID).Scan(&alertVersion)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("query alert version: %w", err)
			}
			alertVersion++
			if err := upsertAlert(ctx, tx, a, alertVersion); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if out := c.Outcome; out != nil {
		if out.Alert != nil {
			out.Alert.Version = alertVersion
		}
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = ?`, string(model.AlertActive)).Scan(&n); err == nil {
			metrics.UpdateOpenAlerts(n)
		}
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func marshalOptional[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return model.Day(t).Format(dateLayout)
}

func formatOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseOptionalTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		dateLayout,
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
