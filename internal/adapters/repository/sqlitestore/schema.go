package sqlitestore

// migrations are applied in order; applied versions are tracked in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS stations (
    id          TEXT PRIMARY KEY,
    latitude    REAL NOT NULL,
    longitude   REAL NOT NULL,
    habitat     TEXT NOT NULL DEFAULT '',
    region      TEXT NOT NULL DEFAULT '',
    active      INTEGER NOT NULL DEFAULT 1,
    first_seen  TEXT NOT NULL DEFAULT '',
    last_seen   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS daily_metrics (
    station_id        TEXT NOT NULL,
    species           TEXT NOT NULL,
    date              TEXT NOT NULL,
    week              INTEGER NOT NULL,
    detection_count   INTEGER NOT NULL DEFAULT 0,
    qualifying_count  INTEGER NOT NULL DEFAULT 0,
    recording_hours   REAL NOT NULL DEFAULT 0,
    var               REAL,
    soundscape        TEXT,
    weather           TEXT,
    excluded          INTEGER NOT NULL DEFAULT 0,
    excluded_reason   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (station_id, species, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_metrics_week ON daily_metrics(station_id, species, week);
CREATE INDEX IF NOT EXISTS idx_daily_metrics_date ON daily_metrics(date);

CREATE TABLE IF NOT EXISTS baselines (
    station_id    TEXT NOT NULL,
    species       TEXT NOT NULL,
    week          INTEGER NOT NULL,
    mean          REAL NOT NULL,
    std_dev       REAL NOT NULL,
    sample_count  INTEGER NOT NULL,
    pooled_count  INTEGER NOT NULL,
    source_years  TEXT NOT NULL DEFAULT '[]',
    pooled        INTEGER NOT NULL DEFAULT 0,
    std_floored   INTEGER NOT NULL DEFAULT 0,
    version       INTEGER NOT NULL,
    computed_at   TEXT NOT NULL,
    PRIMARY KEY (station_id, species, week)
);

CREATE TABLE IF NOT EXISTS sequences (
    name   TEXT PRIMARY KEY,
    value  INTEGER NOT NULL
);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS observations (
    id             TEXT PRIMARY KEY,
    station_id     TEXT NOT NULL,
    species        TEXT NOT NULL,
    date           TEXT NOT NULL,
    kind           TEXT NOT NULL,
    z_score        REAL NOT NULL DEFAULT 0,
    score          REAL NOT NULL DEFAULT 0,
    factors        TEXT NOT NULL DEFAULT '[]',
    severity       INTEGER NOT NULL DEFAULT 0,
    type_hint      TEXT NOT NULL DEFAULT '',
    model_version  TEXT NOT NULL DEFAULT '',
    computed_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_key ON observations(station_id, species, date);

CREATE TABLE IF NOT EXISTS alerts (
    id               TEXT PRIMARY KEY,
    station_id       TEXT NOT NULL,
    species          TEXT NOT NULL,
    type             TEXT NOT NULL,
    severity         INTEGER NOT NULL,
    status           TEXT NOT NULL,
    stations         TEXT NOT NULL DEFAULT '[]',
    species_list     TEXT NOT NULL DEFAULT '[]',
    triggered_at     TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    acknowledged_at  TEXT,
    acknowledged_by  TEXT NOT NULL DEFAULT '',
    resolved_at      TEXT,
    resolved_by      TEXT NOT NULL DEFAULT '',
    version          INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, triggered_at);

CREATE TABLE IF NOT EXISTS alert_states (
    station_id        TEXT NOT NULL,
    species           TEXT NOT NULL,
    open              INTEGER NOT NULL DEFAULT 0,
    alert_id          TEXT NOT NULL DEFAULT '',
    severity          INTEGER NOT NULL DEFAULT 0,
    pending_severity  INTEGER NOT NULL DEFAULT 0,
    lower_streak      INTEGER NOT NULL DEFAULT 0,
    normal_streak     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (station_id, species)
);
`,
	},
	{
		version: 3,
		sql: `
DELETE FROM observations WHERE rowid NOT IN (
    SELECT MAX(rowid) FROM observations GROUP BY station_id, species, date
);
DROP INDEX IF EXISTS idx_observations_key;
CREATE UNIQUE INDEX IF NOT EXISTS idx_observations_key ON observations(station_id, species, date);

ALTER TABLE alert_states ADD COLUMN last_date TEXT NOT NULL DEFAULT '';
`,
	},
}
