// Package config defines the calibration and runtime configuration of the
// surveillance core and how it is loaded.
//
// Every threshold and weight used by aggregation, baselining, scoring and
// alerting lives here so it can be tuned without code changes.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// WorkerCount sets the number of scoring workers.
	WorkerCount int `koanf:"worker_count"`
	// BatchTimeout bounds a whole day batch run; keys are never cut mid-way.
	BatchTimeout time.Duration `koanf:"batch_timeout"`

	Aggregation Aggregation `koanf:"aggregation"`
	Baseline    Baseline    `koanf:"baseline"`
	Scoring     Scoring     `koanf:"scoring"`
	Alerting    Alerting    `koanf:"alerting"`
	Storage     Storage     `koanf:"storage"`
	Mortality   Mortality   `koanf:"mortality"`
	Notify      Notify      `koanf:"notify"`
}

// Aggregation configures detection qualification and day exclusion.
type Aggregation struct {
	// DefaultConfidenceThreshold applies to species without an explicit threshold.
	DefaultConfidenceThreshold float64 `koanf:"default_confidence_threshold"`
	// SpeciesThresholds maps species code to minimum calibrated confidence.
	SpeciesThresholds map[string]float64 `koanf:"species_thresholds"`
	// MaxFutureSkew tolerates clock skew on detection timestamps.
	MaxFutureSkew time.Duration `koanf:"max_future_skew"`
	// MaxPrecipitationMM and MaxWindSpeedMS exclude days with adverse weather.
	// Zero disables the corresponding check.
	MaxPrecipitationMM float64 `koanf:"max_precipitation_mm"`
	MaxWindSpeedMS     float64 `koanf:"max_wind_speed_ms"`
	// DedupeSize bounds how many detection IDs are remembered across batches.
	DedupeSize int `koanf:"dedupe_size"`
}

// Baseline configures seasonal baseline estimation.
type Baseline struct {
	MinSamples       int     `koanf:"min_samples"`
	MinPooledSamples int     `koanf:"min_pooled_samples"`
	PoolRadiusKM     float64 `koanf:"pool_radius_km"`
	StdFloorFraction float64 `koanf:"std_floor_fraction"`
	StdFloorMin      float64 `koanf:"std_floor_min"`
	RecomputeWorkers int     `koanf:"recompute_workers"`
}

// Scoring configures the composite anomaly score.
type Scoring struct {
	ModelVersion string `koanf:"model_version"`

	DeclineZThreshold float64 `koanf:"decline_z_threshold"`
	AcousticWeight    float64 `koanf:"acoustic_weight"`

	SpatialRadiusKM    float64 `koanf:"spatial_radius_km"`
	SpatialMinStations int     `koanf:"spatial_min_stations"`
	SpatialWeight      float64 `koanf:"spatial_weight"`
	SpatialGridIndex   bool    `koanf:"spatial_grid_index"`

	MortalityWindow           time.Duration `koanf:"mortality_window"`
	ConfirmedWeight           float64       `koanf:"confirmed_weight"`
	UnconfirmedWeight         float64       `koanf:"unconfirmed_weight"`
	UnconfirmedDeathThreshold int           `koanf:"unconfirmed_death_threshold"`

	SeasonalMultiplier float64 `koanf:"seasonal_multiplier"`
	PeakMonths         []int   `koanf:"peak_months"`

	AdvisoryAt float64 `koanf:"advisory_at"`
	WarningAt  float64 `koanf:"warning_at"`
	CriticalAt float64 `koanf:"critical_at"`
}

// Alerting configures alert hysteresis and data-quality escalation.
type Alerting struct {
	DeescalationCount     int     `koanf:"deescalation_count"`
	ResolveCooldown       int     `koanf:"resolve_cooldown"`
	DataQualityRejectRate float64 `koanf:"data_quality_reject_rate"`
	DataQualityMinRecords int     `koanf:"data_quality_min_records"`
}

// Storage selects the collaborator store implementation.
type Storage struct {
	// Driver is "memory" or "sqlite".
	Driver string `koanf:"driver"`
	// DSN is the sqlite database path or URI.
	DSN string `koanf:"dsn"`
}

// Mortality configures the epidemiological feed.
type Mortality struct {
	// CSVPath points at a DWHC/Sovon export. Empty disables the feed.
	CSVPath string `koanf:"csv_path"`
	// Format is dwhc_csv or sovon_csv.
	Format string `koanf:"format"`
}

// Notify configures alert event publishing.
type Notify struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	// Codec is json or msgpack.
	Codec string `koanf:"codec"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "text",
		WorkerCount:  runtime.NumCPU(),
		BatchTimeout: 10 * time.Minute,
		Aggregation: Aggregation{
			DefaultConfidenceThreshold: 0.7,
			SpeciesThresholds:          map[string]float64{},
			MaxFutureSkew:              5 * time.Minute,
			DedupeSize:                 50000,
		},
		Baseline: Baseline{
			MinSamples:       7,
			MinPooledSamples: 1,
			PoolRadiusKM:     50,
			StdFloorFraction: 0.1,
			StdFloorMin:      0.01,
			RecomputeWorkers: runtime.NumCPU(),
		},
		Scoring: Scoring{
			ModelVersion:              "avisurv-composite/v1",
			DeclineZThreshold:         2,
			AcousticWeight:            30,
			SpatialRadiusKM:           20,
			SpatialMinStations:        3,
			SpatialWeight:             25,
			MortalityWindow:           30 * 24 * time.Hour,
			ConfirmedWeight:           40,
			UnconfirmedWeight:         15,
			UnconfirmedDeathThreshold: 5,
			SeasonalMultiplier:        1.2,
			PeakMonths:                []int{7, 8, 9},
			AdvisoryAt:                25,
			WarningAt:                 50,
			CriticalAt:                75,
		},
		Alerting: Alerting{
			DeescalationCount:     2,
			ResolveCooldown:       3,
			DataQualityRejectRate: 0.2,
			DataQualityMinRecords: 10,
		},
		Storage: Storage{
			Driver: "memory",
		},
		Mortality: Mortality{
			Format: "dwhc_csv",
		},
		Notify: Notify{
			Topic: "avisurv.alerts",
			Codec: "json",
		},
	}
}

// Validate rejects configurations that would make scoring or alerting ill-defined.
func (c *Config) Validate() error {
	switch {
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be >= 1", ErrInvalidConfig)
	case c.Aggregation.DefaultConfidenceThreshold < 0 || c.Aggregation.DefaultConfidenceThreshold > 1:
		return fmt.Errorf("%w: default_confidence_threshold must be within [0,1]", ErrInvalidConfig)
	case c.Aggregation.DedupeSize < 1:
		return fmt.Errorf("%w: aggregation.dedupe_size must be >= 1", ErrInvalidConfig)
	case c.Baseline.MinSamples < 2:
		return fmt.Errorf("%w: baseline.min_samples must be >= 2", ErrInvalidConfig)
	case c.Baseline.MinPooledSamples < 1:
		return fmt.Errorf("%w: baseline.min_pooled_samples must be >= 1", ErrInvalidConfig)
	case c.Baseline.StdFloorMin <= 0:
		return fmt.Errorf("%w: baseline.std_floor_min must be > 0", ErrInvalidConfig)
	case c.Scoring.SeasonalMultiplier < 1:
		return fmt.Errorf("%w: scoring.seasonal_multiplier must be >= 1", ErrInvalidConfig)
	case !(c.Scoring.AdvisoryAt < c.Scoring.WarningAt && c.Scoring.WarningAt < c.Scoring.CriticalAt):
		return fmt.Errorf("%w: severity boundaries must be strictly increasing", ErrInvalidConfig)
	case c.Scoring.SpatialRadiusKM <= 0:
		return fmt.Errorf("%w: scoring.spatial_radius_km must be > 0", ErrInvalidConfig)
	case c.Alerting.DeescalationCount < 1 || c.Alerting.ResolveCooldown < 1:
		return fmt.Errorf("%w: hysteresis counts must be >= 1", ErrInvalidConfig)
	case c.Storage.Driver != "memory" && c.Storage.Driver != "sqlite":
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	case c.Notify.Codec != "json" && c.Notify.Codec != "msgpack":
		return fmt.Errorf("%w: unknown notify codec %q", ErrInvalidConfig, c.Notify.Codec)
	}
	for species, th := range c.Aggregation.SpeciesThresholds {
		if th < 0 || th > 1 {
			return fmt.Errorf("%w: threshold for %s must be within [0,1]", ErrInvalidConfig, species)
		}
	}
	for _, m := range c.Scoring.PeakMonths {
		if m < 1 || m > 12 {
			return fmt.Errorf("%w: peak month %d out of range", ErrInvalidConfig, m)
		}
	}
	return nil
}
