// Package synthetic generates reproducible station networks and detection
// feeds, optionally with an injected die-off, for demos and end-to-end runs.
package synthetic

import (
	"fmt"
	"time"
)

// Generation defaults.
const (
	defaultStations       = 8
	defaultSpreadKM       = 10
	defaultRecordingHours = 6
	defaultRate           = 2 // qualifying detections per recording hour
	defaultNoise          = 0.1
	defaultLowConfidence  = 0.1
	defaultHistoryYears   = 2
	defaultWorkers        = 4
	recordingStartHour    = 4
)

// Config describes the feed to generate.
type Config struct {
	Stations  int
	Species   []string
	Latitude  float64 // network centre
	Longitude float64
	SpreadKM  float64 // stations are placed within this distance of the centre
	Habitat   string
	Region    string

	// From and To bound the days of the current year, inclusive.
	From time.Time
	To   time.Time
	// HistoryYears repeats the same ISO weeks this many years back;
	// negative disables history.
	HistoryYears int

	RecordingHours float64
	Rate           float64 // mean qualifying detections per hour
	Noise          float64 // relative day-to-day spread of the rate
	LowConfidence  float64 // share of extra sub-threshold detections, negative disables

	DieOff *DieOff
	Seed   uint64

	Workers int
}

// DieOff lowers activity at the first Stations stations from Start onward.
type DieOff struct {
	Start    time.Time
	Stations int
	Factor   float64 // multiplier applied to the rate, e.g. 0.2
}

// Defaults fills zero values. Negative LowConfidence and HistoryYears are
// kept and mean disabled.
func (c *Config) Defaults() {
	if c.Stations <= 0 {
		c.Stations = defaultStations
	}
	if len(c.Species) == 0 {
		c.Species = []string{"EURBLA"}
	}
	if c.SpreadKM <= 0 {
		c.SpreadKM = defaultSpreadKM
	}
	if c.Habitat == "" {
		c.Habitat = "urban"
	}
	if c.RecordingHours <= 0 {
		c.RecordingHours = defaultRecordingHours
	}
	if c.Rate <= 0 {
		c.Rate = defaultRate
	}
	if c.Noise <= 0 {
		c.Noise = defaultNoise
	}
	if c.LowConfidence == 0 {
		c.LowConfidence = defaultLowConfidence
	}
	if c.HistoryYears == 0 {
		c.HistoryYears = defaultHistoryYears
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
}

// Validate rejects configs that cannot produce a feed.
func (c *Config) Validate() error {
	switch {
	case c.From.IsZero() || c.To.IsZero():
		return fmt.Errorf("%w: from and to are required", ErrInvalidConfig)
	case c.To.Before(c.From):
		return fmt.Errorf("%w: to is before from", ErrInvalidConfig)
	case c.DieOff != nil && (c.DieOff.Factor < 0 || c.DieOff.Factor > 1):
		return fmt.Errorf("%w: die-off factor must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}
