package model

import "time"

// BaselineKey identifies a baseline: station, species and ISO week-of-year.
type BaselineKey struct {
	StationID string
	Species   string
	Week      int // 1..53
}

// Baseline is the expected VAR distribution for a BaselineKey.
// SampleCount is always the station's own history count, even when Pooled.
type Baseline struct {
	Key         BaselineKey
	Mean        float64
	StdDev      float64
	SampleCount int
	PooledCount int
	SourceYears []int
	Pooled      bool
	StdFloored  bool
	Version     uint64
	ComputedAt  time.Time
}
