package scoring

import (
	"fmt"
	"slices"
	"time"

	"github.com/okian/avisurv/internal/domain/model"
)

// Policy holds every calibration parameter of the composite score.
type Policy struct {
	ModelVersion string

	DeclineZThreshold float64
	AcousticWeight    float64

	SpatialRadiusKM    float64
	SpatialMinStations int
	SpatialWeight      float64

	MortalityWindow           time.Duration
	ConfirmedWeight           float64
	UnconfirmedWeight         float64
	UnconfirmedDeathThreshold int

	SeasonalMultiplier float64
	PeakMonths         []time.Month

	AdvisoryAt float64
	WarningAt  float64
	CriticalAt float64
}

// DefaultPolicy returns the reference calibration.
func DefaultPolicy() Policy {
	return Policy{
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
		PeakMonths:                []time.Month{time.July, time.August, time.September},
		AdvisoryAt:                25,
		WarningAt:                 50,
		CriticalAt:                75,
	}
}

// Validate checks that the severity ladder is ordered and weights are sane.
func (p Policy) Validate() error {
	switch {
	case !(p.AdvisoryAt < p.WarningAt && p.WarningAt < p.CriticalAt):
		return fmt.Errorf("%w: severity boundaries must increase", ErrInvalidPolicy)
	case p.SeasonalMultiplier < 1:
		return fmt.Errorf("%w: seasonal multiplier below 1", ErrInvalidPolicy)
	case p.AcousticWeight < 0 || p.SpatialWeight < 0 || p.ConfirmedWeight < 0 || p.UnconfirmedWeight < 0:
		return fmt.Errorf("%w: negative weight", ErrInvalidPolicy)
	}
	return nil
}

// Classify maps a composite score onto the severity ladder. A score equal
// to a boundary belongs to the higher tier.
func (p Policy) Classify(score float64) model.Severity {
	switch {
	case score >= p.CriticalAt:
		return model.SeverityCritical
	case score >= p.WarningAt:
		return model.SeverityWarning
	case score >= p.AdvisoryAt:
		return model.SeverityAdvisory
	default:
		return model.SeverityNormal
	}
}

// InPeakSeason reports whether date falls in a peak-transmission month.
func (p Policy) InPeakSeason(date time.Time) bool {
	return slices.Contains(p.PeakMonths, date.Month())
}
