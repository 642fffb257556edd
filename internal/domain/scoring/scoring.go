// Package scoring fuses acoustic, spatial and epidemiological evidence into
// a 0-100 anomaly score with an explanation and a severity tier.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/avisurv/internal/domain/model"
)

const maxScoreValue = 100

// Factor names recorded on observations.
const (
	FactorAcousticDecline      = "acoustic decline"
	FactorSpatialCluster       = "spatial cluster"
	FactorConfirmedPositivity  = "confirmed pathogen positivity"
	FactorUnconfirmedMortality = "unconfirmed mortality"
	FactorMortalityUnavailable = "mortality data unavailable"
	FactorPeakSeason           = "peak transmission season"
	FactorPooledBaseline       = "pooled baseline used"
	FactorStdFloored           = "baseline spread floored"
	FactorNoBaseline           = "no-baseline"
)

// Input is everything a single score depends on.
type Input struct {
	Metric model.DailyMetric
	// Baseline is nil when no snapshot exists for the key.
	Baseline *model.Baseline
	// DecliningNeighbors is the spatial cluster size around the station.
	DecliningNeighbors int
	// Mortality is nil when the feed has no evidence for the region.
	Mortality *model.MortalityContext
	// MortalityErr is set when the feed could not be queried.
	MortalityErr error
}

// Scorer computes AnomalyObservations. Apart from the ID and timestamp it
// reads nothing but its Input and Policy.
type Scorer struct {
	policy Policy
	now    func() time.Time
	newID  func() string
}

// NewScorer creates a Scorer with the default policy unless overridden.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		policy: DefaultPolicy(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the scorer's calibration.
func (s *Scorer) Policy() Policy { return s.policy }

// ZScore is the decline of observed VAR below the baseline mean, in
// baseline standard deviations. Positive means less activity than expected.
func ZScore(observed float64, b model.Baseline) float64 {
	return (b.Mean - observed) / b.StdDev
}

// Score produces the observation for in. Excluded days return ErrExcludedDay;
// a missing baseline yields a data-quality observation rather than a zero score.
func (s *Scorer) Score(in Input) (model.AnomalyObservation, error) {
	m := in.Metric
	if m.Excluded || m.VAR == nil {
		return model.AnomalyObservation{}, fmt.Errorf("%w: %s/%s %s", ErrExcludedDay, m.StationID, m.Species, m.Date.Format(time.DateOnly))
	}

	obs := model.AnomalyObservation{
		ID:           s.newID(),
		StationID:    m.StationID,
		Species:      m.Species,
		Date:         m.Date,
		ModelVersion: s.policy.ModelVersion,
		ComputedAt:   s.now().UTC(),
	}
	if in.Baseline == nil || !(in.Baseline.StdDev > 0) {
		obs.Kind = model.KindDataQuality
		obs.Severity = model.SeverityNormal
		obs.TypeHint = model.AlertDataQuality
		obs.Factors = []model.Factor{{Name: FactorNoBaseline}}
		return obs, nil
	}

	p := s.policy
	b := in.Baseline
	obs.Kind = model.KindAnomaly
	obs.TypeHint = model.AlertAnomaly
	obs.ZScore = ZScore(*m.VAR, *b)

	var score float64
	if obs.ZScore > p.DeclineZThreshold {
		score += p.AcousticWeight
		obs.Factors = append(obs.Factors, model.Factor{
			Name:   FactorAcousticDecline,
			Detail: "z=" + strconv.FormatFloat(obs.ZScore, 'f', 2, 64),
			Points: p.AcousticWeight,
		})
	}

	if in.DecliningNeighbors >= p.SpatialMinStations {
		score += p.SpatialWeight
		obs.TypeHint = model.AlertOutbreak
		obs.Factors = append(obs.Factors, model.Factor{
			Name:   FactorSpatialCluster,
			Detail: fmt.Sprintf("%d declining stations within %g km", in.DecliningNeighbors, p.SpatialRadiusKM),
			Points: p.SpatialWeight,
		})
	}

	switch mc := in.Mortality; {
	case in.MortalityErr != nil:
		obs.Factors = append(obs.Factors, model.Factor{Name: FactorMortalityUnavailable})
	case mc.HasConfirmedPositivity():
		score += p.ConfirmedWeight
		obs.TypeHint = model.AlertOutbreak
		obs.Factors = append(obs.Factors, model.Factor{
			Name:   FactorConfirmedPositivity,
			Detail: fmt.Sprintf("%d of %d lab tests positive in %s", mc.LabPositive, mc.LabTested, mc.Region),
			Points: p.ConfirmedWeight,
		})
	case mc != nil && mc.UnconfirmedDeaths > p.UnconfirmedDeathThreshold:
		score += p.UnconfirmedWeight
		obs.Factors = append(obs.Factors, model.Factor{
			Name:   FactorUnconfirmedMortality,
			Detail: fmt.Sprintf("%d unconfirmed deaths in %s", mc.UnconfirmedDeaths, mc.Region),
			Points: p.UnconfirmedWeight,
		})
	}

	final := math.Min(maxScoreValue, score)
	if p.InPeakSeason(m.Date) {
		boosted := math.Min(maxScoreValue, score*p.SeasonalMultiplier)
		if boosted != final {
			obs.Factors = append(obs.Factors, model.Factor{
				Name:   FactorPeakSeason,
				Detail: "x" + strconv.FormatFloat(p.SeasonalMultiplier, 'f', -1, 64),
				Points: boosted - final,
			})
			final = boosted
		}
	}

	if b.Pooled {
		obs.Factors = append(obs.Factors, model.Factor{
			Name:   FactorPooledBaseline,
			Detail: fmt.Sprintf("%d own samples, %d pooled", b.SampleCount, b.PooledCount),
		})
	}
	if b.StdFloored {
		obs.Factors = append(obs.Factors, model.Factor{Name: FactorStdFloored})
	}

	obs.Score = math.Max(0, final)
	obs.Severity = p.Classify(obs.Score)
	return obs, nil
}
