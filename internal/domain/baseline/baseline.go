// Package baseline estimates the expected vocal activity for a station,
// species and ISO week from prior-year history, falling back to a regional
// pool of similar stations when a station's own history is too thin.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/avisurv/internal/domain/geo"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/logger"
	"github.com/okian/avisurv/pkg/metrics"
)

const (
	defaultMinSamples       = 7
	defaultMinPooledSamples = 1
	defaultPoolRadiusKM     = 50
	defaultStdFloorFraction = 0.1
	defaultStdFloorMin      = 0.01
)

// History reads daily metrics for one ISO week-of-year across all years.
type History interface {
	WeekHistory(ctx context.Context, stationID, species string, week int) ([]model.DailyMetric, error)
}

// Stations is the station registry.
type Stations interface {
	Station(ctx context.Context, id string) (model.Station, error)
	Stations(ctx context.Context) ([]model.Station, error)
}

// Store persists baseline snapshots. PutBaseline replaces any prior snapshot
// for the key and returns the committed snapshot with its version set.
type Store interface {
	PutBaseline(ctx context.Context, b model.Baseline) (model.Baseline, error)
	Baseline(ctx context.Context, key model.BaselineKey) (model.Baseline, error)
	DeleteBaseline(ctx context.Context, key model.BaselineKey) error
}

// Target names a baseline to compute: a station/species and the week being
// scored. Only ISO years before Week.Year contribute.
type Target struct {
	StationID string
	Species   string
	Week      model.Week
}

func (t Target) key() model.BaselineKey {
	return model.BaselineKey{StationID: t.StationID, Species: t.Species, Week: t.Week.Week}
}

// Summary counts outcomes of a Recompute pass.
type Summary struct {
	Direct   int
	Pooled   int
	Withheld int
	Failed   int
}

// Manager computes and publishes baselines.
type Manager struct {
	history  History
	stations Stations
	store    Store

	minSamples       int
	minPooledSamples int
	poolRadiusKM     float64
	stdFloorFraction float64
	stdFloorMin      float64
	workers          int

	now    func() time.Time
	logger logger.Logger
}

// NewManager creates a baseline Manager.
func NewManager(history History, stations Stations, store Store, opts ...Option) *Manager {
	m := &Manager{
		history:          history,
		stations:         stations,
		store:            store,
		minSamples:       defaultMinSamples,
		minPooledSamples: defaultMinPooledSamples,
		poolRadiusKM:     defaultPoolRadiusKM,
		stdFloorFraction: defaultStdFloorFraction,
		stdFloorMin:      defaultStdFloorMin,
		workers:          runtime.NumCPU(),
		now:              time.Now,
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type sample struct {
	year int
	v    float64
}

// Compute derives a baseline for t without storing it.
// It returns ErrBaselineWithheld when even the regional pool is empty.
func (m *Manager) Compute(ctx context.Context, t Target) (model.Baseline, error) {
	if t.Week.Week < 1 || t.Week.Week > 53 {
		return model.Baseline{}, fmt.Errorf("%w: %d", ErrInvalidWeek, t.Week.Week)
	}

	own, err := m.samples(ctx, t.StationID, t)
	if err != nil {
		return model.Baseline{}, err
	}

	b := model.Baseline{Key: t.key(), SampleCount: len(own)}
	if len(own) >= m.minSamples {
		m.fill(&b, own)
		return b, nil
	}

	pool, err := m.pool(ctx, t)
	if err != nil {
		return model.Baseline{}, err
	}
	if len(pool) < m.minPooledSamples || len(pool) == 0 {
		return model.Baseline{}, fmt.Errorf("%w: %s/%s week %d", ErrBaselineWithheld, t.StationID, t.Species, t.Week.Week)
	}
	b.Pooled = true
	b.PooledCount = len(pool)
	m.fill(&b, pool)
	return b, nil
}

// Latest returns the last committed snapshot for key.
func (m *Manager) Latest(ctx context.Context, key model.BaselineKey) (model.Baseline, error) {
	b, err := m.store.Baseline(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return model.Baseline{}, fmt.Errorf("%w: %s/%s week %d", ErrNoBaseline, key.StationID, key.Species, key.Week)
	}
	return b, err
}

// Refresh computes t and replaces the stored snapshot. A withheld baseline
// removes the prior snapshot so stale history is never scored against.
func (m *Manager) Refresh(ctx context.Context, t Target) (model.Baseline, error) {
	b, err := m.Compute(ctx, t)
	if errors.Is(err, ErrBaselineWithheld) {
		if derr := m.store.DeleteBaseline(ctx, t.key()); derr != nil && !errors.Is(derr, model.ErrNotFound) {
			return model.Baseline{}, fmt.Errorf("discard baseline: %w", derr)
		}
		return model.Baseline{}, err
	}
	if err != nil {
		return model.Baseline{}, err
	}
	b.ComputedAt = m.now().UTC()
	committed, err := m.store.PutBaseline(ctx, b)
	if err != nil {
		return model.Baseline{}, fmt.Errorf("store baseline: %w", err)
	}
	return committed, nil
}

// Recompute refreshes every target concurrently. Individual failures are
// counted, not returned; only cancellation aborts the pass.
func (m *Manager) Recompute(ctx context.Context, targets []Target) (Summary, error) {
	start := time.Now()
	defer func() {
		metrics.RecordBaselineRecomputeDuration(float64(time.Since(start).Milliseconds()))
	}()

	var direct, pooled, withheld, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, t := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := m.Refresh(gctx, t)
			switch {
			case errors.Is(err, ErrBaselineWithheld):
				withheld.Add(1)
				metrics.RecordBaseline("withheld")
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				metrics.RecordBaseline("failed")
				metrics.RecordErrorByComponent("baseline", "compute")
				m.logger.Warn(gctx, "baseline computation failed",
					logger.String("station", t.StationID),
					logger.String("species", t.Species),
					logger.Int("week", t.Week.Week),
					logger.Error(err),
				)
			case b.Pooled:
				pooled.Add(1)
				metrics.RecordBaseline("pooled")
			default:
				direct.Add(1)
				metrics.RecordBaseline("direct")
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	s := Summary{
		Direct:   int(direct.Load()),
		Pooled:   int(pooled.Load()),
		Withheld: int(withheld.Load()),
		Failed:   int(failed.Load()),
	}
	m.logger.Info(ctx, "baseline recompute finished",
		logger.Int("targets", len(targets)),
		logger.Int("direct", s.Direct),
		logger.Int("pooled", s.Pooled),
		logger.Int("withheld", s.Withheld),
		logger.Int("failed", s.Failed),
		logger.Duration("took", time.Since(start)),
	)
	if err != nil {
		return s, fmt.Errorf("baseline recompute: %w", err)
	}
	return s, nil
}

// samples returns the station's qualifying VAR values for t's week in prior years.
func (m *Manager) samples(ctx context.Context, stationID string, t Target) ([]sample, error) {
	hist, err := m.history.WeekHistory(ctx, stationID, t.Species, t.Week.Week)
	if err != nil {
		return nil, fmt.Errorf("read history for %s/%s: %w", stationID, t.Species, err)
	}
	out := make([]sample, 0, len(hist))
	for _, dm := range hist {
		if dm.Excluded || dm.VAR == nil {
			continue
		}
		w := model.WeekOf(dm.Date)
		if w.Week != t.Week.Week || w.Year >= t.Week.Year {
			continue
		}
		out = append(out, sample{year: w.Year, v: *dm.VAR})
	}
	return out, nil
}

// pool gathers samples from active stations sharing the habitat within the
// pool radius, the station itself included.
func (m *Manager) pool(ctx context.Context, t Target) ([]sample, error) {
	self, err := m.stations.Station(ctx, t.StationID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, t.StationID)
	}
	if err != nil {
		return nil, fmt.Errorf("read station %s: %w", t.StationID, err)
	}
	all, err := m.stations.Stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	var out []sample
	for _, st := range all {
		if st.ID != self.ID {
			if !st.Active || !self.SameHabitat(st) {
				continue
			}
			if !geo.Within(self.Latitude, self.Longitude, st.Latitude, st.Longitude, m.poolRadiusKM) {
				continue
			}
		}
		s, err := m.samples(ctx, st.ID, t)
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	return out, nil
}

// fill sets mean, spread and source years. Values are reduced in sorted
// order so repeated runs over the same history are bitwise identical.
func (m *Manager) fill(b *model.Baseline, samples []sample) {
	values := make([]float64, len(samples))
	years := make(map[int]struct{})
	for i, s := range samples {
		values[i] = s.v
		years[s.year] = struct{}{}
	}
	sort.Float64s(values)

	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) || std <= 0 {
		std = math.Max(m.stdFloorFraction*math.Abs(mean), m.stdFloorMin)
		b.StdFloored = true
	}
	b.Mean = mean
	b.StdDev = std

	b.SourceYears = make([]int, 0, len(years))
	for y := range years {
		b.SourceYears = append(b.SourceYears, y)
	}
	sort.Ints(b.SourceYears)
}
