package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/metrics"
)

// baselineSlot holds the latest committed snapshot for one key. Writers
// build a fresh Baseline and swap the pointer, so readers load it without
// locks and never observe a half-written value.
type baselineSlot struct {
	snapshot atomic.Pointer[model.Baseline]
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu           sync.RWMutex
	metrics      map[model.Key]map[int64]model.DailyMetric // key -> day (unix) -> metric
	observations map[model.Key][]model.AnomalyObservation
	alerts       map[string]*model.Alert
	states       map[model.Key]alerting.State
	stations     map[string]model.Station

	baselineMu sync.RWMutex
	baselines  map[model.BaselineKey]*baselineSlot
	version    atomic.Uint64

	observationLimit int
	closed           atomic.Bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		metrics:      make(map[model.Key]map[int64]model.DailyMetric),
		observations: make(map[model.Key][]model.AnomalyObservation),
		alerts:       make(map[string]*model.Alert),
		states:       make(map[model.Key]alerting.State),
		stations:     make(map[string]model.Station),
		baselines:    make(map[model.BaselineKey]*baselineSlot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Close marks the store closed; later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

// PutMetrics upserts metrics.
func (s *MemoryStore) PutMetrics(ctx context.Context, ms []model.DailyMetric) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, m := range ms {
		if m.StationID == "" || m.Species == "" {
			return fmt.Errorf("%w: metric without station or species", ErrInvalidKey)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		m.Date = model.Day(m.Date)
		if m.VAR != nil {
			v := *m.VAR
			m.VAR = &v
		}
		series := s.metrics[m.Key()]
		if series == nil {
			series = make(map[int64]model.DailyMetric)
			s.metrics[m.Key()] = series
		}
		series[m.Date.Unix()] = m
	}
	return nil
}

// WeekHistory returns the series' metrics in ISO week-of-year week, by date.
func (s *MemoryStore) WeekHistory(ctx context.Context, stationID, species string, week int) ([]model.DailyMetric, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DailyMetric
	for _, m := range s.metrics[model.Key{StationID: stationID, Species: species}] {
		if model.WeekOf(m.Date).Week == week {
			out = append(out, m)
		}
	}
	sortByDate(out)
	return out, nil
}

// MetricsOn returns all metrics for the day of date, ordered by key.
func (s *MemoryStore) MetricsOn(ctx context.Context, date time.Time) ([]model.DailyMetric, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	day := model.Day(date).Unix()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DailyMetric
	for _, series := range s.metrics {
		if m, ok := series[day]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].Species < out[j].Species
	})
	return out, nil
}

// SeriesKeys lists stored series ordered by station then species.
func (s *MemoryStore) SeriesKeys(ctx context.Context) ([]model.Key, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	keys := make([]model.Key, 0, len(s.metrics))
	for k := range s.metrics {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sortKeys(keys)
	return keys, nil
}

func (s *MemoryStore) slot(key model.BaselineKey, create bool) *baselineSlot {
	s.baselineMu.RLock()
	sl := s.baselines[key]
	s.baselineMu.RUnlock()
	if sl != nil || !create {
		return sl
	}
	s.baselineMu.Lock()
	defer s.baselineMu.Unlock()
	if sl = s.baselines[key]; sl == nil {
		sl = &baselineSlot{}
		s.baselines[key] = sl
	}
	return sl
}

// PutBaseline publishes b as the latest snapshot for its key, replacing the
// previous one, and returns it with a new version.
func (s *MemoryStore) PutBaseline(ctx context.Context, b model.Baseline) (model.Baseline, error) {
	if err := s.check(ctx); err != nil {
		return model.Baseline{}, err
	}
	if b.Key.StationID == "" || b.Key.Species == "" || b.Key.Week < 1 {
		return model.Baseline{}, fmt.Errorf("%w: %+v", ErrInvalidKey, b.Key)
	}
	b.SourceYears = slices.Clone(b.SourceYears)
	b.Version = s.version.Add(1)
	s.slot(b.Key, true).snapshot.Store(&b)
	return b, nil
}

// Baseline returns the latest committed snapshot for key.
func (s *MemoryStore) Baseline(ctx context.Context, key model.BaselineKey) (model.Baseline, error) {
	if err := s.check(ctx); err != nil {
		return model.Baseline{}, err
	}
	sl := s.slot(key, false)
	if sl == nil {
		return model.Baseline{}, ErrNotFound
	}
	b := sl.snapshot.Load()
	if b == nil {
		return model.Baseline{}, ErrNotFound
	}
	return *b, nil
}

// DeleteBaseline withdraws the snapshot for key.
func (s *MemoryStore) DeleteBaseline(ctx context.Context, key model.BaselineKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if sl := s.slot(key, false); sl != nil {
		sl.snapshot.Store(nil)
	}
	return nil
}

// Observations returns a key's observations dated within [from, to].
func (s *MemoryStore) Observations(ctx context.Context, key model.Key, from, to time.Time) ([]model.AnomalyObservation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AnomalyObservation
	for _, o := range s.observations[key] {
		if !o.Date.Before(from) && !o.Date.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

// AlertState returns the hysteresis state for key.
func (s *MemoryStore) AlertState(ctx context.Context, key model.Key) (alerting.State, error) {
	if err := s.check(ctx); err != nil {
		return alerting.State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return alerting.State{}, ErrNotFound
	}
	return st, nil
}

// Alert returns a copy of the alert with id.
func (s *MemoryStore) Alert(ctx context.Context, id string) (*model.Alert, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// UpdateAlert replaces a stored alert. The last write wins.
func (s *MemoryStore) UpdateAlert(ctx context.Context, a *model.Alert) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	s.putAlert(a)
	return nil
}

func (s *MemoryStore) putAlert(a *model.Alert) {
	c := a.Clone()
	if prev, ok := s.alerts[a.ID]; ok {
		c.Version = prev.Version + 1
	} else {
		c.Version = 1
	}
	a.Version = c.Version
	s.alerts[a.ID] = c
}

// OpenAlerts returns every active alert ordered by trigger time.
func (s *MemoryStore) OpenAlerts(ctx context.Context) ([]*model.Alert, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Alert
	for _, a := range s.alerts {
		if a.Open() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].TriggeredAt.Before(out[j].TriggeredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PutStation upserts a station.
func (s *MemoryStore) PutStation(ctx context.Context, st model.Station) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if st.ID == "" {
		return fmt.Errorf("%w: station without id", ErrInvalidKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[st.ID] = st
	return nil
}

// Station returns the station with id.
func (s *MemoryStore) Station(ctx context.Context, id string) (model.Station, error) {
	if err := s.check(ctx); err != nil {
		return model.Station{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[id]
	if !ok {
		return model.Station{}, ErrNotFound
	}
	return st, nil
}

// Stations returns all stations ordered by id.
func (s *MemoryStore) Stations(ctx context.Context) ([]model.Station, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Commit stores an observation and the alert transition under one lock.
// Observations are upserted on (station, species, date).
func (s *MemoryStore) Commit(ctx context.Context, c Commit) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if o := c.Observation; o != nil {
		k := o.Key()
		obs := upsertObservation(s.observations[k], *o)
		if s.observationLimit > 0 && len(obs) > s.observationLimit {
			obs = slices.Clone(obs[len(obs)-s.observationLimit:])
		}
		s.observations[k] = obs
	}
	if out := c.Outcome; out != nil {
		s.states[out.Key] = out.State
		if out.Alert != nil {
			s.putAlert(out.Alert)
		}
		metrics.UpdateOpenAlerts(s.openCountLocked())
	}
	return nil
}

// upsertObservation keeps one observation per day, ordered by date. A
// rescored day replaces the earlier observation in place.
func upsertObservation(obs []model.AnomalyObservation, o model.AnomalyObservation) []model.AnomalyObservation {
	day := model.Day(o.Date)
	i := sort.Search(len(obs), func(i int) bool { return !model.Day(obs[i].Date).Before(day) })
	if i < len(obs) && model.Day(obs[i].Date).Equal(day) {
		obs[i] = o
		return obs
	}
	return slices.Insert(obs, i, o)
}

func (s *MemoryStore) openCountLocked() int {
	n := 0
	for _, a := range s.alerts {
		if a.Open() {
			n++
		}
	}
	return n
}

func sortByDate(ms []model.DailyMetric) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Date.Before(ms[j].Date) })
}

func sortKeys(keys []model.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StationID != keys[j].StationID {
			return keys[i].StationID < keys[j].StationID
		}
		return keys[i].Species < keys[j].Species
	})
}
