package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/avisurv/internal/adapters/mq/worker"
	"github.com/okian/avisurv/internal/adapters/repository"
	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/baseline"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/internal/domain/scoring"
	"github.com/okian/avisurv/internal/domain/spatial"
	"github.com/okian/avisurv/pkg/logger"
	"github.com/okian/avisurv/pkg/metrics"
)

const mortalityQueryLimit = 4

// DaySummary counts the outcome of scoring one day.
type DaySummary struct {
	Date       time.Time
	Metrics    int
	Excluded   int // excluded days, not scored
	Scored     int // anomaly observations committed
	NoBaseline int // data-quality observations committed
	Failed     int
	Replayed   int // keys whose day was already applied, left as committed
	Aborted    int // keys not started before the batch deadline
	Actions    map[alerting.Action]int
	Took       time.Duration
}

// entry is the prepared input for one key.
type entry struct {
	metric   model.DailyMetric
	baseline *model.Baseline
	cluster  spatial.Cluster
	region   string
}

type mortalityResult struct {
	context *model.MortalityContext
	err     error
}

// dayPass is everything the per-key handler reads. It is built before any
// task runs and is read-only afterwards, apart from the guarded summary.
type dayPass struct {
	id        uint64
	date      time.Time
	entries   map[model.Key]*entry
	mortality map[string]mortalityResult

	mu      sync.Mutex
	summary DaySummary
}

func (p *dayPass) record(obs model.AnomalyObservation, action alerting.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if obs.Kind == model.KindDataQuality {
		p.summary.NoBaseline++
	} else {
		p.summary.Scored++
	}
	if action != "" {
		p.summary.Actions[action]++
	}
}

func (p *dayPass) replay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary.Replayed++
}

// RunDay ingests the day's batches, then scores the day. The whole run is
// bounded by the batch timeout; keys already started always finish.
func (s *Service) RunDay(ctx context.Context, date time.Time, batches []model.DayBatch) (IngestSummary, DaySummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	in, err := s.Ingest(ctx, batches)
	if err != nil {
		return in, DaySummary{Date: model.Day(date)}, err
	}
	day, err := s.ScoreDay(ctx, date)
	return in, day, err
}

// RunDays processes batches spanning several days. Everything is ingested
// first, then days are scored in date order; baselines are recomputed
// whenever the pass enters a new ISO week.
func (s *Service) RunDays(ctx context.Context, batches []model.DayBatch) ([]DaySummary, error) {
	byDay := make(map[time.Time][]model.DayBatch)
	for _, b := range batches {
		d := model.Day(b.Date)
		byDay[d] = append(byDay[d], b)
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	ordered := make([]model.DayBatch, 0, len(batches))
	for _, d := range days {
		ordered = append(ordered, byDay[d]...)
	}
	if _, err := s.Ingest(ctx, ordered); err != nil {
		return nil, err
	}

	var (
		out  []DaySummary
		last model.Week
	)
	for _, d := range days {
		if w := model.WeekOf(d); w != last {
			if _, err := s.RecomputeBaselines(ctx, w); err != nil {
				return out, err
			}
			last = w
		}
		runCtx, cancel := context.WithTimeout(ctx, s.batchTimeout)
		sum, err := s.ScoreDay(runCtx, d)
		cancel()
		out = append(out, sum)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ScoreDay scores every stored metric of date. Z-scores and spatial
// clusters are computed for the whole day first; each key is then scored,
// evaluated and committed by the worker that owns it.
func (s *Service) ScoreDay(ctx context.Context, date time.Time) (DaySummary, error) {
	start := time.Now()
	day := model.Day(date)

	pass, tasks, err := s.prepare(ctx, day)
	if err != nil {
		return DaySummary{Date: day}, err
	}

	s.passes.Store(pass.id, pass)
	defer s.passes.Delete(pass.id)

	res := s.pool.Process(ctx, tasks)

	pass.mu.Lock()
	sum := pass.summary
	pass.mu.Unlock()
	sum.Failed += res.Failed
	sum.Aborted = res.Aborted
	sum.Took = time.Since(start)
	metrics.RecordBatchDuration(float64(sum.Took.Milliseconds()))

	s.logger.Info(ctx, "day scored",
		logger.Time("date", day),
		logger.Int("metrics", sum.Metrics),
		logger.Int("scored", sum.Scored),
		logger.Int("noBaseline", sum.NoBaseline),
		logger.Int("excluded", sum.Excluded),
		logger.Int("failed", sum.Failed),
		logger.Int("replayed", sum.Replayed),
		logger.Int("aborted", sum.Aborted),
		logger.Duration("took", sum.Took),
	)
	if sum.Aborted > 0 {
		return sum, fmt.Errorf("score %s: %w", day.Format(time.DateOnly), context.Cause(ctx))
	}
	return sum, nil
}

// prepare loads the day's metrics, baselines and mortality context and
// runs the spatial correlation for each species.
func (s *Service) prepare(ctx context.Context, day time.Time) (*dayPass, []worker.Task, error) {
	ms, err := s.store.MetricsOn(ctx, day)
	if err != nil {
		return nil, nil, fmt.Errorf("load metrics: %w", err)
	}
	stations, err := s.store.Stations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load stations: %w", err)
	}
	byID := make(map[string]model.Station, len(stations))
	for _, st := range stations {
		byID[st.ID] = st
	}

	pass := &dayPass{
		id:      s.passSeq.Add(1),
		date:    day,
		entries: make(map[model.Key]*entry, len(ms)),
		summary: DaySummary{Date: day, Metrics: len(ms), Actions: make(map[alerting.Action]int)},
	}
	week := model.WeekOf(day).Week
	points := make(map[string][]spatial.Point)
	regions := make(map[string]struct{})
	tasks := make([]worker.Task, 0, len(ms))

	for _, m := range ms {
		if m.Excluded || m.VAR == nil {
			pass.summary.Excluded++
			metrics.RecordScoringSkipped("excluded")
			continue
		}
		e := &entry{metric: m}
		b, err := s.baselines.Latest(ctx, model.BaselineKey{StationID: m.StationID, Species: m.Species, Week: week})
		switch {
		case errors.Is(err, baseline.ErrNoBaseline):
		case err != nil:
			pass.summary.Failed++
			metrics.RecordErrorByComponent("baseline", "read")
			s.logger.Error(ctx, "baseline not readable",
				logger.String("key", m.Key().String()),
				logger.Error(err),
			)
			continue
		default:
			e.baseline = &b
		}

		st, known := byID[m.StationID]
		if known {
			e.region = st.Region
			if e.region != "" {
				regions[e.region] = struct{}{}
			}
			if e.baseline != nil && e.baseline.StdDev > 0 {
				points[m.Species] = append(points[m.Species], spatial.Point{
					StationID: st.ID,
					Latitude:  st.Latitude,
					Longitude: st.Longitude,
					Z:         scoring.ZScore(*m.VAR, *e.baseline),
				})
			}
		}
		pass.entries[m.Key()] = e
		tasks = append(tasks, worker.Task{Key: m.Key(), Date: day, Pass: pass.id})
	}

	for species, pts := range points {
		for id, c := range s.correlator.Correlate(pts) {
			if e := pass.entries[model.Key{StationID: id, Species: species}]; e != nil {
				e.cluster = c
			}
		}
	}

	pass.mortality = s.queryMortality(ctx, day, regions)
	return pass, tasks, nil
}

// queryMortality asks the feed about every region once. Failures are kept
// per region so the affected keys score without the epidemiological term.
func (s *Service) queryMortality(ctx context.Context, day time.Time, regions map[string]struct{}) map[string]mortalityResult {
	out := make(map[string]mortalityResult, len(regions))
	if s.mortality == nil {
		return out
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(mortalityQueryLimit)
	for region := range regions {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, s.mortalityTimeout)
			defer cancel()
			mc, err := s.mortality.Query(qctx, region, day, s.scoringPolicy.MortalityWindow)
			if err != nil {
				metrics.RecordMortalityFailure()
				s.logger.Warn(ctx, "mortality feed unavailable",
					logger.String("region", region),
					logger.Time("date", day),
					logger.Error(err),
				)
			}
			mu.Lock()
			out[region] = mortalityResult{context: mc, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// handle scores, evaluates and commits one key for the task's day.
func (s *Service) handle(ctx context.Context, t worker.Task) error {
	v, ok := s.passes.Load(t.Pass)
	if !ok {
		return fmt.Errorf("%w: no pass %d for %s", ErrInvalidInput, t.Pass, t.Date.Format(time.DateOnly))
	}
	pass := v.(*dayPass)
	e := pass.entries[t.Key]
	if e == nil {
		return fmt.Errorf("%w: %s not prepared", ErrInvalidInput, t.Key)
	}

	in := scoring.Input{
		Metric:             e.metric,
		Baseline:           e.baseline,
		DecliningNeighbors: e.cluster.Count,
	}
	if r, ok := pass.mortality[e.region]; ok {
		in.Mortality, in.MortalityErr = r.context, r.err
	}
	obs, err := s.scorer.Score(in)
	if err != nil {
		return fmt.Errorf("score %s: %w", t.Key, err)
	}
	metrics.RecordObservation(string(obs.Kind), obs.Severity.String(), obs.Score)

	sig, ok := alerting.SignalFromObservation(obs, neighbors(obs, e.cluster))
	if !ok {
		metrics.RecordScoringSkipped(scoring.FactorNoBaseline)
		if err := s.store.Commit(ctx, repository.Commit{Observation: &obs}); err != nil {
			return fmt.Errorf("commit %s: %w", t.Key, err)
		}
		pass.record(obs, "")
		return nil
	}

	out, err := s.apply(ctx, sig, &obs)
	if s.replayed(ctx, sig, err) {
		pass.replay()
		return nil
	}
	if err != nil {
		return err
	}
	pass.record(obs, out.Decision.Action)
	if out.Decision.Action != alerting.ActionNone {
		s.logger.Debug(ctx, "alert decision",
			logger.String("key", t.Key.String()),
			logger.String("action", string(out.Decision.Action)),
			logger.String("severity", out.Decision.Severity.String()),
			logger.Float64("score", obs.Score),
		)
	}
	return nil
}

// neighbors returns the declining stations to attach to an alert when the
// spatial term contributed to the score.
func neighbors(obs model.AnomalyObservation, c spatial.Cluster) []string {
	if !obs.HasFactor(scoring.FactorSpatialCluster) {
		return nil
	}
	return c.Neighbors
}
