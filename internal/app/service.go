// Package service wires the surveillance core together: it turns day
// batches into metrics, keeps baselines current, scores every key and
// drives the alert lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/avisurv/internal/adapters/mortality"
	"github.com/okian/avisurv/internal/adapters/mq/notify"
	"github.com/okian/avisurv/internal/adapters/mq/worker"
	"github.com/okian/avisurv/internal/adapters/repository"
	"github.com/okian/avisurv/internal/domain/aggregate"
	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/baseline"
	"github.com/okian/avisurv/internal/domain/dedupe"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/internal/domain/scoring"
	"github.com/okian/avisurv/internal/domain/spatial"
	"github.com/okian/avisurv/pkg/logger"
)

const (
	defaultBatchTimeout     = 10 * time.Minute
	defaultMortalityTimeout = 10 * time.Second
	defaultDedupeSize       = 50000
)

// Service runs the daily surveillance pass over a Store.
type Service struct {
	// Core components
	store      repository.Store
	aggregator *aggregate.Aggregator
	baselines  *baseline.Manager
	scorer     *scoring.Scorer
	correlator spatial.Correlator
	machine    *alerting.Machine
	pool       *worker.Pool
	mortality  mortality.Feed
	notifier   notify.Notifier

	// Configuration
	workerCount      int
	batchTimeout     time.Duration
	mortalityTimeout time.Duration
	dedupeSize       int
	aggregateOpts    []aggregate.Option
	baselineOpts     []baseline.Option
	scoringPolicy    scoring.Policy
	alertPolicy      alerting.Policy
	dataQuality      alerting.DataQualityPolicy
	gridIndex        bool

	now    func() time.Time
	newID  func() string
	logger logger.Logger

	// passes holds the prepared input of every ScoreDay call in progress,
	// keyed by pass id, so concurrent calls for one day never share state.
	passes  sync.Map
	passSeq atomic.Uint64
	replays atomic.Int64

	// keyLocks serialize apply per key shard across concurrent passes.
	keyLocks []sync.Mutex
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of scoring workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithBatchTimeout bounds one day run. Keys already started always finish.
func WithBatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.batchTimeout = d
		}
	}
}

// WithMortalityTimeout bounds a single mortality feed query.
func WithMortalityTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.mortalityTimeout = d
		}
	}
}

// WithDedupeSize bounds the detection IDs remembered across Ingest calls.
func WithDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithAggregatorOptions passes options through to the aggregator.
func WithAggregatorOptions(opts ...aggregate.Option) Option {
	return func(s *Service) {
		s.aggregateOpts = append(s.aggregateOpts, opts...)
	}
}

// WithBaselineOptions passes options through to the baseline manager.
func WithBaselineOptions(opts ...baseline.Option) Option {
	return func(s *Service) {
		s.baselineOpts = append(s.baselineOpts, opts...)
	}
}

// WithScoringPolicy sets the composite score calibration.
func WithScoringPolicy(p scoring.Policy) Option {
	return func(s *Service) {
		s.scoringPolicy = p
	}
}

// WithAlertPolicy sets the alert hysteresis.
func WithAlertPolicy(p alerting.Policy) Option {
	return func(s *Service) {
		s.alertPolicy = p
	}
}

// WithDataQualityPolicy sets when input defects raise a data-quality alert.
func WithDataQualityPolicy(p alerting.DataQualityPolicy) Option {
	return func(s *Service) {
		s.dataQuality = p
	}
}

// WithGridIndex switches the spatial correlator to its indexed strategy.
func WithGridIndex(enabled bool) Option {
	return func(s *Service) {
		s.gridIndex = enabled
	}
}

// WithMortalityFeed sets the epidemiological feed. Without one every
// region reports no evidence.
func WithMortalityFeed(f mortality.Feed) Option {
	return func(s *Service) {
		s.mortality = f
	}
}

// WithNotifier sets where alert changes are published.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator for observation and alert IDs.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	s := &Service{
		store:            store,
		workerCount:      runtime.NumCPU(),
		batchTimeout:     defaultBatchTimeout,
		mortalityTimeout: defaultMortalityTimeout,
		dedupeSize:       defaultDedupeSize,
		scoringPolicy:    scoring.DefaultPolicy(),
		alertPolicy:      alerting.DefaultPolicy(),
		dataQuality:      alerting.DataQualityPolicy{RejectRate: 0.2, MinRecords: 10},
		now:              time.Now,
		newID:            func() string { return uuid.NewString() },
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.scoringPolicy.Validate(); err != nil {
		return nil, err
	}
	if s.notifier == nil {
		s.notifier = notify.NewLog(s.logger.Named("notify"))
	}

	s.aggregator = aggregate.New(append([]aggregate.Option{
		aggregate.WithClock(s.now),
		aggregate.WithLogger(s.logger.Named("aggregate")),
		aggregate.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
	}, s.aggregateOpts...)...)
	s.baselines = baseline.NewManager(store, store, store, append([]baseline.Option{
		baseline.WithClock(s.now),
		baseline.WithLogger(s.logger.Named("baseline")),
	}, s.baselineOpts...)...)
	s.scorer = scoring.NewScorer(
		scoring.WithPolicy(s.scoringPolicy),
		scoring.WithClock(s.now),
		scoring.WithIDGenerator(s.newID),
	)
	s.correlator = spatial.New(
		spatial.WithRadius(s.scoringPolicy.SpatialRadiusKM),
		spatial.WithDeclineThreshold(s.scoringPolicy.DeclineZThreshold),
		spatial.WithGridIndex(s.gridIndex),
	)
	s.machine = alerting.NewMachine(store,
		alerting.WithPolicy(s.alertPolicy),
		alerting.WithClock(s.now),
		alerting.WithIDGenerator(s.newID),
	)
	s.pool = worker.NewPool(s.workerCount, worker.HandlerFunc(s.handle),
		worker.WithPoolLogger(s.logger.Named("worker")),
	)
	s.keyLocks = make([]sync.Mutex, s.pool.Size())

	s.logger.Info(context.Background(), "surveillance service ready",
		logger.Int("workers", s.pool.Size()),
		logger.Duration("batchTimeout", s.batchTimeout),
		logger.String("modelVersion", s.scoringPolicy.ModelVersion),
		logger.Bool("mortalityFeed", s.mortality != nil),
	)
	return s, nil
}

// SchedulingDefects returns how often two tasks for one key overlapped or
// a day was applied to a key a second time.
func (s *Service) SchedulingDefects() int64 {
	return s.pool.SchedulingDefects() + s.replays.Load()
}

// RegisterStations adds or replaces station reference data.
func (s *Service) RegisterStations(ctx context.Context, stations ...model.Station) error {
	for _, st := range stations {
		if st.ID == "" {
			return fmt.Errorf("%w: station without id", ErrInvalidInput)
		}
		if err := s.store.PutStation(ctx, st); err != nil {
			return fmt.Errorf("register station %s: %w", st.ID, err)
		}
	}
	return nil
}

// RecomputeBaselines refreshes the baseline of every stored series for week.
func (s *Service) RecomputeBaselines(ctx context.Context, week model.Week) (baseline.Summary, error) {
	keys, err := s.store.SeriesKeys(ctx)
	if err != nil {
		return baseline.Summary{}, fmt.Errorf("list series: %w", err)
	}
	targets := make([]baseline.Target, 0, len(keys))
	for _, k := range keys {
		targets = append(targets, baseline.Target{StationID: k.StationID, Species: k.Species, Week: week})
	}
	return s.baselines.Recompute(ctx, targets)
}

// Close releases the notifier and the store.
func (s *Service) Close() error {
	return errors.Join(s.notifier.Close(), s.store.Close())
}
