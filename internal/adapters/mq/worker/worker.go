// Package worker runs per-key tasks on a fixed set of workers. Every key is
// owned by exactly one worker, so a key's tasks run one at a time and in
// submission order.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/avisurv/internal/adapters/mq/queue"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/logger"
	"github.com/okian/avisurv/pkg/metrics"
)

const defaultQueueCapacity = 256

// Task is one unit of work for a station/species key.
type Task struct {
	Key  model.Key
	Date time.Time
	Pass uint64 // caller-assigned id of the batch the task belongs to
}

// Handler processes a task. The context passed to Handle is never
// cancelled, so a task is never cut short once started.
type Handler interface {
	Handle(ctx context.Context, t Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, t Task) error { return f(ctx, t) }

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
}

// Summary counts the outcome of one Process call.
type Summary struct {
	Processed int
	Failed    int
	Aborted   int
}

// InMemoryWorker drains one queue.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	guard   *inflight
	name    string
	logger  logger.Logger

	processed atomic.Int64
	failed    atomic.Int64

	done chan struct{}
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, h Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:   q,
		handler: h,
		guard:   newInflight(),
		name:    "worker",
		logger:  logger.Nop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes tasks until the queue is drained or ctx is cancelled.
// Cancellation is observed between tasks only.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			w.process(context.WithoutCancel(ctx), t)
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, t Task) {
	start := time.Now()
	if !w.guard.acquire(t.Key) {
		metrics.RecordSchedulingDefect()
		w.logger.Warn(ctx, "key already in flight",
			logger.String("key", t.Key.String()),
			logger.Time("date", t.Date),
		)
	}
	defer w.guard.release(t.Key)

	if err := w.handler.Handle(ctx, t); err != nil {
		w.failed.Add(1)
		metrics.RecordErrorByComponent("worker", "task_failed")
		w.logger.Error(ctx, "task failed",
			logger.String("key", t.Key.String()),
			logger.Time("date", t.Date),
			logger.Error(err),
		)
		return
	}
	w.processed.Add(1)
	metrics.RecordKeyProcessed(float64(time.Since(start).Microseconds()) / 1000)
}

// inflight detects overlapping work on one key.
type inflight struct {
	mu      sync.Mutex
	keys    map[model.Key]int
	defects atomic.Int64
}

func newInflight() *inflight {
	return &inflight{keys: make(map[model.Key]int)}
}

// acquire marks key busy and reports whether it was idle.
func (g *inflight) acquire(k model.Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[k]++
	if g.keys[k] > 1 {
		g.defects.Add(1)
		return false
	}
	return true
}

func (g *inflight) release(k model.Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[k] <= 1 {
		delete(g.keys, k)
		return
	}
	g.keys[k]--
}

// Pool shards keys over a fixed number of workers.
type Pool struct {
	size          int
	queueCapacity int
	handler       Handler
	guard         *inflight
	active        atomic.Int64
	logger        logger.Logger
}

// NewPool creates a pool of workerCount workers. Values below one use
// runtime.NumCPU().
func NewPool(workerCount int, h Handler, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		size:          workerCount,
		queueCapacity: defaultQueueCapacity,
		handler:       h,
		guard:         newInflight(),
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SchedulingDefects returns how many times a task started while another
// task for the same key was still running.
func (p *Pool) SchedulingDefects() int64 { return p.guard.defects.Load() }

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Shard returns the worker index that owns k.
func (p *Pool) Shard(k model.Key) int {
	h := xxhash.New()
	_, _ = h.WriteString(k.StationID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.Species)
	return int(h.Sum64() % uint64(p.size))
}

// Process runs tasks to completion and blocks until every worker is idle.
// Tasks for the same key run in slice order on one worker. After ctx is
// cancelled no new task starts; the ones left over are counted as aborted.
func (p *Pool) Process(ctx context.Context, tasks []Task) Summary {
	queues := make([]*queue.InMemoryQueue[Task], p.size)
	workers := make([]*InMemoryWorker, p.size)
	for i := range workers {
		queues[i] = queue.NewInMemoryQueue[Task](queue.WithCapacity(p.queueCapacity))
		workers[i] = NewInMemoryWorker(queues[i], p.handler,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
			withGuard(p.guard),
		)
	}

	metrics.UpdateWorkerActiveCount(int(p.active.Add(int64(p.size))))
	defer func() { metrics.UpdateWorkerActiveCount(int(p.active.Add(-int64(p.size)))) }()

	for _, w := range workers {
		go w.Run(ctx)
	}

	for _, t := range tasks {
		if err := queues[p.Shard(t.Key)].Put(ctx, t); err != nil {
			break
		}
	}
	for _, q := range queues {
		_ = q.Close()
	}
	for _, w := range workers {
		<-w.Done()
	}

	var s Summary
	for _, w := range workers {
		s.Processed += int(w.processed.Load())
		s.Failed += int(w.failed.Load())
	}
	s.Aborted = len(tasks) - s.Processed - s.Failed
	for i := 0; i < s.Aborted; i++ {
		metrics.RecordKeyAborted()
	}
	if s.Aborted > 0 {
		p.logger.Warn(ctx, "batch cancelled before all keys ran",
			logger.Int("aborted", s.Aborted),
			logger.Int("processed", s.Processed),
			logger.Error(fmt.Errorf("cancelled: %w", ctx.Err())),
		)
	}
	return s
}
