package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/avisurv/internal/adapters/mq/worker"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

// recorder captures the order tasks ran in, per key.
type recorder struct {
	mu    sync.Mutex
	order map[model.Key][]time.Time
	fail  map[string]bool
}

func newRecorder() *recorder {
	return &recorder{order: make(map[model.Key][]time.Time), fail: make(map[string]bool)}
}

func (r *recorder) Handle(_ context.Context, t worker.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[t.Key.StationID] {
		return errors.New("store unavailable")
	}
	r.order[t.Key] = append(r.order[t.Key], t.Date)
	return nil
}

func tasks(stations, days int) []worker.Task {
	var out []worker.Task
	base := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	for d := 0; d < days; d++ {
		for s := 0; s < stations; s++ {
			out = append(out, worker.Task{
				Key:  model.Key{StationID: fmt.Sprintf("NL-%03d", s), Species: "EURBLA"},
				Date: base.AddDate(0, 0, d),
			})
		}
	}
	return out
}

func TestPoolProcess(t *testing.T) {
	convey.Convey("Given a pool of four workers", t, func() {
		rec := newRecorder()
		pool := worker.NewPool(4, rec, worker.WithQueueCapacity(2))

		convey.Convey("When processing many keys over several days", func() {
			all := tasks(25, 5)
			sum := pool.Process(context.Background(), all)

			convey.Convey("Then every task runs once", func() {
				convey.So(sum.Processed, convey.ShouldEqual, len(all))
				convey.So(sum.Failed, convey.ShouldEqual, 0)
				convey.So(sum.Aborted, convey.ShouldEqual, 0)
			})

			convey.Convey("Then each key's days run in order", func() {
				for _, dates := range rec.order {
					convey.So(dates, convey.ShouldHaveLength, 5)
					for i := 1; i < len(dates); i++ {
						convey.So(dates[i].After(dates[i-1]), convey.ShouldBeTrue)
					}
				}
			})

			convey.Convey("Then no overlap is reported", func() {
				convey.So(int(pool.SchedulingDefects()), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a handler fails for one station", func() {
			rec.fail["NL-003"] = true
			sum := pool.Process(context.Background(), tasks(5, 2))

			convey.Convey("Then only that station's tasks fail and the rest complete", func() {
				convey.So(sum.Failed, convey.ShouldEqual, 2)
				convey.So(sum.Processed, convey.ShouldEqual, 8)
			})
		})
	})
}

func TestPoolShard(t *testing.T) {
	convey.Convey("Given a pool", t, func() {
		pool := worker.NewPool(8, worker.HandlerFunc(func(context.Context, worker.Task) error { return nil }))

		convey.Convey("Then a key always maps to the same worker", func() {
			k := model.Key{StationID: "NL-001", Species: "EURBLA"}
			first := pool.Shard(k)
			for i := 0; i < 10; i++ {
				convey.So(pool.Shard(k), convey.ShouldEqual, first)
			}
			convey.So(first, convey.ShouldBeBetweenOrEqual, 0, 7)
		})

		convey.Convey("Then a zero size falls back to the CPU count", func() {
			convey.So(worker.NewPool(0, nil).Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}

func TestPoolCancellation(t *testing.T) {
	convey.Convey("Given a handler that cancels the batch on its first task", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var started atomic.Int64
		var sawCancelled atomic.Bool
		h := worker.HandlerFunc(func(hctx context.Context, _ worker.Task) error {
			started.Add(1)
			cancel()
			time.Sleep(5 * time.Millisecond)
			if hctx.Err() != nil {
				sawCancelled.Store(true)
			}
			return nil
		})
		pool := worker.NewPool(1, h)

		sum := pool.Process(ctx, tasks(50, 1))

		convey.Convey("Then the running task finishes and the rest are aborted", func() {
			convey.So(sum.Processed, convey.ShouldEqual, int(started.Load()))
			convey.So(sum.Processed, convey.ShouldBeGreaterThanOrEqualTo, 1)
			convey.So(sum.Aborted, convey.ShouldEqual, 50-sum.Processed)
			convey.So(sum.Aborted, convey.ShouldBeGreaterThan, 0)
			convey.So(sawCancelled.Load(), convey.ShouldBeFalse)
		})
	})
}

func TestSchedulingDefect(t *testing.T) {
	convey.Convey("Given two overlapping batches for the same key", t, func() {
		release := make(chan struct{})
		var running atomic.Int64
		h := worker.HandlerFunc(func(context.Context, worker.Task) error {
			running.Add(1)
			<-release
			return nil
		})
		pool := worker.NewPool(2, h)
		batch := []worker.Task{{Key: model.Key{StationID: "NL-001", Species: "EURBLA"}}}

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.Process(context.Background(), batch)
			}()
		}
		deadline := time.Now().Add(2 * time.Second)
		for running.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		close(release)
		wg.Wait()

		convey.Convey("Then the overlap is counted as a scheduling defect", func() {
			convey.So(int(running.Load()), convey.ShouldEqual, 2)
			convey.So(int(pool.SchedulingDefects()), convey.ShouldEqual, 1)
		})
	})
}
