package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/avisurv/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should start empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording detections", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the detection is new", func() {
				seen := d.SeenAndRecord(ctx, "det-1")

				Convey("Then it should return false and record it", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the detection was replayed", func() {
				d.SeenAndRecord(ctx, "det-1")
				seen := d.SeenAndRecord(ctx, "det-1")

				Convey("Then it should return true without growing", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When unrecording detections", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "det-1")
			d.Unrecord(ctx, "det-1")
			d.Unrecord(ctx, "missing")

			Convey("Then the ID can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "det-1"), ShouldBeFalse)
			})
		})

		Convey("When using bounded mode with eviction", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for _, id := range []string{"det-1", "det-2", "det-3", "det-4"} {
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			}

			Convey("Then the oldest ID is evicted and size stays bounded", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "det-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "det-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})
		})

		Convey("When detections are claimed by batches", func() {
			for _, size := range []int{10, 0} {
				d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(size))
				first := d.Claim(ctx, "det-1", "SYN-001|2024-05-14")
				again := d.Claim(ctx, "det-1", "SYN-001|2024-05-14")
				other := d.Claim(ctx, "det-1", "SYN-002|2024-05-14")

				Convey(fmt.Sprintf("Then only another owner sees a duplicate (max size %d)", size), func() {
					So(first, ShouldBeFalse)
					So(again, ShouldBeFalse)
					So(other, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			}
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			const n = 1000
			for i := 0; i < n; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("det-%d", i)), ShouldBeFalse)
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, int64(n))
				So(d.SeenAndRecord(ctx, "det-0"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a bounded deduper shared by goroutines", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const goroutines = 10
		const perGoroutine = 100

		Convey("When every goroutine records the same IDs", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			firsts := 0
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perGoroutine; j++ {
						if !d.SeenAndRecord(context.Background(), fmt.Sprintf("det-%d", j)) {
							mu.Lock()
							firsts++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each ID is reported new exactly once", func() {
				So(firsts, ShouldEqual, perGoroutine)
				So(d.Size(), ShouldEqual, int64(perGoroutine))
			})
		})
	})
}
