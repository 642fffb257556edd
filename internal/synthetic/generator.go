package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/avisurv/internal/domain/geo"
	"github.com/okian/avisurv/internal/domain/model"
)

// Confidence ranges of generated detections.
const (
	qualifyingMin   = 0.75
	qualifyingRange = 0.24
	lowMin          = 0.3
	lowRange        = 0.39
)

var detectionNamespace = uuid.MustParse("6f1c2a9e-4b7d-5c3e-8a2f-1d0e9b8c7a65")

// Stations places cfg.Stations stations uniformly within SpreadKM of the
// configured centre. The same seed always yields the same network.
func Stations(cfg Config) []model.Station {
	cfg.Defaults()
	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	out := make([]model.Station, cfg.Stations)
	for i := range out {
		dist := cfg.SpreadKM * math.Sqrt(rng.Float64())
		lat, lon := geo.Destination(cfg.Latitude, cfg.Longitude, 360*rng.Float64(), dist)
		out[i] = model.Station{
			ID:        fmt.Sprintf("SYN-%03d", i+1),
			Latitude:  lat,
			Longitude: lon,
			Habitat:   cfg.Habitat,
			Region:    cfg.Region,
			Active:    true,
		}
	}
	return out
}

// Days lists the current window followed by the matching ISO week days of
// each history year, oldest first.
func Days(cfg Config) []time.Time {
	cfg.Defaults()
	var out []time.Time
	for d := model.Day(cfg.From); !d.After(model.Day(cfg.To)); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
		w := model.WeekOf(d)
		offset := (int(d.Weekday()) + 6) % 7
		for k := 1; k <= cfg.HistoryYears; k++ {
			h := isoDay(w.Year-k, w.Week, offset)
			if model.WeekOf(h).Week != w.Week {
				continue // no week 53 that year
			}
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// isoDay returns the day offset (0 = Monday) of ISO week w in year.
func isoDay(year, w, offset int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -((int(jan4.Weekday()) + 6) % 7))
	return monday.AddDate(0, 0, (w-1)*7+offset)
}

// Batches generates one day batch per station and day. Stations are
// generated concurrently, each from its own seeded source, so the output
// does not depend on scheduling.
func Batches(ctx context.Context, cfg Config, stations []model.Station) ([]model.DayBatch, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	days := Days(cfg)
	perStation := make([][]model.DayBatch, len(stations))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, st := range stations {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
			out := make([]model.DayBatch, 0, len(days))
			for _, d := range days {
				if err := ctx.Err(); err != nil {
					return err
				}
				out = append(out, batch(rng, cfg, i, st, d))
			}
			perStation[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.DayBatch, 0, len(stations)*len(days))
	for _, bs := range perStation {
		out = append(out, bs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func batch(rng *rand.Rand, cfg Config, idx int, st model.Station, day time.Time) model.DayBatch {
	b := model.DayBatch{
		StationID:      st.ID,
		Date:           day,
		RecordingHours: cfg.RecordingHours,
	}
	rate := cfg.Rate
	if cfg.DieOff != nil && idx < cfg.DieOff.Stations && !day.Before(model.Day(cfg.DieOff.Start)) {
		rate *= cfg.DieOff.Factor
	}
	start := day.Add(recordingStartHour * time.Hour)
	window := time.Duration(cfg.RecordingHours * float64(time.Hour))

	for _, species := range cfg.Species {
		n := max(0, int(math.Round(rate*cfg.RecordingHours*(1+cfg.Noise*rng.NormFloat64()))))
		low := 0
		if cfg.LowConfidence > 0 {
			low = int(math.Round(float64(n) * cfg.LowConfidence))
		}
		for j := range n + low {
			conf := qualifyingMin + qualifyingRange*rng.Float64()
			if j >= n {
				conf = lowMin + lowRange*rng.Float64()
			}
			b.Detections = append(b.Detections, model.Detection{
				ID:             detectionID(st.ID, species, day, j),
				StationID:      st.ID,
				Species:        species,
				Timestamp:      start.Add(time.Duration(rng.Float64() * float64(window))),
				Confidence:     conf,
				RecordingHours: cfg.RecordingHours,
			})
		}
	}
	return b
}

func detectionID(station, species string, day time.Time, n int) string {
	name := fmt.Sprintf("%s|%s|%s|%d", station, species, day.Format(time.DateOnly), n)
	return uuid.NewSHA1(detectionNamespace, []byte(name)).String()
}

// WriteJSONLines writes one JSON document per item.
func WriteJSONLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return fmt.Errorf("encode item %d: %w", i, err)
		}
	}
	return nil
}
