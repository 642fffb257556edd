// Package spatial counts declining neighbors around each station.
package spatial

import (
	"math"
	"sort"

	"github.com/okian/avisurv/internal/domain/geo"
)

const (
	defaultRadiusKM  = 20
	defaultThreshold = 2

	// spanMarginDeg widens index bounds so floating point never drops a
	// station that the exact distance check would accept.
	spanMarginDeg = 1e-6
)

// Point is one station's z-score for a species on a day.
type Point struct {
	StationID string
	Latitude  float64
	Longitude float64
	Z         float64
}

// Cluster is the declining neighborhood of a station.
type Cluster struct {
	Count     int
	Neighbors []string // sorted station IDs
}

// Correlator computes, for every point, how many other points within the
// radius have a z-score above the decline threshold.
type Correlator interface {
	Correlate(points []Point) map[string]Cluster
}

// New returns a Correlator. Both strategies return identical results.
func New(opts ...Option) Correlator {
	s := settings{radiusKM: defaultRadiusKM, threshold: defaultThreshold}
	for _, opt := range opts {
		opt(&s)
	}
	if s.grid {
		return &gridCorrelator{settings: s}
	}
	return &naiveCorrelator{settings: s}
}

// unique drops repeated station IDs, keeping the first occurrence.
func unique(points []Point) []Point {
	seen := make(map[string]struct{}, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p.StationID]; ok {
			continue
		}
		seen[p.StationID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (s settings) declining(p Point) bool {
	return p.Z > s.threshold
}

func (s settings) neighbor(a, b Point) bool {
	return a.StationID != b.StationID && s.declining(b) &&
		geo.Within(a.Latitude, a.Longitude, b.Latitude, b.Longitude, s.radiusKM)
}

func finish(c Cluster) Cluster {
	sort.Strings(c.Neighbors)
	c.Count = len(c.Neighbors)
	return c
}

type naiveCorrelator struct {
	settings
}

func (n *naiveCorrelator) Correlate(points []Point) map[string]Cluster {
	points = unique(points)
	out := make(map[string]Cluster, len(points))
	for _, a := range points {
		var c Cluster
		for _, b := range points {
			if n.neighbor(a, b) {
				c.Neighbors = append(c.Neighbors, b.StationID)
			}
		}
		out[a.StationID] = finish(c)
	}
	return out
}

// gridCorrelator buckets declining points into latitude bands one radius
// tall, each sorted by longitude. A query visits the bands its cap can
// reach and the longitude window that bounds the cap, then applies the
// exact distance check.
type gridCorrelator struct {
	settings
}

type band struct {
	lons   []float64
	points []Point
}

func (g *gridCorrelator) Correlate(points []Point) map[string]Cluster {
	points = unique(points)
	out := make(map[string]Cluster, len(points))

	span := geo.LatSpanDeg(g.radiusKM)
	bandOf := func(lat float64) int { return int(math.Floor((lat + 90) / span)) }

	bands := make(map[int]*band)
	for _, p := range points {
		if !g.declining(p) {
			continue
		}
		b := bands[bandOf(p.Latitude)]
		if b == nil {
			b = &band{}
			bands[bandOf(p.Latitude)] = b
		}
		b.points = append(b.points, p)
	}
	for _, b := range bands {
		sort.Slice(b.points, func(i, j int) bool {
			return geo.NormalizeLon(b.points[i].Longitude) < geo.NormalizeLon(b.points[j].Longitude)
		})
		b.lons = make([]float64, len(b.points))
		for i, p := range b.points {
			b.lons[i] = geo.NormalizeLon(p.Longitude)
		}
	}

	for _, a := range points {
		var c Cluster
		lo := bandOf(a.Latitude - span - spanMarginDeg)
		hi := bandOf(a.Latitude + span + spanMarginDeg)
		windows := lonWindows(a, g.radiusKM)
		for bi := lo; bi <= hi; bi++ {
			b := bands[bi]
			if b == nil {
				continue
			}
			for _, w := range windows {
				i := sort.SearchFloat64s(b.lons, w[0])
				for ; i < len(b.lons) && b.lons[i] <= w[1]; i++ {
					if g.neighbor(a, b.points[i]) {
						c.Neighbors = append(c.Neighbors, b.points[i].StationID)
					}
				}
			}
		}
		out[a.StationID] = finish(c)
	}
	return out
}

// lonWindows returns the normalized longitude intervals that bound every
// point within radiusKM of a, split at the antimeridian.
func lonWindows(a Point, radiusKM float64) [][2]float64 {
	full := [][2]float64{{-180, 180}}
	s, ok := geo.LonSpanDeg(a.Latitude, radiusKM)
	if !ok {
		return full
	}
	s += spanMarginDeg
	if s >= 180 {
		return full
	}
	lon := geo.NormalizeLon(a.Longitude)
	lo, hi := lon-s, lon+s
	switch {
	case lo < -180:
		return [][2]float64{{-180, hi}, {lo + 360, 180}}
	case hi >= 180:
		return [][2]float64{{lo, 180}, {-180, hi - 360}}
	}
	return [][2]float64{{lo, hi}}
}
