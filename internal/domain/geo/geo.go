// Package geo provides great-circle distance helpers.
package geo

import "math"

// EarthRadiusKM is the IUGG mean Earth radius.
const EarthRadiusKM = 6371.0088

const degToRad = math.Pi / 180

// DistanceKM returns the haversine great-circle distance between two
// coordinates given in decimal degrees.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * degToRad
	φ2 := lat2 * degToRad
	dφ := (lat2 - lat1) * degToRad
	dλ := (lon2 - lon1) * degToRad

	s1 := math.Sin(dφ / 2)
	s2 := math.Sin(dλ / 2)
	h := s1*s1 + math.Cos(φ1)*math.Cos(φ2)*s2*s2
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(h))
}

// Within reports whether two coordinates are at most radiusKM apart.
func Within(lat1, lon1, lat2, lon2, radiusKM float64) bool {
	return DistanceKM(lat1, lon1, lat2, lon2) <= radiusKM
}

// LatSpanDeg is the latitude extent in degrees covered by radiusKM.
// Any point within radiusKM of a given latitude lies within this span.
func LatSpanDeg(radiusKM float64) float64 {
	return radiusKM / EarthRadiusKM / degToRad
}

// LonSpanDeg returns the longitude half-width in degrees that bounds every
// point within radiusKM of a point at latitude lat. ok is false when the
// circle reaches a pole and no longitude bound exists.
func LonSpanDeg(lat, radiusKM float64) (span float64, ok bool) {
	ang := radiusKM / EarthRadiusKM
	if ang >= math.Pi/2 {
		return 0, false
	}
	s := math.Sin(ang) / math.Cos(lat*degToRad)
	if s >= 1 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, false
	}
	return math.Asin(s) / degToRad, true
}

// NormalizeLon maps a longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// Destination returns the point reached from (lat, lon) after travelling
// distKM along the initial bearing, given in degrees clockwise from north.
func Destination(lat, lon, bearingDeg, distKM float64) (float64, float64) {
	φ1 := lat * degToRad
	λ1 := lon * degToRad
	θ := bearingDeg * degToRad
	δ := distKM / EarthRadiusKM

	φ2 := math.Asin(math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(θ))
	λ2 := λ1 + math.Atan2(math.Sin(θ)*math.Sin(δ)*math.Cos(φ1), math.Cos(δ)-math.Sin(φ1)*math.Sin(φ2))
	return φ2 / degToRad, NormalizeLon(λ2 / degToRad)
}
