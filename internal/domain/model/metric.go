package model

import "time"

// Exclusion reasons set on a DailyMetric.
const (
	ExcludedNoRecordingTime = "no-recording-time"
	ExcludedWeather         = "weather"
)

// Detection is a single classified vocalisation from the detection feed.
type Detection struct {
	ID             string    `json:"id"`
	StationID      string    `json:"station_id"`
	Species        string    `json:"species"`
	Timestamp      time.Time `json:"timestamp"`
	Confidence     float64   `json:"confidence"`      // calibrated, expected in [0,1]
	RecordingHours float64   `json:"recording_hours"` // recording time of the detection window
}

// Soundscape holds optional acoustic indices for a station/day.
type Soundscape struct {
	ACI  float64 `json:"aci"`  // acoustic complexity
	ADI  float64 `json:"adi"`  // acoustic diversity
	NDSI float64 `json:"ndsi"` // normalised difference soundscape index
	BI   float64 `json:"bi"`   // bioacoustic index
}

// Weather is the ambient daily summary for a station.
type Weather struct {
	TemperatureC    float64 `json:"temperature_c"`
	PrecipitationMM float64 `json:"precipitation_mm"`
	WindSpeedMS     float64 `json:"wind_speed_ms"`
}

// DayBatch is everything the feed knows about one station on one day.
type DayBatch struct {
	StationID      string      `json:"station_id"`
	Date           time.Time   `json:"date"`
	RecordingHours float64     `json:"recording_hours"`
	Detections     []Detection `json:"detections"`
	Soundscape     *Soundscape `json:"soundscape,omitempty"`
	Weather        *Weather    `json:"weather,omitempty"`
}

// DailyMetric is the per station/species/day activity summary.
// VAR is nil whenever the metric is excluded.
type DailyMetric struct {
	StationID       string
	Species         string
	Date            time.Time // UTC midnight
	DetectionCount  int
	QualifyingCount int
	RecordingHours  float64
	VAR             *float64
	Soundscape      *Soundscape
	Weather         *Weather
	Excluded        bool
	ExcludedReason  string
}

// Key returns the station/species key of the metric.
func (m DailyMetric) Key() Key {
	return Key{StationID: m.StationID, Species: m.Species}
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// Week is an ISO-8601 calendar week.
type Week struct {
	Year int
	Week int
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) Week {
	y, w := t.UTC().ISOWeek()
	return Week{Year: y, Week: w}
}
