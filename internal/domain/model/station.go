// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Station is a fixed acoustic monitoring point. It is reference data owned
// by ingestion and treated as immutable for the duration of a run.
type Station struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Habitat   string    `json:"habitat,omitempty"` // habitat category, e.g. "urban", "wetland"
	Region    string    `json:"region,omitempty"`  // province code used for mortality lookups
	Active    bool      `json:"active"`
	FirstSeen time.Time `json:"first_seen,omitzero"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
}

// SameHabitat reports whether two stations share a habitat category.
func (s Station) SameHabitat(o Station) bool {
	return s.Habitat != "" && strings.EqualFold(s.Habitat, o.Habitat)
}

// Key identifies a station/species series.
type Key struct {
	StationID string
	Species   string
}

func (k Key) String() string {
	return k.StationID + "/" + k.Species
}

// NormalizeSpecies canonicalises a species code for map lookups.
func NormalizeSpecies(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
