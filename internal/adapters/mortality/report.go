// Package mortality provides the epidemiological context feed: dead-bird
// reports and Usutu virus lab results, summarised per region and window.
package mortality

import (
	"strings"
	"time"
)

// Source identifies the network a report came from.
type Source string

const (
	// SourceDWHC reports are pathology cases from the Dutch Wildlife Health Centre.
	SourceDWHC Source = "dwhc"
	// SourceSovon reports are citizen observations of dead birds.
	SourceSovon Source = "sovon"
)

// Report is one dead-bird case.
type Report struct {
	ID       string
	Source   Source
	Species  string
	Date     time.Time
	Province string // full province name
	Count    int
	Tested   bool
	Positive *bool // nil when untested or inconclusive
}

var provinces = map[string]string{
	"DR": "Drenthe",
	"FL": "Flevoland",
	"FR": "Friesland",
	"GE": "Gelderland",
	"GR": "Groningen",
	"LI": "Limburg",
	"NB": "Noord-Brabant",
	"NH": "Noord-Holland",
	"OV": "Overijssel",
	"UT": "Utrecht",
	"ZE": "Zeeland",
	"ZH": "Zuid-Holland",
}

// Province expands a two-letter Dutch province code. Anything else is
// returned trimmed and unchanged.
func Province(s string) string {
	s = strings.TrimSpace(s)
	if name, ok := provinces[strings.ToUpper(s)]; ok {
		return name
	}
	return s
}

// sameRegion compares regions by full province name, case-insensitively.
func sameRegion(a, b string) bool {
	return strings.EqualFold(Province(a), Province(b))
}

// usuvResult maps a lab result code. tested is false for NT; positive is nil
// for NT, INC and unknown codes.
func usuvResult(code string) (tested bool, positive *bool) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "POS", "POSITIVE":
		v := true
		return true, &v
	case "NEG", "NEGATIVE":
		v := false
		return true, &v
	case "INC":
		return true, nil
	}
	return false, nil
}

var dateLayouts = []string{"2006-01-02", "02-01-2006", "02/01/2006", "20060102"}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
