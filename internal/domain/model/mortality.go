package model

import "time"

// MortalityContext is epidemiological evidence for a region over a trailing window.
type MortalityContext struct {
	Region            string
	From              time.Time
	To                time.Time
	ConfirmedDeaths   int // deaths with a positive lab result
	UnconfirmedDeaths int // reported deaths without a positive lab result
	LabTested         int
	LabPositive       int
}

// HasConfirmedPositivity reports whether any lab-confirmed positive exists.
func (m *MortalityContext) HasConfirmedPositivity() bool {
	return m != nil && m.LabPositive > 0
}
