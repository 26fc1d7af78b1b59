package numbering

import (
	"fmt"
	"time"
)

// Sequence is the per-(owner, series) counter row. Current is the last
// issued value; the next call returns Current+1.
type Sequence struct {
	OwnerID     int64
	Series      string
	Prefix      string
	Current     int64
	Start       int64
	Width       int
	IncludeYear bool
	YearlyReset bool
	Year        int
	UpdatedAt   time.Time
}

// SeriesConfig describes the owner-configurable format of a series.
type SeriesConfig struct {
	OwnerID     int64
	Series      string
	Prefix      string
	Start       int64
	Width       int
	IncludeYear bool
	YearlyReset bool
}

// Format renders the issued value using the sequence's template:
// prefix, optional year component, zero-padded sequence.
func (s Sequence) Format(value int64, at time.Time) string {
	width := s.Width
	if width <= 0 {
		width = 4
	}
	if s.IncludeYear {
		return fmt.Sprintf("%s-%d-%0*d", s.Prefix, at.Year(), width, value)
	}
	return fmt.Sprintf("%s-%0*d", s.Prefix, width, value)
}
