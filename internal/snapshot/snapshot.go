// Package snapshot defines the cached payload and the merge rule used by
// the replicated register, independent of how a snapshot is fetched or
// transported.
package snapshot

import (
	"strings"
	"time"
)

// KnownLineIDs lists the tube line identifiers the upstream API recognizes.
// Unrecognized line ids in an upstream payload are kept, not dropped — this
// list is informational (used by tests and documentation), not a filter.
var KnownLineIDs = []string{
	"bakerloo", "central", "circle", "district", "hammersmith-city",
	"jubilee", "metropolitan", "northern", "piccadilly", "victoria",
	"waterloo-city",
}

// Disruption describes one reported service disruption on a line.
type Disruption struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Planned     bool   `json:"planned"`
}

// Line is one line's status record within a Snapshot.
type Line struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Status            string       `json:"status"`
	StatusDescription string       `json:"statusDescription"`
	Disruptions       []Disruption `json:"disruptions,omitempty"`
}

// HasUnplannedDisruption reports whether the line carries at least one
// disruption not marked Planned.
func (l Line) HasUnplannedDisruption() bool {
	for _, d := range l.Disruptions {
		if !d.Planned {
			return true
		}
	}
	return false
}

// Snapshot is the immutable cached payload produced by one successful
// upstream fetch.
type Snapshot struct {
	Lines     []Line    `json:"lines"`
	QueriedAt time.Time `json:"queriedAt"`
	QueriedBy string    `json:"queriedBy"`
}

// IsZero reports whether this is the absent/empty snapshot (no fetch has
// ever completed).
func (s Snapshot) IsZero() bool {
	return s.QueriedAt.IsZero()
}

// AgeMs returns now − QueriedAt in milliseconds. Cross-node clock skew can
// put QueriedAt after now; AgeMs clamps that case to zero, so the result is
// never negative.
func (s Snapshot) AgeMs(now time.Time) int64 {
	ms := now.Sub(s.QueriedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// LineByID returns the line matching id case-insensitively, and whether it
// was found.
func (s Snapshot) LineByID(id string) (Line, bool) {
	for _, l := range s.Lines {
		if strings.EqualFold(l.ID, id) {
			return l, true
		}
	}
	return Line{}, false
}

// WithDisruptionsOnly returns a copy of the snapshot containing only lines
// that have at least one unplanned disruption.
func (s Snapshot) WithDisruptionsOnly() Snapshot {
	out := Snapshot{QueriedAt: s.QueriedAt, QueriedBy: s.QueriedBy}
	for _, l := range s.Lines {
		if l.HasUnplannedDisruption() {
			out.Lines = append(out.Lines, l)
		}
	}
	return out
}

// Newer implements the register's last-writer-wins comparison: the
// candidate with the larger QueriedAt wins; ties are broken by QueriedBy
// lexical order. Newer reports whether candidate should replace current.
func Newer(current, candidate Snapshot) bool {
	if current.IsZero() {
		return true
	}
	if candidate.QueriedAt.After(current.QueriedAt) {
		return true
	}
	if candidate.QueriedAt.Equal(current.QueriedAt) {
		return candidate.QueriedBy > current.QueriedBy
	}
	return false
}
