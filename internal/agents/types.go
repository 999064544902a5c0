// Package agents provides the person model and population spawning.
package agents

import (
	"time"

	"github.com/talgya/daysim/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Sex represents biological sex for demographic simulation.
type Sex uint8

const (
	SexMale   Sex = 0
	SexFemale Sex = 1
)

// Severity is the worst symptom level an agent currently shows.
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityMild
	SeverityModerate
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityMild:
		return "mild"
	case SeverityModerate:
		return "moderate"
	case SeveritySevere:
		return "severe"
	}
	return "none"
}

// Health is the externally driven medical state the planner reacts to. The
// simulation core never advances it on its own.
type Health struct {
	InfectedAt time.Time `json:"infected_at,omitzero"`
	SymptomsAt time.Time `json:"symptoms_at,omitzero"`
	Severity   Severity  `json:"severity"`

	TestPositive     bool   `json:"test_positive"`
	Quarantined      bool   `json:"quarantined"`
	QuarantineReason string `json:"quarantine_reason,omitempty"`

	Recovered     bool `json:"recovered"`
	NeverRecovers bool `json:"never_recovers"` // Dies at the next activity
}

// Infected reports whether the agent carries an infection.
func (h Health) Infected() bool {
	return !h.InfectedAt.IsZero() && !h.Recovered
}

// Symptomatic reports whether symptoms have started.
func (h Health) Symptomatic() bool {
	return h.Infected() && !h.SymptomsAt.IsZero()
}

// Agent is a person in the simulation.
type Agent struct {
	ID   AgentID `json:"id"`
	Name string  `json:"name"`

	// Demographics
	Age int `json:"age"`
	Sex Sex `json:"sex"`

	// Residence and occupation
	Home        world.HexCoord   `json:"home"`
	Household   world.LocationID `json:"household"`
	Workplace   world.LocationID `json:"workplace,omitempty"` // Workplace or school
	WorkStart   time.Duration    `json:"work_start"`          // Offset from midnight
	WorkingDays []time.Weekday   `json:"working_days,omitempty"`
	DoesNotWork bool             `json:"does_not_work"`

	// Social
	Connections []AgentID `json:"connections,omitempty"`

	Health Health `json:"health"`

	// Location choice history
	Visits world.Visits `json:"-"`

	Alive bool `json:"alive"`
}

// WorksOn reports whether the agent works on weekday d.
func (a *Agent) WorksOn(d time.Weekday) bool {
	if a.DoesNotWork {
		return false
	}
	for _, w := range a.WorkingDays {
		if w == d {
			return true
		}
	}
	return false
}

// IsChild reports whether the agent is at most maxChildAge years old.
func (a *Agent) IsChild(maxChildAge int) bool {
	return a.Age <= maxChildAge
}
