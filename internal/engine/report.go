package engine

import (
	"time"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/schedule"
)

// Event is a notable occurrence in the simulation.
type Event struct {
	Time        time.Time      `json:"time" db:"time"`
	Agent       agents.AgentID `json:"agent" db:"agent"`
	Description string         `json:"description" db:"description"`
	Category    string         `json:"category" db:"category"` // "death", "hospital", "critical", "recovery", "fault"
}

// SimStats tracks aggregate population statistics. Activity and
// invitation counts are cumulative.
type SimStats struct {
	Alive         int `json:"alive"`
	Dead          int `json:"dead"`
	Hospitalized  int `json:"hospitalized"`
	Critical      int `json:"critical"`
	RestingAtHome int `json:"resting_at_home"`
	Quarantined   int `json:"quarantined"`

	Activities  int `json:"activities"`
	Cancelled   int `json:"cancelled"`
	Invitations int `json:"invitations"` // Accepted
	Faulted     int `json:"faulted"`
}

// DayReport summarizes one simulated day.
type DayReport struct {
	RunID string    `json:"run_id"`
	Day   int       `json:"day"`
	Date  time.Time `json:"date"`
	Stats SimStats  `json:"stats"`
}

// ActivityRecord is an activity as it started, with its resolved location.
type ActivityRecord struct {
	Agent        agents.AgentID `json:"agent"`
	Kind         string         `json:"kind"`
	Label        string         `json:"label"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	Location     string         `json:"location,omitempty"`
	Cancelled    bool           `json:"cancelled,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Hospitalized bool           `json:"hospitalized,omitempty"`
	Dies         bool           `json:"dies,omitempty"`
}

// RecordOf flattens a for reporting.
func RecordOf(a *schedule.Activity) ActivityRecord {
	r := ActivityRecord{
		Agent:        a.Owner,
		Kind:         a.Kind.String(),
		Label:        a.Label(),
		Start:        a.Start,
		End:          a.End(),
		Cancelled:    a.Cancelled,
		Reason:       a.Reason,
		Hospitalized: a.Hospitalized,
		Dies:         a.Dies,
	}
	if a.Location != nil {
		r.Location = a.Location.Name()
	}
	return r
}

// Observer receives every started activity and every daily report. Calls
// are made from the simulation goroutine while it holds its lock, so
// implementations must not block or call back into the simulation.
type Observer interface {
	ObserveActivity(ActivityRecord)
	ObserveDay(DayReport)
}
