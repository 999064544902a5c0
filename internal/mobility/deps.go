package mobility

import (
	"errors"
	"time"

	"github.com/talgya/daysim/internal/config"
	"github.com/talgya/daysim/internal/schedule"
	"github.com/talgya/daysim/internal/world"
)

var (
	// ErrNotEditable is returned when a manual edit touches the past, the
	// current activity or a sleep.
	ErrNotEditable = errors.New("activity cannot be edited")

	// ErrNoSuchDay is returned for a day index outside the planned horizon.
	ErrNoSuchDay = errors.New("no such day")
)

// Clock reports the current simulated time.
type Clock interface {
	Now() time.Time
}

// Facility is a capacity-bounded hospital or ICU unit.
type Facility interface {
	schedule.Location
	Admit(agent uint64, until time.Time) bool
	Discharge(agent uint64)
}

// Town is what a planner needs from the world: location choice, lookup by
// ID and the households considered when a dependent must move.
type Town interface {
	Select(p world.Purpose, v world.Visitor, r world.Rand) *world.Location
	Location(id world.LocationID) *world.Location
	Homes() []*world.Location
}

// Deps are the collaborators shared by every planner of a run, plus the
// agent's own random stream.
type Deps struct {
	Config   *config.Config
	Clock    Clock
	Town     Town
	Registry *Registry
	Rand     schedule.Rand
}

// locOf converts a possibly nil location without producing a non-nil
// interface around a nil pointer.
func locOf(l *world.Location) schedule.Location {
	if l == nil {
		return nil
	}
	return l
}

func purposeOf(k schedule.Kind) world.Purpose {
	switch k {
	case schedule.KindSleep, schedule.KindIdle:
		return world.PurposeHome
	case schedule.KindWork:
		return world.PurposeWork
	case schedule.KindGrocery:
		return world.PurposeGrocery
	case schedule.KindExercise:
		return world.PurposeExercise
	case schedule.KindSocialize:
		return world.PurposeSocialize
	}
	return world.PurposeHome
}

// dateKey identifies a calendar day in the invitation ledger.
func dateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func days(d float64) time.Duration {
	return time.Duration(d * float64(24*time.Hour))
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
