// Package schedule provides the activity model and the pure functions that
// assemble, patch and splice an agent's daily schedule. A day is a gap-free
// sequence of activities that always ends in sleep.
package schedule

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/interval"
)

// Kind is the type of an activity.
type Kind uint8

const (
	KindSleep Kind = iota
	KindWork
	KindSocialize
	KindGrocery
	KindExercise
	KindIdle
)

var kindNames = [...]string{
	KindSleep:     "sleep",
	KindWork:      "work",
	KindSocialize: "socialize",
	KindGrocery:   "grocery",
	KindExercise:  "exercise",
	KindIdle:      "idle",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind returns the Kind with the given name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown activity kind %q", s)
}

// Origin records how an activity came to be in a schedule.
type Origin uint8

const (
	OriginPlanned    Origin = iota // Presampled or assembled
	OriginClone                    // Copied from another activity
	OriginInvitation               // Accepted invitation, tracks the host's activity
	OriginSupervised               // Dependent following an adult, tracks the adult's activity
	OriginCutRight                 // Fragment ending where an inserted activity starts
	OriginCutLeft                  // Fragment starting where an inserted activity ends
	OriginFiller                   // Trailing sleep that pads the horizon
)

var originNames = [...]string{
	OriginPlanned:    "",
	OriginClone:      "clone",
	OriginInvitation: "invitation",
	OriginSupervised: "supervised",
	OriginCutRight:   "modified-cut-right",
	OriginCutLeft:    "modified-cut-left",
	OriginFiller:     "filler",
}

func (o Origin) String() string {
	if int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf("origin(%d)", o)
}

// Location is where an activity takes place. Hours are offsets from
// midnight; a location open from 0 to 24h never truncates an activity.
type Location interface {
	Name() string
	Hours() (open, close time.Duration)
}

// ParentRef points at another agent's activity by owner and start second.
// It is resolved by lookup in the owner's store and never owns the target.
type ParentRef struct {
	Owner agents.AgentID `json:"owner"`
	At    int64          `json:"at"`
}

// Activity is one block of an agent's schedule. Once an activity is stored
// its Start and Duration must not change; relocation only touches
// Location, Cancelled and Reason.
type Activity struct {
	Start    time.Time
	Duration time.Duration
	Kind     Kind
	Location Location
	Owner    agents.AgentID

	// Date is the day the activity was planned for, used to place work.
	Date time.Time

	Origin       Origin
	Reason       string
	Cancelled    bool
	Hospitalized bool // Moved to a hospital or ICU by the health gate
	Dies         bool // Owner dies at the start of this activity

	Parent *ParentRef
	Guests *Guests // Socials hosted by the owner
}

// End returns Start + Duration.
func (a *Activity) End() time.Time {
	return a.Start.Add(a.Duration)
}

// Range returns the closed-open interval covered in unix seconds.
func (a *Activity) Range() interval.Range {
	return interval.Range{Start: a.Start.Unix(), End: a.End().Unix()}
}

// Label renders origin, kind and reason, e.g. "invitation-socialize-quarantine".
func (a *Activity) Label() string {
	parts := make([]string, 0, 3)
	if a.Origin != OriginPlanned {
		parts = append(parts, a.Origin.String())
	}
	parts = append(parts, a.Kind.String())
	if a.Reason != "" {
		parts = append(parts, a.Reason)
	}
	return strings.Join(parts, "-")
}

func (a *Activity) String() string {
	where := "<unresolved>"
	if a.Location != nil {
		where = a.Location.Name()
	}
	if a.Start.IsZero() {
		return fmt.Sprintf("<TBD %s at %s for %s>", a.Label(), where, a.Duration)
	}
	return fmt.Sprintf("<%s on %s from %s to %s at %s>", a.Label(),
		a.Start.Format("2006-01-02"), a.Start.Format("15:04:05"), a.End().Format("15:04:05"), where)
}

// Clone copies the activity for a new owner. Cancellation, reasons and
// guests are not carried over; the parent reference is.
func (a *Activity) Clone(origin Origin, owner agents.AgentID) *Activity {
	c := &Activity{
		Start:    a.Start,
		Duration: a.Duration,
		Kind:     a.Kind,
		Location: a.Location,
		Owner:    owner,
		Date:     a.Date,
		Origin:   origin,
	}
	if a.Parent != nil {
		p := *a.Parent
		c.Parent = &p
	}
	return c
}

// Align returns a clone trimmed against other. With cutLeft the clone
// starts where other ends; otherwise it ends where other starts.
func (a *Activity) Align(other *Activity, cutLeft bool, origin Origin, owner agents.AgentID) (*Activity, error) {
	c := a.Clone(origin, owner)
	if cutLeft {
		end := c.End()
		c.Start = other.End()
		c.Duration = end.Sub(c.Start)
	} else {
		c.Duration = other.Start.Sub(c.Start)
	}
	if c.Duration < 0 {
		return nil, invariant("align", "%s against %s gives negative duration %s", a, other, c.Duration)
	}
	return c, nil
}

// AdjustTime moves the start by d keeping the end fixed, or extends the end
// by d when atStart is false.
func (a *Activity) AdjustTime(d time.Duration, atStart bool) {
	if atStart {
		a.Start = a.Start.Add(d)
		a.Duration -= d
		return
	}
	a.Duration += d
}

// CancelAndGo marks the activity cancelled and relocates it. Start and
// duration are untouched.
func (a *Activity) CancelAndGo(reason string, loc Location) {
	a.Cancelled = true
	a.Reason = reason
	a.Location = loc
}

// Guests is the set of agents attending a hosted social. It is shared
// between host and guests and therefore locked.
type Guests struct {
	mu  sync.Mutex
	ids map[agents.AgentID]struct{}
}

// NewGuests returns an empty guest list.
func NewGuests() *Guests {
	return &Guests{ids: make(map[agents.AgentID]struct{})}
}

func (g *Guests) Add(id agents.AgentID) {
	g.mu.Lock()
	g.ids[id] = struct{}{}
	g.mu.Unlock()
}

func (g *Guests) Remove(id agents.AgentID) {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
}

func (g *Guests) Has(id agents.AgentID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ids[id]
	return ok
}

func (g *Guests) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

// IDs returns the guests in ascending order.
func (g *Guests) IDs() []agents.AgentID {
	g.mu.Lock()
	out := make([]agents.AgentID, 0, len(g.ids))
	for id := range g.ids {
		out = append(out, id)
	}
	g.mu.Unlock()
	slices.Sort(out)
	return out
}

// Hospitalize relocates the activity to a hospital or ICU and tags it so a
// later, shorter stay can revert it.
func (a *Activity) Hospitalize(reason string, loc Location) {
	a.CancelAndGo(reason, loc)
	a.Hospitalized = true
}

// RevertHospitalized undoes Hospitalize for an activity the stay no longer
// covers. loc may be nil to have the location chosen again.
func (a *Activity) RevertHospitalized(loc Location) {
	a.Cancelled = false
	a.Hospitalized = false
	a.Reason = "recovered"
	a.Location = loc
}
