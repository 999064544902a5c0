package world

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// LocationID is a unique identifier for a location.
type LocationID uint64

// Kind classifies a location.
type Kind uint8

const (
	KindHousehold Kind = iota
	KindStore
	KindPark
	KindMisc
	KindWorkplace
	KindSchool
	KindHospital
	KindICU
)

var kindNames = [...]string{
	KindHousehold: "household",
	KindStore:     "store",
	KindPark:      "park",
	KindMisc:      "misc",
	KindWorkplace: "workplace",
	KindSchool:    "school",
	KindHospital:  "hospital",
	KindICU:       "icu",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Location is a place agents spend activities at. Hospitals and ICUs admit
// patients up to their capacity; households track their residents.
type Location struct {
	ID       LocationID
	Kind     Kind
	Coord    HexCoord
	Capacity int // Patients for hospitals and ICUs; unused otherwise

	// ICU is the intensive care unit of a hospital.
	ICU *Location

	name        string
	open, close time.Duration

	mu        sync.Mutex
	patients  map[uint64]time.Time // agent ID → admitted until
	residents map[uint64]struct{}
}

// NewLocation returns a location open between open and close, offsets from
// midnight.
func NewLocation(id LocationID, kind Kind, name string, coord HexCoord, open, close time.Duration) *Location {
	return &Location{
		ID:        id,
		Kind:      kind,
		Coord:     coord,
		name:      name,
		open:      open,
		close:     close,
		patients:  make(map[uint64]time.Time),
		residents: make(map[uint64]struct{}),
	}
}

// Name returns the display name, e.g. "store:Ironford".
func (l *Location) Name() string {
	return l.name
}

// Hours returns opening and closing time as offsets from midnight.
func (l *Location) Hours() (open, close time.Duration) {
	return l.open, l.close
}

// IsOpen reports whether t falls within opening hours.
func (l *Location) IsOpen(t time.Time) bool {
	y, m, d := t.Date()
	since := t.Sub(time.Date(y, m, d, 0, 0, 0, 0, t.Location()))
	return since >= l.open && since < l.close
}

func (l *Location) String() string {
	return l.name
}

// Admit registers a patient until the given time. It reports false when the
// location is full; re-admitting a current patient only updates the time.
func (l *Location) Admit(agent uint64, until time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.patients[agent]; !ok && len(l.patients) >= l.Capacity {
		return false
	}
	l.patients[agent] = until
	return true
}

// Discharge removes a patient. Unknown patients are ignored.
func (l *Location) Discharge(agent uint64) {
	l.mu.Lock()
	delete(l.patients, agent)
	l.mu.Unlock()
}

// Occupancy returns the number of admitted patients.
func (l *Location) Occupancy() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.patients)
}

// HasRoom reports whether one more patient can be admitted.
func (l *Location) HasRoom() bool {
	return l.Occupancy() < l.Capacity
}

// AddResident registers agent as living here.
func (l *Location) AddResident(agent uint64) {
	l.mu.Lock()
	l.residents[agent] = struct{}{}
	l.mu.Unlock()
}

// RemoveResident removes agent from the residents.
func (l *Location) RemoveResident(agent uint64) {
	l.mu.Lock()
	delete(l.residents, agent)
	l.mu.Unlock()
}

// Residents returns the resident IDs in ascending order.
func (l *Location) Residents() []uint64 {
	l.mu.Lock()
	out := make([]uint64, 0, len(l.residents))
	for id := range l.residents {
		out = append(out, id)
	}
	l.mu.Unlock()
	slices.Sort(out)
	return out
}
