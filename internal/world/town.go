package world

import (
	"math"
	"slices"
)

// Purpose is what a location is being chosen for.
type Purpose uint8

const (
	PurposeHome Purpose = iota
	PurposeWork
	PurposeGrocery
	PurposeExercise
	PurposeSocialize
	PurposeHospital
	PurposeICU
)

// Rand is the random stream location choices draw from.
type Rand interface {
	Float64() float64
	Categorical(weights []float64) int
}

// Visits counts how often an agent went to each location, per kind.
type Visits struct {
	counts map[Kind]map[LocationID]int
}

// Record counts one visit.
func (v *Visits) Record(l *Location) {
	if v.counts == nil {
		v.counts = make(map[Kind]map[LocationID]int)
	}
	m := v.counts[l.Kind]
	if m == nil {
		m = make(map[LocationID]int)
		v.counts[l.Kind] = m
	}
	m[l.ID]++
}

// Count returns the number of visits to l.
func (v *Visits) Count(l *Location) int {
	return v.counts[l.Kind][l.ID]
}

// Distinct returns how many different locations of kind k were visited.
func (v *Visits) Distinct(k Kind) int {
	return len(v.counts[k])
}

// Visitor describes the agent a location is chosen for.
type Visitor struct {
	Home      HexCoord
	Household *Location
	Workplace *Location
	Visits    *Visits
}

// Town holds every location of the simulation.
type Town struct {
	Map *Map

	Households []*Location
	Stores     []*Location
	Parks      []*Location
	Miscs      []*Location
	Workplaces []*Location
	Schools    []*Location
	Hospitals  []*Location

	byID map[LocationID]*Location

	// Exploration follows the returners and explorers model: with S
	// distinct places visited, a new one is explored with probability
	// rho * S^-gamma.
	rho, gamma    float64
	houseOverMisc float64
}

// NewTown returns an empty town with the given selection parameters.
func NewTown(m *Map, rho, gamma, houseOverMisc float64) *Town {
	return &Town{
		Map:           m,
		byID:          make(map[LocationID]*Location),
		rho:           rho,
		gamma:         gamma,
		houseOverMisc: houseOverMisc,
	}
}

// Add registers a location under its kind.
func (t *Town) Add(l *Location) {
	t.byID[l.ID] = l
	switch l.Kind {
	case KindHousehold:
		t.Households = append(t.Households, l)
	case KindStore:
		t.Stores = append(t.Stores, l)
	case KindPark:
		t.Parks = append(t.Parks, l)
	case KindMisc:
		t.Miscs = append(t.Miscs, l)
	case KindWorkplace:
		t.Workplaces = append(t.Workplaces, l)
	case KindSchool:
		t.Schools = append(t.Schools, l)
	case KindHospital:
		t.Hospitals = append(t.Hospitals, l)
		if l.ICU != nil {
			t.byID[l.ICU.ID] = l.ICU
		}
	case KindICU:
	}
	if t.Map != nil {
		if h := t.Map.Get(l.Coord); h != nil {
			h.Locations = append(h.Locations, l.ID)
		}
	}
}

// Location returns the location with the given ID, or nil.
func (t *Town) Location(id LocationID) *Location {
	return t.byID[id]
}

// Len returns the number of registered locations, ICUs included.
func (t *Town) Len() int {
	return len(t.byID)
}

// Select chooses a location for purpose p, or nil when none is available.
// Hospitals and ICUs are taken nearest-first among those with free capacity.
func (t *Town) Select(p Purpose, v Visitor, r Rand) *Location {
	switch p {
	case PurposeHome:
		return v.Household
	case PurposeWork:
		return v.Workplace
	case PurposeHospital:
		return t.nearestWithRoom(v.Home, func(h *Location) *Location { return h })
	case PurposeICU:
		return t.nearestWithRoom(v.Home, func(h *Location) *Location { return h.ICU })
	case PurposeGrocery:
		return t.explore(t.Stores, KindStore, nil, v, r)
	case PurposeExercise:
		return t.explore(t.Parks, KindPark, nil, v, r)
	case PurposeSocialize:
		if v.Household != nil && r.Float64() < t.houseOverMisc {
			return v.Household
		}
		pref := make([]float64, len(t.Miscs))
		for i, m := range t.Miscs {
			pref[i] = 1 / (float64(Distance(v.Home, m.Coord)) + 0.1)
		}
		return t.explore(t.Miscs, KindMisc, pref, v, r)
	}
	return nil
}

func (t *Town) nearestWithRoom(from HexCoord, unit func(*Location) *Location) *Location {
	hospitals := slices.Clone(t.Hospitals)
	slices.SortStableFunc(hospitals, func(a, b *Location) int {
		return Distance(from, a.Coord) - Distance(from, b.Coord)
	})
	for _, h := range hospitals {
		if u := unit(h); u != nil && u.HasRoom() {
			return u
		}
	}
	return nil
}

// explore picks an unvisited location with probability rho*S^-gamma and
// otherwise returns to a visited one proportionally to past visits. pref
// weights unvisited candidates; nil means uniform.
func (t *Town) explore(locs []*Location, kind Kind, pref []float64, v Visitor, r Rand) *Location {
	if len(locs) == 0 {
		return nil
	}
	visits := v.Visits
	if visits == nil {
		visits = &Visits{}
	}

	s := visits.Distinct(kind)
	pExplore := 1.0
	if s > 0 {
		pExplore = t.rho * math.Pow(float64(s), -t.gamma)
	}

	var cands []*Location
	var scores []float64
	if s != len(locs) && r.Float64() < pExplore {
		for i, l := range locs {
			if visits.Count(l) > 0 {
				continue
			}
			w := 1.0
			if pref != nil {
				w = pref[i]
			}
			cands = append(cands, l)
			scores = append(scores, w)
		}
	} else {
		for _, l := range locs {
			if n := visits.Count(l); n > 0 {
				cands = append(cands, l)
				scores = append(scores, float64(n))
			}
		}
	}
	if len(cands) == 0 {
		return nil
	}

	loc := cands[r.Categorical(scores)]
	visits.Record(loc)
	return loc
}

// Homes returns every household.
func (t *Town) Homes() []*Location {
	return t.Households
}
