// Agent spawning: fills the town's households with adults and children,
// assigns workplaces, schools and social connections.
package agents

import (
	"math/rand"
	"slices"
	"time"

	"github.com/talgya/daysim/internal/world"
)

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	Seed        int64
	Agents      int
	MaxChildAge int
	Connections int
}

// Spawner creates agents for the simulation.
type Spawner struct {
	rng    *rand.Rand
	nextID AgentID
	cfg    SpawnConfig
}

// NewSpawner creates an agent spawner.
func NewSpawner(cfg SpawnConfig) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(cfg.Seed + 300)),
		nextID: 1,
		cfg:    cfg,
	}
}

// householdSizes weights household sizes 1 to 5.
var householdSizes = []float64{0.28, 0.34, 0.15, 0.15, 0.08}

// SpawnPopulation creates the population and registers everyone as a
// resident of their household. Every household gets an adult first, so
// children only live without one when there are more households than adults.
func (s *Spawner) SpawnPopulation(town *world.Town) []*Agent {
	if len(town.Households) == 0 || s.cfg.Agents <= 0 {
		return nil
	}

	sizes := make([]int, len(town.Households))
	total := 0
	for i := range sizes {
		sizes[i] = 1 + s.pick(householdSizes)
		total += sizes[i]
	}
	// Grow or shrink households round-robin until the target is met.
	for i := 0; total < s.cfg.Agents; i = (i + 1) % len(sizes) {
		sizes[i]++
		total++
	}
	for i := len(sizes) - 1; total > s.cfg.Agents; i = (i - 1 + len(sizes)) % len(sizes) {
		if sizes[i] > 0 {
			sizes[i]--
			total--
		}
	}

	population := make([]*Agent, 0, s.cfg.Agents)
	for i, home := range town.Households {
		for member := range sizes[i] {
			var a *Agent
			if member == 0 || s.rng.Float32() < 0.6 {
				a = s.spawnAdult(home)
			} else {
				a = s.spawnChild(home)
			}
			s.assignOccupation(a, town)
			home.AddResident(uint64(a.ID))
			population = append(population, a)
		}
	}

	s.connect(population)
	return population
}

func (s *Spawner) spawnOne(home *world.Location, age int) *Agent {
	id := s.nextID
	s.nextID++

	sex := SexMale
	if s.rng.Float32() < 0.5 {
		sex = SexFemale
	}
	return &Agent{
		ID:        id,
		Name:      s.generateName(sex),
		Age:       age,
		Sex:       sex,
		Home:      home.Coord,
		Household: home.ID,
		Alive:     true,
	}
}

func (s *Spawner) spawnAdult(home *world.Location) *Agent {
	age := s.weightedAge()
	if age <= s.cfg.MaxChildAge {
		age = s.cfg.MaxChildAge + 1 + s.rng.Intn(10)
	}
	return s.spawnOne(home, age)
}

func (s *Spawner) spawnChild(home *world.Location) *Agent {
	return s.spawnOne(home, s.rng.Intn(s.cfg.MaxChildAge+1))
}

func (s *Spawner) weightedAge() int {
	// Bell curve centered around 38, range 5–90.
	age := 38.0 + s.rng.NormFloat64()*18.0
	if age < 5 {
		age = 5
	}
	if age > 90 {
		age = 90
	}
	return int(age)
}

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// assignOccupation sends school-age children to school and most
// working-age adults to a workplace. Everyone else does not work.
func (s *Spawner) assignOccupation(a *Agent, town *world.Town) {
	switch {
	case a.Age >= 5 && a.Age <= 17 && len(town.Schools) > 0:
		school := town.Schools[s.rng.Intn(len(town.Schools))]
		a.Workplace = school.ID
		a.WorkStart = 8 * time.Hour
		a.WorkingDays = slices.Clone(weekdays)
	case a.Age >= 18 && a.Age <= 64 && len(town.Workplaces) > 0 && s.rng.Float32() < 0.85:
		work := town.Workplaces[s.rng.Intn(len(town.Workplaces))]
		a.Workplace = work.ID
		a.WorkStart = time.Duration(7+s.rng.Intn(4)) * time.Hour
		a.WorkingDays = s.workingDays()
	default:
		a.DoesNotWork = true
	}
}

// workingDays is Monday to Friday for most, five random days for the rest.
func (s *Spawner) workingDays() []time.Weekday {
	if s.rng.Float32() < 0.8 {
		return slices.Clone(weekdays)
	}
	days := make([]time.Weekday, 0, 5)
	for _, i := range s.rng.Perm(7)[:5] {
		days = append(days, time.Weekday(i))
	}
	slices.Sort(days)
	return days
}

// connect gives every adult up to cfg.Connections known others. Children
// do not send invitations and get no connections.
func (s *Spawner) connect(population []*Agent) {
	var adults []*Agent
	for _, a := range population {
		if !a.IsChild(s.cfg.MaxChildAge) {
			adults = append(adults, a)
		}
	}
	if len(adults) < 2 {
		return
	}
	for _, a := range adults {
		n := min(s.cfg.Connections, len(adults)-1)
		for len(a.Connections) < n {
			b := adults[s.rng.Intn(len(adults))]
			if b.ID == a.ID || slices.Contains(a.Connections, b.ID) {
				continue
			}
			a.Connections = append(a.Connections, b.ID)
		}
		slices.Sort(a.Connections)
	}
}

func (s *Spawner) pick(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	x := s.rng.Float64() * total
	for i, w := range weights {
		if x < w {
			return i
		}
		x -= w
	}
	return len(weights) - 1
}

func (s *Spawner) generateName(sex Sex) string {
	var firsts []string
	if sex == SexMale {
		firsts = maleNames
	} else {
		firsts = femaleNames
	}
	first := firsts[s.rng.Intn(len(firsts))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

var maleNames = []string{
	"Aldric", "Bram", "Cedric", "Doran", "Erik", "Finn", "Gareth",
	"Halvard", "Ivan", "Jasper", "Kael", "Leif", "Magnus", "Nils",
	"Oswin", "Per", "Quinn", "Rowan", "Stellan", "Theron", "Ulric",
	"Varen", "Wren", "Yorick", "Zander", "Arlen", "Beric", "Cade",
	"Dorian", "Edric", "Falk", "Gunnar", "Hugo", "Ivar", "Jorik",
}

var femaleNames = []string{
	"Astrid", "Brenna", "Calla", "Daria", "Elara", "Freya", "Greta",
	"Helene", "Iris", "Juno", "Kira", "Lena", "Mira", "Nessa",
	"Olwen", "Petra", "Runa", "Senna", "Thea", "Una", "Vera",
	"Willa", "Yara", "Zara", "Ava", "Birgit", "Cora", "Dagny",
	"Eira", "Fern", "Gwen", "Hilde", "Inga", "Johanna", "Katla",
}

var lastNames = []string{
	"Voss", "Thornwood", "Blackwood", "Ashford", "Ironhand", "Dunmore",
	"Greenvale", "Stormcrow", "Frostborn", "Hearthstone", "Millward",
	"Copperfield", "Ravenmoor", "Silverdale", "Wolfsbane", "Stoneheart",
	"Deepwell", "Brightwater", "Oakenshield", "Redforge", "Windholm",
	"Marshwood", "Goldhaven", "Nightingale", "Riverstone", "Steelworth",
	"Embercroft", "Holloway", "Dawnridge", "Farrow", "Wyatt", "Thatcher",
	"Briar", "Caldwell", "Frost", "Harper", "Mercer", "Ward", "Cross",
}
