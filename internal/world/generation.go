// Town generation using layered simplex noise.
// A density field decides where venues cluster (the centre), where parks go
// (the outskirts) and how households spread between them.
package world

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/daysim/internal/config"
)

// GenConfig holds town generation parameters.
type GenConfig struct {
	Radius int   // Hex grid radius
	Seed   int64 // Random seed (0 = random)

	Households int
	Stores     int
	Parks      int
	Miscs      int
	Workplaces int
	Schools    int
	Hospitals  int

	Hours            config.Hours
	HospitalCapacity int
	ICUCapacity      int

	Rho, Gamma    float64 // Explore/return parameters
	HouseOverMisc float64 // Probability that a social happens at home
}

// GenConfigFrom derives generation parameters from the run configuration.
// Without an explicit household count there is one household per three
// agents.
func GenConfigFrom(cfg *config.Config) GenConfig {
	households := cfg.Town.Households
	if households == 0 {
		households = max(1, cfg.Simulation.Agents/3)
	}
	return GenConfig{
		Radius:           cfg.Town.Radius,
		Seed:             cfg.Simulation.Seed,
		Households:       households,
		Stores:           cfg.Town.Stores,
		Parks:            cfg.Town.Parks,
		Miscs:            cfg.Town.Miscs,
		Workplaces:       cfg.Town.Workplaces,
		Schools:          cfg.Town.Schools,
		Hospitals:        cfg.Town.Hospitals,
		Hours:            cfg.Hours,
		HospitalCapacity: cfg.Health.HospitalCapacity,
		ICUCapacity:      cfg.Health.ICUCapacity,
		Rho:              cfg.Mobility.ExploreRho,
		Gamma:            cfg.Mobility.ExploreGamma,
		HouseOverMisc:    cfg.Social.HouseOverMisc,
	}
}

// SmallTestConfig returns a tiny town for rapid iteration.
func SmallTestConfig() GenConfig {
	cfg := GenConfigFrom(config.Default())
	cfg.Radius = 4
	cfg.Households = 10
	return cfg
}

// Generate creates a town with every location placed on the grid.
func Generate(cfg GenConfig) *Town {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	noise := opensimplex.NewNormalized(seed)
	m := NewMap(cfg.Radius)

	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !m.InBounds(coord) {
				continue
			}

			// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			// Town centre shaping: density falls off towards the edge.
			distFromCenter := math.Sqrt(x*x+y*y) / float64(max(cfg.Radius, 1))
			falloff := 1.0 - math.Pow(distFromCenter, 2)
			if falloff < 0 {
				falloff = 0
			}
			density := octaveNoise(noise, x, y, 3, 0.15, 0.5)*0.5 + falloff*0.5

			m.Set(&Hex{Coord: coord, Density: density})
		}
	}

	town := NewTown(m, cfg.Rho, cfg.Gamma, cfg.HouseOverMisc)
	placeLocations(town, cfg, seed)
	return town
}

// placeLocations seeds venues on the densest hexes, parks on the sparsest
// and households across the grid weighted by density.
func placeLocations(town *Town, cfg GenConfig, seed int64) {
	rng := rand.New(rand.NewSource(seed + 200))

	hexes := town.Map.ByDensity()

	names := generateNames(rng, cfg.Stores+cfg.Parks+cfg.Miscs+cfg.Workplaces+cfg.Schools+cfg.Hospitals)
	var nextID LocationID = 1
	newLoc := func(kind Kind, coord HexCoord, w config.Window) *Location {
		id := nextID
		nextID++
		name := fmt.Sprintf("%s:%d", kind, id)
		if kind != KindHousehold && kind != KindICU && len(names) > 0 {
			name = fmt.Sprintf("%s:%s", kind, names[0])
			names = names[1:]
		}
		open, close := w.Bounds()
		return NewLocation(id, kind, name, coord, open, close)
	}

	venues := []struct {
		kind  Kind
		count int
		hours config.Window
	}{
		{KindHospital, cfg.Hospitals, config.AllDay},
		{KindSchool, cfg.Schools, cfg.Hours.School},
		{KindStore, cfg.Stores, cfg.Hours.Store},
		{KindMisc, cfg.Miscs, cfg.Hours.Misc},
		{KindWorkplace, cfg.Workplaces, cfg.Hours.Workplace},
	}
	var taken []HexCoord
	for _, v := range venues {
		for _, coord := range spread(hexes, v.count, taken) {
			l := newLoc(v.kind, coord, v.hours)
			if v.kind == KindHospital {
				l.Capacity = cfg.HospitalCapacity
				l.ICU = newLoc(KindICU, coord, config.AllDay)
				l.ICU.Capacity = cfg.ICUCapacity
				l.ICU.name = l.name + ":icu"
			}
			town.Add(l)
			taken = append(taken, coord)
		}
	}

	outskirts := slices.Clone(hexes)
	slices.Reverse(outskirts)
	for _, coord := range spread(outskirts, cfg.Parks, nil) {
		town.Add(newLoc(KindPark, coord, cfg.Hours.Park))
	}

	weights := make([]float64, len(hexes))
	total := 0.0
	for i, h := range hexes {
		weights[i] = h.Density + 0.05
		total += weights[i]
	}
	for range cfg.Households {
		x := rng.Float64() * total
		i := 0
		for ; i < len(weights)-1 && x >= weights[i]; i++ {
			x -= weights[i]
		}
		town.Add(newLoc(KindHousehold, hexes[i].Coord, config.AllDay))
	}
}

// spread returns up to n coordinates from ranked, preferring hexes at least
// two apart from each other and from taken. When the grid is too small the
// spacing is relaxed rather than placing fewer locations.
func spread(ranked []*Hex, n int, taken []HexCoord) []HexCoord {
	if len(ranked) == 0 {
		return nil
	}
	out := make([]HexCoord, 0, n)
	for minDist := 2; minDist >= 0 && len(out) < n; minDist-- {
		for _, h := range ranked {
			if len(out) >= n {
				break
			}
			if slices.Contains(out, h.Coord) || tooClose(h.Coord, out, minDist) || tooClose(h.Coord, taken, minDist) {
				continue
			}
			out = append(out, h.Coord)
		}
	}
	for i := 0; len(out) < n; i++ {
		out = append(out, ranked[i%len(ranked)].Coord)
	}
	return out
}

func tooClose(coord HexCoord, existing []HexCoord, minDist int) bool {
	for _, c := range existing {
		if Distance(coord, c) < minDist {
			return true
		}
	}
	return false
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// generateNames produces procedural venue names by combining syllables.
func generateNames(rng *rand.Rand, count int) []string {
	prefixes := []string{
		"Iron", "Green", "Ash", "Stone", "Mill", "Cross", "Black",
		"Silver", "Red", "White", "Dark", "Bright", "High", "Low",
		"Old", "New", "Far", "Deep", "Long", "Broad", "Gold", "Frost",
		"Storm", "Thorn", "Elm", "Oak", "Pine", "Copper", "River",
	}
	suffixes := []string{
		"haven", "ford", "hollow", "wick", "bridge", "gate", "keep",
		"stead", "wood", "field", "dale", "crest", "vale", "port",
		"town", "bury", "marsh", "well", "brook", "cliff", "moor",
		"ridge", "watch", "fall", "rest", "point", "reach", "helm",
	}

	used := make(map[string]bool)
	names := make([]string, 0, count)

	for len(names) < count {
		name := prefixes[rng.Intn(len(prefixes))] + suffixes[rng.Intn(len(suffixes))]
		if !used[name] || len(used) >= len(prefixes)*len(suffixes) {
			used[name] = true
			names = append(names, name)
		}
	}

	return names
}

// Counts returns the number of locations per kind, ICUs included.
func (t *Town) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, l := range t.byID {
		counts[l.Kind]++
	}
	return counts
}
