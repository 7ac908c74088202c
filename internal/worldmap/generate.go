// Territory map generation using layered simplex noise. Elevation and
// moisture maps derive terrain; terrain and centrality derive strategic
// value and territory kind. Deterministic for a given seed.
// See design doc Section 3.2.
package worldmap

import (
	"fmt"
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/frontline/internal/territory"
)

// GenConfig holds territory map generation parameters.
type GenConfig struct {
	Radius   int     // Hex grid radius (~8 for ~200 territories)
	Seed     int64   // Random seed (0 = random)
	SeaLevel float64 // Elevation threshold for water (0.0–1.0)
	Highland float64 // Elevation threshold for highland (0.0–1.0)
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:   8,
		Seed:     0,
		SeaLevel: 0.25,
		Highland: 0.72,
	}
}

// SmallTestConfig returns a tiny map for rapid iteration and tests.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Radius:   3,
		Seed:     42,
		SeaLevel: 0.20,
		Highland: 0.80,
	}
}

// Place is one generated hex: the territory definition plus its spatial data.
type Place struct {
	Coord     HexCoord
	Terrain   Terrain
	Elevation float64
	Territory *territory.Territory
}

// Map is the generated territory map. Territory ids are assigned in a
// deterministic scan order, so the same seed always yields the same map.
type Map struct {
	Radius int
	Seed   int64

	Places  map[HexCoord]*Place
	ByID    map[territory.TerritoryID]*Place
	ordered []*Place
}

// Territories returns the territory definitions in id order.
func (m *Map) Territories() []*territory.Territory {
	out := make([]*territory.Territory, 0, len(m.ordered))
	for _, p := range m.ordered {
		out = append(out, p.Territory)
	}
	return out
}

// Adjacency returns the route graph: each territory's traversable
// neighbors (water hexes never appear on either side of an edge).
func (m *Map) Adjacency() map[territory.TerritoryID][]territory.TerritoryID {
	adj := make(map[territory.TerritoryID][]territory.TerritoryID, len(m.ordered))
	for _, p := range m.ordered {
		for _, nc := range p.Coord.Neighbors() {
			n, ok := m.Places[nc]
			if !ok {
				continue
			}
			adj[p.Territory.ID] = append(adj[p.Territory.ID], n.Territory.ID)
		}
	}
	return adj
}

// Generate creates a complete territory map from the configuration.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	elevNoise := opensimplex.NewNormalized(seed)
	moistNoise := opensimplex.NewNormalized(seed + 1)

	m := &Map{
		Radius: cfg.Radius,
		Seed:   seed,
		Places: make(map[HexCoord]*Place),
		ByID:   make(map[territory.TerritoryID]*Place),
	}

	// Deterministic scan order: q then r ascending.
	var nextID territory.TerritoryID = 1
	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if Distance(coord, HexCoord{}) > cfg.Radius {
				continue
			}

			// Hex axial → cartesian for noise sampling.
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			elev := octaveNoise(elevNoise, x, y, 4, 0.18, 0.5)
			moist := octaveNoise(moistNoise, x, y, 3, 0.14, 0.5)

			// Edge falloff keeps a water border around the playable area.
			distFromCenter := math.Sqrt(x*x+y*y) / float64(cfg.Radius)
			falloff := 1.0 - math.Pow(distFromCenter, 3.5)
			if falloff < 0 {
				falloff = 0
			}
			elev *= falloff

			terr := deriveTerrain(elev, moist, cfg)
			if terr == TerrainWater {
				continue
			}
			// The map center is the built-up core.
			if distFromCenter < 0.25 {
				terr = TerrainUrban
			}

			place := &Place{
				Coord:     coord,
				Terrain:   terr,
				Elevation: elev,
				Territory: &territory.Territory{
					ID:             nextID,
					Kind:           deriveKind(terr, distFromCenter),
					StrategicValue: strategicValue(terr, elev, distFromCenter),
					BaseRouteCost:  baseRouteCost(terr),
				},
			}
			m.Places[coord] = place
			m.ByID[place.Territory.ID] = place
			m.ordered = append(m.ordered, place)
			nextID++
		}
	}

	assignNames(m, seed)
	return m
}

func deriveTerrain(elev, moist float64, cfg GenConfig) Terrain {
	switch {
	case elev < cfg.SeaLevel:
		return TerrainWater
	case elev > cfg.Highland:
		return TerrainHighland
	case moist > 0.72:
		return TerrainMarsh
	case moist > 0.45:
		return TerrainForest
	default:
		return TerrainPlains
	}
}

// deriveKind maps terrain and centrality to a territory kind: urban cores
// near the center are control points, highlands are regions, the rest
// are districts.
func deriveKind(t Terrain, distFromCenter float64) territory.TerritoryKind {
	if distFromCenter < 0.25 {
		return territory.KindControlPoint
	}
	if t == TerrainHighland {
		return territory.KindRegion
	}
	return territory.KindDistrict
}

// strategicValue scores a territory 1–10. Central and elevated places are
// worth more; marshes are worth less.
func strategicValue(t Terrain, elev, distFromCenter float64) int {
	v := 3.0 + (1.0-distFromCenter)*5.0 + elev*2.0
	if t == TerrainMarsh {
		v -= 2.0
	}
	if v < 1 {
		v = 1
	}
	if v > 10 {
		v = 10
	}
	return int(v)
}

// octaveNoise samples multiple noise octaves for natural-looking variation.
func octaveNoise(n opensimplex.Noise, x, y float64, octaves int, freq, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxValue := 0.0
	f := freq

	for i := 0; i < octaves; i++ {
		total += n.Eval2(x*f, y*f) * amplitude
		maxValue += amplitude
		amplitude *= persistence
		f *= 2.0
	}

	return total / maxValue
}

// assignNames produces procedural territory names by combining syllables,
// suffixed by kind for control points.
func assignNames(m *Map, seed int64) {
	rng := rand.New(rand.NewSource(seed + 300))

	prefixes := []string{
		"Ash", "Briar", "Cald", "Dun", "Ebon", "Fen", "Gale", "Hollow",
		"Iron", "Karst", "Low", "Mor", "North", "Oster", "Pale", "Quar",
		"Raven", "Stone", "Thorn", "Umber", "Vael", "Wolf", "Yarrow", "Zeal",
	}
	suffixes := []string{
		"mark", "reach", "hold", "moor", "gate", "fall", "crest", "vale",
		"ridge", "ford", "spire", "wick", "march", "rest", "watch",
	}

	// Maps larger than the syllable space get numbered variants so
	// naming always terminates.
	maxAttempts := len(prefixes) * len(suffixes)
	used := make(map[string]bool)
	for _, p := range m.ordered {
		var name string
		for attempt := 0; ; attempt++ {
			name = prefixes[rng.Intn(len(prefixes))] + suffixes[rng.Intn(len(suffixes))]
			if attempt >= maxAttempts {
				name = fmt.Sprintf("%s %d", name, attempt-maxAttempts+2)
			}
			if !used[name] {
				used[name] = true
				break
			}
		}
		if p.Territory.Kind == territory.KindControlPoint {
			name = fmt.Sprintf("%s Point", name)
		}
		p.Territory.Name = name
	}
}
