// Package worldmap generates the territory map: a hex grid where every
// land hex is one territory, and hex adjacency defines the route graph.
// Uses axial coordinates (q, r) for the hex grid.
// See design doc Section 3.2.
package worldmap

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Terrain types for territory hexes.
type Terrain uint8

const (
	TerrainPlains   Terrain = iota // Open ground, cheap to traverse
	TerrainForest                  // Cover, moderate cost
	TerrainHighland                // Elevated, defensible, expensive
	TerrainMarsh                   // Slow going
	TerrainUrban                   // Dense districts, strategic
	TerrainWater                   // Impassable; never becomes a territory
)

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainPlains:
		return "plains"
	case TerrainForest:
		return "forest"
	case TerrainHighland:
		return "highland"
	case TerrainMarsh:
		return "marsh"
	case TerrainUrban:
		return "urban"
	case TerrainWater:
		return "water"
	default:
		return "unknown"
	}
}

// baseRouteCost is the terrain contribution to traversal cost, before
// faction stance multipliers.
func baseRouteCost(t Terrain) float64 {
	switch t {
	case TerrainPlains:
		return 1.0
	case TerrainForest:
		return 1.5
	case TerrainHighland:
		return 2.5
	case TerrainMarsh:
		return 3.0
	case TerrainUrban:
		return 1.2
	default:
		return 1.0
	}
}

// hexNeighborDirections defines the six neighbor offsets in axial coordinates.
var hexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range hexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	// Max of the three absolute differences in cube coordinates.
	max := dq
	if dr > max {
		max = dr
	}
	if ds > max {
		max = ds
	}
	return max
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
