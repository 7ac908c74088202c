// Package territory defines the core domain model: territories, factions,
// influence snapshots, and the events derived when control shifts.
// See design doc Section 3.
package territory

import "time"

// TerritoryID is a unique identifier for a territory.
// Territories are created at world setup and never deleted.
type TerritoryID uint64

// TerritoryKind categorizes the scale of a territory.
type TerritoryKind uint8

const (
	KindRegion       TerritoryKind = iota // Large zone spanning many districts
	KindDistrict                          // Mid-size zone, the common case
	KindControlPoint                      // Single strategic objective
)

// KindName returns a human-readable name for a territory kind.
func KindName(k TerritoryKind) string {
	switch k {
	case KindRegion:
		return "region"
	case KindDistrict:
		return "district"
	case KindControlPoint:
		return "control_point"
	default:
		return "unknown"
	}
}

// Territory is the static definition of a zone under contention.
// Influence values and the version counter live in the ledger, not here.
type Territory struct {
	ID             TerritoryID   `json:"id" db:"id"`
	Name           string        `json:"name" db:"name"`
	Kind           TerritoryKind `json:"kind" db:"kind"`
	StrategicValue int           `json:"strategic_value" db:"strategic_value"`

	// BaseRouteCost is the terrain-derived cost of traversing this
	// territory before faction stance multipliers are applied.
	BaseRouteCost float64 `json:"base_route_cost" db:"base_route_cost"`
}

// Snapshot is the derived, version-stamped state of one territory.
// It is what the materializer caches and the broadcaster publishes.
type Snapshot struct {
	TerritoryID TerritoryID           `json:"territory_id"`
	Influences  map[FactionID]float64 `json:"influences"`
	Dominant    FactionID             `json:"dominant"`
	Contested   bool                  `json:"contested"`
	Version     uint64                `json:"version"`
	Timestamp   time.Time             `json:"timestamp"`
}

// ComputeState derives the dominant faction and contested flag from a set
// of influence values. Ties on the top influence always resolve to the
// lowest faction id, so the result is deterministic for any input order.
// Contested means the gap between the top two influences is below gap.
func ComputeState(influences map[FactionID]float64, gap float64) (dominant FactionID, contested bool) {
	var best, second float64
	dominant = FactionNone

	// Iterate ids ascending so the lowest id wins equal-influence ties.
	for _, f := range AllFactions() {
		v := influences[f]
		if v > best {
			second = best
			best = v
			dominant = f
		} else if v > second {
			second = v
		}
	}

	if best <= 0 {
		return FactionNone, false
	}
	return dominant, best-second < gap
}

// ClampInfluence bounds an influence value to the valid [0,100] range.
func ClampInfluence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// HistoryEntry is one append-only record of an applied influence delta.
// Written atomically with the influence update it describes.
type HistoryEntry struct {
	TerritoryID      TerritoryID `json:"territory_id" db:"territory_id"`
	FactionID        FactionID   `json:"faction_id" db:"faction_id"`
	Delta            float64     `json:"delta" db:"delta"`
	Cause            string      `json:"cause" db:"cause"`
	ActorID          string      `json:"actor_id,omitempty" db:"actor_id"`
	ResultingVersion uint64      `json:"resulting_version" db:"resulting_version"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}
