// Factions: the seven fixed powers contesting the world.
// See design doc Section 3.1.
package territory

// FactionID is a closed enumeration of the seven factions. Influence rows,
// route requests, and procedural jobs are all keyed by it; using a closed
// enum instead of free-form strings removes the invalid-category bug class.
type FactionID uint8

const (
	FactionNone FactionID = iota // No faction holds the territory
	FactionCrown
	FactionCompact
	FactionBrotherhood
	FactionCircle
	FactionAshen
	FactionTidewalkers
	FactionBanner
)

// FactionCount is the number of real factions (excludes FactionNone).
const FactionCount = 7

// AllFactions returns the faction ids in ascending order. Callers that
// need deterministic iteration over influence maps range over this.
func AllFactions() [FactionCount]FactionID {
	return [FactionCount]FactionID{
		FactionCrown, FactionCompact, FactionBrotherhood,
		FactionCircle, FactionAshen, FactionTidewalkers, FactionBanner,
	}
}

// ValidFaction reports whether f names a real faction.
func ValidFaction(f FactionID) bool {
	return f >= FactionCrown && f <= FactionBanner
}

// Faction holds the static definition of one power.
type Faction struct {
	ID   FactionID `json:"id"`
	Name string    `json:"name"`

	// Relations with other factions (-100 hostile to +100 allied).
	// Symmetric; drives route cost multipliers for foreign territory.
	Relations map[FactionID]float64 `json:"relations"`
}

// Stance buckets a relation value for route costing.
type Stance uint8

const (
	StanceSelf Stance = iota
	StanceAllied
	StanceNeutral
	StanceHostile
)

// StanceToward buckets this faction's relation to other.
func (f *Faction) StanceToward(other FactionID) Stance {
	if other == f.ID {
		return StanceSelf
	}
	rel := f.Relations[other]
	switch {
	case rel >= 25:
		return StanceAllied
	case rel <= -25:
		return StanceHostile
	default:
		return StanceNeutral
	}
}

// SeedFactions creates the 7 fixed factions with their initial relations.
func SeedFactions() map[FactionID]*Faction {
	factions := map[FactionID]*Faction{
		FactionCrown:       {ID: FactionCrown, Name: "The Crown", Relations: map[FactionID]float64{}},
		FactionCompact:     {ID: FactionCompact, Name: "Merchant's Compact", Relations: map[FactionID]float64{}},
		FactionBrotherhood: {ID: FactionBrotherhood, Name: "Iron Brotherhood", Relations: map[FactionID]float64{}},
		FactionCircle:      {ID: FactionCircle, Name: "Verdant Circle", Relations: map[FactionID]float64{}},
		FactionAshen:       {ID: FactionAshen, Name: "Ashen Path", Relations: map[FactionID]float64{}},
		FactionTidewalkers: {ID: FactionTidewalkers, Name: "Tidewalkers", Relations: map[FactionID]float64{}},
		FactionBanner:      {ID: FactionBanner, Name: "Gilded Banner", Relations: map[FactionID]float64{}},
	}

	set := func(a, b FactionID, value float64) {
		factions[a].Relations[b] = value
		factions[b].Relations[a] = value
	}

	// Crown and Brotherhood are allied. Ashen Path: distrusted by nearly all.
	set(FactionCrown, FactionCompact, -20)
	set(FactionCrown, FactionBrotherhood, 30)
	set(FactionCrown, FactionCircle, 10)
	set(FactionCrown, FactionAshen, -50)
	set(FactionCrown, FactionTidewalkers, 0)
	set(FactionCrown, FactionBanner, 25)
	set(FactionCompact, FactionBrotherhood, -10)
	set(FactionCompact, FactionCircle, 20)
	set(FactionCompact, FactionAshen, -30)
	set(FactionCompact, FactionTidewalkers, 40)
	set(FactionCompact, FactionBanner, -15)
	set(FactionBrotherhood, FactionCircle, -20)
	set(FactionBrotherhood, FactionAshen, -40)
	set(FactionBrotherhood, FactionTidewalkers, -10)
	set(FactionBrotherhood, FactionBanner, 15)
	set(FactionCircle, FactionAshen, -60)
	set(FactionCircle, FactionTidewalkers, 30)
	set(FactionCircle, FactionBanner, -5)
	set(FactionAshen, FactionTidewalkers, 10)
	set(FactionAshen, FactionBanner, -35)
	set(FactionTidewalkers, FactionBanner, 5)

	return factions
}
