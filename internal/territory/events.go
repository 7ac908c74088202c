// Territorial events: derived records emitted when a territory's
// dominant faction or contested flag changes. Consumed by the procedural
// trigger queue and persisted for audit.
package territory

import "time"

// EventKind enumerates the territorial event types.
type EventKind uint8

const (
	EventCapture      EventKind = iota // Dominant faction changed
	EventContestStart                  // Territory became contested
	EventContestEnd                    // Territory is no longer contested
)

// EventKindName returns a human-readable name for an event kind.
func EventKindName(k EventKind) string {
	switch k {
	case EventCapture:
		return "capture"
	case EventContestStart:
		return "contest_start"
	case EventContestEnd:
		return "contest_end"
	default:
		return "unknown"
	}
}

// Event records one derived territorial change.
type Event struct {
	Kind        EventKind   `json:"kind"`
	TerritoryID TerritoryID `json:"territory_id"`

	// Faction is the new dominant faction for captures, and the current
	// dominant faction for contest flips (FactionNone if nobody leads).
	Faction FactionID `json:"faction"`

	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// DeriveEvents compares two consecutive snapshots of the same territory
// and returns the events the transition implies, in a fixed order
// (capture before contest flips).
func DeriveEvents(prev, next Snapshot) []Event {
	var out []Event

	if next.Dominant != prev.Dominant {
		out = append(out, Event{
			Kind:        EventCapture,
			TerritoryID: next.TerritoryID,
			Faction:     next.Dominant,
			Version:     next.Version,
			Timestamp:   next.Timestamp,
		})
	}

	if next.Contested != prev.Contested {
		kind := EventContestEnd
		if next.Contested {
			kind = EventContestStart
		}
		out = append(out, Event{
			Kind:        kind,
			TerritoryID: next.TerritoryID,
			Faction:     next.Dominant,
			Version:     next.Version,
			Timestamp:   next.Timestamp,
		})
	}

	return out
}

// AssetType enumerates the content categories regenerated on territorial
// change. Closed enum for the same reason FactionID is.
type AssetType uint8

const (
	AssetBanner        AssetType = iota // Flags and heraldry on structures
	AssetPropaganda                     // Posters, murals, street dressing
	AssetStructureSkin                  // Faction-themed building variants
)

// AssetTypeName returns a human-readable name for an asset type.
func AssetTypeName(a AssetType) string {
	switch a {
	case AssetBanner:
		return "banner"
	case AssetPropaganda:
		return "propaganda"
	case AssetStructureSkin:
		return "structure_skin"
	default:
		return "unknown"
	}
}
