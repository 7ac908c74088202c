// Package ledger is the single source of truth for faction influence.
// Writes to one territory are serialized by a per-territory mutex held in
// an indexed table, so versions increase strictly monotonically and no
// two writers observe the same pre-write state. Writes to distinct
// territories proceed in parallel.
// See design doc Section 4.1.
package ledger

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/frontline/internal/observability"
	"github.com/talgya/frontline/internal/persistence"
	"github.com/talgya/frontline/internal/territory"
)

// Listener receives committed territory updates. Calls are made while the
// territory's write lock is held, which preserves per-territory ordering;
// implementations must therefore never block.
type Listener interface {
	TerritoryUpdated(snap territory.Snapshot, events []territory.Event)
}

// Ledger owns the influence state for every territory.
type Ledger struct {
	db       *persistence.DB
	defs     map[territory.TerritoryID]*territory.Territory
	factions map[territory.FactionID]*territory.Faction

	// One entry per territory, created at setup and never removed, so
	// the map itself is read-only after New and needs no lock.
	entries map[territory.TerritoryID]*entry

	mat          *Materializer
	listeners    []Listener
	contestedGap float64
	metrics      *observability.Collector

	applied   atomic.Uint64
	contested atomic.Int64
}

// entry is one territory's serialized-access unit: the mutex is the
// single-writer-per-territory discipline.
type entry struct {
	mu         sync.Mutex
	influences map[territory.FactionID]float64
	version    uint64
}

// New builds a ledger over the given territory definitions, seeding the
// database and restoring any persisted influence state.
func New(db *persistence.DB, defs []*territory.Territory, factions map[territory.FactionID]*territory.Faction, contestedGap float64, metrics *observability.Collector) (*Ledger, error) {
	if err := db.SeedTerritories(defs); err != nil {
		return nil, fmt.Errorf("seed territories: %w", err)
	}
	states, err := db.LoadStates()
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}

	l := &Ledger{
		db:           db,
		defs:         make(map[territory.TerritoryID]*territory.Territory, len(defs)),
		factions:     factions,
		entries:      make(map[territory.TerritoryID]*entry, len(defs)),
		mat:          NewMaterializer(),
		contestedGap: contestedGap,
		metrics:      metrics,
	}

	now := time.Now().UTC()
	contested := 0
	for _, def := range defs {
		l.defs[def.ID] = def
		e := &entry{influences: make(map[territory.FactionID]float64)}
		if st, ok := states[def.ID]; ok {
			e.version = st.Version
			for f, v := range st.Influences {
				e.influences[f] = v
			}
		}
		l.entries[def.ID] = e

		snap := l.snapshotLocked(def.ID, e, now)
		if snap.Contested {
			contested++
		}
		l.mat.Set(snap)
	}
	l.contested.Store(int64(contested))
	metrics.SetContested(contested)

	return l, nil
}

// AddListener registers a listener for committed updates. Must be called
// before the ledger starts serving writes.
func (l *Ledger) AddListener(lis Listener) {
	l.listeners = append(l.listeners, lis)
}

// Materializer exposes the read-optimized snapshot store.
func (l *Ledger) Materializer() *Materializer {
	return l.mat
}

// Definition returns the static definition for a territory.
func (l *Ledger) Definition(id territory.TerritoryID) (*territory.Territory, bool) {
	def, ok := l.defs[id]
	return def, ok
}

// Definitions returns all territory definitions.
func (l *Ledger) Definitions() map[territory.TerritoryID]*territory.Territory {
	return l.defs
}

// Factions returns the faction definitions.
func (l *Ledger) Factions() map[territory.FactionID]*territory.Faction {
	return l.factions
}

// AppliedDeltas returns the number of deltas committed since startup.
func (l *Ledger) AppliedDeltas() uint64 {
	return l.applied.Load()
}

// ContestedCount returns the current number of contested territories.
func (l *Ledger) ContestedCount() int {
	return int(l.contested.Load())
}

// ApplyInfluenceDelta commits one influence change: the new clamped
// value, the version bump, and the history entry persist as one atomic
// unit, and the materializer is updated within the same critical section.
// Returns the post-write snapshot.
func (l *Ledger) ApplyInfluenceDelta(territoryID territory.TerritoryID, factionID territory.FactionID, delta float64, cause, actorID string) (territory.Snapshot, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return territory.Snapshot{}, fmt.Errorf("delta %v: %w", delta, territory.ErrValidation)
	}
	if cause == "" {
		return territory.Snapshot{}, fmt.Errorf("empty cause: %w", territory.ErrValidation)
	}
	if !territory.ValidFaction(factionID) {
		return territory.Snapshot{}, fmt.Errorf("faction %d: %w", factionID, territory.ErrFactionNotFound)
	}
	e, ok := l.entries[territoryID]
	if !ok {
		return territory.Snapshot{}, fmt.Errorf("territory %d: %w", territoryID, territory.ErrTerritoryNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	prev := l.snapshotLocked(territoryID, e, now)

	oldValue := e.influences[factionID]
	newValue := territory.ClampInfluence(oldValue + delta)
	newVersion := e.version + 1

	next := territory.Snapshot{
		TerritoryID: territoryID,
		Influences:  make(map[territory.FactionID]float64, len(e.influences)+1),
		Version:     newVersion,
		Timestamp:   now,
	}
	for f, v := range e.influences {
		next.Influences[f] = v
	}
	next.Influences[factionID] = newValue
	next.Dominant, next.Contested = territory.ComputeState(next.Influences, l.contestedGap)

	events := territory.DeriveEvents(prev, next)

	hist := territory.HistoryEntry{
		TerritoryID:      territoryID,
		FactionID:        factionID,
		Delta:            delta,
		Cause:            cause,
		ActorID:          actorID,
		ResultingVersion: newVersion,
		CreatedAt:        now,
	}

	// Durable commit first; in-memory state only moves once the
	// database transaction has succeeded.
	if err := l.db.CommitDelta(next, hist, events); err != nil {
		return territory.Snapshot{}, fmt.Errorf("commit delta: %w", err)
	}

	e.influences[factionID] = newValue
	e.version = newVersion
	l.mat.Set(next)

	l.applied.Add(1)
	l.metrics.ObserveDelta()
	if next.Contested != prev.Contested {
		if next.Contested {
			l.contested.Add(1)
		} else {
			l.contested.Add(-1)
		}
		l.metrics.SetContested(int(l.contested.Load()))
	}

	for _, lis := range l.listeners {
		lis.TerritoryUpdated(next, events)
	}

	return next, nil
}

// GetTerritoryState returns the current snapshot for a territory. Reads
// come from the materializer and never block on writers beyond a single
// version's critical section.
func (l *Ledger) GetTerritoryState(id territory.TerritoryID) (territory.Snapshot, error) {
	if snap, ok := l.mat.Get(id); ok {
		return snap, nil
	}
	e, ok := l.entries[id]
	if !ok {
		return territory.Snapshot{}, fmt.Errorf("territory %d: %w", id, territory.ErrTerritoryNotFound)
	}

	// Materializer miss: fall through to the ledger and repopulate.
	// Set runs under the entry lock so a concurrent writer's newer
	// snapshot cannot be overwritten by this one.
	e.mu.Lock()
	snap := l.snapshotLocked(id, e, time.Now().UTC())
	l.mat.Set(snap)
	e.mu.Unlock()
	return snap, nil
}

// snapshotLocked builds a snapshot from an entry. Callers must hold the
// entry's mutex (or be inside New, before any writer exists).
func (l *Ledger) snapshotLocked(id territory.TerritoryID, e *entry, now time.Time) territory.Snapshot {
	snap := territory.Snapshot{
		TerritoryID: id,
		Influences:  make(map[territory.FactionID]float64, len(e.influences)),
		Version:     e.version,
		Timestamp:   now,
	}
	for f, v := range e.influences {
		snap.Influences[f] = v
	}
	snap.Dominant, snap.Contested = territory.ComputeState(snap.Influences, l.contestedGap)
	return snap
}
