// The materializer is the read-optimized, version-stamped copy of every
// territory's derived state. It is updated inside the same per-territory
// critical section as the ledger write, so a reader can never observe a
// snapshot older than the most recently committed version.
// See design doc Section 4.2.
package ledger

import (
	"sync"

	"github.com/talgya/frontline/internal/territory"
)

// Materializer caches immutable snapshots keyed by territory id. Stored
// snapshots are never mutated after Set, so Get can hand them out
// without copying.
type Materializer struct {
	mu    sync.RWMutex
	snaps map[territory.TerritoryID]territory.Snapshot
}

// NewMaterializer creates an empty materializer.
func NewMaterializer() *Materializer {
	return &Materializer{snaps: make(map[territory.TerritoryID]territory.Snapshot)}
}

// Get returns the cached snapshot for a territory.
func (m *Materializer) Get(id territory.TerritoryID) (territory.Snapshot, bool) {
	m.mu.RLock()
	snap, ok := m.snaps[id]
	m.mu.RUnlock()
	return snap, ok
}

// Version returns just the territory's current version stamp.
func (m *Materializer) Version(id territory.TerritoryID) (uint64, bool) {
	m.mu.RLock()
	snap, ok := m.snaps[id]
	m.mu.RUnlock()
	return snap.Version, ok
}

// Set replaces the cached snapshot. The snapshot (including its
// influence map) must not be mutated after the call.
func (m *Materializer) Set(snap territory.Snapshot) {
	m.mu.Lock()
	m.snaps[snap.TerritoryID] = snap
	m.mu.Unlock()
}

// All returns the current snapshot of every territory.
func (m *Materializer) All() []territory.Snapshot {
	m.mu.RLock()
	out := make([]territory.Snapshot, 0, len(m.snaps))
	for _, snap := range m.snaps {
		out = append(out, snap)
	}
	m.mu.RUnlock()
	return out
}
