// Package broadcast fans committed territory snapshots out to
// subscribed clients, one logical topic per territory. Delivery is
// at-least-once: messages are idempotent full snapshots, a slow
// subscriber just loses intermediate versions, and clients resync fully
// on reconnect rather than assuming gap-free delivery.
// See design doc Section 4.3.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/frontline/internal/observability"
	"github.com/talgya/frontline/internal/territory"
)

// SnapshotMessage is the wire form of one territory update.
type SnapshotMessage struct {
	Type              string                          `json:"type"`
	TerritoryID       territory.TerritoryID           `json:"territory_id"`
	FactionInfluences map[territory.FactionID]float64 `json:"faction_influences"`
	DominantFaction   territory.FactionID             `json:"dominant_faction"`
	Contested         bool                            `json:"contested"`
	Version           uint64                          `json:"version"`
	Timestamp         time.Time                       `json:"timestamp"`
}

const messageType = "territory_state"

// subscriberBuffer bounds how far a subscriber may fall behind before
// messages are dropped on it.
const subscriberBuffer = 64

// Subscriber is one client's fan-out endpoint. Out delivers marshaled
// snapshot messages; the channel closes when the subscriber is removed.
type Subscriber struct {
	id     uint64
	out    chan []byte
	topics map[territory.TerritoryID]bool // nil = all territories
	closed atomic.Bool
}

// Out returns the subscriber's message channel.
func (s *Subscriber) Out() <-chan []byte {
	return s.out
}

// Hub routes committed snapshots to subscribers. It satisfies the
// ledger's Listener interface; publishes never block the writer.
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscriber
	nextID  atomic.Uint64
	metrics *observability.Collector
}

// NewHub creates an empty hub.
func NewHub(metrics *observability.Collector) *Hub {
	return &Hub{
		subs:    make(map[uint64]*Subscriber),
		metrics: metrics,
	}
}

// Subscribe registers a subscriber for the given territories. An empty
// list subscribes to every territory.
func (h *Hub) Subscribe(ids ...territory.TerritoryID) *Subscriber {
	sub := &Subscriber{
		id:  h.nextID.Add(1),
		out: make(chan []byte, subscriberBuffer),
	}
	if len(ids) > 0 {
		sub.topics = make(map[territory.TerritoryID]bool, len(ids))
		for _, id := range ids {
			sub.topics[id] = true
		}
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	close(sub.out)
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// TerritoryUpdated publishes a committed snapshot to every subscriber of
// its topic. The message is marshaled once and sent non-blocking: a
// full subscriber buffer drops the message rather than stalling the
// ledger's write path.
func (h *Hub) TerritoryUpdated(snap territory.Snapshot, _ []territory.Event) {
	start := time.Now()

	msg := SnapshotMessage{
		Type:              messageType,
		TerritoryID:       snap.TerritoryID,
		FactionInfluences: snap.Influences,
		DominantFaction:   snap.Dominant,
		Contested:         snap.Contested,
		Version:           snap.Version,
		Timestamp:         snap.Timestamp,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast marshal failed", "territory", snap.TerritoryID, "error", err)
		return
	}

	h.mu.Lock()
	for _, sub := range h.subs {
		if sub.topics != nil && !sub.topics[snap.TerritoryID] {
			continue
		}
		select {
		case sub.out <- payload:
		default:
			h.metrics.ObserveBroadcastDrop()
		}
	}
	h.mu.Unlock()

	h.metrics.ObserveBroadcast(time.Since(start))
}

// EncodeSnapshot marshals a snapshot in the broadcast wire format, used
// for the initial state dump when a client connects.
func EncodeSnapshot(snap territory.Snapshot) ([]byte, error) {
	return json.Marshal(SnapshotMessage{
		Type:              messageType,
		TerritoryID:       snap.TerritoryID,
		FactionInfluences: snap.Influences,
		DominantFaction:   snap.Dominant,
		Contested:         snap.Contested,
		Version:           snap.Version,
		Timestamp:         snap.Timestamp,
	})
}
