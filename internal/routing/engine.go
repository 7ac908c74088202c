// Package routing computes faction-aware paths between territories. Edge
// costs depend on who controls each segment relative to the requesting
// faction; results are cached tagged with the version of every territory
// on the path, and a cached entry is served only while all of those
// versions still match the live state.
// See design doc Section 4.4.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/talgya/frontline/internal/observability"
	"github.com/talgya/frontline/internal/territory"
)

// StateReader supplies current territory snapshots. The ledger's
// materializer satisfies it.
type StateReader interface {
	Get(id territory.TerritoryID) (territory.Snapshot, bool)
}

// Route is one computed path with its security cost. Stale marks a
// result served past its versions after a computation timeout.
type Route struct {
	Path       []territory.TerritoryID          `json:"path"`
	Cost       float64                          `json:"cost"`
	Stale      bool                             `json:"stale"`
	Versions   map[territory.TerritoryID]uint64 `json:"versions"`
	ComputedAt time.Time                        `json:"computed_at"`
}

type cacheKey struct {
	Faction  territory.FactionID
	Src, Dst territory.TerritoryID
}

// Engine computes and caches routes.
type Engine struct {
	defs     map[territory.TerritoryID]*territory.Territory
	adj      map[territory.TerritoryID][]territory.TerritoryID
	states   StateReader
	factions map[territory.FactionID]*territory.Faction

	mu    sync.RWMutex
	cache map[cacheKey]Route

	// Identical in-flight requests coalesce into one computation.
	group singleflight.Group

	timeout time.Duration
	metrics *observability.Collector
}

// NewEngine builds a route engine over the territory graph.
func NewEngine(defs map[territory.TerritoryID]*territory.Territory, adj map[territory.TerritoryID][]territory.TerritoryID, states StateReader, factions map[territory.FactionID]*territory.Faction, timeout time.Duration, metrics *observability.Collector) *Engine {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &Engine{
		defs:     defs,
		adj:      adj,
		states:   states,
		factions: factions,
		cache:    make(map[cacheKey]Route),
		timeout:  timeout,
		metrics:  metrics,
	}
}

// CacheSize returns the number of cached routes.
func (e *Engine) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// ComputeRoute returns a path from src to dst costed for the requesting
// faction. A cached route is reused only while every territory on it
// still has the version recorded at computation time. Identical
// concurrent requests share a single computation. If computing exceeds
// the engine's timeout, the previous cached route is returned marked
// stale instead of blocking the caller.
func (e *Engine) ComputeRoute(ctx context.Context, faction territory.FactionID, src, dst territory.TerritoryID) (Route, error) {
	if !territory.ValidFaction(faction) {
		return Route{}, fmt.Errorf("faction %d: %w", faction, territory.ErrFactionNotFound)
	}
	if _, ok := e.defs[src]; !ok {
		return Route{}, fmt.Errorf("territory %d: %w", src, territory.ErrTerritoryNotFound)
	}
	if _, ok := e.defs[dst]; !ok {
		return Route{}, fmt.Errorf("territory %d: %w", dst, territory.ErrTerritoryNotFound)
	}

	key := cacheKey{Faction: faction, Src: src, Dst: dst}
	if route, ok := e.validCached(key); ok {
		e.metrics.ObserveRouteCache("hit")
		return route, nil
	}

	flightKey := fmt.Sprintf("%d:%d:%d", faction, src, dst)
	v, err, _ := e.group.Do(flightKey, func() (any, error) {
		// A coalesced waiter may arrive after the leader refreshed
		// the cache; re-check before computing again.
		if route, ok := e.validCached(key); ok {
			return route, nil
		}
		return e.computeBounded(ctx, key)
	})
	if err != nil {
		return Route{}, err
	}
	return v.(Route), nil
}

// validCached returns the cached route for key if every territory on its
// path still has the recorded version.
func (e *Engine) validCached(key cacheKey) (Route, bool) {
	e.mu.RLock()
	route, ok := e.cache[key]
	e.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	for id, ver := range route.Versions {
		snap, ok := e.states.Get(id)
		if !ok || snap.Version != ver {
			return Route{}, false
		}
	}
	return route, true
}

// computeBounded runs the path computation under the engine timeout.
// On timeout it degrades to the stale cached route if one exists.
func (e *Engine) computeBounded(ctx context.Context, key cacheKey) (Route, error) {
	start := time.Now()

	type result struct {
		route Route
		err   error
	}
	done := make(chan result, 1)
	go func() {
		route, err := e.shortestPath(key.Faction, key.Src, key.Dst)
		done <- result{route, err}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		e.metrics.ObserveRoute(time.Since(start))
		if res.err != nil {
			return Route{}, res.err
		}
		e.mu.Lock()
		e.cache[key] = res.route
		e.mu.Unlock()
		e.metrics.ObserveRouteCache("miss")
		return res.route, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or canceled: best available cached answer, marked stale.
	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		cached.Stale = true
		e.metrics.ObserveRouteCache("stale")
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return Route{}, fmt.Errorf("route %d->%d: %w", key.Src, key.Dst, err)
	}
	return Route{}, fmt.Errorf("route %d->%d: %w", key.Src, key.Dst, territory.ErrRouteTimeout)
}

// segmentCost is the cost of entering a territory for the requesting
// faction: terrain base cost scaled by stance toward whoever dominates
// the segment, with a surcharge for contested ground.
func (e *Engine) segmentCost(requester *territory.Faction, def *territory.Territory, snap territory.Snapshot, haveSnap bool) float64 {
	cost := def.BaseRouteCost
	if !haveSnap || snap.Dominant == territory.FactionNone {
		return cost * 1.5 // unclaimed ground: mildly risky
	}

	switch requester.StanceToward(snap.Dominant) {
	case territory.StanceSelf:
		// friendly ground at base cost
	case territory.StanceAllied:
		cost *= 1.25
	case territory.StanceNeutral:
		cost *= 1.75
	case territory.StanceHostile:
		cost *= 3.0
	}
	if snap.Contested {
		cost *= 1.5
	}
	return cost
}
