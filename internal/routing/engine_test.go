package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/talgya/frontline/internal/territory"
)

// stubStates is a StateReader with controllable latency for exercising
// the timeout and coalescing paths.
type stubStates struct {
	mu    sync.Mutex
	snaps map[territory.TerritoryID]territory.Snapshot
	gets  map[territory.TerritoryID]int
	delay time.Duration
	gate  chan struct{} // non-nil blocks every Get until closed
}

func newStubStates() *stubStates {
	return &stubStates{
		snaps: make(map[territory.TerritoryID]territory.Snapshot),
		gets:  make(map[territory.TerritoryID]int),
	}
}

func (s *stubStates) Get(id territory.TerritoryID) (territory.Snapshot, bool) {
	s.mu.Lock()
	s.gets[id]++
	snap, ok := s.snaps[id]
	gate := s.gate
	delay := s.delay
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return snap, ok
}

func (s *stubStates) set(id territory.TerritoryID, dom territory.FactionID, version uint64, contested bool) {
	s.mu.Lock()
	s.snaps[id] = territory.Snapshot{
		TerritoryID: id,
		Dominant:    dom,
		Contested:   contested,
		Version:     version,
	}
	s.mu.Unlock()
}

func (s *stubStates) getCount(id territory.TerritoryID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}

func (s *stubStates) setDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// diamondEngine builds a 4-node diamond (1-2-4 and 1-3-4) plus an
// isolated node 5, all with unit base cost.
func diamondEngine(states StateReader, timeout time.Duration) *Engine {
	defs := make(map[territory.TerritoryID]*territory.Territory)
	for id := territory.TerritoryID(1); id <= 5; id++ {
		defs[id] = &territory.Territory{ID: id, Name: "node", BaseRouteCost: 1.0, StrategicValue: 5}
	}
	adj := map[territory.TerritoryID][]territory.TerritoryID{
		1: {2, 3},
		2: {1, 4},
		3: {1, 4},
		4: {2, 3},
	}
	return NewEngine(defs, adj, states, territory.SeedFactions(), timeout, nil)
}

func TestRouteAvoidsHostileGround(t *testing.T) {
	states := newStubStates()
	states.set(2, territory.FactionAshen, 1, false) // hostile to Crown
	states.set(3, territory.FactionCrown, 1, false)
	states.set(4, territory.FactionCrown, 1, false)

	eng := diamondEngine(states, time.Second)
	route, err := eng.ComputeRoute(context.Background(), territory.FactionCrown, 1, 4)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	want := []territory.TerritoryID{1, 3, 4}
	if len(route.Path) != len(want) {
		t.Fatalf("path = %v, want %v", route.Path, want)
	}
	for i := range want {
		if route.Path[i] != want[i] {
			t.Fatalf("path = %v, want %v", route.Path, want)
		}
	}
	// Two friendly unit-cost segments.
	if route.Cost != 2.0 {
		t.Fatalf("cost = %v, want 2.0", route.Cost)
	}
	if route.Stale {
		t.Fatal("fresh computation marked stale")
	}
}

func TestRouteContestedSurcharge(t *testing.T) {
	states := newStubStates()
	states.set(2, territory.FactionCrown, 1, true) // friendly but contested
	states.set(3, territory.FactionCrown, 1, false)
	states.set(4, territory.FactionCrown, 1, false)

	eng := diamondEngine(states, time.Second)
	route, err := eng.ComputeRoute(context.Background(), territory.FactionCrown, 1, 4)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if route.Path[1] != 3 {
		t.Fatalf("route should skirt the contested node, got %v", route.Path)
	}
}

func TestRouteCacheHitAndInvalidation(t *testing.T) {
	states := newStubStates()
	states.set(2, territory.FactionAshen, 1, false)
	states.set(3, territory.FactionCrown, 1, false)
	states.set(4, territory.FactionCrown, 1, false)

	eng := diamondEngine(states, time.Second)
	ctx := context.Background()

	first, err := eng.ComputeRoute(ctx, territory.FactionCrown, 1, 4)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if eng.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", eng.CacheSize())
	}

	second, err := eng.ComputeRoute(ctx, territory.FactionCrown, 1, 4)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !second.ComputedAt.Equal(first.ComputedAt) {
		t.Fatal("unchanged versions should serve the cached route")
	}

	// Flip ownership along the cached path: node 3 turns hostile.
	states.set(3, territory.FactionAshen, 2, false)
	states.set(2, territory.FactionCrown, 2, false)

	third, err := eng.ComputeRoute(ctx, territory.FactionCrown, 1, 4)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if third.Path[1] != 2 {
		t.Fatalf("route not recomputed after version change: %v", third.Path)
	}
	if third.Versions[2] != 2 {
		t.Fatalf("route versions not refreshed: %v", third.Versions)
	}
}

func TestRouteTimeoutServesStale(t *testing.T) {
	states := newStubStates()
	states.set(2, territory.FactionAshen, 1, false)
	states.set(3, territory.FactionCrown, 1, false)
	states.set(4, territory.FactionCrown, 1, false)

	eng := diamondEngine(states, 20*time.Millisecond)
	ctx := context.Background()

	warm, err := eng.ComputeRoute(ctx, territory.FactionCrown, 1, 4)
	if err != nil {
		t.Fatalf("warm compute: %v", err)
	}

	// Invalidate the cached route, then make every state read slower than
	// the engine timeout.
	states.set(4, territory.FactionCrown, 2, false)
	states.setDelay(30 * time.Millisecond)

	route, err := eng.ComputeRoute(ctx, territory.FactionCrown, 1, 4)
	if err != nil {
		t.Fatalf("compute under pressure: %v", err)
	}
	if !route.Stale {
		t.Fatal("timed-out computation should fall back to the stale cached route")
	}
	if len(route.Path) != len(warm.Path) {
		t.Fatalf("stale route differs from the cached one: %v vs %v", route.Path, warm.Path)
	}
}

func TestRouteTimeoutWithoutCacheErrors(t *testing.T) {
	states := newStubStates()
	states.setDelay(30 * time.Millisecond)

	eng := diamondEngine(states, 10*time.Millisecond)
	_, err := eng.ComputeRoute(context.Background(), territory.FactionCrown, 1, 4)
	if !errors.Is(err, territory.ErrRouteTimeout) {
		t.Fatalf("err = %v, want ErrRouteTimeout", err)
	}
}

func TestRouteCoalescesConcurrentRequests(t *testing.T) {
	states := newStubStates()
	states.set(2, territory.FactionAshen, 1, false)
	states.set(3, territory.FactionCrown, 1, false)
	states.set(4, territory.FactionCrown, 1, false)
	gate := make(chan struct{})
	states.mu.Lock()
	states.gate = gate
	states.mu.Unlock()

	eng := diamondEngine(states, time.Second)

	const callers = 8
	var started, finished sync.WaitGroup
	routes := make([]Route, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		started.Add(1)
		finished.Add(1)
		go func(n int) {
			defer finished.Done()
			started.Done()
			routes[n], errs[n] = eng.ComputeRoute(context.Background(), territory.FactionCrown, 1, 4)
		}(i)
	}
	started.Wait()
	time.Sleep(10 * time.Millisecond)
	close(gate)
	finished.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if routes[i].Cost != routes[0].Cost {
			t.Fatalf("caller %d got a different route", i)
		}
	}

	// Node 2 is examined during the search but never sits on the final
	// path, so its read count equals the number of full computations.
	if n := states.getCount(2); n != 1 {
		t.Fatalf("ran %d computations for identical concurrent requests, want 1", n)
	}
}

func TestRouteNoPath(t *testing.T) {
	states := newStubStates()
	eng := diamondEngine(states, time.Second)

	_, err := eng.ComputeRoute(context.Background(), territory.FactionCrown, 1, 5)
	if !errors.Is(err, territory.ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestRouteInputValidation(t *testing.T) {
	states := newStubStates()
	eng := diamondEngine(states, time.Second)
	ctx := context.Background()

	if _, err := eng.ComputeRoute(ctx, territory.FactionNone, 1, 4); !errors.Is(err, territory.ErrFactionNotFound) {
		t.Errorf("faction none: err = %v", err)
	}
	if _, err := eng.ComputeRoute(ctx, territory.FactionCrown, 99, 4); !errors.Is(err, territory.ErrTerritoryNotFound) {
		t.Errorf("unknown src: err = %v", err)
	}
	if _, err := eng.ComputeRoute(ctx, territory.FactionCrown, 1, 99); !errors.Is(err, territory.ErrTerritoryNotFound) {
		t.Errorf("unknown dst: err = %v", err)
	}
}
