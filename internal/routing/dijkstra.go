// Dijkstra shortest path over the territory adjacency graph, using a
// container/heap priority queue. Versions of every territory read during
// the search are captured so the resulting route can be tagged with the
// exact state it depended on.
package routing

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/talgya/frontline/internal/territory"
)

type pqItem struct {
	id    territory.TerritoryID
	cost  float64
	index int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].cost < pq[j].cost }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// shortestPath computes the cheapest path from src to dst for the given
// faction. The source territory contributes no cost; every subsequent
// segment costs its faction-adjusted traversal price.
func (e *Engine) shortestPath(faction territory.FactionID, src, dst territory.TerritoryID) (Route, error) {
	requester := e.factions[faction]
	if requester == nil {
		return Route{}, fmt.Errorf("faction %d: %w", faction, territory.ErrFactionNotFound)
	}

	dist := map[territory.TerritoryID]float64{src: 0}
	prev := make(map[territory.TerritoryID]territory.TerritoryID)
	seen := make(map[territory.TerritoryID]bool)

	// Versions of every snapshot consulted, captured at read time.
	versions := make(map[territory.TerritoryID]uint64)
	readVersion := func(id territory.TerritoryID) (territory.Snapshot, bool) {
		snap, ok := e.states.Get(id)
		if ok {
			versions[id] = snap.Version
		} else {
			versions[id] = 0
		}
		return snap, ok
	}
	readVersion(src)

	pq := priorityQueue{{id: src, cost: 0}}
	heap.Init(&pq)

	for pq.Len() > 0 {
		cur := heap.Pop(&pq).(*pqItem)
		if seen[cur.id] {
			continue
		}
		seen[cur.id] = true
		if cur.id == dst {
			break
		}

		for _, nid := range e.adj[cur.id] {
			if seen[nid] {
				continue
			}
			def := e.defs[nid]
			if def == nil {
				continue
			}
			snap, haveSnap := readVersion(nid)
			next := cur.cost + e.segmentCost(requester, def, snap, haveSnap)
			if old, ok := dist[nid]; !ok || next < old {
				dist[nid] = next
				prev[nid] = cur.id
				heap.Push(&pq, &pqItem{id: nid, cost: next})
			}
		}
	}

	if !seen[dst] {
		return Route{}, fmt.Errorf("%d -> %d: %w", src, dst, territory.ErrNoRoute)
	}

	// Rebuild the path and keep only the versions it actually traversed.
	var path []territory.TerritoryID
	for at := dst; ; {
		path = append([]territory.TerritoryID{at}, path...)
		if at == src {
			break
		}
		at = prev[at]
	}

	pathVersions := make(map[territory.TerritoryID]uint64, len(path))
	for _, id := range path {
		pathVersions[id] = versions[id]
	}

	return Route{
		Path:       path,
		Cost:       dist[dst],
		Versions:   pathVersions,
		ComputedAt: time.Now().UTC(),
	}, nil
}
