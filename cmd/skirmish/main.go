// Command skirmish load-tests a running frontlined instance: simulated
// clients issue route requests at a human cadence while a separate
// writer applies territorial changes, then latency percentiles are
// reported against the service's frame-budget targets.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type territoryEntry struct {
	ID uint64 `json:"id"`
}

type territoriesResponse struct {
	Territories []territoryEntry `json:"territories"`
}

type latencies struct {
	mu      sync.Mutex
	samples []time.Duration
	errors  int
}

func (l *latencies) add(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

func (l *latencies) fail() {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func (l *latencies) percentile(p float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(l.samples))
	copy(sorted, l.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	addr := flag.String("addr", "http://localhost:8080", "frontlined base URL")
	clients := flag.Int("clients", 120, "number of simulated route clients")
	duration := flag.Duration("duration", 300*time.Second, "test duration")
	deltaEvery := flag.Duration("delta-every", 12*time.Second, "interval between territorial changes")
	adminKey := flag.String("admin-key", os.Getenv("FRONTLINE_ADMIN_KEY"), "bearer token for influence writes")
	seed := flag.Int64("seed", 1, "rng seed")
	flag.Parse()

	httpc := &http.Client{Timeout: 5 * time.Second}

	ids, err := fetchTerritories(httpc, *addr)
	if err != nil {
		slog.Error("failed to list territories", "error", err)
		os.Exit(1)
	}
	if len(ids) < 2 {
		slog.Error("not enough territories to route between", "count", len(ids))
		os.Exit(1)
	}
	slog.Info("starting load", "clients", *clients, "territories", len(ids), "duration", *duration)

	var routeLat latencies
	deadline := time.Now().Add(*duration)
	var wg sync.WaitGroup

	// Route clients: each requests every 5–15s, like a player plotting
	// movement.
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(n)))
			for time.Now().Before(deadline) {
				time.Sleep(time.Duration(5+rng.Intn(11)) * time.Second)

				faction := 1 + rng.Intn(7)
				src := ids[rng.Intn(len(ids))]
				dst := ids[rng.Intn(len(ids))]
				if src == dst {
					continue
				}

				url := fmt.Sprintf("%s/api/v1/route?faction=%d&from=%d&to=%d", *addr, faction, src, dst)
				start := time.Now()
				resp, err := httpc.Get(url)
				if err != nil {
					routeLat.fail()
					continue
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					routeLat.fail()
					continue
				}
				routeLat.add(time.Since(start))
			}
		}(i)
	}

	// Writer: territorial changes at a fixed cadence.
	if *adminKey != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + 10_000))
			for time.Now().Before(deadline) {
				time.Sleep(*deltaEvery)
				body, _ := json.Marshal(map[string]any{
					"territory_id": ids[rng.Intn(len(ids))],
					"faction_id":   1 + rng.Intn(7),
					"delta":        float64(rng.Intn(41) - 10),
					"cause":        "skirmish_load",
					"actor_id":     "skirmish",
				})
				req, _ := http.NewRequest(http.MethodPost, *addr+"/api/v1/influence", bytes.NewReader(body))
				req.Header.Set("Authorization", "Bearer "+*adminKey)
				req.Header.Set("Content-Type", "application/json")
				resp, err := httpc.Do(req)
				if err != nil {
					slog.Warn("influence write failed", "error", err)
					continue
				}
				resp.Body.Close()
			}
		}()
	} else {
		slog.Warn("no admin key, running read-only (no territorial changes)")
	}

	wg.Wait()

	routeLat.mu.Lock()
	count := len(routeLat.samples)
	errs := routeLat.errors
	routeLat.mu.Unlock()

	fmt.Printf("\nroutes completed: %s (errors: %d)\n", humanize.Comma(int64(count)), errs)
	fmt.Printf("route latency p50: %v\n", routeLat.percentile(0.50))
	fmt.Printf("route latency p95: %v (budget 16.67ms compute + network)\n", routeLat.percentile(0.95))
	fmt.Printf("route latency p99: %v\n", routeLat.percentile(0.99))
}

func fetchTerritories(httpc *http.Client, addr string) ([]uint64, error) {
	resp, err := httpc.Get(addr + "/api/v1/territories")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed territoriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(parsed.Territories))
	for _, t := range parsed.Territories {
		ids = append(ids, t.ID)
	}
	return ids, nil
}
