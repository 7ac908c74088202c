// Command frontlined runs the territorial control backend: the influence
// ledger, state broadcaster, route engine, and procedural trigger queue.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/talgya/frontline/internal/api"
	"github.com/talgya/frontline/internal/broadcast"
	"github.com/talgya/frontline/internal/config"
	"github.com/talgya/frontline/internal/ledger"
	"github.com/talgya/frontline/internal/observability"
	"github.com/talgya/frontline/internal/persistence"
	"github.com/talgya/frontline/internal/procgen"
	"github.com/talgya/frontline/internal/routing"
	"github.com/talgya/frontline/internal/territory"
	"github.com/talgya/frontline/internal/worldmap"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "frontline.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("bad configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AdminKey == "" {
		slog.Warn("FRONTLINE_ADMIN_KEY not set; influence and archive endpoints will be disabled")
	}

	// ── Metrics ───────────────────────────────────────────────────────
	metrics, err := observability.NewCollector(nil)
	if err != nil {
		slog.Error("metrics registration failed", "error", err)
		os.Exit(1)
	}

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755)
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Territory Map (deterministic from seed) ───────────────────────
	genCfg := worldmap.DefaultGenConfig()
	genCfg.Seed = cfg.WorldSeed
	genCfg.Radius = cfg.WorldRadius

	// The map must line up with whatever territory rows the database
	// already holds, so a previously stored seed wins over the config.
	if v, err := db.GetMeta("world_seed"); err == nil {
		if saved, perr := strconv.ParseInt(v, 10, 64); perr == nil && saved != genCfg.Seed {
			slog.Info("using stored world seed", "seed", saved, "config_seed", genCfg.Seed)
			genCfg.Seed = saved
		}
	} else if !persistence.IsNoRows(err) {
		slog.Error("failed to read world metadata", "error", err)
		os.Exit(1)
	}

	slog.Info("generating territory map...", "seed", genCfg.Seed, "radius", genCfg.Radius)
	world := worldmap.Generate(genCfg)
	if err := db.SaveMeta("world_seed", strconv.FormatInt(world.Seed, 10)); err != nil {
		slog.Warn("failed to store world seed", "error", err)
	}

	kinds := make(map[string]int)
	for _, def := range world.Territories() {
		kinds[territory.KindName(def.Kind)]++
	}
	for kind, count := range kinds {
		slog.Info("territories", "kind", kind, "count", count)
	}

	// ── Ledger ────────────────────────────────────────────────────────
	factions := territory.SeedFactions()
	led, err := ledger.New(db, world.Territories(), factions, cfg.ContestedGap, metrics)
	if err != nil {
		slog.Error("ledger init failed", "error", err)
		os.Exit(1)
	}
	slog.Info("ledger ready",
		"territories", len(led.Definitions()),
		"factions", len(factions),
		"contested", led.ContestedCount(),
	)

	// ── Broadcaster / Route Engine / Trigger Queue ────────────────────
	hub := broadcast.NewHub(metrics)

	routeEngine := routing.NewEngine(
		led.Definitions(), world.Adjacency(), led.Materializer(),
		factions, cfg.RouteTimeout, metrics)

	queueCfg := procgen.DefaultConfig()
	queueCfg.StrategicValueThreshold = cfg.StrategicValueThreshold
	queueCfg.HighPriorityCutoff = cfg.HighPriorityCutoff
	queueCfg.MaxAttempts = cfg.JobMaxAttempts
	queueCfg.BackoffBase = cfg.JobBackoffBase

	queue, err := procgen.NewQueue(db, led.Definitions(), queueCfg, metrics)
	if err != nil {
		slog.Error("trigger queue init failed", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	led.AddListener(hub)
	led.AddListener(queue)

	// ── HTTP API ──────────────────────────────────────────────────────
	server := &api.Server{
		Ledger:     led,
		Routes:     routeEngine,
		Jobs:       queue,
		Hub:        hub,
		DB:         db,
		Metrics:    metrics,
		Addr:       cfg.ListenAddr,
		AdminKey:   cfg.AdminKey,
		ArchiveDir: cfg.ArchiveDir,
	}
	server.Start()

	fmt.Printf("\nFrontline is live: %d territories, %d factions.\n",
		len(led.Definitions()), len(factions))
	fmt.Printf("API: http://localhost%s/api/v1/status\n", cfg.ListenAddr)
	fmt.Println("Serving... (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
}
