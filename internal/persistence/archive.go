// History archive export. The influence_history table is append-only and
// never pruned, so operators periodically export it to compressed ndjson
// for offline analysis without touching the live rows.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/frontline/internal/territory"
)

// ArchiveMeta describes one completed history export.
type ArchiveMeta struct {
	Entries   int    `json:"entries"`
	Events    int    `json:"events"`
	File      string `json:"file"`
	CreatedAt string `json:"created_at"`
}

type archivedEvent struct {
	TerritoryID territory.TerritoryID `json:"territory_id"`
	Kind        territory.EventKind   `json:"kind"`
	FactionID   territory.FactionID   `json:"faction_id"`
	Version     uint64                `json:"version"`
	CreatedAt   string                `json:"created_at"`
}

// ArchiveHistory exports all history entries and territorial events to a
// zstd-compressed ndjson file under dir, and writes a meta.json beside it.
func (db *DB) ArchiveHistory(dir string) (ArchiveMeta, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ArchiveMeta{}, err
	}

	name := fmt.Sprintf("history_%s.ndjson.zst", time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return ArchiveMeta{}, err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return ArchiveMeta{}, err
	}
	enc := json.NewEncoder(zw)

	meta := ArchiveMeta{File: name}

	rows, err := db.conn.Queryx(`SELECT territory_id, faction_id, delta, cause,
		actor_id, resulting_version, created_at
		FROM influence_history ORDER BY id`)
	if err != nil {
		zw.Close()
		return ArchiveMeta{}, err
	}
	for rows.Next() {
		var e territory.HistoryEntry
		var created string
		if err := rows.Scan(&e.TerritoryID, &e.FactionID, &e.Delta, &e.Cause,
			&e.ActorID, &e.ResultingVersion, &created); err != nil {
			rows.Close()
			zw.Close()
			return ArchiveMeta{}, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if err := enc.Encode(e); err != nil {
			rows.Close()
			zw.Close()
			return ArchiveMeta{}, err
		}
		meta.Entries++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		zw.Close()
		return ArchiveMeta{}, err
	}

	evRows, err := db.conn.Queryx(`SELECT territory_id, kind, faction_id, version, created_at
		FROM territorial_events ORDER BY id`)
	if err != nil {
		zw.Close()
		return ArchiveMeta{}, err
	}
	for evRows.Next() {
		var ev archivedEvent
		if err := evRows.Scan(&ev.TerritoryID, &ev.Kind, &ev.FactionID, &ev.Version, &ev.CreatedAt); err != nil {
			evRows.Close()
			zw.Close()
			return ArchiveMeta{}, err
		}
		if err := enc.Encode(ev); err != nil {
			evRows.Close()
			zw.Close()
			return ArchiveMeta{}, err
		}
		meta.Events++
	}
	evRows.Close()
	if err := evRows.Err(); err != nil {
		zw.Close()
		return ArchiveMeta{}, err
	}

	if err := zw.Close(); err != nil {
		return ArchiveMeta{}, err
	}

	meta.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}

	return meta, nil
}
