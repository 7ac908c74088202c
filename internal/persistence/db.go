// Package persistence provides SQLite-based storage for the ledger and
// the procedural job queue. The influence write path runs as a single
// transaction per delta: influence value, version bump, history entry,
// and derived events commit together or not at all.
// See design doc Section 8.3.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/frontline/internal/territory"
)

// DB wraps a SQLite connection for ledger and job storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS territories (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		kind INTEGER NOT NULL,
		strategic_value INTEGER NOT NULL,
		base_route_cost REAL NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS faction_influence (
		territory_id INTEGER NOT NULL,
		faction_id INTEGER NOT NULL,
		influence REAL NOT NULL,
		PRIMARY KEY (territory_id, faction_id)
	);

	CREATE TABLE IF NOT EXISTS influence_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		territory_id INTEGER NOT NULL,
		faction_id INTEGER NOT NULL,
		delta REAL NOT NULL,
		cause TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		resulting_version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS territorial_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		territory_id INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		faction_id INTEGER NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS procedural_jobs (
		id TEXT PRIMARY KEY,
		territory_id INTEGER NOT NULL,
		faction_id INTEGER NOT NULL,
		asset_type INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		high_tier INTEGER NOT NULL,
		dedup_key TEXT NOT NULL,
		status INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_territory ON influence_history(territory_id, resulting_version);
	CREATE INDEX IF NOT EXISTS idx_events_territory ON territorial_events(territory_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON procedural_jobs(status);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SeedTerritories inserts territory definitions at world setup. Existing
// rows are left untouched so a restart keeps versions and influence.
func (db *DB) SeedTerritories(defs []*territory.Territory) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO territories
		(id, name, kind, strategic_value, base_route_cost, version)
		VALUES (?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range defs {
		if _, err := stmt.Exec(t.ID, t.Name, t.Kind, t.StrategicValue, t.BaseRouteCost); err != nil {
			return fmt.Errorf("insert territory %d: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// TerritoryState is one territory's persisted mutable state.
type TerritoryState struct {
	Version    uint64
	Influences map[territory.FactionID]float64
}

// LoadStates reads every territory's version and influence rows.
func (db *DB) LoadStates() (map[territory.TerritoryID]TerritoryState, error) {
	states := make(map[territory.TerritoryID]TerritoryState)

	rows, err := db.conn.Queryx(`SELECT id, version FROM territories`)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id territory.TerritoryID
		var version uint64
		if err := rows.Scan(&id, &version); err != nil {
			return nil, err
		}
		states[id] = TerritoryState{
			Version:    version,
			Influences: make(map[territory.FactionID]float64),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	infRows, err := db.conn.Queryx(`SELECT territory_id, faction_id, influence FROM faction_influence`)
	if err != nil {
		return nil, fmt.Errorf("load influence: %w", err)
	}
	defer infRows.Close()
	for infRows.Next() {
		var tid territory.TerritoryID
		var fid territory.FactionID
		var inf float64
		if err := infRows.Scan(&tid, &fid, &inf); err != nil {
			return nil, err
		}
		if st, ok := states[tid]; ok {
			st.Influences[fid] = inf
		}
	}
	return states, infRows.Err()
}

// CommitDelta persists one applied influence delta as a single atomic
// unit: the new influence value, the territory's new version, the history
// entry, and any derived territorial events.
func (db *DB) CommitDelta(snap territory.Snapshot, entry territory.HistoryEntry, events []territory.Event) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE territories SET version = ? WHERE id = ?`,
		snap.Version, snap.TerritoryID)
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("territory %d: %w", snap.TerritoryID, territory.ErrTerritoryNotFound)
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO faction_influence
		(territory_id, faction_id, influence) VALUES (?, ?, ?)`,
		snap.TerritoryID, entry.FactionID, snap.Influences[entry.FactionID])
	if err != nil {
		return fmt.Errorf("write influence: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO influence_history
		(territory_id, faction_id, delta, cause, actor_id, resulting_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.TerritoryID, entry.FactionID, entry.Delta, entry.Cause,
		entry.ActorID, entry.ResultingVersion, entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	for _, ev := range events {
		_, err = tx.Exec(`INSERT INTO territorial_events
			(territory_id, kind, faction_id, version, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			ev.TerritoryID, ev.Kind, ev.Faction, ev.Version,
			ev.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}

	return tx.Commit()
}

// History returns the most recent history entries for one territory,
// newest first.
func (db *DB) History(id territory.TerritoryID, limit int) ([]territory.HistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.conn.Queryx(`SELECT territory_id, faction_id, delta, cause,
		actor_id, resulting_version, created_at
		FROM influence_history WHERE territory_id = ?
		ORDER BY resulting_version DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []territory.HistoryEntry
	for rows.Next() {
		var e territory.HistoryEntry
		var created string
		if err := rows.Scan(&e.TerritoryID, &e.FactionID, &e.Delta, &e.Cause,
			&e.ActorID, &e.ResultingVersion, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// HistoryCount returns the number of history rows for stats reporting.
func (db *DB) HistoryCount() (int64, error) {
	var n int64
	err := db.conn.Get(&n, `SELECT COUNT(*) FROM influence_history`)
	return n, err
}

// JobRecord is the persisted form of a procedural job.
type JobRecord struct {
	ID          string                `db:"id"`
	TerritoryID territory.TerritoryID `db:"territory_id"`
	FactionID   territory.FactionID   `db:"faction_id"`
	AssetType   territory.AssetType   `db:"asset_type"`
	Priority    int                   `db:"priority"`
	HighTier    bool                  `db:"high_tier"`
	DedupKey    string                `db:"dedup_key"`
	Status      int                   `db:"status"`
	Attempts    int                   `db:"attempts"`
	LastError   string                `db:"last_error"`
	CreatedAt   string                `db:"created_at"`
	UpdatedAt   string                `db:"updated_at"`
}

// InsertJob persists a newly enqueued job.
func (db *DB) InsertJob(rec JobRecord) error {
	_, err := db.conn.NamedExec(`INSERT INTO procedural_jobs
		(id, territory_id, faction_id, asset_type, priority, high_tier,
		 dedup_key, status, attempts, last_error, created_at, updated_at)
		VALUES (:id, :territory_id, :faction_id, :asset_type, :priority, :high_tier,
		 :dedup_key, :status, :attempts, :last_error, :created_at, :updated_at)`, rec)
	return err
}

// UpdateJob records a job's status transition.
func (db *DB) UpdateJob(id string, status, attempts int, lastError string) error {
	_, err := db.conn.Exec(`UPDATE procedural_jobs
		SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		status, attempts, lastError, time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// OpenJobs returns all non-terminal jobs so the queue can be rebuilt on
// restart. Status values below 2 are Pending and InFlight.
func (db *DB) OpenJobs() ([]JobRecord, error) {
	var recs []JobRecord
	err := db.conn.Select(&recs, `SELECT * FROM procedural_jobs WHERE status < 2 ORDER BY created_at`)
	return recs, err
}

// FailedJobs returns terminal failures for out-of-band inspection.
func (db *DB) FailedJobs(limit int) ([]JobRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var recs []JobRecord
	err := db.conn.Select(&recs, `SELECT * FROM procedural_jobs WHERE status = 3 ORDER BY updated_at DESC LIMIT ?`, limit)
	return recs, err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// IsNoRows reports whether err means a lookup found no row.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
