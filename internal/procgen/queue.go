// Package procgen maintains the content-regeneration trigger queue:
// deduplicated jobs enqueued on qualifying territorial events, drained by
// an external worker pool in two priority tiers. Job failures are retried
// with backoff and never block ledger writes or broadcasts.
// See design doc Section 4.5.
package procgen

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/frontline/internal/observability"
	"github.com/talgya/frontline/internal/persistence"
	"github.com/talgya/frontline/internal/territory"
)

// JobStatus is a job's lifecycle state. Succeeded and Failed are
// terminal; the dedup invariant only applies to non-terminal jobs.
type JobStatus uint8

const (
	StatusPending JobStatus = iota
	StatusInFlight
	StatusSucceeded
	StatusFailed
)

// Job is one unit of content-regeneration work.
type Job struct {
	ID          string                `json:"id"`
	TerritoryID territory.TerritoryID `json:"territory_id"`
	FactionID   territory.FactionID   `json:"faction_id"`
	AssetType   territory.AssetType   `json:"asset_type"`
	Priority    int                   `json:"priority"`
	HighTier    bool                  `json:"high_tier"`
	DedupKey    string                `json:"dedup_key"`
	Status      JobStatus             `json:"status"`
	Attempts    int                   `json:"attempts"`
	LastError   string                `json:"last_error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`

	seq   uint64 // FIFO tie-break within a priority level
	index int    // heap bookkeeping
}

// Config tunes queue behavior.
type Config struct {
	// StrategicValueThreshold gates contest-flip events: flips on
	// territories below it do not trigger jobs.
	StrategicValueThreshold int

	// HighPriorityCutoff splits jobs into the high and standard tiers.
	HighPriorityCutoff int

	// MaxAttempts bounds retries before a job is marked Failed.
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

// DefaultConfig returns the standard queue tuning.
func DefaultConfig() Config {
	return Config{
		StrategicValueThreshold: 5,
		HighPriorityCutoff:      8,
		MaxAttempts:             3,
		BackoffBase:             time.Second,
	}
}

type update struct {
	snap   territory.Snapshot
	events []territory.Event
}

// Queue is the deduplicated two-tier priority queue.
type Queue struct {
	mu       sync.Mutex
	high     jobHeap
	standard jobHeap
	open     map[string]*Job // dedup key -> non-terminal job
	byID     map[string]*Job
	nextSeq  uint64

	notify  chan struct{}
	updates chan update
	done    chan struct{}

	defs    map[territory.TerritoryID]*territory.Territory
	db      *persistence.DB
	cfg     Config
	metrics *observability.Collector
}

// NewQueue builds the queue and restores any non-terminal jobs from the
// database. Jobs that were in flight when the process died go back to
// pending.
func NewQueue(db *persistence.DB, defs map[territory.TerritoryID]*territory.Territory, cfg Config, metrics *observability.Collector) (*Queue, error) {
	q := &Queue{
		open:    make(map[string]*Job),
		byID:    make(map[string]*Job),
		notify:  make(chan struct{}, 1),
		updates: make(chan update, 1024),
		done:    make(chan struct{}),
		defs:    defs,
		db:      db,
		cfg:     cfg,
		metrics: metrics,
	}
	heap.Init(&q.high)
	heap.Init(&q.standard)

	recs, err := db.OpenJobs()
	if err != nil {
		return nil, fmt.Errorf("restore jobs: %w", err)
	}
	for _, rec := range recs {
		job := &Job{
			ID:          rec.ID,
			TerritoryID: rec.TerritoryID,
			FactionID:   rec.FactionID,
			AssetType:   rec.AssetType,
			Priority:    rec.Priority,
			HighTier:    rec.HighTier,
			DedupKey:    rec.DedupKey,
			Status:      StatusPending,
			Attempts:    rec.Attempts,
			LastError:   rec.LastError,
		}
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, rec.CreatedAt)
		q.pushLocked(job)
		q.open[job.DedupKey] = job
		q.byID[job.ID] = job
	}
	if len(recs) > 0 {
		slog.Info("restored open procedural jobs", "count", len(recs))
	}

	go q.run()
	return q, nil
}

// Close stops the event-processing goroutine.
func (q *Queue) Close() {
	close(q.done)
}

// TerritoryUpdated receives committed ledger updates. It only stages the
// update for asynchronous processing, so the ledger's write path never
// waits on job bookkeeping. Updates are droppable: the queue is derived
// state and can always be rebuilt from the ledger.
func (q *Queue) TerritoryUpdated(snap territory.Snapshot, events []territory.Event) {
	if len(events) == 0 {
		return
	}
	select {
	case q.updates <- update{snap: snap, events: events}:
	default:
		slog.Warn("trigger queue backlog full, dropping update",
			"territory", snap.TerritoryID, "version", snap.Version)
	}
}

func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case u := <-q.updates:
			for _, ev := range u.events {
				q.handleEvent(ev, u.snap)
			}
		}
	}
}

// handleEvent enqueues jobs for a qualifying territorial event.
func (q *Queue) handleEvent(ev territory.Event, snap territory.Snapshot) {
	def, ok := q.defs[ev.TerritoryID]
	if !ok {
		return
	}

	var assets []territory.AssetType
	switch ev.Kind {
	case territory.EventCapture:
		assets = []territory.AssetType{territory.AssetBanner, territory.AssetStructureSkin}
	case territory.EventContestStart, territory.EventContestEnd:
		if def.StrategicValue < q.cfg.StrategicValueThreshold {
			return
		}
		assets = []territory.AssetType{territory.AssetPropaganda}
	default:
		return
	}

	priority := def.StrategicValue
	if snap.Contested {
		priority += 3
	}
	highTier := priority >= q.cfg.HighPriorityCutoff

	for _, asset := range assets {
		q.enqueue(ev, asset, priority, highTier)
	}
}

func (q *Queue) enqueue(ev territory.Event, asset territory.AssetType, priority int, highTier bool) {
	dedupKey := fmt.Sprintf("%d:%d:%d:%d", ev.TerritoryID, ev.Faction, asset, ev.Version)

	q.mu.Lock()
	if _, exists := q.open[dedupKey]; exists {
		q.mu.Unlock()
		return
	}

	job := &Job{
		ID:          uuid.NewString(),
		TerritoryID: ev.TerritoryID,
		FactionID:   ev.Faction,
		AssetType:   asset,
		Priority:    priority,
		HighTier:    highTier,
		DedupKey:    dedupKey,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	q.pushLocked(job)
	q.open[dedupKey] = job
	q.byID[job.ID] = job
	q.mu.Unlock()

	tier := "standard"
	if highTier {
		tier = "high"
	}
	q.metrics.ObserveJobEnqueued(tier)

	if err := q.db.InsertJob(persistence.JobRecord{
		ID:          job.ID,
		TerritoryID: job.TerritoryID,
		FactionID:   job.FactionID,
		AssetType:   job.AssetType,
		Priority:    job.Priority,
		HighTier:    job.HighTier,
		DedupKey:    job.DedupKey,
		Status:      int(job.Status),
		CreatedAt:   job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   job.CreatedAt.Format(time.RFC3339Nano),
	}); err != nil {
		slog.Error("persist job failed", "job", job.ID, "error", err)
	}

	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pushLocked adds a pending job to its tier's heap. Caller holds q.mu.
func (q *Queue) pushLocked(job *Job) {
	q.nextSeq++
	job.seq = q.nextSeq
	if job.HighTier {
		heap.Push(&q.high, job)
	} else {
		heap.Push(&q.standard, job)
	}
}

// Dequeue returns the next job, draining the high tier before the
// standard tier. It blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		var job *Job
		if q.high.Len() > 0 {
			job = heap.Pop(&q.high).(*Job)
		} else if q.standard.Len() > 0 {
			job = heap.Pop(&q.standard).(*Job)
		}
		if job != nil {
			job.Status = StatusInFlight
			out := *job
			q.mu.Unlock()
			if err := q.db.UpdateJob(job.ID, int(StatusInFlight), job.Attempts, job.LastError); err != nil {
				slog.Error("persist job status failed", "job", job.ID, "error", err)
			}
			return out, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// AckSuccess marks a job done and releases its dedup key.
func (q *Queue) AckSuccess(jobID string) error {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok || job.Status != StatusInFlight {
		q.mu.Unlock()
		return fmt.Errorf("job %s not in flight: %w", jobID, territory.ErrValidation)
	}
	job.Status = StatusSucceeded
	delete(q.open, job.DedupKey)
	delete(q.byID, job.ID)
	q.mu.Unlock()

	return q.db.UpdateJob(jobID, int(StatusSucceeded), job.Attempts, "")
}

// AckFailure records a worker failure. The job retries with exponential
// backoff until the attempt limit, then goes terminal as Failed and is
// left for out-of-band inspection.
func (q *Queue) AckFailure(jobID, reason string) error {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok || job.Status != StatusInFlight {
		q.mu.Unlock()
		return fmt.Errorf("job %s not in flight: %w", jobID, territory.ErrValidation)
	}
	job.Attempts++
	job.LastError = reason

	if job.Attempts >= q.cfg.MaxAttempts {
		job.Status = StatusFailed
		delete(q.open, job.DedupKey)
		delete(q.byID, job.ID)
		q.mu.Unlock()

		q.metrics.ObserveJobFailed()
		slog.Warn("procedural job failed permanently",
			"job", jobID, "territory", job.TerritoryID,
			"asset", territory.AssetTypeName(job.AssetType),
			"attempts", job.Attempts, "reason", reason)
		return q.db.UpdateJob(jobID, int(StatusFailed), job.Attempts, reason)
	}

	backoff := q.cfg.BackoffBase << (job.Attempts - 1)
	q.mu.Unlock()

	if err := q.db.UpdateJob(jobID, int(StatusPending), job.Attempts, reason); err != nil {
		slog.Error("persist job status failed", "job", jobID, "error", err)
	}

	time.AfterFunc(backoff, func() {
		q.mu.Lock()
		// The job stays in byID/open throughout the backoff, so the
		// dedup invariant holds while it waits.
		if job.Status == StatusInFlight {
			job.Status = StatusPending
			q.pushLocked(job)
		}
		q.mu.Unlock()
		q.wake()
	})
	return nil
}

// Depths returns the current pending counts per tier.
func (q *Queue) Depths() (high, standard int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.high.Len(), q.standard.Len()
}
