package procgen

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/talgya/frontline/internal/persistence"
	"github.com/talgya/frontline/internal/territory"
)

func testDefs() map[territory.TerritoryID]*territory.Territory {
	return map[territory.TerritoryID]*territory.Territory{
		1: {ID: 1, Name: "Ravenhold", Kind: territory.KindControlPoint, StrategicValue: 9, BaseRouteCost: 1.0},
		2: {ID: 2, Name: "Stonemark", Kind: territory.KindDistrict, StrategicValue: 5, BaseRouteCost: 1.0},
		3: {ID: 3, Name: "Fenmoor", Kind: territory.KindDistrict, StrategicValue: 3, BaseRouteCost: 1.0},
	}
}

func testCfg() Config {
	return Config{
		StrategicValueThreshold: 5,
		HighPriorityCutoff:      8,
		MaxAttempts:             3,
		BackoffBase:             time.Millisecond,
	}
}

func newTestQueue(t *testing.T) (*Queue, *persistence.DB) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	q, err := NewQueue(db, testDefs(), testCfg(), nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(q.Close)
	return q, db
}

func captureEvent(tid territory.TerritoryID, faction territory.FactionID, version uint64) (territory.Event, territory.Snapshot) {
	now := time.Now().UTC()
	ev := territory.Event{
		Kind:        territory.EventCapture,
		TerritoryID: tid,
		Faction:     faction,
		Version:     version,
		Timestamp:   now,
	}
	snap := territory.Snapshot{
		TerritoryID: tid,
		Dominant:    faction,
		Version:     version,
		Timestamp:   now,
	}
	return ev, snap
}

func contestEvent(tid territory.TerritoryID, faction territory.FactionID, version uint64) (territory.Event, territory.Snapshot) {
	ev, snap := captureEvent(tid, faction, version)
	ev.Kind = territory.EventContestStart
	snap.Contested = true
	return ev, snap
}

func mustDequeue(t *testing.T, q *Queue) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	return job
}

func TestCaptureEnqueuesBannerAndSkin(t *testing.T) {
	q, _ := newTestQueue(t)

	ev, snap := captureEvent(1, territory.FactionCrown, 3)
	q.handleEvent(ev, snap)

	high, standard := q.Depths()
	if high != 2 || standard != 0 {
		t.Fatalf("depths = %d/%d, want 2 high for a value-9 capture", high, standard)
	}

	seen := make(map[territory.AssetType]bool)
	for i := 0; i < 2; i++ {
		job := mustDequeue(t, q)
		if job.TerritoryID != 1 || job.FactionID != territory.FactionCrown {
			t.Fatalf("job = %+v", job)
		}
		if job.Status != StatusInFlight {
			t.Fatalf("dequeued job status = %d, want in flight", job.Status)
		}
		seen[job.AssetType] = true
	}
	if !seen[territory.AssetBanner] || !seen[territory.AssetStructureSkin] {
		t.Fatalf("capture should regenerate banner and structure skin, got %v", seen)
	}
}

func TestDuplicateEventsCollapse(t *testing.T) {
	q, _ := newTestQueue(t)

	ev, snap := captureEvent(1, territory.FactionCompact, 7)
	q.handleEvent(ev, snap)
	q.handleEvent(ev, snap)
	q.handleEvent(ev, snap)

	high, standard := q.Depths()
	if high+standard != 2 {
		t.Fatalf("depth = %d, duplicates must collapse to 2 jobs", high+standard)
	}
}

func TestConcurrentDuplicateEventsEnqueueOnce(t *testing.T) {
	q, _ := newTestQueue(t)

	ev, snap := contestEvent(1, territory.FactionAshen, 9)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			q.handleEvent(ev, snap)
		}()
	}
	close(start)
	wg.Wait()

	high, standard := q.Depths()
	if high+standard != 1 {
		t.Fatalf("depth = %d, concurrent duplicates must collapse to one job", high+standard)
	}

	job := mustDequeue(t, q)
	q.handleEvent(ev, snap)
	if high, standard := q.Depths(); high+standard != 0 {
		t.Fatalf("in-flight job must still hold the dedup key, depths %d/%d", high, standard)
	}

	if err := q.AckSuccess(job.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	q.handleEvent(ev, snap)
	if high, standard := q.Depths(); high+standard != 1 {
		t.Fatalf("terminal ack must release the dedup key, depths %d/%d", high, standard)
	}
}

func TestContestFlipGatedByStrategicValue(t *testing.T) {
	q, _ := newTestQueue(t)

	ev, snap := contestEvent(3, territory.FactionAshen, 2) // value 3, below threshold
	q.handleEvent(ev, snap)
	if high, standard := q.Depths(); high+standard != 0 {
		t.Fatalf("low-value contest flip should not enqueue, depths %d/%d", high, standard)
	}

	ev, snap = contestEvent(1, territory.FactionAshen, 2) // value 9
	q.handleEvent(ev, snap)
	high, standard := q.Depths()
	if high+standard != 1 {
		t.Fatalf("high-value contest flip should enqueue once, depths %d/%d", high, standard)
	}

	job := mustDequeue(t, q)
	if job.AssetType != territory.AssetPropaganda {
		t.Fatalf("contest flip should regenerate propaganda, got %d", job.AssetType)
	}
	// Contested surcharge: 9 + 3 puts it in the high tier.
	if !job.HighTier || job.Priority != 12 {
		t.Fatalf("job tier/priority = %v/%d", job.HighTier, job.Priority)
	}
}

func TestHighTierDrainsFirst(t *testing.T) {
	q, _ := newTestQueue(t)

	evStd, snapStd := captureEvent(2, territory.FactionCircle, 4) // value 5: standard
	q.handleEvent(evStd, snapStd)
	evHigh, snapHigh := captureEvent(1, territory.FactionCircle, 4) // value 9: high
	q.handleEvent(evHigh, snapHigh)

	for i := 0; i < 2; i++ {
		if job := mustDequeue(t, q); job.TerritoryID != 1 {
			t.Fatalf("dequeue %d drew territory %d before the high tier drained", i, job.TerritoryID)
		}
	}
	for i := 0; i < 2; i++ {
		if job := mustDequeue(t, q); job.TerritoryID != 2 {
			t.Fatalf("standard drain %d drew territory %d", i, job.TerritoryID)
		}
	}
}

func TestPriorityOrderWithinTier(t *testing.T) {
	q, _ := newTestQueue(t)

	evLow, snapLow := captureEvent(3, territory.FactionBanner, 9) // priority 3
	q.handleEvent(evLow, snapLow)
	evMid, snapMid := captureEvent(2, territory.FactionBanner, 9) // priority 5
	q.handleEvent(evMid, snapMid)

	if job := mustDequeue(t, q); job.TerritoryID != 2 {
		t.Fatalf("higher-priority job should pop first, got territory %d", job.TerritoryID)
	}
}

func TestRetryBackoffThenFailed(t *testing.T) {
	q, db := newTestQueue(t)

	ev, snap := contestEvent(1, territory.FactionTidewalkers, 5)
	q.handleEvent(ev, snap)

	var jobID string
	for attempt := 1; attempt <= 3; attempt++ {
		job := mustDequeue(t, q)
		if jobID == "" {
			jobID = job.ID
		} else if job.ID != jobID {
			t.Fatalf("retry produced a different job: %s vs %s", job.ID, jobID)
		}
		if err := q.AckFailure(job.ID, "renderer crashed"); err != nil {
			t.Fatalf("ack failure %d: %v", attempt, err)
		}
	}

	// Third failure is terminal: nothing left to dequeue.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected empty queue after terminal failure, got %v", err)
	}

	failed, err := db.FailedJobs(10)
	if err != nil {
		t.Fatalf("failed jobs: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != jobID || failed[0].Attempts != 3 {
		t.Fatalf("failed jobs = %+v", failed)
	}
	if failed[0].LastError != "renderer crashed" {
		t.Fatalf("last error = %q", failed[0].LastError)
	}

	// Terminal failure releases the dedup key.
	q.handleEvent(ev, snap)
	if high, _ := q.Depths(); high != 1 {
		t.Fatalf("dedup key not released after terminal failure, depth %d", high)
	}
}

func TestAckSuccessReleasesDedup(t *testing.T) {
	q, _ := newTestQueue(t)

	ev, snap := contestEvent(1, territory.FactionCrown, 8)
	q.handleEvent(ev, snap)
	job := mustDequeue(t, q)

	// While in flight the dedup key is still held.
	q.handleEvent(ev, snap)
	if high, standard := q.Depths(); high+standard != 0 {
		t.Fatal("in-flight job should still suppress duplicates")
	}

	if err := q.AckSuccess(job.ID); err != nil {
		t.Fatalf("ack success: %v", err)
	}
	if err := q.AckSuccess(job.ID); !errors.Is(err, territory.ErrValidation) {
		t.Fatalf("double ack: err = %v, want ErrValidation", err)
	}

	q.handleEvent(ev, snap)
	if high, standard := q.Depths(); high+standard != 1 {
		t.Fatal("completed job should release its dedup key")
	}
}

func TestOpenJobsRestoredOnRestart(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	q1, err := NewQueue(db, testDefs(), testCfg(), nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ev, snap := captureEvent(1, territory.FactionCompact, 2)
	q1.handleEvent(ev, snap)

	// One of the two goes in flight; both must come back after restart.
	mustDequeue(t, q1)
	q1.Close()

	q2, err := NewQueue(db, testDefs(), testCfg(), nil)
	if err != nil {
		t.Fatalf("restart queue: %v", err)
	}
	defer q2.Close()

	high, standard := q2.Depths()
	if high+standard != 2 {
		t.Fatalf("restored depth = %d, want 2", high+standard)
	}

	// Restored jobs still dedup against the originating event.
	q2.handleEvent(ev, snap)
	if high, standard = q2.Depths(); high+standard != 2 {
		t.Fatalf("restored jobs lost their dedup keys, depth %d", high+standard)
	}
}

func TestLedgerUpdatesFeedQueueAsync(t *testing.T) {
	q, _ := newTestQueue(t)

	ev, snap := captureEvent(1, territory.FactionAshen, 6)
	q.TerritoryUpdated(snap, []territory.Event{ev})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if high, standard := q.Depths(); high+standard == 2 {
			return
		}
		if time.Now().After(deadline) {
			high, standard := q.Depths()
			t.Fatalf("async update never enqueued, depths %d/%d", high, standard)
		}
		time.Sleep(time.Millisecond)
	}
}
