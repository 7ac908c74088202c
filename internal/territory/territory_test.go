package territory

import (
	"testing"
	"time"
)

func TestComputeStateDominant(t *testing.T) {
	dom, contested := ComputeState(map[FactionID]float64{
		FactionCrown:   45,
		FactionCompact: 20,
	}, 10.0)
	if dom != FactionCrown {
		t.Fatalf("dominant = %d, want %d", dom, FactionCrown)
	}
	if contested {
		t.Fatal("25-point lead should not be contested")
	}
}

func TestComputeStateContested(t *testing.T) {
	dom, contested := ComputeState(map[FactionID]float64{
		FactionCrown:   45,
		FactionCompact: 40,
	}, 10.0)
	if dom != FactionCrown {
		t.Fatalf("dominant = %d, want %d", dom, FactionCrown)
	}
	if !contested {
		t.Fatal("5-point lead should be contested at gap 10")
	}
}

func TestComputeStateGapBoundary(t *testing.T) {
	// Lead equal to the gap is not contested; the gap is exclusive.
	_, contested := ComputeState(map[FactionID]float64{
		FactionCrown:   50,
		FactionCompact: 40,
	}, 10.0)
	if contested {
		t.Fatal("lead exactly equal to gap should not be contested")
	}
}

func TestComputeStateTieBreaksToLowestID(t *testing.T) {
	dom, contested := ComputeState(map[FactionID]float64{
		FactionAshen:   60,
		FactionCompact: 60,
	}, 10.0)
	if dom != FactionCompact {
		t.Fatalf("tie should resolve to lowest faction id, got %d", dom)
	}
	if !contested {
		t.Fatal("an exact tie is contested by definition")
	}
}

func TestComputeStateNobodyHolds(t *testing.T) {
	for _, influences := range []map[FactionID]float64{
		nil,
		{},
		{FactionCrown: 0, FactionCompact: 0},
	} {
		dom, contested := ComputeState(influences, 10.0)
		if dom != FactionNone {
			t.Fatalf("empty influence should yield FactionNone, got %d", dom)
		}
		if contested {
			t.Fatal("unheld territory should not be contested")
		}
	}
}

func TestClampInfluence(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-5, 0},
		{0, 0},
		{55.5, 55.5},
		{100, 100},
		{130, 100},
	}
	for _, c := range cases {
		if got := ClampInfluence(c.in); got != c.want {
			t.Errorf("ClampInfluence(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func snap(dom FactionID, contested bool, version uint64) Snapshot {
	return Snapshot{
		TerritoryID: 1,
		Dominant:    dom,
		Contested:   contested,
		Version:     version,
		Timestamp:   time.Now().UTC(),
	}
}

func TestDeriveEventsCapture(t *testing.T) {
	events := DeriveEvents(snap(FactionCrown, false, 4), snap(FactionCompact, false, 5))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != EventCapture || ev.Faction != FactionCompact || ev.Version != 5 {
		t.Fatalf("unexpected capture event: %+v", ev)
	}
}

func TestDeriveEventsContestFlip(t *testing.T) {
	events := DeriveEvents(snap(FactionCrown, false, 1), snap(FactionCrown, true, 2))
	if len(events) != 1 || events[0].Kind != EventContestStart {
		t.Fatalf("expected a single contest_start, got %+v", events)
	}

	events = DeriveEvents(snap(FactionCrown, true, 2), snap(FactionCrown, false, 3))
	if len(events) != 1 || events[0].Kind != EventContestEnd {
		t.Fatalf("expected a single contest_end, got %+v", events)
	}
}

func TestDeriveEventsCaptureBeforeContest(t *testing.T) {
	events := DeriveEvents(snap(FactionCrown, false, 7), snap(FactionAshen, true, 8))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != EventCapture || events[1].Kind != EventContestStart {
		t.Fatalf("events out of order: %+v", events)
	}
}

func TestDeriveEventsNoChange(t *testing.T) {
	if events := DeriveEvents(snap(FactionCrown, true, 3), snap(FactionCrown, true, 4)); len(events) != 0 {
		t.Fatalf("version-only change should not emit events, got %+v", events)
	}
}

func TestStanceToward(t *testing.T) {
	factions := SeedFactions()
	crown := factions[FactionCrown]

	if got := crown.StanceToward(FactionCrown); got != StanceSelf {
		t.Errorf("self stance = %d", got)
	}
	if got := crown.StanceToward(FactionBrotherhood); got != StanceAllied {
		t.Errorf("Crown toward Brotherhood = %d, want allied", got)
	}
	if got := crown.StanceToward(FactionAshen); got != StanceHostile {
		t.Errorf("Crown toward Ashen = %d, want hostile", got)
	}
	if got := crown.StanceToward(FactionTidewalkers); got != StanceNeutral {
		t.Errorf("Crown toward Tidewalkers = %d, want neutral", got)
	}
}

func TestSeedFactionsRelationsSymmetric(t *testing.T) {
	factions := SeedFactions()
	if len(factions) != FactionCount {
		t.Fatalf("got %d factions, want %d", len(factions), FactionCount)
	}
	for _, a := range AllFactions() {
		for _, b := range AllFactions() {
			if a == b {
				continue
			}
			if factions[a].Relations[b] != factions[b].Relations[a] {
				t.Errorf("relations asymmetric between %d and %d", a, b)
			}
		}
	}
}

func TestValidFaction(t *testing.T) {
	if ValidFaction(FactionNone) {
		t.Error("FactionNone should not validate")
	}
	if !ValidFaction(FactionCrown) || !ValidFaction(FactionBanner) {
		t.Error("boundary factions should validate")
	}
	if ValidFaction(FactionBanner + 1) {
		t.Error("id past the last faction should not validate")
	}
}
