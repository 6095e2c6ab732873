package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordKeyConcurrent tests concurrent RecordKey calls for race conditions.
func TestRecordKeyConcurrent(t *testing.T) {
	us := NewUsageStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				us.RecordKey("borough", "by")
				us.RecordKey("level_0", "level")
				us.RecordReducer("sum")
			}
		}()
	}
	wg.Wait()

	want := int64(numGoroutines * recordsPerGoroutine)
	top := us.TopKeys(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(top))
	}
	for _, s := range top {
		if s.Frequency != want {
			t.Errorf("expected frequency %d for %s, got %d", want, s.Name, s.Frequency)
		}
	}
	reducers := us.TopReducers(10)
	if len(reducers) != 1 || reducers[0].Frequency != want {
		t.Errorf("unexpected reducer stats: %+v", reducers)
	}
}

// TestTopKeysOrdering tests that TopKeys returns results sorted by frequency.
func TestTopKeysOrdering(t *testing.T) {
	us := NewUsageStats(1 * time.Hour)
	for i := 0; i < 10; i++ {
		us.RecordKey("borough", "by")
	}
	for i := 0; i < 5; i++ {
		us.RecordKey("zone", "by")
	}
	for i := 0; i < 20; i++ {
		us.RecordKey("state", "level")
	}

	top := us.TopKeys(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(top))
	}
	if top[0].Name != "state" || top[0].Frequency != 20 {
		t.Errorf("expected state with frequency 20, got %s with %d", top[0].Name, top[0].Frequency)
	}
	if top[1].Name != "borough" || top[1].Frequency != 10 {
		t.Errorf("expected borough with frequency 10, got %s with %d", top[1].Name, top[1].Frequency)
	}
}

// TestRecordKeyTracksSources tests the by/level distribution of a key.
func TestRecordKeyTracksSources(t *testing.T) {
	us := NewUsageStats(1 * time.Hour)
	for i := 0; i < 3; i++ {
		us.RecordKey("borough", "by")
	}
	us.RecordKey("borough", "level")

	top := us.TopKeys(1)
	if top[0].Sources["by"] != 3 || top[0].Sources["level"] != 1 {
		t.Errorf("unexpected sources: %v", top[0].Sources)
	}

	// Returned stats are copies.
	top[0].Sources["by"] = 100
	if again := us.TopKeys(1); again[0].Sources["by"] != 3 {
		t.Errorf("TopKeys leaked internal state")
	}
}

// TestPruneRemovesOldEntries tests that Prune removes entries older than the window.
func TestPruneRemovesOldEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	us := NewUsageStats(time.Minute)
	us.now = func() time.Time { return now }

	us.RecordKey("borough", "by")
	us.RecordReducer("first")

	now = now.Add(30 * time.Second)
	us.RecordKey("zone", "by")

	now = now.Add(45 * time.Second)
	us.Prune()

	top := us.TopKeys(10)
	if len(top) != 1 || top[0].Name != "zone" {
		t.Errorf("expected only zone to survive, got %+v", top)
	}
	if len(us.TopReducers(10)) != 0 {
		t.Errorf("expected reducers pruned")
	}
}

func TestTopEmptyAndLimits(t *testing.T) {
	us := NewUsageStats(1 * time.Hour)
	if top := us.TopKeys(10); len(top) != 0 {
		t.Errorf("expected 0 keys, got %d", len(top))
	}
	us.RecordReducer("sum")
	us.RecordReducer("mean")
	if top := us.TopReducers(100); len(top) != 2 {
		t.Errorf("expected 2 reducers, got %d", len(top))
	}
	if top := us.TopReducers(0); len(top) != 0 {
		t.Errorf("expected 0 reducers for n=0, got %d", len(top))
	}
}
