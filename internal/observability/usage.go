package observability

import (
	"sort"
	"sync"
	"time"
)

// UsageStats tracks which grouping keys and reducers requests use, so
// operators can see the dominant workloads.
type UsageStats struct {
	mu       sync.RWMutex
	keys     map[string]*KeyStats
	reducers map[string]*KeyStats
	window   time.Duration
	now      func() time.Time
}

// KeyStats holds usage counts for a key column or a reducer.
type KeyStats struct {
	Name      string         `json:"name"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Sources   map[string]int `json:"sources,omitempty"` // "by" / "level" -> count
}

// NewUsageStats creates a tracker that forgets entries unused for window.
func NewUsageStats(window time.Duration) *UsageStats {
	return &UsageStats{
		keys:     make(map[string]*KeyStats),
		reducers: make(map[string]*KeyStats),
		window:   window,
		now:      time.Now,
	}
}

// RecordKey records one use of a grouping key. source tells whether the
// key named a column ("by") or an index level ("level").
func (u *UsageStats) RecordKey(name, source string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := record(u.keys, name, u.now())
	s.Sources[source]++
}

// RecordReducer records one use of a reducer.
func (u *UsageStats) RecordReducer(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	record(u.reducers, name, u.now())
}

func record(m map[string]*KeyStats, name string, now time.Time) *KeyStats {
	s, ok := m[name]
	if !ok {
		s = &KeyStats{Name: name, Sources: make(map[string]int)}
		m[name] = s
	}
	s.Frequency++
	s.LastSeen = now
	return s
}

// TopKeys returns the n most used grouping keys, most used first.
func (u *UsageStats) TopKeys(n int) []KeyStats {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return top(u.keys, n)
}

// TopReducers returns the n most used reducers, most used first.
func (u *UsageStats) TopReducers(n int) []KeyStats {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return top(u.reducers, n)
}

func top(m map[string]*KeyStats, n int) []KeyStats {
	if n <= 0 || len(m) == 0 {
		return []KeyStats{}
	}
	stats := make([]KeyStats, 0, len(m))
	for _, s := range m {
		cp := *s
		cp.Sources = make(map[string]int, len(s.Sources))
		for k, v := range s.Sources {
			cp.Sources[k] = v
		}
		stats = append(stats, cp)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Name < stats[j].Name
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries not seen within the window.
func (u *UsageStats) Prune() {
	u.mu.Lock()
	defer u.mu.Unlock()

	threshold := u.now().Add(-u.window)
	for name, s := range u.keys {
		if s.LastSeen.Before(threshold) {
			delete(u.keys, name)
		}
	}
	for name, s := range u.reducers {
		if s.LastSeen.Before(threshold) {
			delete(u.reducers, name)
		}
	}
}
