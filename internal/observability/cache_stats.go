// Package observability tracks cache activity: which attributes groups are
// queried by, how many writes the short-lived caches short-circuited, and
// bulk ingest counters.
package observability

import (
	"sort"
	"sync"
	"time"
)

// CacheStats tracks drawable-cache activity. All methods are O(1) and
// thread-safe; the tracker is instance-owned, one per cache.
type CacheStats struct {
	mu            sync.RWMutex
	attributeFreq map[string]*AttributeStats
	window        time.Duration

	upserts         int64
	removes         int64
	seenWrites      int64
	seenSkips       int64
	groupWrites     int64
	groupWriteSkips int64
}

// AttributeStats holds group-query statistics for one attribute kind.
type AttributeStats struct {
	Attribute string
	Frequency int64
	LastSeen  time.Time
}

// Counters is a point-in-time snapshot of the write counters.
type Counters struct {
	Upserts         int64
	Removes         int64
	SeenWrites      int64
	SeenSkips       int64
	GroupWrites     int64
	GroupWriteSkips int64
}

// NewCacheStats creates a tracker. window bounds how long idle attribute
// entries are retained by Prune.
func NewCacheStats(window time.Duration) *CacheStats {
	return &CacheStats{
		attributeFreq: make(map[string]*AttributeStats),
		window:        window,
	}
}

// RecordGroupQuery records an ids-in-group lookup for an attribute kind.
func (s *CacheStats) RecordGroupQuery(attribute string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, exists := s.attributeFreq[attribute]
	if !exists {
		stats = &AttributeStats{Attribute: attribute}
		s.attributeFreq[attribute] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
}

// RecordUpsert counts one file upsert.
func (s *CacheStats) RecordUpsert() { s.add(&s.upserts) }

// RecordRemove counts one file removal.
func (s *CacheStats) RecordRemove() { s.add(&s.removes) }

// RecordSeenWrite counts a seen-state write that reached the shared store.
func (s *CacheStats) RecordSeenWrite() { s.add(&s.seenWrites) }

// RecordSeenSkip counts a seen-state write skipped by the cache fast path.
func (s *CacheStats) RecordSeenSkip() { s.add(&s.seenSkips) }

// RecordGroupWrite counts a group row write that reached the shared store.
func (s *CacheStats) RecordGroupWrite() { s.add(&s.groupWrites) }

// RecordGroupWriteSkip counts a group write avoided by the existence cache.
func (s *CacheStats) RecordGroupWriteSkip() { s.add(&s.groupWriteSkips) }

func (s *CacheStats) add(field *int64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Snapshot returns the current write counters.
func (s *CacheStats) Snapshot() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counters{
		Upserts:         s.upserts,
		Removes:         s.removes,
		SeenWrites:      s.seenWrites,
		SeenSkips:       s.seenSkips,
		GroupWrites:     s.groupWrites,
		GroupWriteSkips: s.groupWriteSkips,
	}
}

// TopAttributes returns the n most queried attribute kinds, by frequency
// descending. The returned slice is a copy.
func (s *CacheStats) TopAttributes(n int) []AttributeStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.attributeFreq) == 0 {
		return []AttributeStats{}
	}

	stats := make([]AttributeStats, 0, len(s.attributeFreq))
	for _, a := range s.attributeFreq {
		stats = append(stats, *a)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Frequency > stats[j].Frequency
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes attribute entries idle for longer than the window. Call
// periodically from the host's housekeeping task.
func (s *CacheStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for attr, stats := range s.attributeFreq {
		if stats.LastSeen.Before(threshold) {
			delete(s.attributeFreq, attr)
		}
	}
}
