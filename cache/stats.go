package cache

import "time"

// Stats is a point-in-time view of cumulative cache counters.
// Counters are maintained on padded atomics; MemoryUsage and EntryCount are
// read under the cache lock. HitRate and AvgAccessTime are derived, so the
// snapshot is eventually accurate rather than transactional.
type Stats struct {
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	Evictions     int64         `json:"evictions"`
	TotalRequests int64         `json:"total_requests"`
	HitRate       float64       `json:"hit_rate"`
	MemoryUsage   int64         `json:"memory_usage"`
	EntryCount    int           `json:"entry_count"`
	AvgAccessTime time.Duration `json:"avg_access_time"`
}

// merge folds other into s, recomputing the derived fields.
// Used by the distributed layer to aggregate per-node stats.
func (s *Stats) merge(other Stats) {
	s.Hits += other.Hits
	s.Misses += other.Misses
	s.Evictions += other.Evictions
	s.MemoryUsage += other.MemoryUsage
	s.EntryCount += other.EntryCount

	// Weighted average of per-node access times.
	total := s.TotalRequests + other.TotalRequests
	if total > 0 {
		s.AvgAccessTime = time.Duration(
			(int64(s.AvgAccessTime)*s.TotalRequests + int64(other.AvgAccessTime)*other.TotalRequests) / total,
		)
	}
	s.TotalRequests = total
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}

// Merge returns the combination of a and b. Exported for callers that
// aggregate stats across several cache instances.
func Merge(a, b Stats) Stats {
	out := a
	out.merge(b)
	return out
}
