// Package observability provides operability counters for archive runs.
package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ArchiveStats counts what one or more archive executions did. It is safe
// for concurrent use.
type ArchiveStats struct {
	mu          sync.RWMutex
	started     time.Time
	rawDeleted  int64
	rawLoaded   int64
	scanned     int64
	dropped     int64
	dropReasons map[string]int64
	gaps        map[string]*FieldStats
	tables      map[string]*TableStats
	orphans     int64
	noPayload   int64
	skipped     map[string][]string // table → run ids already archived
}

// FieldStats holds extraction gap counts for one field.
type FieldStats struct {
	Field string
	Count int64
	Codes map[string]int64 // gap code → count (e.g., "FIELD_MISSING" → 5)
}

// TableStats holds insert counts for one destination table.
type TableStats struct {
	Table      string
	Attempted  int64
	Inserted   int64
	Duplicates int64
}

// NewArchiveStats creates an empty tracker.
func NewArchiveStats() *ArchiveStats {
	return &ArchiveStats{
		started:     time.Now(),
		dropReasons: make(map[string]int64),
		gaps:        make(map[string]*FieldStats),
		tables:      make(map[string]*TableStats),
		skipped:     make(map[string][]string),
	}
}

// RecordRawDeleted records raw lines removed before a reload.
func (s *ArchiveStats) RecordRawDeleted(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawDeleted += n
}

// RecordRawLoaded records raw lines bulk loaded.
func (s *ArchiveStats) RecordRawLoaded(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawLoaded += n
}

// RecordScanned records a raw line passed through extraction.
func (s *ArchiveStats) RecordScanned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned++
}

// RecordDropped records a line that became neither aggregate nor detail.
func (s *ArchiveStats) RecordDropped(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
	s.dropReasons[reason]++
}

// RecordGap records a field left null during extraction.
func (s *ArchiveStats) RecordGap(field, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, exists := s.gaps[field]
	if !exists {
		stats = &FieldStats{Field: field, Codes: make(map[string]int64)}
		s.gaps[field] = stats
	}
	stats.Count++
	stats.Codes[code]++
}

// RecordInsert records one flushed insert batch. Rows not inserted were
// already present.
func (s *ArchiveStats) RecordInsert(table string, attempted, inserted int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, exists := s.tables[table]
	if !exists {
		stats = &TableStats{Table: table}
		s.tables[table] = stats
	}
	stats.Attempted += attempted
	stats.Inserted += inserted
	stats.Duplicates += attempted - inserted
}

// RecordOrphan records a child row whose aggregate does not exist.
func (s *ArchiveStats) RecordOrphan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans++
}

// RecordNoPayload records an aggregate without a payload to derive a
// response from.
func (s *ArchiveStats) RecordNoPayload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noPayload++
}

// RecordSkippedRunID records a run id whose rows already exist in table.
func (s *ArchiveStats) RecordSkippedRunID(table, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped[table] = append(s.skipped[table], runID)
}

// GetTopGaps returns the n fields with the most gaps, most frequent first.
// Returns copies safe to modify.
func (s *ArchiveStats) GetTopGaps(n int) []FieldStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.gaps) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(s.gaps))
	for _, g := range s.gaps {
		cp := FieldStats{Field: g.Field, Count: g.Count, Codes: make(map[string]int64, len(g.Codes))}
		for code, count := range g.Codes {
			cp.Codes[code] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Table returns the insert counts of one table.
func (s *ArchiveStats) Table(name string) TableStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[name]; ok {
		return *t
	}
	return TableStats{Table: name}
}

// SkippedRunIDs returns the run ids skipped for a table.
func (s *ArchiveStats) SkippedRunIDs(table string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.skipped[table]...)
}

// Summary is a point-in-time copy of the counters.
type Summary struct {
	Elapsed     time.Duration
	RawDeleted  int64
	RawLoaded   int64
	Scanned     int64
	Dropped     int64
	DropReasons map[string]int64
	Orphans     int64
	NoPayload   int64
	Tables      []TableStats
	Skipped     int
}

// Snapshot copies the current counters.
func (s *ArchiveStats) Snapshot() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Elapsed:     time.Since(s.started),
		RawDeleted:  s.rawDeleted,
		RawLoaded:   s.rawLoaded,
		Scanned:     s.scanned,
		Dropped:     s.dropped,
		DropReasons: make(map[string]int64, len(s.dropReasons)),
		Orphans:     s.orphans,
		NoPayload:   s.noPayload,
	}
	for r, n := range s.dropReasons {
		sum.DropReasons[r] = n
	}
	for _, t := range s.tables {
		sum.Tables = append(sum.Tables, *t)
	}
	sort.Slice(sum.Tables, func(i, j int) bool { return sum.Tables[i].Table < sum.Tables[j].Table })
	for _, ids := range s.skipped {
		sum.Skipped += len(ids)
	}
	return sum
}

// String renders the summary as key=value pairs for logging.
func (s Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "raw_deleted=%d raw_loaded=%d scanned=%d dropped=%d orphans=%d no_payload=%d skipped_run_ids=%d",
		s.RawDeleted, s.RawLoaded, s.Scanned, s.Dropped, s.Orphans, s.NoPayload, s.Skipped)
	for _, t := range s.Tables {
		fmt.Fprintf(&sb, " %s.inserted=%d %s.duplicates=%d", t.Table, t.Inserted, t.Table, t.Duplicates)
	}
	fmt.Fprintf(&sb, " elapsed=%s", s.Elapsed.Round(time.Millisecond))
	return sb.String()
}
