package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/prospect-cli/internal/ingest"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/persist"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Search metrics (within lookback window). Stale runs are not counted.
	SearchTotal       int     `json:"search_total"`
	SearchComplete    int     `json:"search_complete"`
	SearchPartial     int     `json:"search_partial"`
	SearchInterrupted int     `json:"search_interrupted"`
	SearchFailed      int     `json:"search_failed"`
	SearchFailRate    float64 `json:"search_fail_rate"`
	LeadsIngested     int     `json:"leads_ingested"`

	// Remote backup state.
	Backup persist.BackupStatus `json:"backup"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// BackupSource reports the remote backup status. *persist.Manager
// implements it.
type BackupSource interface {
	Status() persist.BackupStatus
}

type outcomeEntry struct {
	at      time.Time
	outcome model.OutcomeKind
	count   int
}

// Collector records search outcomes in memory and snapshots them together
// with the backup status.
type Collector struct {
	backup BackupSource

	mu       sync.Mutex
	outcomes []outcomeEntry
	maxAge   time.Duration

	nowFunc func() time.Time
}

// NewCollector creates a collector that keeps outcomes for maxAge.
func NewCollector(backup BackupSource, maxAge time.Duration) *Collector {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Collector{backup: backup, maxAge: maxAge, nowFunc: time.Now}
}

// RecordOutcome stores the outcome of a finished search.
func (c *Collector) RecordOutcome(res ingest.Result) {
	if res.Outcome == model.OutcomeStale {
		return
	}
	now := c.nowFunc().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcomeEntry{at: now, outcome: res.Outcome, count: res.Count})
	c.pruneLocked(now)
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(lookbackHours int) *MetricsSnapshot {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	c.mu.Lock()
	c.pruneLocked(now)
	for _, e := range c.outcomes {
		if e.at.Before(cutoff) {
			continue
		}
		snap.SearchTotal++
		snap.LeadsIngested += e.count
		switch e.outcome {
		case model.OutcomeComplete:
			snap.SearchComplete++
		case model.OutcomePartial:
			snap.SearchPartial++
		case model.OutcomeInterrupted:
			snap.SearchInterrupted++
		case model.OutcomeFailed:
			snap.SearchFailed++
		}
	}
	c.mu.Unlock()

	if snap.SearchTotal > 0 {
		snap.SearchFailRate = float64(snap.SearchFailed) / float64(snap.SearchTotal)
	}
	if c.backup != nil {
		snap.Backup = c.backup.Status()
	}
	return snap
}

func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.maxAge)
	i := 0
	for i < len(c.outcomes) && c.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.outcomes = append(c.outcomes[:0], c.outcomes[i:]...)
	}
}
