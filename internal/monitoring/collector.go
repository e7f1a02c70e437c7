package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Document metrics (within lookback window).
	DocsTotal      int     `json:"docs_total"`
	DocsCompleted  int     `json:"docs_completed"`
	DocsFailed     int     `json:"docs_failed"`
	DocsPending    int     `json:"docs_pending"`
	DocsProcessing int     `json:"docs_processing"`
	FailRate       float64 `json:"fail_rate"`

	// Latest evaluation macro F1 per provider.
	LatestMacroF1 map[string]float64 `json:"latest_macro_f1,omitempty"`

	// DLQ depth.
	DLQDepth int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers pipeline metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	docs, err := c.store.ListDocuments(ctx, store.DocumentFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list documents")
	}

	snap.DocsTotal = len(docs)
	for _, d := range docs {
		switch d.Status {
		case model.DocumentStatusCompleted:
			snap.DocsCompleted++
		case model.DocumentStatusFailed:
			snap.DocsFailed++
		case model.DocumentStatusPending:
			snap.DocsPending++
		case model.DocumentStatusProcessing:
			snap.DocsProcessing++
		}
	}
	if finished := snap.DocsCompleted + snap.DocsFailed; finished > 0 {
		snap.FailRate = float64(snap.DocsFailed) / float64(finished)
	}

	// Most recent macro F1 per provider.
	runs, err := c.store.ListEvalRuns(ctx, "", 50)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list eval runs")
	}
	if len(runs) > 0 {
		snap.LatestMacroF1 = make(map[string]float64)
		for _, r := range runs {
			// Runs are ordered newest first; keep the first per provider.
			if _, seen := snap.LatestMacroF1[r.Provider]; !seen {
				snap.LatestMacroF1[r.Provider] = r.MacroF1
			}
		}
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount
	DLQDepth.Set(float64(dlqCount))

	return snap, nil
}
