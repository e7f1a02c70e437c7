package monitoring

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/drift"
	"github.com/sells-group/docintel/internal/model"
)

// DriftRecorder owns one drift detector per provider and bridges
// detector output to Prometheus gauges and webhook alerts. Safe for
// concurrent use by worker goroutines.
type DriftRecorder struct {
	mu        sync.Mutex
	cfg       drift.Config
	detectors map[string]*drift.Detector
	alerter   *Alerter
}

// NewDriftRecorder creates a recorder. alerter may be nil when webhook
// delivery is not configured.
func NewDriftRecorder(cfg drift.Config, alerter *Alerter) *DriftRecorder {
	return &DriftRecorder{
		cfg:       cfg,
		detectors: make(map[string]*drift.Detector),
		alerter:   alerter,
	}
}

// Observe feeds one scored extraction into the provider's detector and
// publishes the updated rolling accuracy. Returns any drift alerts the
// sample triggered.
func (r *DriftRecorder) Observe(ctx context.Context, docID, provider string, predicted *model.Invoice, expected map[string]any) []drift.Alert {
	r.mu.Lock()
	det, ok := r.detectors[provider]
	if !ok {
		det = drift.New(r.cfg)
		r.detectors[provider] = det
	}
	alerts := det.AddSample(docID, provider, predicted, expected)
	stats := det.Stats()
	r.mu.Unlock()

	if stats.RollingAccuracy != nil {
		RollingAccuracy.WithLabelValues(provider).Set(*stats.RollingAccuracy)
	}
	for field, acc := range stats.FieldAccuracy {
		FieldAccuracy.WithLabelValues(provider, field).Set(acc)
	}
	for _, al := range alerts {
		DriftAlertsTotal.WithLabelValues(provider, string(al.Type)).Inc()
		zap.L().Warn("extraction drift detected",
			zap.String("provider", provider),
			zap.String("type", string(al.Type)),
			zap.String("message", al.Message),
		)
	}

	if r.alerter != nil && len(alerts) > 0 {
		r.alerter.SendAlerts(ctx, FromDrift(alerts))
	}
	return alerts
}

// Stats returns the drift stats for one provider.
func (r *DriftRecorder) Stats(provider string) (drift.Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	det, ok := r.detectors[provider]
	if !ok {
		return drift.Stats{}, false
	}
	return det.Stats(), true
}

// AllStats returns drift stats keyed by provider.
func (r *DriftRecorder) AllStats() map[string]drift.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]drift.Stats, len(r.detectors))
	for provider, det := range r.detectors {
		out[provider] = det.Stats()
	}
	return out
}

// SetBaseline fixes the reference accuracy for a provider, creating
// its detector if needed.
func (r *DriftRecorder) SetBaseline(provider string, accuracy float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	det, ok := r.detectors[provider]
	if !ok {
		det = drift.New(r.cfg)
		r.detectors[provider] = det
	}
	det.SetBaseline(accuracy)
}

// Clear resets a provider's sliding window. Returns false when the
// provider has no detector.
func (r *DriftRecorder) Clear(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	det, ok := r.detectors[provider]
	if !ok {
		return false
	}
	det.Clear()
	return true
}
