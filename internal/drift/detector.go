// Package drift detects extraction accuracy drift in production. A
// Detector keeps a bounded sliding window of recent extraction samples,
// compares rolling accuracy against configured thresholds and an optional
// baseline, and emits typed alerts when conditions are breached.
//
// The detector is pure state plus arithmetic: it performs no I/O and emits
// no metrics itself. Hosts read the returned alerts and stats and push
// them to whatever sink they use (see internal/monitoring). It is not
// internally synchronized; callers in concurrent hosts must serialize
// access to an instance.
package drift

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/docintel/internal/eval"
	"github.com/sells-group/docintel/internal/model"
)

// AlertType classifies a drift alert.
type AlertType string

const (
	// AlertThresholdBreach fires when rolling accuracy falls below the
	// configured floor.
	AlertThresholdBreach AlertType = "threshold_breach"
	// AlertAccuracyDrop fires when rolling accuracy falls too far below a
	// manually-set baseline.
	AlertAccuracyDrop AlertType = "accuracy_drop"
	// AlertVolatility fires when accuracy standard deviation exceeds the
	// configured ceiling.
	AlertVolatility AlertType = "volatility"
	// AlertFieldThresholdBreach fires per monitored field whose rolling
	// accuracy falls below the floor.
	AlertFieldThresholdBreach AlertType = "field_threshold_breach"
)

// volatilityMinSamples is the minimum window occupancy before the
// standard-deviation check is meaningful.
const volatilityMinSamples = 10

// maxAlertLog bounds the retained alert history. The full count is still
// reported in Stats; only the entries are capped, so a long-running
// detector cannot leak memory through its alert log.
const maxAlertLog = 256

// Alert records one triggered drift condition. Immutable once created.
type Alert struct {
	Type         AlertType `json:"type"`
	Provider     string    `json:"provider"`
	Field        string    `json:"field,omitempty"`
	CurrentValue float64   `json:"current_value"`
	Threshold    float64   `json:"threshold"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Sample is one ingested extraction observation.
type Sample struct {
	DocumentID string `json:"document_id"`
	Provider   string `json:"provider"`
	// Predicted holds the monitored fields only, decimals reduced to
	// float64. Drift is a statistical signal, not a ledger.
	Predicted    map[string]any  `json:"predicted"`
	Expected     map[string]any  `json:"expected,omitempty"`
	FieldMatches map[string]bool `json:"field_matches"`
	// OverallAccuracy is the fraction of monitored fields with ground
	// truth available that matched. 0.0 both when everything was wrong
	// and when no ground truth was supplied; the source design does not
	// distinguish the two.
	OverallAccuracy float64   `json:"overall_accuracy"`
	Timestamp       time.Time `json:"timestamp"`
}

// Config controls detection behavior. Zero values are replaced by
// defaults in New.
type Config struct {
	// WindowSize bounds the sliding sample window (FIFO eviction).
	WindowSize int `json:"window_size" yaml:"window_size" mapstructure:"window_size"`
	// MinSamples is the minimum window occupancy before any alert fires.
	MinSamples int `json:"min_samples" yaml:"min_samples" mapstructure:"min_samples"`
	// AccuracyThreshold is the rolling-accuracy floor.
	AccuracyThreshold float64 `json:"accuracy_threshold" yaml:"accuracy_threshold" mapstructure:"accuracy_threshold"`
	// DropThreshold is the maximum tolerated drop below the baseline.
	DropThreshold float64 `json:"drop_threshold" yaml:"drop_threshold" mapstructure:"drop_threshold"`
	// VolatilityThreshold is the maximum tolerated accuracy std dev.
	VolatilityThreshold float64 `json:"volatility_threshold" yaml:"volatility_threshold" mapstructure:"volatility_threshold"`
	// MonitoredFields is the explicit allow-list of tracked fields.
	// Fields outside it are invisible to drift detection.
	MonitoredFields []string `json:"monitored_fields" yaml:"monitored_fields" mapstructure:"monitored_fields"`
}

// DefaultConfig returns the standard monitoring configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:          100,
		MinSamples:          20,
		AccuracyThreshold:   0.80,
		DropThreshold:       0.10,
		VolatilityThreshold: 0.15,
		MonitoredFields: []string{
			model.FieldInvoiceNumber,
			model.FieldInvoiceDate,
			model.FieldSupplierName,
			model.FieldTotalAmount,
		},
	}
}

// Detector tracks extraction accuracy for one logical stream of samples
// (typically one per provider). Single-writer: wrap access in a mutex or
// actor boundary when sharing across goroutines.
type Detector struct {
	cfg      Config
	samples  []Sample
	fieldAcc map[string][]float64
	baseline *float64
	alerts   []Alert
	// alertCount counts every alert ever fired, including entries evicted
	// from the capped log.
	alertCount int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Detector. Zero-valued config fields fall back to
// DefaultConfig.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.AccuracyThreshold == 0 {
		cfg.AccuracyThreshold = def.AccuracyThreshold
	}
	if cfg.DropThreshold == 0 {
		cfg.DropThreshold = def.DropThreshold
	}
	if cfg.VolatilityThreshold == 0 {
		cfg.VolatilityThreshold = def.VolatilityThreshold
	}
	if len(cfg.MonitoredFields) == 0 {
		cfg.MonitoredFields = def.MonitoredFields
	}

	fieldAcc := make(map[string][]float64, len(cfg.MonitoredFields))
	for _, field := range cfg.MonitoredFields {
		fieldAcc[field] = nil
	}

	return &Detector{
		cfg:      cfg,
		fieldAcc: fieldAcc,
		nowFunc:  time.Now,
	}
}

// Config returns the detector's effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// AddSample ingests one extraction and returns any alerts it triggered.
// expected maps field names to ground-truth values; it may be nil when no
// ground truth exists for the document. Monitored fields absent from
// expected (or expected as null) contribute to neither the per-sample
// accuracy denominator nor that field's rolling buffer. Absent ground
// truth means no opinion, not a correct prediction.
func (d *Detector) AddSample(documentID, provider string, predicted *model.Invoice, expected map[string]any) []Alert {
	predictedFields := d.reducePredicted(predicted)

	matches := make(map[string]bool)
	matched := 0
	totalWithTruth := 0

	for _, field := range d.cfg.MonitoredFields {
		expValue, ok := lookupExpected(expected, field)
		if !ok {
			continue
		}

		ok = eval.Match(expValue, predictedFields[field])
		matches[field] = ok
		totalWithTruth++

		outcome := 0.0
		if ok {
			matched++
			outcome = 1.0
		}

		d.fieldAcc[field] = pushBounded(d.fieldAcc[field], outcome, d.cfg.WindowSize)
	}

	accuracy := 0.0
	if totalWithTruth > 0 {
		accuracy = float64(matched) / float64(totalWithTruth)
	}

	sample := Sample{
		DocumentID:      documentID,
		Provider:        provider,
		Predicted:       predictedFields,
		Expected:        expected,
		FieldMatches:    matches,
		OverallAccuracy: accuracy,
		Timestamp:       d.nowFunc(),
	}

	d.samples = pushBounded(d.samples, sample, d.cfg.WindowSize)

	if len(d.samples) < d.cfg.MinSamples {
		// Still calibrating: samples accumulate silently.
		return nil
	}

	return d.check(provider)
}

// check runs the full alert cascade over the current window. All
// applicable conditions fire independently, so one call can return
// several alerts of different types.
func (d *Detector) check(provider string) []Alert {
	accuracies := make([]float64, len(d.samples))
	for i, s := range d.samples {
		accuracies[i] = s.OverallAccuracy
	}

	rolling := mean(accuracies)
	now := d.nowFunc()

	var fired []Alert

	if rolling < d.cfg.AccuracyThreshold {
		fired = append(fired, Alert{
			Type:         AlertThresholdBreach,
			Provider:     provider,
			CurrentValue: rolling,
			Threshold:    d.cfg.AccuracyThreshold,
			Message: fmt.Sprintf("extraction accuracy %.1f%% below threshold %.1f%%",
				rolling*100, d.cfg.AccuracyThreshold*100),
			Timestamp: now,
		})
	}

	if d.baseline != nil {
		if drop := *d.baseline - rolling; drop > d.cfg.DropThreshold {
			fired = append(fired, Alert{
				Type:         AlertAccuracyDrop,
				Provider:     provider,
				CurrentValue: rolling,
				Threshold:    *d.baseline - d.cfg.DropThreshold,
				Message: fmt.Sprintf("accuracy dropped %.1f%% from baseline (%.1f%% -> %.1f%%)",
					drop*100, *d.baseline*100, rolling*100),
				Timestamp: now,
			})
		}
	}

	if len(accuracies) >= volatilityMinSamples {
		if volatility := stdDev(accuracies); volatility > d.cfg.VolatilityThreshold {
			fired = append(fired, Alert{
				Type:         AlertVolatility,
				Provider:     provider,
				CurrentValue: volatility,
				Threshold:    d.cfg.VolatilityThreshold,
				Message:      fmt.Sprintf("high accuracy volatility (std dev %.1f%%)", volatility*100),
				Timestamp:    now,
			})
		}
	}

	for _, field := range d.cfg.MonitoredFields {
		buf := d.fieldAcc[field]
		if len(buf) < d.cfg.MinSamples {
			continue
		}

		if fieldAccuracy := mean(buf); fieldAccuracy < d.cfg.AccuracyThreshold {
			fired = append(fired, Alert{
				Type:         AlertFieldThresholdBreach,
				Provider:     provider,
				Field:        field,
				CurrentValue: fieldAccuracy,
				Threshold:    d.cfg.AccuracyThreshold,
				Message: fmt.Sprintf("field %q accuracy %.1f%% below threshold",
					field, fieldAccuracy*100),
				Timestamp: now,
			})
		}
	}

	d.alertCount += len(fired)
	d.alerts = append(d.alerts, fired...)
	if len(d.alerts) > maxAlertLog {
		d.alerts = d.alerts[len(d.alerts)-maxAlertLog:]
	}

	return fired
}

// Stats is a point-in-time snapshot of detector state.
type Stats struct {
	SampleCount int `json:"sample_count"`
	WindowSize  int `json:"window_size"`
	// RollingAccuracy is nil when the window is empty. A measured zero and
	// "no samples yet" are different answers.
	RollingAccuracy *float64 `json:"rolling_accuracy"`
	// AccuracyStdDev is the sample standard deviation over the window,
	// 0.0 below two samples.
	AccuracyStdDev float64            `json:"accuracy_std_dev"`
	MinAccuracy    float64            `json:"min_accuracy"`
	MaxAccuracy    float64            `json:"max_accuracy"`
	FieldAccuracy  map[string]float64 `json:"field_accuracy"`
	Baseline       *float64           `json:"baseline,omitempty"`
	AlertCount     int                `json:"alert_count"`
	// RecentAlerts holds at most the five newest alerts.
	RecentAlerts []Alert `json:"recent_alerts"`
}

// Stats reports the current window state. AlertCount includes alerts
// already evicted from the log.
func (d *Detector) Stats() Stats {
	accuracies := make([]float64, len(d.samples))
	for i, s := range d.samples {
		accuracies[i] = s.OverallAccuracy
	}

	fieldAccuracy := make(map[string]float64, len(d.cfg.MonitoredFields))
	for _, field := range d.cfg.MonitoredFields {
		fieldAccuracy[field] = mean(d.fieldAcc[field])
	}

	recent := d.alerts
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	recentCopy := make([]Alert, len(recent))
	copy(recentCopy, recent)

	var baseline *float64
	if d.baseline != nil {
		b := *d.baseline
		baseline = &b
	}

	stats := Stats{
		SampleCount:   len(d.samples),
		WindowSize:    d.cfg.WindowSize,
		FieldAccuracy: fieldAccuracy,
		Baseline:      baseline,
		AlertCount:    d.alertCount,
		RecentAlerts:  recentCopy,
	}

	if len(accuracies) > 0 {
		rolling := mean(accuracies)
		stats.RollingAccuracy = &rolling
		stats.AccuracyStdDev = stdDev(accuracies)

		lo, hi := accuracies[0], accuracies[0]
		for _, a := range accuracies[1:] {
			lo = math.Min(lo, a)
			hi = math.Max(hi, a)
		}
		stats.MinAccuracy = lo
		stats.MaxAccuracy = hi
	}

	return stats
}

// SetBaseline records the reference accuracy used by the drop check. The
// value is stored as given; callers pass 0..1.
func (d *Detector) SetBaseline(accuracy float64) {
	d.baseline = &accuracy
}

// Clear empties the window, field buffers, and alert log, returning the
// detector to its calibration state. The baseline survives: clearing
// restarts observation, it does not forget the reference point.
func (d *Detector) Clear() {
	d.samples = nil
	d.alerts = nil
	d.alertCount = 0
	for field := range d.fieldAcc {
		d.fieldAcc[field] = nil
	}
}

// reducePredicted keeps only monitored fields, widening decimals to
// float64 for downstream arithmetic.
func (d *Detector) reducePredicted(predicted *model.Invoice) map[string]any {
	out := make(map[string]any, len(d.cfg.MonitoredFields))
	for _, field := range d.cfg.MonitoredFields {
		v := predicted.Value(field)
		if dec, ok := v.(decimal.Decimal); ok {
			v = dec.InexactFloat64()
		}
		out[field] = v
	}

	return out
}

// lookupExpected returns the ground-truth value for field, reporting
// false when the field is absent or explicitly null.
func lookupExpected(expected map[string]any, field string) (any, bool) {
	if expected == nil {
		return nil, false
	}

	v, ok := expected[field]
	if !ok || v == nil {
		return nil, false
	}

	return v, true
}

// pushBounded appends v and evicts from the front once the buffer exceeds
// size, keeping insertion order.
func pushBounded[T any](buf []T, v T, size int) []T {
	buf = append(buf, v)
	if len(buf) > size {
		buf = buf[len(buf)-size:]
	}

	return buf
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// stdDev is the sample standard deviation (n-1 denominator); 0.0 for
// fewer than two points.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	m := mean(values)

	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(values)-1))
}
