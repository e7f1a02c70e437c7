package drift

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docintel/internal/model"
)

func goodInvoice() *model.Invoice {
	return &model.Invoice{
		InvoiceNumber: model.Ptr("INV-100"),
		InvoiceDate:   model.Date(2024, 3, 1),
		SupplierName:  model.Ptr("Acme Corp"),
		TotalAmount:   model.Money("1500.00"),
	}
}

func goodExpected() map[string]any {
	return map[string]any{
		model.FieldInvoiceNumber: "INV-100",
		model.FieldInvoiceDate:   "2024-03-01",
		model.FieldSupplierName:  "Acme Corp",
		model.FieldTotalAmount:   1500.00,
	}
}

// badInvoice mismatches every monitored field.
func badInvoice() *model.Invoice {
	return &model.Invoice{
		InvoiceNumber: model.Ptr("WRONG"),
		SupplierName:  model.Ptr("Globex"),
		TotalAmount:   model.Money("9.99"),
	}
}

func feed(d *Detector, n int, inv *model.Invoice) []Alert {
	var last []Alert
	for i := 0; i < n; i++ {
		last = d.AddSample(fmt.Sprintf("doc-%d", i), "anthropic", inv, goodExpected())
	}
	return last
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{})

	cfg := d.Config()
	assert.Equal(t, 100, cfg.WindowSize)
	assert.Equal(t, 20, cfg.MinSamples)
	assert.InDelta(t, 0.80, cfg.AccuracyThreshold, 1e-9)
	assert.InDelta(t, 0.10, cfg.DropThreshold, 1e-9)
	assert.InDelta(t, 0.15, cfg.VolatilityThreshold, 1e-9)
	assert.Equal(t, []string{
		model.FieldInvoiceNumber,
		model.FieldInvoiceDate,
		model.FieldSupplierName,
		model.FieldTotalAmount,
	}, cfg.MonitoredFields)
}

func TestAddSample_WindowEviction(t *testing.T) {
	d := New(Config{WindowSize: 5, MinSamples: 2})

	feed(d, 8, goodInvoice())

	stats := d.Stats()
	assert.Equal(t, 5, stats.SampleCount)
	assert.Equal(t, "doc-3", d.samples[0].DocumentID, "oldest samples evicted first")
	assert.Equal(t, "doc-7", d.samples[4].DocumentID)

	for _, buf := range d.fieldAcc {
		assert.Len(t, buf, 5, "field buffers share the window bound")
	}
}

func TestAddSample_SilentBelowMinSamples(t *testing.T) {
	d := New(Config{WindowSize: 50, MinSamples: 10})

	for i := 0; i < 9; i++ {
		alerts := d.AddSample(fmt.Sprintf("doc-%d", i), "anthropic", badInvoice(), goodExpected())
		assert.Empty(t, alerts, "no alerts while calibrating")
	}

	alerts := d.AddSample("doc-9", "anthropic", badInvoice(), goodExpected())
	assert.NotEmpty(t, alerts, "min samples reached, bad accuracy must alert")
}

func TestAddSample_ThresholdBreach(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 4, AccuracyThreshold: 0.9})

	feed(d, 3, goodInvoice())
	alerts := d.AddSample("doc-x", "anthropic", badInvoice(), goodExpected())

	require.NotEmpty(t, alerts)
	assert.Equal(t, AlertThresholdBreach, alerts[0].Type)
	assert.Equal(t, "anthropic", alerts[0].Provider)
	assert.InDelta(t, 0.75, alerts[0].CurrentValue, 1e-9)
	assert.InDelta(t, 0.9, alerts[0].Threshold, 1e-9)
	assert.Contains(t, alerts[0].Message, "below threshold")
}

func TestAddSample_AccuracyDropFromBaseline(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 4, AccuracyThreshold: 0.5, DropThreshold: 0.1})
	d.SetBaseline(0.95)

	feed(d, 3, goodInvoice())
	// One total miss drags rolling accuracy to 0.75: above the floor, but
	// 0.20 below the baseline.
	alerts := d.AddSample("doc-x", "anthropic", badInvoice(), goodExpected())

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAccuracyDrop, alerts[0].Type)
	assert.InDelta(t, 0.75, alerts[0].CurrentValue, 1e-9)
	assert.InDelta(t, 0.85, alerts[0].Threshold, 1e-9)
}

func TestAddSample_NoDropAlertWithoutBaseline(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 4, AccuracyThreshold: 0.5, DropThreshold: 0.1})

	feed(d, 3, goodInvoice())
	alerts := d.AddSample("doc-x", "anthropic", badInvoice(), goodExpected())

	for _, a := range alerts {
		assert.NotEqual(t, AlertAccuracyDrop, a.Type)
	}
}

func TestAddSample_Volatility(t *testing.T) {
	d := New(Config{WindowSize: 50, MinSamples: 2, AccuracyThreshold: 0.05, VolatilityThreshold: 0.15})

	// Alternate perfect and zero accuracy: mean 0.5, std dev ~0.5. The
	// volatility check stays quiet until ten samples are in the window.
	sawVolatility := false
	for i := 0; i < 12; i++ {
		inv := goodInvoice()
		if i%2 == 1 {
			inv = badInvoice()
		}
		alerts := d.AddSample(fmt.Sprintf("doc-%d", i), "anthropic", inv, goodExpected())

		for _, a := range alerts {
			if a.Type == AlertVolatility {
				require.GreaterOrEqual(t, i+1, volatilityMinSamples,
					"volatility must not fire before %d samples", volatilityMinSamples)
				sawVolatility = true
				assert.Greater(t, a.CurrentValue, 0.15)
			}
		}
	}
	assert.True(t, sawVolatility)
}

func TestAddSample_FieldThresholdBreach(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 4, AccuracyThreshold: 0.9})

	// invoice_date is always missing while the other fields stay correct,
	// so only that field's rolling accuracy collapses.
	inv := goodInvoice()
	inv.InvoiceDate = nil

	var last []Alert
	for i := 0; i < 4; i++ {
		last = d.AddSample(fmt.Sprintf("doc-%d", i), "anthropic", inv, goodExpected())
	}

	var fieldAlerts []Alert
	for _, a := range last {
		if a.Type == AlertFieldThresholdBreach {
			fieldAlerts = append(fieldAlerts, a)
		}
	}
	require.Len(t, fieldAlerts, 1)
	assert.Equal(t, model.FieldInvoiceDate, fieldAlerts[0].Field)
	assert.InDelta(t, 0.0, fieldAlerts[0].CurrentValue, 1e-9)
}

func TestAddSample_FieldsWithoutTruthExcluded(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 2})

	expected := map[string]any{
		model.FieldInvoiceNumber: "INV-100",
		model.FieldTotalAmount:   nil, // explicit null, same as absent
	}
	d.AddSample("doc-0", "anthropic", goodInvoice(), expected)

	require.Len(t, d.samples, 1)
	s := d.samples[0]
	assert.InDelta(t, 1.0, s.OverallAccuracy, 1e-9,
		"only invoice_number had truth and it matched")
	assert.NotContains(t, s.FieldMatches, model.FieldTotalAmount)
	assert.Empty(t, d.fieldAcc[model.FieldTotalAmount],
		"no buffer entry without ground truth")
}

func TestAddSample_NoGroundTruthIsZeroAccuracy(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 2})

	d.AddSample("doc-0", "anthropic", goodInvoice(), nil)

	require.Len(t, d.samples, 1)
	assert.Zero(t, d.samples[0].OverallAccuracy)
	assert.Empty(t, d.samples[0].FieldMatches)
}

func TestStats(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 2, AccuracyThreshold: 0.9})
	d.SetBaseline(0.95)

	feed(d, 2, goodInvoice())
	feed(d, 2, badInvoice())

	stats := d.Stats()
	assert.Equal(t, 4, stats.SampleCount)
	assert.Equal(t, 20, stats.WindowSize)
	require.NotNil(t, stats.RollingAccuracy)
	assert.InDelta(t, 0.5, *stats.RollingAccuracy, 1e-9)
	// Two perfect and two all-wrong samples: spread is maximal.
	assert.InDelta(t, 0.57735, stats.AccuracyStdDev, 1e-4)
	assert.Zero(t, stats.MinAccuracy)
	assert.Equal(t, 1.0, stats.MaxAccuracy)
	assert.InDelta(t, 0.5, stats.FieldAccuracy[model.FieldInvoiceNumber], 1e-9)
	require.NotNil(t, stats.Baseline)
	assert.InDelta(t, 0.95, *stats.Baseline, 1e-9)
	assert.Positive(t, stats.AlertCount)
	assert.NotEmpty(t, stats.RecentAlerts)
	assert.LessOrEqual(t, len(stats.RecentAlerts), 5)
}

func TestStats_EmptyWindow(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 2})

	stats := d.Stats()
	assert.Zero(t, stats.SampleCount)
	assert.Nil(t, stats.RollingAccuracy, "accuracy is unknown, not zero, before the first sample")
	assert.Zero(t, stats.AccuracyStdDev)
	assert.Zero(t, stats.MinAccuracy)
	assert.Zero(t, stats.MaxAccuracy)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	val, present := decoded["rolling_accuracy"]
	require.True(t, present)
	assert.Nil(t, val)
	assert.Contains(t, decoded, "accuracy_std_dev")
	assert.Contains(t, decoded, "min_accuracy")
	assert.Contains(t, decoded, "max_accuracy")
}

func TestStats_SingleSampleStdDevIsZero(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 2})

	d.AddSample("doc-0", "anthropic", goodInvoice(), goodExpected())

	stats := d.Stats()
	require.NotNil(t, stats.RollingAccuracy)
	assert.Equal(t, 1.0, *stats.RollingAccuracy)
	assert.Zero(t, stats.AccuracyStdDev, "one point has no spread")
	assert.Equal(t, 1.0, stats.MinAccuracy)
	assert.Equal(t, 1.0, stats.MaxAccuracy)
}

func TestStats_RecentAlertsCappedAtFive(t *testing.T) {
	d := New(Config{WindowSize: 50, MinSamples: 2, AccuracyThreshold: 0.99})

	feed(d, 10, badInvoice())

	stats := d.Stats()
	assert.Len(t, stats.RecentAlerts, 5)
	assert.Greater(t, stats.AlertCount, 5)
}

func TestAlertLogCap(t *testing.T) {
	d := New(Config{WindowSize: 10, MinSamples: 1, AccuracyThreshold: 0.99})

	// Every sample past calibration fires at least five alerts (overall
	// plus four field breaches), so the log saturates quickly.
	feed(d, 100, badInvoice())

	assert.LessOrEqual(t, len(d.alerts), maxAlertLog)
	assert.Greater(t, d.alertCount, maxAlertLog, "total count keeps growing past the cap")
	assert.Equal(t, d.alertCount, d.Stats().AlertCount)
}

func TestClear_PreservesBaseline(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 2, AccuracyThreshold: 0.9})
	d.SetBaseline(0.9)
	feed(d, 5, badInvoice())

	d.Clear()

	stats := d.Stats()
	assert.Zero(t, stats.SampleCount)
	assert.Zero(t, stats.AlertCount)
	assert.Empty(t, stats.RecentAlerts)
	assert.Nil(t, stats.RollingAccuracy, "cleared window has no accuracy estimate")
	require.NotNil(t, stats.Baseline, "baseline survives a clear")
	assert.InDelta(t, 0.9, *stats.Baseline, 1e-9)

	// Window restarts in calibration mode.
	alerts := d.AddSample("doc-after", "anthropic", badInvoice(), goodExpected())
	assert.Empty(t, alerts)
}

func TestStdDev(t *testing.T) {
	assert.Zero(t, stdDev(nil))
	assert.Zero(t, stdDev([]float64{0.5}))
	assert.InDelta(t, 0.7071, stdDev([]float64{0, 1}), 1e-4)
	assert.Zero(t, stdDev([]float64{0.8, 0.8, 0.8}))
}
