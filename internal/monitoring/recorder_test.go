package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/drift"
	"github.com/sells-group/docintel/internal/model"
)

func driftTestConfig() drift.Config {
	return drift.Config{
		WindowSize:          10,
		MinSamples:          2,
		AccuracyThreshold:   0.9,
		DropThreshold:       0.1,
		VolatilityThreshold: 0.5,
		MonitoredFields:     []string{"invoice_number"},
	}
}

func matchingSample() (*model.Invoice, map[string]any) {
	inv := &model.Invoice{InvoiceNumber: model.Ptr("INV-001")}
	return inv, map[string]any{"invoice_number": "INV-001"}
}

func mismatchedSample() (*model.Invoice, map[string]any) {
	inv := &model.Invoice{InvoiceNumber: model.Ptr("WRONG")}
	return inv, map[string]any{"invoice_number": "INV-001"}
}

func TestDriftRecorder_PerProviderDetectors(t *testing.T) {
	r := NewDriftRecorder(driftTestConfig(), nil)
	ctx := context.Background()

	inv, expected := matchingSample()
	r.Observe(ctx, "doc-1", "anthropic", inv, expected)
	r.Observe(ctx, "doc-2", "openai", inv, expected)

	all := r.AllStats()
	require.Len(t, all, 2)
	assert.Equal(t, 1, all["anthropic"].SampleCount)
	assert.Equal(t, 1, all["openai"].SampleCount)

	stats, ok := r.Stats("anthropic")
	require.True(t, ok)
	require.NotNil(t, stats.RollingAccuracy)
	assert.Equal(t, 1.0, *stats.RollingAccuracy)

	_, ok = r.Stats("unknown")
	assert.False(t, ok)
}

func TestDriftRecorder_ForwardsAlertsToWebhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	alerter := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	r := NewDriftRecorder(driftTestConfig(), alerter)
	ctx := context.Background()

	inv, expected := mismatchedSample()
	var alerts []drift.Alert
	for i := 0; i < 3; i++ {
		alerts = r.Observe(ctx, "doc-bad", "anthropic", inv, expected)
	}

	require.NotEmpty(t, alerts)
	assert.Positive(t, received.Load())
}

func TestDriftRecorder_SetBaselineAndClear(t *testing.T) {
	r := NewDriftRecorder(driftTestConfig(), nil)

	r.SetBaseline("anthropic", 0.95)
	stats, ok := r.Stats("anthropic")
	require.True(t, ok)
	require.NotNil(t, stats.Baseline)
	assert.Equal(t, 0.95, *stats.Baseline)

	inv, expected := matchingSample()
	r.Observe(context.Background(), "doc-1", "anthropic", inv, expected)

	assert.True(t, r.Clear("anthropic"))
	stats, ok = r.Stats("anthropic")
	require.True(t, ok)
	assert.Zero(t, stats.SampleCount)
	// Baseline survives a window reset.
	require.NotNil(t, stats.Baseline)

	assert.False(t, r.Clear("never-seen"))
}
