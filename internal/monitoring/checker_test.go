package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/docintel/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	st := &mockStore{}
	collector := NewCollector(st)
	alerter := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
	})
	checker := NewChecker(collector, alerter, time.Second, 24)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let the startup check run, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Run returned.
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_Defaults(t *testing.T) {
	st := &mockStore{}
	collector := NewCollector(st)
	alerter := NewAlerter(config.MonitoringConfig{})

	checker := NewChecker(collector, alerter, 0, 0)
	assert.Equal(t, 5*time.Minute, checker.interval)
	assert.Equal(t, 24, checker.lookback)
}

func TestChecker_ChecksOnceAtStartup(t *testing.T) {
	st := &mockStore{}
	collector := NewCollector(st)
	alerter := NewAlerter(config.MonitoringConfig{})
	checker := NewChecker(collector, alerter, time.Hour, 24)

	// A canceled context still lets the startup check run before the
	// tick loop exits.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)

	assert.Equal(t, 1, st.listDocumentsCalls)
}
