package resilience

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotisserie/eris"
)

// fastRetry keeps backoff out of test wall time.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoVal_RecoversFromRateLimit(t *testing.T) {
	calls := 0
	inv, err := DoVal(context.Background(), fastRetry(4), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached"}
		}
		return `{"invoice_number":"INV-1"}`, nil
	})

	require.NoError(t, err)
	assert.Equal(t, `{"invoice_number":"INV-1"}`, inv)
	assert.Equal(t, 3, calls, "two rate-limited attempts, then success")
}

func TestDoVal_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(ctx context.Context) (string, error) {
		calls++
		return "", eris.New("extract: decode invoice: invalid character '<'")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "a malformed response never heals on retry")
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(eris.New("upstream 503"), 503)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "503")
}

func TestDoVal_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := fastRetry(10)
	cfg.InitialBackoff = 50 * time.Millisecond
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", NewTransientError(eris.New("transient"), 503)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "no further attempts after cancellation")
}

func TestDo_DelegatesToRetryLoop(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return NewTransientError(eris.New("flaky"), 500)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoVal_OnRetryObservesEachBackoff(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	_, _ = DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		return "", NewTransientError(eris.New("flaky"), 502)
	})

	assert.Equal(t, []int{1, 2}, attempts, "no callback after the final attempt")
}

func TestDoVal_ShouldRetryOverride(t *testing.T) {
	calls := 0
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(err error) bool { return false }

	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		return "", NewTransientError(eris.New("would normally retry"), 503)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0, // deterministic
	}.withDefaults()

	assert.Equal(t, time.Second, cfg.backoffFor(0))
	assert.Equal(t, 2*time.Second, cfg.backoffFor(1))
	assert.Equal(t, 16*time.Second, cfg.backoffFor(4))
	assert.Equal(t, time.Minute, cfg.backoffFor(10), "capped at MaxBackoff")
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}

	for i := 0; i < 100; i++ {
		d := cfg.backoffFor(0)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestWithDefaults_FillsZeroValues(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 2.0, cfg.Multiplier, 1e-9)
}

func TestStagePresets(t *testing.T) {
	extraction := ExtractionRetry()
	assert.Equal(t, 4, extraction.MaxAttempts)
	assert.Equal(t, time.Minute, extraction.MaxBackoff, "extraction waits out rate-limit windows")

	ocr := OCRRetry()
	assert.Equal(t, 2, ocr.MaxAttempts, "local engine failures are deterministic")
	assert.Less(t, ocr.MaxBackoff, extraction.MaxBackoff)

	download := DownloadRetry()
	assert.Equal(t, 3, download.MaxAttempts)
}

func TestRetryLogger(t *testing.T) {
	logger := RetryLogger("anthropic", "extract")
	assert.NotPanics(t, func() {
		logger(1, eris.New("overloaded"))
	})
}
