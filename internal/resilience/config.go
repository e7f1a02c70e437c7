package resilience

import (
	"time"
)

// ExtractionRetry returns the retry policy for LLM extraction calls.
// Rate limits on the hosted APIs clear on the order of seconds to a
// minute, so the backoff starts at a full second and is allowed to grow
// to a minute before the job is given up to the dead letter queue.
func ExtractionRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// OCRRetry returns the retry policy for OCR. Local engine runs
// (tesseract, pdftotext) fail deterministically on a bad input, so only
// one quick retry is worth it; the hosted Mistral path shares the policy
// because its timeouts are short.
func OCRRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// DownloadRetry returns the retry policy for dataset downloads. External
// dataset hosts are flaky but cheap to re-hit.
func DownloadRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// ProviderBreaker returns the circuit breaker settings for one
// extraction provider or OCR engine. The reset timeout matches the
// minute-scale rate-limit windows of the LLM APIs.
func ProviderBreaker() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      time.Minute,
		HalfOpenMaxProbes: 1,
	}
}
