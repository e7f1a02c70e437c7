package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// TransientError marks an error as safe to retry. Callers that already
// know the failure mode (the dataset fetcher after a 503, the OCR engine
// after a timed-out subprocess) wrap with it so the retry loop does not
// have to guess.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is worth retrying. It understands the
// failure modes of this pipeline's upstreams: the Anthropic and OpenAI
// SDK error types (classified by HTTP status), explicit TransientError
// wraps, network-level faults, and the rate-limit/overload phrasing the
// LLM APIs put in error bodies. A nil error, a malformed-request
// rejection, and a bad API key are all non-transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Anthropic SDK errors carry the HTTP status of the failed request.
	var anthErr *anthropicsdk.Error
	if errors.As(err, &anthErr) {
		return IsTransientHTTPStatus(anthErr.StatusCode)
	}

	// go-openai surfaces API rejections and transport-level failures as
	// two distinct types; both carry the status.
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return IsTransientHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return IsTransientHTTPStatus(reqErr.HTTPStatusCode)
	}

	// A deadline hit mid-call is retryable; the retry loop separately
	// stops once the outer context itself is done.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Last resort: recognize transient phrasing in errors that arrive as
	// opaque strings, from HTTP clients and from LLM error bodies.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"rate_limit_error",
		"overloaded_error",
		"rate limit",
		"overloaded",
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status from an upstream
// API indicates a condition that is safe to retry. 529 is Anthropic's
// non-standard "overloaded" status.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
		529: // Overloaded (Anthropic)
		return true
	default:
		return false
	}
}
