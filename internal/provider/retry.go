package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
)

// retryConfig is the backoff schedule used by every provider call,
// adapted from the teacher's gcpclient/retry.go (withRetry for Vertex AI
// 429 mitigation) and generalized to any HTTP provider: one initial
// attempt plus two retries after fixed delays of 500ms and 1000ms (each
// capped at a 4s ceiling), 3 attempts in total. The delays carry no
// jitter.
var retryConfig = struct {
	delays  []time.Duration
	ceiling time.Duration
}{
	delays:  []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond},
	ceiling: 4 * time.Second,
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		isRetryableStatus(extractStatus(msg))
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable || code == http.StatusBadGateway
}

func extractStatus(msg string) int {
	// cheap heuristic: our postJSON error strings embed "status %d"
	idx := strings.Index(msg, "status ")
	if idx < 0 {
		return 0
	}
	var code int
	if _, err := fmt.Sscanf(msg[idx+len("status "):], "%d", &code); err != nil {
		return 0
	}
	return code
}

// withRetry executes fn up to len(retryConfig.delays)+1 times, retrying
// only on retryable (rate-limit/5xx) errors. On exhaustion it returns an
// apperr.ProviderTransient so handlers surface §7's taxonomy correctly.
func withRetry[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	if !isRetryableError(err) {
		return result, err
	}

	for i, delay := range retryConfig.delays {
		if delay > retryConfig.ceiling {
			delay = retryConfig.ceiling
		}

		slog.Warn("provider request rate limited, retrying",
			"operation", operation, "attempt", i+2, "delay_ms", delay.Milliseconds(), "error", err.Error())

		select {
		case <-ctx.Done():
			var zero T
			return zero, apperr.ProviderTransient(operation+": context cancelled during retry", ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !isRetryableError(err) {
			return result, err
		}
	}

	var zero T
	slog.Error("provider retries exhausted", "operation", operation, "attempts", len(retryConfig.delays)+1)
	return zero, apperr.ProviderTransient(operation+": retries exhausted", err)
}
