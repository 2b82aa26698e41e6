package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FailureKind is the semantic class of a provider failure. The governor and
// the cascade react to the kind, never to provider-specific error text.
type FailureKind string

const (
	FailureTransient         FailureKind = "transient"
	FailureRateLimited       FailureKind = "rate-limited"
	FailureQuotaExhausted    FailureKind = "quota-exhausted"
	FailureMalformedResponse FailureKind = "malformed-response"
)

// Failure wraps a provider error with its semantic kind and, for rate
// limits, the delay the API asked for.
type Failure struct {
	Kind       FailureKind
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure from %s: %v", f.Kind, f.Provider, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the failure kind, or "" for non-Failure errors.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Retryable reports whether a failure kind is worth retrying on the same
// provider. Malformed responses at temperature zero are deterministic.
func Retryable(kind FailureKind) bool {
	return kind == FailureTransient || kind == FailureRateLimited
}

// isQuotaError matches daily/billing quota exhaustion as opposed to a
// per-minute rate limit. Per-minute 429s carry a retry delay; daily quota
// errors name the day window or billing. Gemini spells the window with
// underscores (generate_requests_per_model_per_day), so separators are
// normalized before probing.
func isQuotaError(msg string) bool {
	lower := strings.ReplaceAll(strings.ToLower(msg), "_", " ")
	return strings.Contains(lower, "per day") ||
		strings.Contains(lower, "daily") ||
		strings.Contains(lower, "billing") ||
		strings.Contains(lower, "credit balance")
}

// isRateLimitError matches 429-style per-minute throttling.
func isRateLimitError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests")
}

// isServerError matches transient 5xx responses.
func isServerError(msg string) bool {
	for _, code := range []string{"500", "502", "503", "504", "529"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(msg), "overloaded")
}

// classifyError maps an SDK or transport error onto the failure taxonomy.
// Context cancellation passes through untouched so the engine can tell a
// shutdown from a provider fault.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := err.Error()
	kind := FailureTransient
	var retryAfter time.Duration

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FailureTransient
	case isQuotaError(msg):
		kind = FailureQuotaExhausted
	case isRateLimitError(msg):
		kind = FailureRateLimited
		retryAfter = extractRetryDelay(msg)
	case isServerError(msg):
		kind = FailureTransient
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			kind = FailureTransient
		}
	}

	return &Failure{Kind: kind, Provider: provider, RetryAfter: retryAfter, Err: err}
}

// malformed wraps a response-shape violation. Never retried.
func malformed(provider string, err error) error {
	return &Failure{Kind: FailureMalformedResponse, Provider: provider, Err: err}
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// extractRetryDelay parses the API-suggested retry delay out of an error
// message. Returns 0 when the message carries none.
func extractRetryDelay(msg string) time.Duration {
	matches := retryDelayRegex.FindStringSubmatch(msg)
	if len(matches) < 2 {
		return 0
	}
	seconds, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
