package llm

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a provider failure for retry decisions and client
// reporting.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
	KindAuth        ErrorKind = "auth"
	KindBadRequest  ErrorKind = "bad_request"
	KindUnknown     ErrorKind = "unknown"
)

// ProviderError tags a provider failure with its kind, so callers branch
// on the classification rather than on message substrings.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt might succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUnavailable, KindTimeout:
		return true
	}
	return false
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuth
	case status == 408 || status == 504:
		return KindTimeout
	case status == 503 || status == 502:
		return KindUnavailable
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// saturation markers providers embed in error bodies
var transientMarkers = []string{
	"429", "rate", "limit", "饱和", "too many requests",
	"503", "service unavailable", "timeout",
}

// classifyMessage inspects an error string for transient markers. Used for
// transport errors that carry no status code.
func classifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return KindRateLimited
	case strings.Contains(lower, "503") || strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "connection refused"):
		return KindUnavailable
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return KindUnavailable
		}
	}
	return KindUnknown
}
