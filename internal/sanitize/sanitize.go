// Package sanitize scrubs provider and infrastructure detail out of error
// messages before they reach API clients. Raw errors stay in logs.
package sanitize

import (
	"regexp"
	"strings"
)

// GenericMessage replaces anything too revealing to show a client.
const GenericMessage = "An internal error occurred. Please try again."

const maxMessageLen = 200

var (
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	apiKeyPattern = regexp.MustCompile(`(?i)api[_-]?key[=:]\s*\S+`)
	skKeyPattern  = regexp.MustCompile(`sk-\S+`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+\S+`)
)

// providerBrands are vendor names that must never leak into client-facing
// messages, matched case-insensitively.
var providerBrands = []string{
	"gemini",
	"google",
	"jina",
	"voyage",
	"bge",
	"cohere",
	"openai",
	"anthropic",
	"claude",
}

var stackHints = []string{
	"traceback",
	"stack",
	"exception",
	"panic",
	"goroutine",
	"raise",
}

// Message returns a client-safe rendering of msg. Provider brand names and
// stack traces collapse to GenericMessage; URLs and credentials are redacted
// in place.
func Message(msg string) string {
	if msg == "" {
		return GenericMessage
	}

	lower := strings.ToLower(msg)
	for _, brand := range providerBrands {
		if strings.Contains(lower, brand) {
			return GenericMessage
		}
	}
	for _, hint := range stackHints {
		if strings.Contains(lower, hint) {
			return GenericMessage
		}
	}

	cleaned := urlPattern.ReplaceAllString(msg, "[URL_REMOVED]")
	cleaned = apiKeyPattern.ReplaceAllString(cleaned, "[API_KEY_REMOVED]")
	cleaned = skKeyPattern.ReplaceAllString(cleaned, "[API_KEY_REMOVED]")
	cleaned = bearerPattern.ReplaceAllString(cleaned, "[API_KEY_REMOVED]")

	if len(cleaned) > maxMessageLen {
		return GenericMessage
	}

	return cleaned
}

// Error is a convenience wrapper over Message for error values.
func Error(err error) string {
	if err == nil {
		return GenericMessage
	}
	return Message(err.Error())
}
