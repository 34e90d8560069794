package llm

import (
	"strings"
	"unicode/utf8"
)

// Stable categories recorded in provider metrics instead of raw provider
// payloads, which can be huge (HTML error pages) or leak request details.
const (
	errCategoryHTML        = "provider returned an HTML error page"
	errCategoryAuth        = "authentication failed"
	errCategoryRateLimited = "rate limited by provider"
	errCategoryTimeout     = "request timed out"
)

// normalizeProviderError reduces a provider failure to a short, stable
// description suitable for metrics and user-facing diagnostics.
func normalizeProviderError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html"):
		return errCategoryHTML
	case strings.Contains(lower, "401") && strings.Contains(lower, "status"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "invalid x-api-key"),
		strings.Contains(lower, "authentication"):
		return errCategoryAuth
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "quota"):
		return errCategoryRateLimited
	case strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "timeout"):
		return errCategoryTimeout
	}

	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
