package provider

import "strings"

// Classify maps an HTTP status code and response body to the fixed error
// taxonomy (transient, permanent, malformed) shared by every adapter,
// rather than leaving each client to inline its own status-code special
// cases.
func Classify(statusCode int, body string) Kind {
	switch {
	case statusCode == 408, statusCode == 429, statusCode >= 500:
		return KindTransient
	case statusCode >= 400:
		return KindPermanent
	}
	if isOverloadSignal(body) {
		return KindTransient
	}
	return KindPermanent
}

// isOverloadSignal recognizes provider-specific overload phrasing that
// doesn't necessarily arrive with a 429 status (e.g. Gemini's
// CONSUMER_SUSPENDED is the opposite — permanent — so it is excluded
// here and handled by IsKeyInvalidError instead).
func isOverloadSignal(body string) bool {
	indicators := []string{
		"rate limit",
		"too many requests",
		"quota exceeded",
		"overloaded",
		"server is busy",
	}
	lower := strings.ToLower(body)
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// IsRateLimitError reports whether err text indicates the active key was
// throttled, the signal the Key Pool uses to cool the key rather than
// quarantine it outright.
func IsRateLimitError(errMsg string) bool {
	indicators := []string{"429", "quota exceeded", "rate limit", "too many requests"}
	lower := strings.ToLower(errMsg)
	for _, ind := range indicators {
		if strings.Contains(lower, strings.ToLower(ind)) {
			return true
		}
	}
	return false
}

// IsKeyInvalidError reports whether err text indicates the key itself is
// bad (unauthorized, suspended) rather than merely rate limited — the Key
// Pool quarantines these for longer.
func IsKeyInvalidError(errMsg string) bool {
	indicators := []string{"401", "403", "unauthorized", "invalid api key", "consumer_suspended", "has been suspended"}
	lower := strings.ToLower(errMsg)
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
