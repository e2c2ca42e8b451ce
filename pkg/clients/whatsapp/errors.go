package whatsapp

import (
	"errors"
	"fmt"
	"time"
)

// ProviderError represents a non-2xx response from the Cloud API, carrying the
// provider's own error code and message.
type ProviderError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("whatsapp api error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

// RateLimitError signals an HTTP 429 with the provider's retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// IsRateLimit reports whether err is (or wraps) a rate-limit error.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
