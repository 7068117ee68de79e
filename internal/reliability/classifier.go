package reliability

import (
	"net/http"
	"time"
)

// IsRetryableHTTPStatus reports whether a provider response is worth another
// attempt: throttling, timeouts and upstream outages.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ExponentialBackoff doubles base once per attempt and never exceeds ceiling.
func ExponentialBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling > 0 && base >= ceiling {
		return ceiling
	}
	d := base
	for ; attempt > 0; attempt-- {
		d *= 2
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
	}
	return d
}
