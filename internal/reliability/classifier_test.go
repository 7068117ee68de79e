package reliability

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{http.StatusOK, 400, 401, 404, 422, 501} {
		assert.False(t, IsRetryableHTTPStatus(code), "status %d", code)
	}
}

func TestExponentialBackoff(t *testing.T) {
	base, ceiling := 500*time.Millisecond, 4*time.Second

	assert.Equal(t, base, ExponentialBackoff(0, base, ceiling))
	assert.Equal(t, time.Second, ExponentialBackoff(1, base, ceiling))
	assert.Equal(t, 2*time.Second, ExponentialBackoff(2, base, ceiling))
	assert.Equal(t, ceiling, ExponentialBackoff(10, base, ceiling))
	assert.Equal(t, time.Duration(0), ExponentialBackoff(3, 0, ceiling))
	assert.Equal(t, 8*time.Second, ExponentialBackoff(4, base, 0))
}
