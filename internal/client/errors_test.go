package client

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/makeasinger/storystudio/internal/model"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   model.Kind
	}{
		{http.StatusTooManyRequests, model.KindRateLimited},
		{http.StatusUnauthorized, model.KindUnauthorized},
		{http.StatusForbidden, model.KindUnauthorized},
		{http.StatusGatewayTimeout, model.KindTimeout},
		{http.StatusServiceUnavailable, model.KindUnavailable},
		{http.StatusBadGateway, model.KindTransient},
		{http.StatusBadRequest, model.KindInvalidRequest},
	}
	for _, tc := range cases {
		err := classifyStatus("test", tc.status, "boom", nil)
		assert.Equal(t, tc.want, err.Kind, "status %d", tc.status)
	}
}

func TestClassifyStatusReadsRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")

	err := classifyStatus("test", http.StatusTooManyRequests, "", h)

	assert.Equal(t, 3*time.Second, err.RetryAfter)
	assert.Equal(t, 3*time.Second, model.RetryAfterOf(err))
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	when := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)

	d := parseRetryAfter(when)

	assert.Greater(t, d, 60*time.Second)
	assert.LessOrEqual(t, d, 90*time.Second)
	assert.Zero(t, parseRetryAfter("soon"))
}
