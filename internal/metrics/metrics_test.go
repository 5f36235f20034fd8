package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {299, "2xx"}, {301, "3xx"}, {404, "4xx"}, {429, "4xx"}, {500, "5xx"}, {0, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusLabel(tt.code), "code %d", tt.code)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("validator", 200)
		m.ObserveRateLimited("validator")
		m.ObserveRows("owners", 1, 1)
		m.ObserveJob("owners", time.Second, nil)
		m.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)
	})
}

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("validator", 200)
	m.ObserveRequest("validator", 429)
	m.ObserveRateLimited("validator")
	m.ObserveRows("validators", 5, 1)
	m.ObserveJob("validators", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("validator", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("validator")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RowsWritten.WithLabelValues("validators")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowErrors.WithLabelValues("validators")))
	assert.Zero(t, testutil.ToFloat64(m.LastSuccess.WithLabelValues("validators")), "no stamp after a failure")

	m.ObserveJob("validators", time.Second, nil)
	assert.NotZero(t, testutil.ToFloat64(m.LastSuccess.WithLabelValues("validators")), "stamped after success")
}
