// Package metrics holds the Prometheus collectors shared by the harvester.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Requests      *prometheus.CounterVec
	RateLimited   *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	RowErrors     *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	LastSuccess   *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg (if non-nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "taostats_requests_total", Help: "Upstream API requests"},
			[]string{"endpoint", "status"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "taostats_rate_limited_total", Help: "Upstream 429 responses followed by a cooldown"},
			[]string{"endpoint"},
		),
		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "snapshot_rows_written_total", Help: "Rows committed to snapshot tables"},
			[]string{"table"},
		),
		RowErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "snapshot_row_errors_total", Help: "Rows skipped after an insert failure"},
			[]string{"table"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "harvest_job_duration_seconds", Help: "Harvest job latency", Buckets: prometheus.DefBuckets},
			[]string{"job", "status"},
		),
		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "harvest_last_success_timestamp_seconds", Help: "Unix time of the last successful job run"},
			[]string{"job"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests"},
			[]string{"method", "path", "status"},
		),
		HTTPDurations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "Request latency", Buckets: prometheus.DefBuckets},
			[]string{"method", "path"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.Requests, m.RateLimited, m.RowsWritten, m.RowErrors,
			m.JobDuration, m.LastSuccess, m.HTTPRequests, m.HTTPDurations,
		)
	}
	return m
}

func (m *Metrics) ObserveRequest(endpoint string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(endpoint, StatusLabel(code)).Inc()
}

func (m *Metrics) ObserveRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ObserveRows(table string, written, failed int) {
	if m == nil {
		return
	}
	m.RowsWritten.WithLabelValues(table).Add(float64(written))
	m.RowErrors.WithLabelValues(table).Add(float64(failed))
}

// ObserveJob records one job run. A nil err also stamps LastSuccess.
func (m *Metrics) ObserveJob(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobDuration.WithLabelValues(job, status).Observe(d.Seconds())
	if err == nil {
		m.LastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

func (m *Metrics) ObserveHTTP(method, path string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, StatusLabel(code)).Inc()
	m.HTTPDurations.WithLabelValues(method, path).Observe(d.Seconds())
}

// StatusLabel buckets an HTTP status code; 0 means the request never got a response.
func StatusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
