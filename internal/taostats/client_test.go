package taostats_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkiv/chain-observer/internal/metrics"
	"github.com/arkiv/chain-observer/internal/taostats"
	"github.com/arkiv/chain-observer/internal/taostats/taostatstest"
)

const apiKey = "test-key"

func newClient(srv *httptest.Server, timer *taostatstest.Timer, m *metrics.Metrics) *taostats.Client {
	return taostats.New(taostats.Config{
		BaseURL:  srv.URL,
		APIKey:   apiKey,
		Cooldown: 20 * time.Second,
		Metrics:  m,
		NewTimer: func() backoff.Timer { return timer },
	})
}

func TestGetSendsHeaders(t *testing.T) {
	srv := taostatstest.NewServer(t, taostatstest.WithAPIKey(apiKey))
	c := newClient(srv.Server, &taostatstest.Timer{}, nil)

	var resp taostats.SubnetOwnersResponse
	require.NoError(t, c.Get(context.Background(), taostats.SubnetOwnersPath, url.Values{"latest": {"true"}}, &resp))

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, apiKey, reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "application/json", reqs[0].Header.Get("Accept"))
	assert.Equal(t, "true", reqs[0].URL.Query().Get("latest"))
}

func TestGetRetriesAfterCooldown(t *testing.T) {
	srv := taostatstest.NewServer(t,
		taostatstest.WithAPIKey(apiKey),
		taostatstest.WithDelegate("5Hot", "Foundry"),
	)
	srv.Throttle(taostats.DelegateInfoPath, 3)

	timer := &taostatstest.Timer{}
	m := metrics.New(prometheus.NewRegistry())
	c := newClient(srv.Server, timer, m)

	name, ok, err := c.DelegateName(context.Background(), "5Hot")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Foundry", name)

	assert.Equal(t, 4, srv.Count(taostats.DelegateInfoPath))
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second, 20 * time.Second}, timer.Waits())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("delegate/info")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Requests.WithLabelValues("delegate/info", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("delegate/info", "2xx")))
}

func TestGetSlidingWindowLimit(t *testing.T) {
	clock := taostatstest.NewClock()
	srv := taostatstest.NewServer(t,
		taostatstest.WithAPIKey(apiKey),
		taostatstest.WithRateLimit(2, time.Minute, clock),
	)
	timer := &taostatstest.Timer{Clock: clock}
	c := newClient(srv.Server, timer, nil)

	ctx := context.Background()
	for range 3 {
		var resp taostats.SubnetOwnersResponse
		require.NoError(t, c.Get(ctx, taostats.SubnetOwnersPath, nil, &resp))
	}
	// The third request waited until the window slid past the first two.
	waits := timer.Waits()
	require.NotEmpty(t, waits)
	for _, w := range waits {
		assert.Equal(t, 20*time.Second, w)
	}
	assert.Len(t, waits, 3)
}

func TestGetUpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"unauthorized", http.StatusUnauthorized, `{}`},
		{"malformed body", http.StatusOK, `{"subnet_owners":`},
		{"missing field", http.StatusOK, `{"owners":[]}`},
		{"missing owner", http.StatusOK, `{"subnet_owners":[{"subnet_id":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			timer := &taostatstest.Timer{}
			c := newClient(srv, timer, nil)
			_, err := c.SubnetOwners(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, taostats.ErrUpstream)

			var upErr *taostats.UpstreamError
			require.True(t, errors.As(err, &upErr))
			assert.Equal(t, tt.status, upErr.StatusCode)
			assert.Equal(t, int32(1), calls.Load(), "non-429 failures are not retried")
			assert.Empty(t, timer.Waits())
		})
	}
}

func TestGetTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := newClient(srv, &taostatstest.Timer{}, nil)
	_, err := c.SubnetOwners(context.Background())
	require.Error(t, err)

	var upErr *taostats.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Zero(t, upErr.StatusCode)
}

// stuckTimer never fires; it cancels the context instead.
type stuckTimer struct {
	cancel context.CancelFunc
	c      chan time.Time
}

func (s *stuckTimer) Start(time.Duration) { s.cancel() }
func (s *stuckTimer) Stop() {}
func (s *stuckTimer) C() <-chan time.Time { return s.c }

func TestGetContextCanceledDuringCooldown(t *testing.T) {
	srv := taostatstest.NewServer(t)
	srv.Throttle(taostats.SubnetOwnersPath, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := &stuckTimer{cancel: cancel, c: make(chan time.Time)}
	c := taostats.New(taostats.Config{
		BaseURL:  srv.URL,
		NewTimer: func() backoff.Timer { return timer },
	})
	_, err := c.SubnetOwners(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, srv.Count(taostats.SubnetOwnersPath))
}

func TestGetContextCanceledBeforeRequest(t *testing.T) {
	srv := taostatstest.NewServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := taostats.New(taostats.Config{BaseURL: srv.URL})
	_, err := c.SubnetOwners(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, srv.Count(taostats.SubnetOwnersPath))
}

func TestGetPacesRequests(t *testing.T) {
	srv := taostatstest.NewServer(t)
	c := taostats.New(taostats.Config{BaseURL: srv.URL, RequestsPerSecond: 50})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.SubnetOwners(context.Background())
		require.NoError(t, err)
	}
	// burst of one: the second and third requests each wait 20ms
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.Equal(t, 3, srv.Count(taostats.SubnetOwnersPath))
}

func TestSubnetOwnersNumericAndStringIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subnet_owners":[{"owner":"0xaa","subnet_id":3},{"owner":"0xbb","subnet_id":"12"}]}`))
	}))
	defer srv.Close()

	owners, err := newClient(srv, &taostatstest.Timer{}, nil).SubnetOwners(context.Background())
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.Equal(t, taostats.Scalar("3"), owners[0].SubnetID)
	assert.Equal(t, taostats.Scalar("12"), owners[1].SubnetID)
}

func TestDelegateNameAmbiguous(t *testing.T) {
	srv := taostatstest.NewServer(t,
		taostatstest.WithDelegate("5Two", "a", "b"),
		taostatstest.WithDelegate("5One", "solo"),
	)
	c := newClient(srv.Server, &taostatstest.Timer{}, nil)
	ctx := context.Background()

	_, ok, err := c.DelegateName(ctx, "5Two")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.DelegateName(ctx, "5None")
	require.NoError(t, err)
	assert.False(t, ok)

	name, ok, err := c.DelegateName(ctx, "5One")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "solo", name)
}

func TestDelegateNameNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":1,"delegates":[{"name":null}]}`))
	}))
	defer srv.Close()

	_, ok, err := newClient(srv, &taostatstest.Timer{}, nil).DelegateName(context.Background(), "5X")
	require.NoError(t, err)
	assert.False(t, ok)
}
