package taostats_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkiv/chain-observer/internal/taostats"
	"github.com/arkiv/chain-observer/internal/taostats/taostatstest"
)

func pageSource(pages ...[]string) (taostats.PageFunc[string], *[]int) {
	var seen []int
	return func(_ context.Context, page int) ([]string, error) {
		seen = append(seen, page)
		if page > len(pages) {
			return nil, nil
		}
		return pages[page-1], nil
	}, &seen
}

func TestFetchAllConcatenates(t *testing.T) {
	fetch, seen := pageSource([]string{"a", "b"}, []string{"c"}, []string{})
	got, err := taostats.FetchAll(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []int{1, 2, 3}, *seen)
}

func TestFetchAllEmptyFirstPage(t *testing.T) {
	fetch, seen := pageSource([]string{})
	got, err := taostats.FetchAll(context.Background(), fetch)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []int{1}, *seen)
}

func TestFetchAllAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(_ context.Context, page int) ([]string, error) {
		if page == 2 {
			return nil, boom
		}
		return []string{strconv.Itoa(page)}, nil
	}
	got, err := taostats.FetchAll(context.Background(), fetch)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
}

func TestValidatorsPagination(t *testing.T) {
	pages := taostatstest.SyntheticValidators(5, 2, 5000)
	srv := taostatstest.NewServer(t, taostatstest.WithValidatorPages(pages...))
	c := newClient(srv.Server, &taostatstest.Timer{}, nil)

	got, err := c.Validators(context.Background(), taostats.OrderAmountDesc)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, taostats.Scalar("5000"), got[0].Amount)
	assert.Equal(t, "5Cold0004", got[4].ColdKey.SS58)
	assert.Equal(t, "5Hot0004", got[4].HotKey.SS58)

	// three data pages plus the terminating empty one
	reqs := srv.Requests()
	require.Len(t, reqs, 4)
	for i, r := range reqs {
		assert.Equal(t, strconv.Itoa(i+1), r.URL.Query().Get("page"))
		assert.Equal(t, taostats.OrderAmountDesc, r.URL.Query().Get("order"))
	}
}

func validatorBodies(t *testing.T, bodies ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 || page > len(bodies) {
			w.Write([]byte(`{"validators":[]}`))
			return
		}
		w.Write([]byte(bodies[page-1]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidatorsNullPageEndsPagination(t *testing.T) {
	srv := validatorBodies(t,
		`{"validators":[{"amount":"2000","cold_key":{"ss58":"5C"},"hot_key":{"ss58":"5H"}}]}`,
		`{"validators":null}`,
		`{"validators":[{"amount":"1","cold_key":{"ss58":"never"},"hot_key":{"ss58":"never"}}]}`,
	)
	c := newClient(srv, &taostatstest.Timer{}, nil)

	got, err := c.Validators(context.Background(), taostats.OrderAmountDesc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "5H", got[0].HotKey.SS58)
}

func TestValidatorsMissingListFails(t *testing.T) {
	srv := validatorBodies(t, `{"count":0}`)
	c := newClient(srv, &taostatstest.Timer{}, nil)

	_, err := c.Validators(context.Background(), taostats.OrderAmountDesc)
	assert.ErrorContains(t, err, `missing "validators"`)
}

func TestValidatorsThrottledPageMatchesUnthrottled(t *testing.T) {
	pages := taostatstest.SyntheticValidators(3, 2, 3000)
	ctx := context.Background()

	plain := taostatstest.NewServer(t, taostatstest.WithValidatorPages(pages...))
	want, err := newClient(plain.Server, &taostatstest.Timer{}, nil).Validators(ctx, taostats.OrderAmountDesc)
	require.NoError(t, err)

	throttled := taostatstest.NewServer(t, taostatstest.WithValidatorPages(pages...))
	throttled.Throttle(taostats.ValidatorsPath, 1)
	timer := &taostatstest.Timer{}
	got, err := newClient(throttled.Server, timer, nil).Validators(ctx, taostats.OrderAmountDesc)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Len(t, timer.Waits(), 1)
}
