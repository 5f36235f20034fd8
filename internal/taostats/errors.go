package taostats

import (
	"errors"
	"fmt"
)

// ErrUpstream is matched by every non-retryable API failure.
var ErrUpstream = errors.New("upstream error")

// UpstreamError reports a failed request. StatusCode is zero when no
// response was received.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("taostats: GET %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("taostats: GET %s: status %d: %v", e.URL, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// errRateLimited is internal: a 429 never leaves the client.
var errRateLimited = errors.New("rate limited")
