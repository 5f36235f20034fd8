// Package taostatstest serves a fake taostats API for tests.
//
// The server answers the three endpoints the harvester uses, checks the
// Authorization header, and throttles with HTTP 429 either on demand
// (Throttle) or through a sliding window limiter driven by a Clock.
package taostatstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arkiv/chain-observer/internal/taostats"
)

// Owner is one subnet_owners entry.
type Owner struct {
	Hex      string
	SubnetID int
}

// Validator is one validators entry.
type Validator struct {
	Amount  string
	Coldkey string
	Hotkey  string
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	apiKey    string
	owners    []Owner
	pages     [][]Validator
	delegates map[string][]string
	throttle  map[string]int
	limiter   *rateLimiter
	requests  []*http.Request
}

type Option func(*Server)

// WithAPIKey makes the server reject requests without this Authorization value.
func WithAPIKey(key string) Option { return func(s *Server) { s.apiKey = key } }

func WithOwners(owners ...Owner) Option { return func(s *Server) { s.owners = owners } }

// WithValidatorPages sets the validator listing. Pages past the last one are empty.
func WithValidatorPages(pages ...[]Validator) Option {
	return func(s *Server) { s.pages = pages }
}

// WithDelegate registers delegate names for a hotkey. Zero names, or more
// than one, make the lookup ambiguous.
func WithDelegate(hotkey string, names ...string) Option {
	return func(s *Server) { s.delegates[hotkey] = names }
}

// WithRateLimit answers 429 once limit requests arrived within window, as
// measured by clock.
func WithRateLimit(limit int, window time.Duration, clock *Clock) Option {
	return func(s *Server) {
		s.limiter = &rateLimiter{
			hits:  make(map[string][]time.Time),
			limit: limit,
			win:   window,
			now:   clock.Now,
		}
	}
}

// NewServer starts a server and closes it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		delegates: make(map[string][]string),
		throttle:  make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(taostats.SubnetOwnersPath, s.guard(s.handleOwners))
	mux.HandleFunc(taostats.ValidatorsPath, s.guard(s.handleValidators))
	mux.HandleFunc(taostats.DelegateInfoPath, s.guard(s.handleDelegate))
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Throttle makes the next n requests to path answer 429.
func (s *Server) Throttle(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttle[path] += n
}

// Requests returns a copy of every request received so far, throttled ones included.
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// Count returns how many requests hit path.
func (s *Server) Count(path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(r.Context()))
		forced := s.throttle[r.URL.Path] > 0
		if forced {
			s.throttle[r.URL.Path]--
		}
		key := s.apiKey
		s.mu.Unlock()

		if key != "" && r.Header.Get("Authorization") != key {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if forced || (s.limiter != nil && !s.limiter.allow(r.Header.Get("Authorization"))) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	owners := make([]map[string]any, 0, len(s.owners))
	for _, o := range s.owners {
		owners = append(owners, map[string]any{"owner": o.Hex, "subnet_id": o.SubnetID})
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"subnet_owners": owners})
}

func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		http.Error(w, `{"error":"invalid page"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	var items []Validator
	if page <= len(s.pages) {
		items = s.pages[page-1]
	}
	s.mu.Unlock()

	out := make([]map[string]any, 0, len(items))
	for _, v := range items {
		out = append(out, map[string]any{
			"amount":   v.Amount,
			"cold_key": map[string]string{"ss58": v.Coldkey},
			"hot_key":  map[string]string{"ss58": v.Hotkey},
		})
	}
	writeJSON(w, map[string]any{"validators": out})
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	names := s.delegates[r.URL.Query().Get("address")]
	s.mu.Unlock()

	delegates := make([]map[string]string, 0, len(names))
	for _, n := range names {
		delegates = append(delegates, map[string]string{"name": n})
	}
	writeJSON(w, map[string]any{"count": len(delegates), "delegates": delegates})
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
