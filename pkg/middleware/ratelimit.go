package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// RateLimitConfig describes one fixed-window budget
type RateLimitConfig struct {
	Name     string
	Requests int
	Window   time.Duration
	Message  string
	// SkipSuccessful refunds requests that complete with a status below 400
	SkipSuccessful bool
}

// Limits groups the budgets applied to the API
type Limits struct {
	API          RateLimitConfig
	Login        RateLimitConfig
	Reset        RateLimitConfig
	Verification RateLimitConfig
}

// LimitsFromConfig builds the per-route budgets from configuration
func LimitsFromConfig(cfg config.RateLimitConfig) Limits {
	return Limits{
		API: RateLimitConfig{
			Name:     "api",
			Requests: cfg.APIRequests,
			Window:   cfg.APIWindow,
			Message:  "too many requests, please try again later",
		},
		Login: RateLimitConfig{
			Name:           "login",
			Requests:       cfg.LoginAttempts,
			Window:         cfg.LoginWindow,
			Message:        fmt.Sprintf("too many login attempts, please try again after %s", humanWindow(cfg.LoginWindow)),
			SkipSuccessful: true,
		},
		Reset: RateLimitConfig{
			Name:     "password_reset",
			Requests: cfg.ResetRequests,
			Window:   cfg.ResetWindow,
			Message:  fmt.Sprintf("too many password reset requests, please try again after %s", humanWindow(cfg.ResetWindow)),
		},
		Verification: RateLimitConfig{
			Name:     "verification",
			Requests: cfg.VerificationRequests,
			Window:   cfg.VerificationWindow,
			Message:  fmt.Sprintf("too many verification requests, please try again after %s", humanWindow(cfg.VerificationWindow)),
		},
	}
}

func humanWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "an hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}

// CounterStore keeps per-key hit counters for fixed windows
type CounterStore interface {
	// Increment counts a hit and returns the count and the end of the window
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
	// Decrement refunds one hit in the current window
	Decrement(ctx context.Context, key string) error
}

type counter struct {
	hits    int64
	resetAt time.Time
}

// MemoryStore is a process-local CounterStore bounded by an LRU
type MemoryStore struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *counter]
	now     func() time.Time
}

// NewMemoryStore creates a store tracking at most size keys. Entries older
// than maxWindow are evicted.
func NewMemoryStore(size int, maxWindow time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStore{
		entries: expirable.NewLRU[string, *counter](size, nil, maxWindow),
		now:     time.Now,
	}
}

// Increment implements CounterStore
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.entries.Get(key)
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		s.entries.Add(key, c)
	}
	c.hits++
	return c.hits, c.resetAt, nil
}

// Decrement implements CounterStore
func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.entries.Peek(key); ok && c.hits > 0 {
		c.hits--
	}
	return nil
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter enforces a RateLimitConfig per client IP
type RateLimiter struct {
	config  RateLimitConfig
	store   CounterStore
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter backed by store
func NewRateLimiter(cfg RateLimitConfig, store CounterStore, metrics *observability.Metrics) *RateLimiter {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &RateLimiter{config: cfg, store: store, metrics: metrics, now: time.Now}
}

func (rl *RateLimiter) key(clientKey string) string {
	return rl.config.Name + ":" + clientKey
}

// Allow counts a hit for clientKey. Store failures allow the request.
func (rl *RateLimiter) Allow(ctx context.Context, clientKey string) Decision {
	hits, resetAt, err := rl.store.Increment(ctx, rl.key(clientKey), rl.config.Window)
	if err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("limiter", rl.config.Name).
			Warn("rate limit store unavailable, allowing request")
		return Decision{Allowed: true, Limit: rl.config.Requests, Remaining: rl.config.Requests}
	}

	remaining := rl.config.Requests - int(hits)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   hits <= int64(rl.config.Requests),
		Limit:     rl.config.Requests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Refund returns one hit to clientKey's budget
func (rl *RateLimiter) Refund(ctx context.Context, clientKey string) {
	if err := rl.store.Decrement(ctx, rl.key(clientKey)); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("limiter", rl.config.Name).
			Warn("rate limit refund failed")
	}
}

// Handler wraps an HTTP handler with rate limiting keyed by client IP
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := httputil.ClientIP(r)
		decision := rl.Allow(r.Context(), clientKey)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		if !decision.ResetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
		}

		if !decision.Allowed {
			rl.rateLimitExceeded(w, decision)
			return
		}

		if !rl.config.SkipSuccessful {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status < http.StatusBadRequest {
			rl.Refund(r.Context(), clientKey)
		}
	})
}

// TooManyRequests is the 429 response body
type TooManyRequests struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after"`
}

func (rl *RateLimiter) rateLimitExceeded(w http.ResponseWriter, decision Decision) {
	rl.metrics.RateLimitRejectionsTotal.WithLabelValues(rl.config.Name).Inc()

	retryAfter := int64(math.Ceil(decision.ResetAt.Sub(rl.now()).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))

	message := rl.config.Message
	if message == "" {
		message = "rate limit exceeded"
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, TooManyRequests{Error: message, RetryAfter: retryAfter})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}
