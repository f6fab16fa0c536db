package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultMaxSenders caps the number of sender addresses tracked at once.
const DefaultMaxSenders = 100_000

// RateLimiter is a per-sender token bucket applied to alarm ingestion, so one
// misbehaving sender cannot flood the retained window for everyone else.
// Senders are keyed by peer address only.
type RateLimiter struct {
	mu         sync.Mutex
	senders    map[string]*bucket
	rate       float64 // tokens per second
	burst      float64
	maxSenders int
	now        func() time.Time
	onReject   func(*http.Request)
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// decision is the outcome of one admission check.
type decision struct {
	allowed   bool
	remaining int
	wait      time.Duration
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithMaxSenders overrides DefaultMaxSenders. New senders are rejected while
// the limit is reached.
func WithMaxSenders(n int) RateLimitOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.maxSenders = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RateLimitOption {
	return func(rl *RateLimiter) { rl.now = now }
}

// NewRateLimiter creates a limiter admitting rate requests per second per
// sender with bursts of up to burst requests. rate must be positive.
func NewRateLimiter(rate float64, burst int, opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{
		senders:    make(map[string]*bucket),
		rate:       rate,
		burst:      float64(max(burst, 1)),
		maxSenders: DefaultMaxSenders,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// OnReject registers fn to be called for every rejected request.
func (rl *RateLimiter) OnReject(fn func(*http.Request)) {
	rl.mu.Lock()
	rl.onReject = fn
	rl.mu.Unlock()
}

// Handler returns middleware that answers 429 with Retry-After once the
// sender's bucket is empty.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, onReject := rl.admit(peerHost(r))

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		if d.allowed {
			next.ServeHTTP(w, r)
			return
		}

		if onReject != nil {
			onReject(r)
		}
		secs := int64(math.Ceil(d.wait.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	})
}

func (rl *RateLimiter) admit(sender string) (decision, func(*http.Request)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.senders[sender]
	if !ok {
		if len(rl.senders) >= rl.maxSenders {
			return decision{wait: rl.perToken()}, rl.onReject
		}
		b = &bucket{tokens: rl.burst, lastSeen: now}
		rl.senders[sender] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
		return decision{wait: wait}, rl.onReject
	}
	b.tokens--
	return decision{allowed: true, remaining: int(b.tokens)}, nil
}

func (rl *RateLimiter) perToken() time.Duration {
	return time.Duration(float64(time.Second) / rl.rate)
}

// StartCleanup forgets senders idle for longer than maxIdle, checking every
// interval until the returned stop function is called. A non-positive
// interval disables cleanup.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.forgetIdle(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) forgetIdle(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for sender, b := range rl.senders {
		if b.lastSeen.Before(cutoff) {
			delete(rl.senders, sender)
		}
	}
}

// Len returns the number of tracked senders.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.senders)
}

// peerHost is the host part of RemoteAddr. X-Forwarded-For is not consulted
// even though alarms record it as their source: a sender could rotate the
// header to escape its bucket.
func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
