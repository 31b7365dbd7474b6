// Package ratelimit throttles outbound authority calls per integration and
// operation.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
)

// Integration names.
const (
	ANAF = "anaf"
)

// Operation names used against ANAF.
const (
	OpToken    = "token"
	OpUpload   = "upload"
	OpStatus   = "status"
	OpMessages = "messages"
)

// Limit is a token bucket: Rate events per second with Burst capacity.
type Limit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// DefaultANAF is the authority's published budget.
var DefaultANAF = Limit{Rate: 10, Burst: 10}

type key struct{ integration, operation string }

// Limiter hands out one token bucket per (integration, operation). Buckets
// are created lazily from the integration's Limit.
type Limiter struct {
	clock  clock.Clock
	limits map[string]Limit

	mu      sync.Mutex
	buckets map[key]*rate.Limiter
}

// New returns a Limiter. Integrations missing from limits use DefaultANAF.
func New(clk clock.Clock, limits map[string]Limit) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	if limits == nil {
		limits = map[string]Limit{ANAF: DefaultANAF}
	}
	return &Limiter{clock: clk, limits: limits, buckets: make(map[key]*rate.Limiter)}
}

func (l *Limiter) bucket(integration, operation string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{integration, operation}
	if b, ok := l.buckets[k]; ok {
		return b
	}
	lim, ok := l.limits[integration]
	if !ok {
		lim = DefaultANAF
	}
	b := rate.NewLimiter(rate.Limit(lim.Rate), lim.Burst)
	l.buckets[k] = b
	return b
}

// Allow takes one token or fails with *errs.RateLimitedError carrying the
// wait until a token is available. It never blocks.
func (l *Limiter) Allow(integration, operation string) error {
	now := l.clock.Now()
	r := l.bucket(integration, operation).ReserveN(now, 1)
	if !r.OK() {
		monitoring.RateLimitRejections.WithLabelValues(integration, operation).Inc()
		return &errs.RateLimitedError{Integration: integration, Operation: operation, RetryAfter: time.Second}
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	r.CancelAt(now)
	monitoring.RateLimitRejections.WithLabelValues(integration, operation).Inc()
	return &errs.RateLimitedError{Integration: integration, Operation: operation, RetryAfter: delay}
}
