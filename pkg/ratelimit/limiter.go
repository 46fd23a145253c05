package ratelimit

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/clustermaster/pkg/log"
	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrCapacityExceeded is returned by Admit when a principal's deferred-message
// queue is already at its configured capacity.
var ErrCapacityExceeded = errors.New("ratelimit: principal queue capacity exceeded")

// Config is one principal's configured qps and queue capacity.
type Config struct {
	QPS      float64
	Capacity int
}

// Limiter gates inbound framework messages per principal. A message from a
// principal whose bucket is empty and whose queue still has room is
// deferred (Admit returns false, nil); once the queue is at capacity the
// message is dropped (Admit returns ErrCapacityExceeded) and a
// capacity-exceeded metric is bumped.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	queued   map[string]int
	configs  map[string]Config
	defaultC Config
	logger   zerolog.Logger
}

// New creates a Limiter. defaultConfig governs principals with no explicit
// entry in configs, and unauthenticated connections.
func New(defaultConfig Config, configs map[string]Config) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		queued:   make(map[string]int),
		configs:  configs,
		defaultC: defaultConfig,
		logger:   log.WithComponent("ratelimit"),
	}
}

func (l *Limiter) configFor(principal string) Config {
	if c, ok := l.configs[principal]; ok {
		return c
	}
	return l.defaultC
}

func (l *Limiter) bucketFor(principal string) *rate.Limiter {
	if b, ok := l.buckets[principal]; ok {
		return b
	}
	cfg := l.configFor(principal)
	b := rate.NewLimiter(rate.Limit(cfg.QPS), max(1, int(cfg.QPS)))
	l.buckets[principal] = b
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Admit decides whether a message from principal may be processed now. It
// returns (true, nil) when a token was available. When the bucket is empty
// it increments the principal's queue counter and returns (false, nil) if
// the queue still has room, or (false, ErrCapacityExceeded) if the queue is
// already at capacity. On a drop Admit itself bumps the capacity-exceeded
// metric and logs a warning; the caller replies with the error.
//
// Capacity counts the principal's outstanding messages as a whole: the one
// holding the current token plus everything deferred behind it, so at most
// Capacity-1 messages wait in the queue at once. With qps=1 and capacity=5,
// ten messages in one burst yield one processed, four queued, five dropped.
func (l *Limiter) Admit(principal string) (allowed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.bucketFor(principal)
	if bucket.Allow() {
		return true, nil
	}

	cfg := l.configFor(principal)
	if l.queued[principal]+1 >= cfg.Capacity {
		metrics.RateLimitDropsTotal.WithLabelValues(principal).Inc()
		l.logger.Warn().Str("principal", principal).Msg("rate limit queue capacity exceeded, dropping message")
		return false, ErrCapacityExceeded
	}

	l.queued[principal]++
	return false, nil
}

// Throttle is the blocking form of Admit used on a message dispatch path:
// a message whose principal has a token proceeds immediately; one whose
// bucket is empty is deferred in the principal's queue until the bucket
// refills (or ctx is cancelled); one whose queue is already at capacity is
// dropped with ErrCapacityExceeded.
func (l *Limiter) Throttle(ctx context.Context, principal string) error {
	allowed, err := l.Admit(principal)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	defer l.Release(principal)

	l.mu.Lock()
	bucket := l.bucketFor(principal)
	l.mu.Unlock()
	return bucket.Wait(ctx)
}

// Release decrements a principal's queue counter once a deferred message has
// been admitted; Throttle calls it when its wait for a token ends.
func (l *Limiter) Release(principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queued[principal] > 0 {
		l.queued[principal]--
	}
}
