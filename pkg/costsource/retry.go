package costsource

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/costsentry/pkg/anomaly"
)

// Retry defaults, matching the upstream API's tolerance for bursty callers.
const (
	// DefaultBaseDelay is the backoff unit; attempt n waits 2^n * base.
	DefaultBaseDelay = 100 * time.Millisecond

	// DefaultMaxDelay caps a single backoff wait.
	DefaultMaxDelay = 5 * time.Second

	// DefaultMaxRetries bounds retries after the initial attempt.
	DefaultMaxRetries = 10
)

// RetryConfig tunes the Retrier. Zero values take the defaults above.
type RetryConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// RateLimit, when positive, paces calls to the underlying source at
	// this many requests per second, shared by every goroutine using the
	// Retrier.
	RateLimit float64
}

// Retrier decorates a Source with bounded exponential backoff on
// rate-limit-class errors. Any other error fails immediately: upstream
// failures that are not throttling are not transient.
//
// Safe for concurrent use; backoff sleeps block only the calling goroutine.
type Retrier struct {
	src     Source
	base    time.Duration
	max     time.Duration
	retries int
	limiter *rate.Limiter
	logger  *zap.Logger

	// sleep is context-aware and injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Source = (*Retrier)(nil)

// NewRetrier wraps src with the given retry policy.
func NewRetrier(src Source, cfg RetryConfig, logger *zap.Logger) *Retrier {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Retrier{
		src:     src,
		base:    cfg.BaseDelay,
		max:     cfg.MaxDelay,
		retries: cfg.MaxRetries,
		logger:  logger,
		sleep:   ctxSleep,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return r
}

// WithSleep overrides the backoff wait function. Test hook.
func (r *Retrier) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

// DailyCosts fetches with retry. Exhausting retries surfaces the last
// rate-limit error wrapped in a FetchError with the attempt count.
func (r *Retrier) DailyCosts(ctx context.Context, q Query) ([]anomaly.Point, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, &FetchError{Op: "DailyCosts", UsageType: q.UsageType, Attempts: attempt, Err: err}
			}
		}

		points, err := r.src.DailyCosts(ctx, q)
		if err == nil {
			return points, nil
		}
		if !IsRateLimited(err) {
			return nil, err
		}
		lastErr = err

		if attempt >= r.retries {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("Cost source throttled, backing off",
			zap.String("usage_type", q.UsageType),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		if err := r.sleep(ctx, delay); err != nil {
			return nil, &FetchError{Op: "DailyCosts", UsageType: q.UsageType, Attempts: attempt + 1, Err: err}
		}
	}

	return nil, &FetchError{Op: "DailyCosts", UsageType: q.UsageType, Attempts: r.retries + 1, Err: lastErr}
}

// UsageTypes passes through without retry; enumeration runs once per
// dispatch and its failure aborts the run visibly.
func (r *Retrier) UsageTypes(ctx context.Context) ([]string, error) {
	return r.src.UsageTypes(ctx)
}

// backoff returns min(max, 2^attempt * base).
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.base << uint(attempt)
	if d <= 0 || d > r.max {
		return r.max
	}
	return d
}

// ctxSleep waits for d or until the context is done.
func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
