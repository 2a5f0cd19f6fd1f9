package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
)

// Caller defaults.
const (
	DefaultCallTimeout = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultRateLimit   = rate.Limit(10)
	DefaultBurst       = 20
)

// CallerConfig tunes a Caller. Zero values select the defaults.
type CallerConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	RateLimit   rate.Limit
	Burst       int

	// BreakerTimeout is how long an open breaker rejects calls before probing.
	BreakerTimeout time.Duration
	// BreakerFailures is the number of consecutive server failures that opens the breaker.
	BreakerFailures uint32

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Caller runs provider calls with a per-call timeout, a per-provider rate
// limit, bounded retries for transient failures, and a per-provider circuit
// breaker that only counts server-side failures.
type Caller struct {
	cfg    CallerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	limiters map[model.Provider]*rate.Limiter
	breakers map[model.Provider]*gobreaker.CircuitBreaker
}

// NewCaller creates a Caller.
func NewCaller(cfg CallerConfig) *Caller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		cfg:      cfg,
		logger:   logger.With("component", "provider_caller"),
		limiters: make(map[model.Provider]*rate.Limiter),
		breakers: make(map[model.Provider]*gobreaker.CircuitBreaker),
	}
}

// Call runs fn through c and returns its value.
func Call[T any](ctx context.Context, c *Caller, p model.Provider, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := c.Do(ctx, p, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Do runs fn, retrying transient provider failures.
func (c *Caller) Do(ctx context.Context, p model.Provider, op string, fn func(ctx context.Context) error) error {
	return c.run(ctx, p, op, c.cfg.MaxAttempts, fn)
}

// DoOnce runs fn without retrying. Authorization code exchange uses it
// because a code can only be redeemed once.
func (c *Caller) DoOnce(ctx context.Context, p model.Provider, op string, fn func(ctx context.Context) error) error {
	return c.run(ctx, p, op, 1, fn)
}

func (c *Caller) run(ctx context.Context, p model.Provider, op string, attempts int, fn func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartProviderSpan(ctx, string(p), op)
	defer span.End()

	start := time.Now()
	err := c.attempt(ctx, p, op, attempts, fn)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.cfg.Metrics.RecordProviderOperation(ctx, string(p), op, status, time.Since(start))
	return err
}

func (c *Caller) attempt(ctx context.Context, p model.Provider, op string, attempts int, fn func(ctx context.Context) error) error {
	limiter := c.limiter(p)
	breaker := c.breaker(p)

	var err error
	for i := 1; i <= attempts; i++ {
		if werr := limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("%s %s: %w", p, op, werr)
		}

		_, err = breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
			return nil, normalize(ctx, p, op, fn(callCtx))
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &model.ProviderError{
				Provider: p,
				Op:       op,
				Kind:     model.KindUnavailable,
				Err:      err,
			}
		}
		if !model.IsRetryable(err) || i == attempts || ctx.Err() != nil {
			return err
		}

		delay := c.cfg.BaseDelay << (i - 1)
		c.logger.Debug("retrying provider call",
			logging.Provider(string(p)),
			logging.Operation(op),
			slog.Int("attempt", i),
			slog.Duration("delay", delay),
			logging.Err(err))
		c.cfg.Metrics.RecordProviderRetry(ctx, string(p), op)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s %s: %w", p, op, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// normalize turns an expired per-call deadline into a retryable provider error.
func normalize(parent context.Context, p model.Provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &model.ProviderError{
			Provider:  p,
			Op:        op,
			Kind:      model.KindUnavailable,
			Retryable: true,
			Err:       err,
		}
	}
	return err
}

// serverFailure reports whether err should count against the breaker.
func serverFailure(err error) bool {
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == model.KindUnavailable
	}
	return false
}

func (c *Caller) limiter(p model.Provider) *rate.Limiter {
	c.mu.RLock()
	l, ok := c.limiters[p]
	c.mu.RUnlock()
	if ok {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok = c.limiters[p]; ok {
		return l
	}
	l = rate.NewLimiter(c.cfg.RateLimit, c.cfg.Burst)
	c.limiters[p] = l
	return l
}

func (c *Caller) breaker(p model.Provider) *gobreaker.CircuitBreaker {
	c.mu.RLock()
	b, ok := c.breakers[p]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok = c.breakers[p]; ok {
		return b
	}
	failures := c.cfg.BreakerFailures
	logger := c.logger
	b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(p),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !serverFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				logging.Provider(name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	c.breakers[p] = b
	return b
}

// BreakerState reports the breaker state for p.
func (c *Caller) BreakerState(p model.Provider) gobreaker.State {
	return c.breaker(p).State()
}
