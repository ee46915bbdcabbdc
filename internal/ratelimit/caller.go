package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/metrics"
	"animeindex/internal/services"
)

const (
	defaultMaxAttempts   = 5
	defaultBaseDelay     = time.Second
	defaultMaxDelay      = 30 * time.Second
	defaultMaxRetryAfter = 5 * time.Minute
	breakerInterval      = time.Minute
)

// BreakerSettings configures the connection's circuit breaker.
type BreakerSettings struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Settings describes one provider connection.
type Settings struct {
	Name          string
	MinInterval   time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxRetryAfter time.Duration
	Breaker       BreakerSettings
}

// SettingsFromConfig builds connection settings from the shared retry and
// breaker sections plus the provider's own interval.
func SettingsFromConfig(cfg *config.Config, name string, minIntervalMillis int) Settings {
	return Settings{
		Name:          name,
		MinInterval:   time.Duration(minIntervalMillis) * time.Millisecond,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     time.Duration(cfg.Retry.BaseDelayMillis) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Retry.MaxDelayMillis) * time.Millisecond,
		MaxRetryAfter: time.Duration(cfg.Retry.MaxRetryAfterSeconds) * time.Second,
		Breaker: BreakerSettings{
			Enabled:          cfg.Breaker.Enabled,
			MinRequests:      uint32(max(cfg.Breaker.MinRequests, 0)),
			FailureRatio:     cfg.Breaker.FailureRatio,
			OpenTimeout:      time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
			HalfOpenRequests: uint32(max(cfg.Breaker.HalfOpenRequests, 0)),
		},
	}
}

// Caller throttles, retries and circuit-breaks calls to one external system.
// It is safe for concurrent use.
type Caller struct {
	settings Settings
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *slog.Logger
	sleeper  func(time.Duration)
	jitter   func(time.Duration) time.Duration
}

// Option customizes a Caller.
type Option func(*Caller)

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Caller) {
		c.sleeper = sleeper
	}
}

// WithJitter overrides the jitter applied to backoff delays.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(c *Caller) {
		if jitter != nil {
			c.jitter = jitter
		}
	}
}

// New constructs a Caller for the connection described by settings.
func New(settings Settings, opts ...Option) *Caller {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = defaultMaxAttempts
	}
	if settings.BaseDelay < 0 {
		settings.BaseDelay = defaultBaseDelay
	}
	if settings.MaxDelay <= 0 {
		settings.MaxDelay = defaultMaxDelay
	}
	if settings.MaxRetryAfter <= 0 {
		settings.MaxRetryAfter = defaultMaxRetryAfter
	}

	limit := rate.Inf
	if settings.MinInterval > 0 {
		limit = rate.Every(settings.MinInterval)
	}
	c := &Caller{
		settings: settings,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logging.NewNop(),
		jitter:   equalJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "ratelimit").With(logging.String(logging.FieldProvider, settings.Name))
	if settings.Breaker.Enabled {
		c.breaker = c.newBreaker()
		metrics.BreakerState.WithLabelValues(settings.Name).Set(metrics.BreakerClosed)
	}
	return c
}

// Name returns the connection name used in logs and metrics.
func (c *Caller) Name() string {
	return c.settings.Name
}

func (c *Caller) newBreaker() *gobreaker.CircuitBreaker[struct{}] {
	b := c.settings.Breaker
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        c.settings.Name,
		MaxRequests: b.HalfOpenRequests,
		Interval:    breakerInterval,
		Timeout:     b.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= b.FailureRatio
		},
		// Only retryable failures count against the connection; a 404 says
		// nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryableError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state change",
				logging.String(logging.FieldEventType, "breaker_state_change"),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
			metrics.RecordBreakerTransition(name, from.String(), to.String(), breakerGauge(to))
		},
	})
}

func breakerGauge(state gobreaker.State) int {
	switch state {
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerClosed
	}
}

// Do runs fn under the connection's throttle and retry policy. op names the
// call in errors and logs. Terminal errors carry a services marker:
// exhausted retries, open circuits and oversized Retry-After hints are
// transient, 404 is not-found, 401/403 are configuration errors, and other
// 4xx responses are validation errors. Errors fn already marked pass through.
func (c *Caller) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var lastErr error
	for attempt := 1; attempt <= c.settings.MaxAttempts; attempt++ {
		if err := c.wait(ctx); err != nil {
			return err
		}

		started := time.Now()
		err := c.execute(ctx, fn)
		elapsed := time.Since(started)
		if err == nil {
			metrics.RecordProviderCall(c.settings.Name, metrics.ResultOK, elapsed)
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordProviderCall(c.settings.Name, metrics.ResultBreakerOpen, elapsed)
			return services.Wrap(services.ErrTransient, c.settings.Name, op, "circuit open", err)
		}
		lastErr = err

		delay, retry := c.retryDelay(ctx, err, attempt)
		if !retry {
			metrics.RecordProviderCall(c.settings.Name, metrics.ResultError, elapsed)
			return c.terminal(op, err, attempt)
		}
		metrics.RecordProviderCall(c.settings.Name, metrics.ResultRetry, elapsed)
		metrics.RecordRetry(c.settings.Name, retryReason(err))
		c.logger.Debug("retrying provider call",
			logging.String("operation", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return c.terminal(op, lastErr, c.settings.MaxAttempts)
}

func (c *Caller) execute(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (c *Caller) wait(ctx context.Context) error {
	started := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s: throttle: %w", c.settings.Name, err)
	}
	if waited := time.Since(started); waited > time.Millisecond {
		metrics.RecordThrottleWait(c.settings.Name, waited)
	}
	return nil
}

func (c *Caller) terminal(op string, err error, attempts int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if services.Marked(err) {
		return err
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Retryable():
			return services.Wrap(services.ErrTransient, c.settings.Name, op,
				fmt.Sprintf("gave up after %d attempts", attempts), err)
		case statusErr.StatusCode == http.StatusNotFound:
			return services.Wrap(services.ErrNotFound, c.settings.Name, op, "", err)
		case statusErr.StatusCode == http.StatusUnauthorized, statusErr.StatusCode == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, c.settings.Name, op, "credentials rejected", err)
		default:
			return services.Wrap(services.ErrValidation, c.settings.Name, op, "request rejected", err)
		}
	}
	return services.Wrap(services.ErrTransient, c.settings.Name, op,
		fmt.Sprintf("gave up after %d attempts", attempts), err)
}

func (c *Caller) retryDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= c.settings.MaxAttempts {
		return 0, false
	}
	if ctx.Err() != nil {
		return 0, false
	}
	if !retryableError(err) {
		return 0, false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		if statusErr.RetryAfter > c.settings.MaxRetryAfter {
			return 0, false
		}
		return statusErr.RetryAfter, true
	}
	return c.backoffDelay(attempt), true
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

func retryReason(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case statusErr.StatusCode == http.StatusRequestTimeout:
			return "timeout"
		default:
			return "server_error"
		}
	}
	return "timeout"
}

// backoffDelay doubles from BaseDelay per attempt, caps at MaxDelay, then
// applies jitter.
func (c *Caller) backoffDelay(attempt int) time.Duration {
	base := c.settings.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := c.settings.MaxDelay
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return min(c.jitter(min(delay, maxDelay)), maxDelay)
}

// equalJitter keeps half the delay and randomizes the other half.
func equalJitter(delay time.Duration) time.Duration {
	if delay <= 1 {
		return delay
	}
	half := delay / 2
	return half + rand.N(delay-half)
}

func (c *Caller) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
