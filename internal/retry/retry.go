// Package retry wraps backend calls with bounded exponential backoff for
// transient failures.
package retry

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/metrics"
)

// DefaultPatterns are the case-insensitive substrings that mark an error
// message as transient.
var DefaultPatterns = []string{"rate limit", "too many requests", "overloaded", "capacity"}

// retryableStatus are the status codes treated as transient.
var retryableStatus = map[int]bool{429: true, 503: true, 529: true}

// StatusCoder is implemented by errors that carry an HTTP-style status.
type StatusCoder interface {
	StatusCode() int
}

// Strategy retries transient failures with exponential backoff.
type Strategy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Patterns     []string

	// Sleep waits for d or until ctx is done. Defaults to a timer select.
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Default returns the default strategy: 5 retries, 1s initial delay, x2
// backoff, 32s cap.
func Default() *Strategy {
	return &Strategy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     32 * time.Second,
		Patterns:     DefaultPatterns,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (s *Strategy) Delay(attempt int) time.Duration {
	d := float64(s.InitialDelay) * math.Pow(s.Multiplier, float64(attempt))
	if d > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(d)
}

// IsRetryable classifies err as transient or permanent.
func (s *Strategy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) && retryableStatus[sc.StatusCode()] {
		return true
	}
	patterns := s.Patterns
	if patterns == nil {
		patterns = DefaultPatterns
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, fails permanently, or retries are
// exhausted. The returned error is always the one fn produced.
func (s *Strategy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("call succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if !s.IsRetryable(err) {
			s.Metrics.RecordRetry("permanent")
			return err
		}
		if attempt >= s.MaxRetries {
			s.Metrics.RecordRetry("exhausted")
			logger.Warn("retries exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return err
		}

		delay := s.Delay(attempt)
		s.Metrics.RecordRetry("retry")
		logger.Info("transient failure, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", s.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

// Execute is Do for calls that produce a value.
func Execute[T any](ctx context.Context, s *Strategy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
