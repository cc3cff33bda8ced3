package errors

import (
	"context"
	"math"
	"time"
)

// RetryConfig is an exponential backoff schedule
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig is used for the database connection at startup
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the wait after the given failed attempt, capped at MaxDelay
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if delay > c.MaxDelay || delay < 0 {
		return c.MaxDelay
	}
	return delay
}

// RetryHandler retries recoverable failures with backoff. Task bodies do not
// use it: a failed task waits for its next natural fire.
type RetryHandler struct {
	config RetryConfig
	notify func(attempt int, delay time.Duration, err *AppError)
}

func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{config: config}
}

// OnRetry registers fn to be called before each backoff wait
func (rh *RetryHandler) OnRetry(fn func(attempt int, delay time.Duration, err *AppError)) *RetryHandler {
	rh.notify = fn
	return rh
}

// Retry runs operation until it succeeds, fails permanently, runs out of
// attempts or ctx ends. The returned error is always an AppError.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var last *AppError

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", err)
		}

		err := operation()
		if err == nil {
			return nil
		}

		last = Classify(err)
		if !last.IsRecoverable() || attempt == rh.config.MaxAttempts {
			break
		}

		delay := rh.config.Delay(attempt)
		if rh.notify != nil {
			rh.notify(attempt, delay, last)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-timer.C:
		}
	}

	if last.IsRecoverable() {
		last.WithContext("attempts", rh.config.MaxAttempts)
	}
	return last
}
