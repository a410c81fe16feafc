// Package retry implements bounded exponential backoff for operations that
// contend on shared state, first of all compare-and-swap writes against the
// matchpoint bucket: a conflicting writer usually clears within a few short,
// growing pauses.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	jitterMu  sync.Mutex
	jitterSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError marks an error that must not be retried, such as a
// rejected update function inside a CAS loop.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so Do fails immediately instead of retrying.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries the non-retryable marker.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config bounds a retry loop.
type Config struct {
	MaxAttempts  int           // total attempts including the first (<= 0 runs once)
	InitialDelay time.Duration // pause after the first failure
	MaxDelay     time.Duration // pause ceiling
	Multiplier   float64       // pause growth factor
	AddJitter    bool          // randomize pauses to spread contending writers
}

// DefaultConfig is tuned for short CAS conflicts: many writers, small
// values, contention that resolves within milliseconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// normalized fills zero fields with the CAS-tuned defaults and rejects
// configurations that cannot terminate sensibly.
func (c Config) normalized() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.New("retry: negative configuration value")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 10 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// ends during a pause, or the attempt bound is reached.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		lastErr := fn()
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
		}

		if err := sleep(ctx, withJitter(delay, cfg.AddJitter)); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, err)
		}
		delay = nextDelay(delay, cfg)
	}
}

// withJitter stretches the pause by up to 25% so writers that collided once
// do not collide again in lockstep.
func withJitter(d time.Duration, enabled bool) time.Duration {
	if !enabled || d <= 0 {
		return d
	}
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return d + time.Duration(jitterSrc.Int63n(int64(d)/4+1))
}

func nextDelay(d time.Duration, cfg Config) time.Duration {
	next := time.Duration(float64(d) * cfg.Multiplier)
	if next <= 0 || next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
