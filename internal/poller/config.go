package poller

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy selects how the delay between status requests grows.
type Strategy int

const (
	// Constant waits Interval between every request.
	Constant Strategy = iota
	// Linear waits Interval * attempt.
	Linear
	// Exponential doubles the delay each attempt: Interval * 2^(attempt-1).
	Exponential
)

func (s Strategy) String() string {
	switch s {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "constant"
	}
}

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "constant", "fixed":
		return Constant, nil
	case "linear":
		return Linear, nil
	case "exponential", "backoff":
		return Exponential, nil
	}
	return Constant, fmt.Errorf("poller: unknown strategy %q", s)
}

// Config is the polling policy.
type Config struct {
	Interval    time.Duration // base delay between requests
	MaxAttempts int           // total status requests, including the first
	MaxInterval time.Duration // cap on any single delay, 0 = uncapped
	Strategy    Strategy
	Jitter      bool // ±25% random jitter on each delay
}

// DefaultConfig polls every 5s for up to 60 attempts.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		MaxAttempts: 60,
		Strategy:    Constant,
	}
}

// Validate rejects policies that could not terminate sensibly.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, errors.New("poller: interval must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("poller: max attempts must be positive"))
	}
	if c.MaxInterval < 0 {
		errs = append(errs, errors.New("poller: max interval must not be negative"))
	}
	return errors.Join(errs...)
}

// Budget is the longest total sleep the policy can produce, ignoring
// jitter and request latency.
func (c Config) Budget() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < c.MaxAttempts; attempt++ {
		total += c.delay(attempt, nil)
	}
	return total
}

// delay returns the sleep after the given 1-based attempt. rnd supplies
// jitter; nil disables it.
func (c Config) delay(attempt int, rnd func(n int64) int64) time.Duration {
	var d time.Duration
	switch c.Strategy {
	case Linear:
		d = c.Interval * time.Duration(attempt)
	case Exponential:
		f := float64(c.Interval) * math.Pow(2, float64(attempt-1))
		if f >= math.MaxInt64 {
			d = time.Duration(math.MaxInt64)
		} else {
			d = time.Duration(f)
		}
	default:
		d = c.Interval
	}
	if c.MaxInterval > 0 && d > c.MaxInterval {
		d = c.MaxInterval
	}
	if c.Jitter && rnd != nil && d > 0 {
		if quarter := int64(d) / 4; quarter > 0 {
			j := time.Duration(rnd(quarter))
			if rnd(2) == 0 {
				d += j
			} else {
				d -= j
			}
		}
	}
	// MaxInterval holds after jitter too.
	if c.MaxInterval > 0 && d > c.MaxInterval {
		d = c.MaxInterval
	}
	return d
}

func defaultRand(n int64) int64 { return rand.Int64N(n) }
