package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	Fixed          = "fixed"
	Linear         = "linear"
	Exponential    = "exponential"
	ExpEqualJitter = "exp_equal_jitter"
	ExpFullJitter  = "exp_full_jitter"
)

// Policy computes pause lengths for consecutive failures of the worker loop.
type Policy struct {
	Name string
	Base time.Duration
	Max  time.Duration
	rng  *rand.Rand
}

// NewPolicy validates name and returns a Policy seeded from the clock.
func NewPolicy(name string, base, max time.Duration) (Policy, error) {
	if !Known(name) {
		return Policy{}, fmt.Errorf("unknown backoff policy %q", name)
	}
	return Policy{
		Name: name,
		Base: base,
		Max:  max,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Delay returns the pause after the given number of consecutive failures.
func (p Policy) Delay(attempts int) time.Duration {
	return Compute(p.Name, p.Base, p.Max, attempts, p.rng)
}

func Known(name string) bool {
	switch name {
	case Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter:
		return true
	}
	return false
}

// Compute returns a delay based on attempts and policy.
// attempts is expected to be >= 0.
func Compute(policy string, base, max time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case Fixed:
		return minDur(base, max)
	case Linear:
		return minDur(base*time.Duration(maxInt(1, attempts)), max)
	case Exponential:
		return expCapped(base, max, attempts)
	case ExpEqualJitter:
		maxDelay := expCapped(base, max, attempts)
		half := maxDelay / 2
		return half + time.Duration(rng.Int63n(int64(maxDelay-half)+1))
	default: // exp_full_jitter
		maxDelay := expCapped(base, max, attempts)
		if maxDelay <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(maxDelay) + 1))
	}
}

func expCapped(base, max time.Duration, attempts int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempts))
	if f >= float64(max) {
		return max
	}
	return time.Duration(f)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
