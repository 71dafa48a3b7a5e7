// Package backoff provides the delay strategies used between reconnect attempts.
// It supports constant, linear, exponential, and random backoff algorithms,
// and a cap that clamps any of them to an upper bound.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff defines the interface for backoff strategies.
// The Next method returns the duration to wait before the next retry attempt.
type Backoff interface {
	// Next returns the duration to wait before the given retry attempt.
	//
	// Parameters:
	// - attempt: The 1-based number of the attempt about to be scheduled
	//
	// Returns:
	// - time.Duration: The duration to wait before the attempt
	Next(attempt int) time.Duration
}

// Default returns the reconnect strategy of the realtime client:
// exponential growth of 1.5 from 2 seconds, capped at 30 seconds.
//
// Returns:
// - Backoff: Default capped exponential backoff strategy
func Default() Backoff {
	return Capped(Exponential(2*time.Second, 1.5), 30*time.Second)
}

// Linear creates a linear backoff strategy that increases linearly with each retry.
//
// Parameters:
// - base: Backoff duration of the first attempt
// - step: Duration added to the backoff for each further attempt
//
// Returns:
// - Backoff: Linear backoff strategy
func Linear(base, step time.Duration) Backoff {
	return linearBackoff{base: base, step: step}
}

// Random creates a random backoff strategy that returns a random duration between min and max.
//
// Parameters:
// - min: Minimum backoff duration
// - max: Maximum backoff duration
//
// Returns:
// - Backoff: Random backoff strategy
func Random(min, max time.Duration) Backoff {
	return randomBackoff{min: min, max: max}
}

// Exponential creates an exponential backoff strategy.
// Attempt 1 waits base, every later attempt multiplies the previous delay by growth.
//
// Parameters:
// - base: Backoff duration of the first attempt
// - growth: Multiplicative growth factor
//
// Returns:
// - Backoff: Exponential backoff strategy
func Exponential(base time.Duration, growth float64) Backoff {
	return exponentialBackoff{base: base, growth: growth}
}

// Constant creates a constant backoff strategy that returns the same duration for each retry.
//
// Parameters:
// - dur: Constant backoff duration
//
// Returns:
// - Backoff: Constant backoff strategy
func Constant(dur time.Duration) Backoff {
	return constantBackoff{duration: dur}
}

// Capped clamps every delay of b to max.
//
// Parameters:
// - b: The strategy to clamp
// - max: Upper bound of any returned delay
//
// Returns:
// - Backoff: Capped backoff strategy
func Capped(b Backoff, max time.Duration) Backoff {
	return cappedBackoff{inner: b, max: max}
}

// constantBackoff implements the Backoff interface with a constant duration.
type constantBackoff struct {
	duration time.Duration // Constant backoff duration
}

func (b constantBackoff) Next(attempt int) time.Duration {
	return b.duration
}

// exponentialBackoff implements the Backoff interface with exponential growth.
type exponentialBackoff struct {
	base   time.Duration // Backoff duration of attempt 1
	growth float64       // Exponential growth factor
}

// Next returns the exponential backoff duration.
// Formula: base * (growth ^ (attempt-1))
func (b exponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.base) * math.Pow(b.growth, float64(attempt-1))
	if d >= math.MaxInt64 || math.IsInf(d, 0) || math.IsNaN(d) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// linearBackoff implements the Backoff interface with linear growth.
type linearBackoff struct {
	base time.Duration // Backoff duration of attempt 1
	step time.Duration // Step added for each further attempt
}

// Next returns the linear backoff duration.
// Formula: base + (step * (attempt-1))
func (b linearBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.base + time.Duration(attempt-1)*b.step
}

// randomBackoff implements the Backoff interface with random duration.
type randomBackoff struct {
	min time.Duration // Minimum backoff duration
	max time.Duration // Maximum backoff duration
}

func (b randomBackoff) Next(attempt int) time.Duration {
	return time.Duration(float64(b.min) + float64(b.max-b.min)*rand.Float64())
}

type cappedBackoff struct {
	inner Backoff
	max   time.Duration
}

func (b cappedBackoff) Next(attempt int) time.Duration {
	return min(b.inner.Next(attempt), b.max)
}
