// ABOUTME: Pure reconnect-delay computation, separated from timer plumbing.
// ABOUTME: Exponential growth from a base delay, capped at a maximum.

package stream

import (
	"math"
	"time"
)

// Delay returns the reconnect delay for the given attempt:
// min(max, base × growth^attempt). Non-decreasing in attempt up to the cap.
// Overflow from large exponents collapses to the cap.
func Delay(attempt int, base, max time.Duration, growth float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if growth < 1 {
		growth = 1
	}

	d := float64(base) * math.Pow(growth, float64(attempt))
	if d >= float64(max) || math.IsInf(d, 1) {
		return max
	}
	return time.Duration(d)
}
