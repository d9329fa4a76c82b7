package lockout

import (
	"math"
	"time"
)

// EscalatedPenalty returns the lockout duration for a blocked account whose
// failure count reached count:
//
//	min(initial * 2^(count/threshold - 1), max)
//
// The exponent is floored at zero. A non-positive max disables the cap.
func EscalatedPenalty(count, threshold int, initial, max time.Duration) time.Duration {
	if threshold <= 0 || initial <= 0 {
		return initial
	}

	exp := count/threshold - 1
	if exp < 0 {
		exp = 0
	}

	d := initial
	for i := 0; i < exp; i++ {
		if max > 0 && d >= max {
			return max
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}

	if max > 0 && d > max {
		return max
	}
	return d
}
