package backoff

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialJitter returns base doubled per attempt, capped at max, with
// +/- 20% jitter so synchronized retries spread out. Attempt 1 yields
// roughly base.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mul)
	if d > max || d < 0 {
		d = max
	}

	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int63n(int64(2*j)))
}
