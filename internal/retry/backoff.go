package retry

import (
	"math/rand"
	"time"
)

// jitterFraction is the upper bound of the random factor added to each delay.
// Jitter keeps a fleet of clients that failed together from retrying in
// lockstep.
const jitterFraction = 0.3

// Delay computes the backoff delay before the next attempt: exponential in
// the attempt number, scaled by a random jitter in [0, jitterFraction), and
// capped at max. attempt is 1-based.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}

	d = time.Duration(float64(d) * (1 + rand.Float64()*jitterFraction))
	if d > max {
		return max
	}
	return d
}
