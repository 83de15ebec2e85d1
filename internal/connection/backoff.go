package connection

import (
	"math/rand/v2"
	"time"
)

// backoffDelay returns min(base * 2^(attempt-1), maxWait) for attempt >= 1.
func backoffDelay(base, maxWait time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxWait || d <= 0 {
			return maxWait
		}
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

// jitter spreads d over d*0.5 to d*1.5.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}
