package domain

import "time"

// Backoff returns min(base * 2^attempt, max). A non-positive max disables the cap.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
		// Guard against overflow on absurd attempt counts.
		if delay <= 0 {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// RetryDelay picks the delay before the next attempt after err: the server
// retry-after hint for rate limiting, the exponential backoff otherwise.
func RetryDelay(err error, base, max time.Duration, attempt int) time.Duration {
	if KindOf(err) == KindRateLimited {
		if after, ok := RetryAfterOf(err); ok {
			return after
		}
	}
	return Backoff(base, max, attempt)
}
