package lares

import (
	"math/rand"
	"time"
)

// Default reconnection backoff schedule.
const (
	defaultReconnectBase = 5 * time.Second
	defaultReconnectCap  = 60 * time.Second

	// reconnectJitter is the uniform jitter applied around each nominal
	// delay so a fleet of clients does not thunder against a recovering
	// panel.
	reconnectJitter = 0.10
)

// reconnectDelay returns the jittered delay before retry number attempt
// (0-based count of consecutive failures since the last READY session).
// The nominal delay doubles from base up to the limit; the result is
// drawn uniformly from ±10% around nominal. Retries are unlimited: the
// schedule caps, it never gives up.
func reconnectDelay(base, limit time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = defaultReconnectBase
	}
	if limit <= 0 {
		limit = defaultReconnectCap
	}

	nominal := base
	for range attempt {
		nominal *= 2
		if nominal >= limit {
			nominal = limit
			break
		}
	}
	if nominal > limit {
		nominal = limit
	}

	if rng == nil {
		return nominal
	}
	// Uniform in [1-jitter, 1+jitter).
	factor := 1 - reconnectJitter + 2*reconnectJitter*rng.Float64()
	return time.Duration(float64(nominal) * factor)
}
