package coordinator

import (
	"math/rand"
	"time"
)

// backoffDelay picks a jittered delay for a retry attempt: a random
// number of slots in [0, 2^attempt), capped at maximum. Randomizing the
// slot count spreads competing writers instead of re-colliding them.
func backoffDelay(attempt int, slot, maximum time.Duration) time.Duration {
	if slot <= 0 || attempt <= 0 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	delay := time.Duration(rand.Int63n(1<<attempt)) * slot
	if delay > maximum {
		return maximum
	}
	return delay
}
