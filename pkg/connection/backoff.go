package connection

import (
	"math/rand"
	"time"
)

// backoffDelay returns the reconnect delay for the given attempt (1-based),
// drawn from the schedule with ± jitter applied. Attempts past the end of
// the schedule reuse its last entry.
func backoffDelay(schedule []time.Duration, attempt int, jitter float64, rng *rand.Rand) time.Duration {
	if len(schedule) == 0 || attempt < 1 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	if jitter <= 0 {
		return base
	}
	// Uniform in [-jitter, +jitter].
	factor := 1 + jitter*(2*rng.Float64()-1)
	d := time.Duration(float64(base) * factor)
	if d < 0 {
		d = 0
	}
	return d
}
