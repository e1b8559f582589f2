package connection

import (
	"math"
	"time"
)

const (
	backoffCapMs   = 25000
	backoffFloorMs = 250
	backoffStepMs  = 2000
)

// BackoffWindow returns the [lo, hi) window in milliseconds for the n-th
// consecutive failure. Both ends are capped at 25s.
func BackoffWindow(n int) (lo, hi int) {
	hi = min(500+n*backoffStepMs, backoffCapMs)
	lo = min(max(backoffFloorMs, (n-1)*backoffStepMs), backoffCapMs)
	return lo, hi
}

// Backoff draws the reconnect delay for n consecutive failures. rnd must
// return values in [0, 1).
func Backoff(n int, rnd func() float64) time.Duration {
	lo, hi := BackoffWindow(n)
	ms := math.Floor(rnd()*float64(hi-lo) + float64(lo))
	return time.Duration(ms) * time.Millisecond
}
