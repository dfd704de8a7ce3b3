package infra

import (
	"math/rand"
	"time"
)

const (
	backoffBase   = 1 * time.Second
	backoffMax    = 60 * time.Second
	backoffJitter = 0.2
)

// CalculateBackoff returns the wait before reconnect attempt number retry
// (0-based): exponential growth from 1s capped at 60s, with ±20% jitter so
// concurrent workers don't reconnect in lockstep.
func CalculateBackoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	delay := backoffBase
	for i := 0; i < retry && delay < backoffMax; i++ {
		delay *= 2
	}
	if delay > backoffMax {
		delay = backoffMax
	}

	factor := 1.0 + (rand.Float64()*2-1)*backoffJitter
	return time.Duration(float64(delay) * factor)
}
