package infra

import "time"

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns an exponential delay for the given retry
// attempt, capped at one minute.
func CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return backoffBase
	}
	delay := backoffBase << uint(attempt)
	if delay > backoffMax || delay <= 0 {
		return backoffMax
	}
	return delay
}
