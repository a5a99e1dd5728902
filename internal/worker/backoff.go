package worker

import (
	"time"

	"github.com/coldcrate/fridgevision/internal/store"
)

// Defaults applied by NewPool for any zero Config field.
const (
	DefaultConcurrency  = 2
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 2
	DefaultBackoffBase  = 5 * time.Second
)

// Linear returns a backoff where the n-th retry waits n*base.
func Linear(base time.Duration) store.Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * base
	}
}
