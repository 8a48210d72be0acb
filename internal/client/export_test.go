package client

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// SetBackoff overrides the reconnect backoff policy for tests.
func (l *Listener) SetBackoff(reset time.Duration, factory func() retry.Backoff) {
	l.backoffReset = reset
	l.newBackoff = factory
}
