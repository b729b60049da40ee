package flusher

import "time"

// Observer defines the interface for observing flush events.
type Observer interface {
	// OnFlush is called after every flush attempt.
	OnFlush(duration time.Duration, records int, err error)

	// OnPending reports what is left in the buffer after a flush.
	OnPending(count int, bytes int64)
}

// NoopObserver is a no-op implementation of Observer.
type NoopObserver struct{}

func (NoopObserver) OnFlush(time.Duration, int, error) {}
func (NoopObserver) OnPending(int, int64)               {}
