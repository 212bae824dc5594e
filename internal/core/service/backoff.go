package service

import "time"

// Backoff doubles the reconnect delay from Initial up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	attempt int
}

func (b *Backoff) Next() time.Duration {
	delay := b.Initial
	for i := 0; i < b.attempt && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	b.attempt++
	return delay
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempts() int {
	return b.attempt
}
