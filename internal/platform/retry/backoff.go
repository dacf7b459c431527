package retry

import "time"

// Backoff doubles from Initial up to Max. It is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func NewBackoff(initial, maxBackoff time.Duration) *Backoff {
	return &Backoff{initial: initial, max: maxBackoff, next: initial}
}

// Next returns the current delay and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.max > 0 && b.next > b.max {
		b.next = b.max
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}

func (b *Backoff) Reset() {
	b.next = b.initial
}
