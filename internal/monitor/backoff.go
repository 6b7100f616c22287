package monitor

import "time"

// backoff doubles the delay between failed cycles, capped. A successful
// cycle resets it.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max}
}

// next returns the delay before the following attempt and escalates.
func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
		return b.current
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}

// degraded reports whether at least one failure has already been seen, i.e.
// the loop is in the degraded state the caller should be told about.
func (b *backoff) degraded() bool {
	return b.current != 0
}
