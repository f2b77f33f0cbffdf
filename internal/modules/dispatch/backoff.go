package dispatch

import "time"

// backoff yields bounded exponential delays.
type backoff struct {
	next       time.Duration
	max        time.Duration
	multiplier float64
}

func newBackoff(initial, max time.Duration, multiplier float64) *backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return &backoff{next: initial, max: max, multiplier: multiplier}
}

func (b *backoff) Next() time.Duration {
	d := b.next
	if d > b.max {
		d = b.max
	}
	grown := time.Duration(float64(b.next) * b.multiplier)
	if grown > b.max || grown < b.next {
		grown = b.max
	}
	b.next = grown
	return d
}
