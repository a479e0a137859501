// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package subscriber

import "time"

// backoff produces the retry delay sequence for reconnection attempts:
// each Next grows the delay by the multiplier up to the cap, and Reset
// returns to the initial delay after a connection is established.
//
// Not safe for concurrent use; the Subscriber serializes access under its
// own lock.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	current    time.Duration
}

func newBackoff(initial, max time.Duration, multiplier float64) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	if multiplier < 1 {
		multiplier = 1.5
	}
	return &backoff{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		current:    initial,
	}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *backoff) Next() time.Duration {
	d := b.current
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next
	return d
}

// Reset returns the sequence to its initial delay.
func (b *backoff) Reset() {
	b.current = b.initial
}
