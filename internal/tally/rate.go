package tally

import (
	"time"
)

// RateTracker counts items per wall-clock second. It does no locking of its
// own; Tally holds its lock around every call.
type RateTracker struct {
	counts    map[int64]int // unix second -> items
	startTime time.Time
	total     int
	now       func() time.Time
}

func NewRateTracker() *RateTracker {
	return &RateTracker{
		counts:    make(map[int64]int),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Track adds count items to the current second and forgets seconds older
// than a minute.
func (t *RateTracker) Track(count int) {
	now := t.now()
	key := now.Unix()
	t.counts[key] += count
	t.total += count
	for ts := range t.counts {
		if ts < key-60 {
			delete(t.counts, ts)
		}
	}
}

// Rate returns the average items per second over the last seconds, or over
// the time since tracking began if that is shorter.
func (t *RateTracker) Rate(seconds int) float64 {
	now := t.now()
	cutoff := now.Add(-time.Duration(seconds) * time.Second).Unix()

	var total int
	for ts, count := range t.counts {
		if ts > cutoff {
			total += count
		}
	}

	actualSeconds := int64(seconds)
	elapsedSeconds := now.Unix() - t.startTime.Unix()
	if elapsedSeconds < actualSeconds {
		actualSeconds = elapsedSeconds
		if actualSeconds == 0 {
			actualSeconds = 1
		}
	}
	return float64(total) / float64(actualSeconds)
}

func (t *RateTracker) Total() int {
	return t.total
}
