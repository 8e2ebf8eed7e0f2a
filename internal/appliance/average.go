package appliance

import "time"

type sample struct {
	at    time.Time
	value float64
}

// TimedAverage is the mean of the samples pushed within a trailing window.
// It is not safe for concurrent use; each appliance actor owns its own.
type TimedAverage struct {
	window  time.Duration
	samples []sample
}

// NewTimedAverage returns an empty average over window.
func NewTimedAverage(window time.Duration) *TimedAverage {
	return &TimedAverage{window: window}
}

// Push adds v at time at and drops samples that have left the window.
func (a *TimedAverage) Push(at time.Time, v float64) {
	a.samples = append(a.samples, sample{at: at, value: v})
	a.evict(at)
}

// Value returns the mean of the samples still inside the window at now,
// and false when there are none.
func (a *TimedAverage) Value(now time.Time) (float64, bool) {
	a.evict(now)
	if len(a.samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range a.samples {
		sum += s.value
	}
	return sum / float64(len(a.samples)), true
}

// Len returns the number of retained samples.
func (a *TimedAverage) Len() int { return len(a.samples) }

func (a *TimedAverage) evict(now time.Time) {
	cutoff := now.Add(-a.window)
	i := 0
	for i < len(a.samples) && a.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.samples = append(a.samples[:0], a.samples[i:]...)
	}
}
