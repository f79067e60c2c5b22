package scheduler

import (
	"sync"
	"time"
)

// RateFloor enforces the minimum real-time interval between executed
// decision cycles, independent of how often the fingerprint changes. It is
// token-less: a cycle requested before the floor has elapsed is rejected
// outright rather than queued.
type RateFloor struct {
	mu   sync.Mutex
	min  time.Duration
	last time.Time
	now  func() time.Time
}

// NewRateFloor derives the floor from a cycles-per-hour cap.
func NewRateFloor(maxCyclesPerHour int) *RateFloor {
	if maxCyclesPerHour <= 0 {
		maxCyclesPerHour = 60
	}
	return &RateFloor{
		min: time.Hour / time.Duration(maxCyclesPerHour),
		now: time.Now,
	}
}

// Allow reports whether a cycle may execute now, and if so marks it as the
// last executed cycle.
func (r *RateFloor) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.min {
		return false
	}
	r.last = now
	return true
}

// Min returns the enforced floor interval.
func (r *RateFloor) Min() time.Duration {
	return r.min
}
