package swarm

import (
	"sync"
	"time"
)

// AIMD is an additive-increase / multiplicative-decrease concurrency limit.
type AIMD struct {
	mu          sync.Mutex
	concurrency int
	minWorkers  int
	maxWorkers  int
	lastChange  time.Time

	// Step is added to the limit after a healthy task.
	Step int
	// Target is the latency below which a task counts as healthy.
	Target time.Duration
	// Cooldown dampens oscillation between consecutive adjustments.
	Cooldown time.Duration
}

// NewAIMD returns a limit starting at start and clamped to [min, max].
func NewAIMD(start, min, max int) *AIMD {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if start < min {
		start = min
	}
	if start > max {
		start = max
	}
	return &AIMD{
		concurrency: start,
		minWorkers:  min,
		maxWorkers:  max,
		lastChange:  time.Now(),
		Step:        1,
		Target:      2 * time.Second,
		Cooldown:    100 * time.Millisecond,
	}
}

func (a *AIMD) GetConcurrency() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.concurrency
}

// Feedback adjusts the limit from the outcome of one task.
func (a *AIMD) Feedback(lat time.Duration, throttled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Sub(a.lastChange) < a.Cooldown {
		return
	}

	if throttled {
		a.concurrency = a.concurrency / 2
		if a.concurrency < a.minWorkers {
			a.concurrency = a.minWorkers
		}
		a.lastChange = now
		return
	}

	if lat < a.Target && a.concurrency < a.maxWorkers {
		a.concurrency += a.Step
		if a.concurrency > a.maxWorkers {
			a.concurrency = a.maxWorkers
		}
		a.lastChange = now
	}
}
