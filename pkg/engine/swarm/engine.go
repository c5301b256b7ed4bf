// Package swarm runs tasks on a bounded pool whose width follows an AIMD
// limit. Throttling errors from AWS halve the limit; fast successes grow it.
package swarm

import (
	"context"
	"sync"
	"time"
)

// Task represents a unit of work for the swarm.
type Task func(ctx context.Context) error

// Engine manages the worker pool and concurrency.
type Engine struct {
	aimd     *AIMD
	mu       sync.Mutex
	cond     *sync.Cond
	wg       sync.WaitGroup
	active   int
	stats    Stats
	throttle func(error) bool
}

// Stats holds runtime statistics for the engine.
type Stats struct {
	ActiveWorkers  int
	Concurrency    int
	TasksCompleted int64
	TasksFailed    int64
	Throttled      int64
}

// NewEngine creates an engine allowing at most maxWorkers concurrent tasks.
func NewEngine(maxWorkers int) *Engine {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return NewEngineWithLimit(NewAIMD(maxWorkers, 1, maxWorkers))
}

// NewEngineWithLimit creates an engine driven by a caller-supplied limit.
func NewEngineWithLimit(limit *AIMD) *Engine {
	e := &Engine{aimd: limit, throttle: IsThrottle}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Submit blocks until a slot is free, then runs t on its own goroutine.
// It returns ctx.Err() without running t when ctx ends first.
func (e *Engine) Submit(ctx context.Context, t Task) error {
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	e.mu.Lock()
	for e.active >= e.aimd.GetConcurrency() {
		if err := ctx.Err(); err != nil {
			e.mu.Unlock()
			return err
		}
		e.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.active++
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(ctx, t)
	return nil
}

// Wait blocks until every submitted task has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// GetStats returns current engine stats.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.ActiveWorkers = e.active
	s.Concurrency = e.aimd.GetConcurrency()
	return s
}

func (e *Engine) run(ctx context.Context, t Task) {
	defer e.wg.Done()

	start := time.Now()
	err := t(ctx)
	latency := time.Since(start)

	throttled := err != nil && e.throttle(err)
	e.aimd.Feedback(latency, throttled)

	e.mu.Lock()
	e.active--
	e.stats.TasksCompleted++
	if err != nil {
		e.stats.TasksFailed++
	}
	if throttled {
		e.stats.Throttled++
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}
