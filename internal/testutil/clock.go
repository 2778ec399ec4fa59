// Package testutil holds deterministic stand-ins for wall-clock time and run
// ids so pipeline output can be compared across runs.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a StepClock reports by default.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a wall clock that advances by a fixed step on every read.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	reads int64
}

// NewStepClock creates a clock whose first Now() returns start.
// A zero start uses Epoch; a zero step uses one second.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if start.IsZero() {
		start = Epoch
	}
	if step == 0 {
		step = time.Second
	}
	return &StepClock{start: start, step: step}
}

// Now returns the next instant. Use the method value as a time source:
//
//	engine.WithClock(clock.Now)
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.reads) * c.step)
	c.reads++
	return t
}

// Reads returns how many times Now was called.
func (c *StepClock) Reads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Reset rewinds the clock so the next Now() returns start again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = 0
}

// FixedRunID returns the same run id on every call, so a test can drive a
// command several times and compare the output.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID string

// Generate implements engine.RunIDGenerator. An empty id yields
// "test-run-default".
func (id FixedRunID) Generate() string {
	if id == "" {
		return "test-run-default"
	}
	return string(id)
}
