// Package engine provides the discrete-event simulation loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the simulated time every planner reads. Only the simulation
// advances it.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *Clock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Engine drives a simulation forward, optionally paced against wall time.
type Engine struct {
	Sim *Simulation

	speed   atomic.Uint64 // float64 bits: simulated seconds per wall second, 0 = unthrottled
	running atomic.Bool

	// OnDay is called after every daily report, outside the simulation lock.
	OnDay func(DayReport)
}

// NewEngine creates an unthrottled engine for sim.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{Sim: sim}
}

// Speed returns the pacing factor.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// SetSpeed sets how many simulated seconds pass per wall second. Zero or
// less runs as fast as possible.
func (e *Engine) SetSpeed(v float64) {
	e.speed.Store(math.Float64bits(max(v, 0)))
}

// Running reports whether Run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run steps the simulation until the horizon is reached or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "time", e.Sim.SimTime(), "speed", e.Speed())

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("simulation engine stopped", "time", e.Sim.SimTime(), "reason", err)
			return nil
		}

		before := e.Sim.Now()
		start := time.Now()
		more, reports, err := e.Sim.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("simulation engine stopped", "time", e.Sim.SimTime(), "reason", ctx.Err())
				return nil
			}
			return err
		}
		if e.OnDay != nil {
			for _, r := range reports {
				e.OnDay(r)
			}
		}
		if !more {
			break
		}

		// Sleep off the simulated time the step covered, adjusted for speed.
		if speed := e.Speed(); speed > 0 {
			target := time.Duration(float64(e.Sim.Now().Sub(before)) / speed)
			if elapsed := time.Since(start); elapsed < target {
				select {
				case <-ctx.Done():
				case <-time.After(target - elapsed):
				}
			}
		}
	}

	rep := e.Sim.Finish()
	if e.OnDay != nil {
		e.OnDay(rep)
	}
	slog.Info("simulation engine finished", "time", e.Sim.SimTime())
	return nil
}

// SimTime renders now relative to the simulation start, e.g. "Day 3, 14:05".
func SimTime(start, now time.Time) string {
	d := now.Sub(start)
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	rest := d % (24 * time.Hour)
	return fmt.Sprintf("Day %d, %d:%02d", days+1, int(rest.Hours()), int(rest.Minutes())%60)
}
