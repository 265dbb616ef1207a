package world

import (
	"fmt"
	"sync"
)

const (
	startMinute   = 8 * 60
	minutesPerDay = 24 * 60
)

// Clock is simulated station time. It starts at Day 1, 08:00 and only moves when advanced.
type Clock struct {
	mu      sync.RWMutex
	elapsed int
}

// Advance moves the clock forward by minutes.
func (c *Clock) Advance(minutes int) {
	if minutes <= 0 {
		return
	}
	c.mu.Lock()
	c.elapsed += minutes
	c.mu.Unlock()
}

// Day returns the 1-based day number.
func (c *Clock) Day() int {
	return c.total()/minutesPerDay + 1
}

// Hour returns the hour of day, 0-23.
func (c *Clock) Hour() int {
	return c.total() % minutesPerDay / 60
}

// Elapsed returns simulated minutes since the start.
func (c *Clock) Elapsed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.elapsed
}

func (c *Clock) String() string {
	t := c.total()
	return fmt.Sprintf("Day %d, %02d:%02d", t/minutesPerDay+1, t%minutesPerDay/60, t%60)
}

func (c *Clock) total() int {
	return startMinute + c.Elapsed()
}
