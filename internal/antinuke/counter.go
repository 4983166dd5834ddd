package antinuke

import (
	"sync"
	"time"

	"aegis-community/internal/utils"
)

type counterKey struct {
	actor  ActorKey
	action ActionType
}

// Counter keeps one sliding window per (actor, action type). Counters live
// in memory only; a restart starts every window empty.
type Counter struct {
	mu      sync.Mutex
	windows map[counterKey]*utils.SlidingWindow
}

func NewCounter() *Counter {
	return &Counter{windows: make(map[counterKey]*utils.SlidingWindow)}
}

func (c *Counter) Record(key ActorKey, action ActionType, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowLocked(counterKey{actor: key, action: action}).Add(at)
}

// CountRecent returns the events newer than now-window and drops the rest.
// Windows that empty out are released.
func (c *Counter) CountRecent(key ActorKey, action ActionType, now time.Time, window time.Duration) int {
	ck := counterKey{actor: key, action: action}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.windows[ck]
	if w == nil {
		return 0
	}
	count := w.Count(now, window)
	if count == 0 {
		delete(c.windows, ck)
	}
	return count
}

func (c *Counter) Reset(key ActorKey, action ActionType) {
	c.mu.Lock()
	delete(c.windows, counterKey{actor: key, action: action})
	c.mu.Unlock()
}

// Counts reports the current count for every action that has a rule.
func (c *Counter) Counts(key ActorKey, now time.Time, rules map[ActionType]RuleConfig) map[ActionType]int {
	counts := make(map[ActionType]int, len(rules))
	for action, rule := range rules {
		if count := c.CountRecent(key, action, now, rule.Window); count > 0 {
			counts[action] = count
		}
	}
	return counts
}

func (c *Counter) windowLocked(key counterKey) *utils.SlidingWindow {
	window := c.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow()
		c.windows[key] = window
	}
	return window
}
