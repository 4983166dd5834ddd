package utils

import (
	"sort"
	"sync"
	"time"
)

// SlidingWindow is an ordered log of hit timestamps. Hits that fall out of
// the window passed to Count are discarded for good.
type SlidingWindow struct {
	mu   sync.Mutex
	hits []time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Add records a hit and keeps the log sorted even when events arrive late.
func (w *SlidingWindow) Add(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := sort.Search(len(w.hits), func(i int) bool {
		return w.hits[i].After(at)
	})
	w.hits = append(w.hits, time.Time{})
	copy(w.hits[idx+1:], w.hits[idx:])
	w.hits[idx] = at
}

// Count returns the number of hits strictly newer than now-window.
func (w *SlidingWindow) Count(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
	return len(w.hits)
}

func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	w.hits = nil
	w.mu.Unlock()
}
