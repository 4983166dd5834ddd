package utils

import (
	"testing"
	"time"
)

func TestSlidingWindowCount(t *testing.T) {
	window := NewSlidingWindow()
	now := time.Unix(1000, 0)
	window.Add(now)
	window.Add(now.Add(500 * time.Millisecond))
	if count := window.Count(now.Add(1*time.Second), 2*time.Second); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := window.Count(now.Add(3*time.Second), 2*time.Second); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
	if window.Len() != 0 {
		t.Fatalf("expected pruned log, got %d entries", window.Len())
	}
}

func TestSlidingWindowBoundaryIsExclusive(t *testing.T) {
	window := NewSlidingWindow()
	now := time.Unix(1000, 0)
	window.Add(now)
	if count := window.Count(now.Add(10*time.Second), 10*time.Second); count != 0 {
		t.Fatalf("hit exactly on the cutoff must not count, got %d", count)
	}
}

func TestSlidingWindowOutOfOrder(t *testing.T) {
	window := NewSlidingWindow()
	now := time.Unix(1000, 0)
	window.Add(now.Add(5 * time.Second))
	window.Add(now)
	window.Add(now.Add(2 * time.Second))
	if count := window.Count(now.Add(6*time.Second), 5*time.Second); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
}

func TestSlidingWindowNeverIncreasesWithoutAdd(t *testing.T) {
	window := NewSlidingWindow()
	now := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		window.Add(now.Add(time.Duration(i) * time.Second))
	}
	last := window.Count(now.Add(5*time.Second), 10*time.Second)
	for step := 6; step < 20; step++ {
		count := window.Count(now.Add(time.Duration(step)*time.Second), 10*time.Second)
		if count > last {
			t.Fatalf("count increased from %d to %d", last, count)
		}
		last = count
	}
	window.Reset()
	if count := window.Count(now, time.Hour); count != 0 {
		t.Fatalf("expected 0 after reset, got %d", count)
	}
}
