package ratelimiter

import (
	"sync"
	"testing"
	"time"
)

// TestAllow verifies that Allow enforces the burst and reports what it
// suppressed.
func TestAllow(t *testing.T) {
	limiter := New(10, 3)

	for i := 0; i < 3; i++ {
		ok, suppressed := limiter.Allow()
		if !ok {
			t.Fatalf("event %d should be allowed (within burst)", i)
		}
		if suppressed != 0 {
			t.Fatalf("event %d reported %d suppressed, want 0", i, suppressed)
		}
	}

	for i := 0; i < 4; i++ {
		if ok, _ := limiter.Allow(); ok {
			t.Fatalf("event %d should be throttled after burst exhausted", i)
		}
	}
	if got := limiter.Suppressed(); got != 4 {
		t.Fatalf("Suppressed() = %d, want 4", got)
	}

	// 10 events/s refills one token in 100ms.
	time.Sleep(120 * time.Millisecond)

	ok, suppressed := limiter.Allow()
	if !ok {
		t.Fatal("event should be allowed after token replenishment")
	}
	if suppressed != 4 {
		t.Fatalf("suppressed = %d, want 4", suppressed)
	}
	if got := limiter.Suppressed(); got != 0 {
		t.Fatalf("Suppressed() after report = %d, want 0", got)
	}
}

func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 10000; i++ {
		if ok, _ := limiter.Allow(); !ok {
			t.Fatalf("event %d throttled by unlimited limiter", i)
		}
	}
}

func TestEvery(t *testing.T) {
	limiter := Every(time.Hour, 0)

	if ok, _ := limiter.Allow(); !ok {
		t.Fatal("first event should be allowed")
	}
	if ok, _ := limiter.Allow(); ok {
		t.Fatal("second event within the interval should be throttled")
	}
}

// TestConcurrentAccounting checks that every event is either admitted or
// counted as suppressed.
func TestConcurrentAccounting(t *testing.T) {
	limiter := New(1, 5)

	const goroutines = 16
	const perGoroutine = 100

	var mu sync.Mutex
	var admitted, reported int64

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if ok, suppressed := limiter.Allow(); ok {
					mu.Lock()
					admitted++
					reported += suppressed
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	total := admitted + reported + limiter.Suppressed()
	if total != goroutines*perGoroutine {
		t.Fatalf("admitted+suppressed = %d, want %d", total, goroutines*perGoroutine)
	}
}
