package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock returns a limiter whose clock is advanced by the returned func.
func fakeClock(rate float64, burst int) (*Limiter, func(time.Duration)) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(rate, burst)
	l.nowFunc = func() time.Time { return now }
	return l, func(d time.Duration) { now = now.Add(d) }
}

func TestAllow_Burst(t *testing.T) {
	l := NewLimiter(1.0, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("run") {
			t.Errorf("request %d should be allowed (within burst)", i+1)
		}
	}
	if l.Allow("run") {
		t.Error("request after burst exhaustion should be rejected")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := NewLimiter(1.0, 1)
	l.Allow("a")
	if l.Allow("a") {
		t.Error("a should be exhausted")
	}
	if !l.Allow("b") {
		t.Error("b has its own bucket")
	}
}

func TestReserve_Refill(t *testing.T) {
	l, advance := fakeClock(10.0, 2)
	l.Allow("k")
	l.Allow("k")

	ok, wait := l.Reserve("k")
	if ok {
		t.Fatal("expected rejection after burst")
	}
	if wait != 100*time.Millisecond {
		t.Errorf("wait = %v, want 100ms", wait)
	}

	advance(wait)
	if !l.Allow("k") {
		t.Error("expected allow once the reported wait elapsed")
	}
}

func TestReserve_RefillCappedAtBurst(t *testing.T) {
	l, advance := fakeClock(100.0, 3)
	for i := 0; i < 3; i++ {
		l.Allow("k")
	}

	advance(10 * time.Second)
	for i := 0; i < 3; i++ {
		if !l.Allow("k") {
			t.Errorf("request %d should be allowed after refill", i+1)
		}
	}
	if l.Allow("k") {
		t.Error("4th request should be rejected (burst cap)")
	}
}

func TestReserve_ZeroRate(t *testing.T) {
	l := NewLimiter(0, 1)
	if !l.Allow("k") {
		t.Fatal("first request should use initial burst")
	}
	ok, wait := l.Reserve("k")
	if ok || wait != 0 {
		t.Errorf("Reserve() = (%v, %v), want (false, 0)", ok, wait)
	}
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	l, _ := fakeClock(1000.0, 100)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("k") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed %d requests, want 100 with a frozen clock", allowed)
	}
}

func TestToolLimiters(t *testing.T) {
	tests := []struct {
		tool  string
		burst int
	}{
		{"funnelsim_run", 2},
		{"funnelsim_compare", 1},
		{"funnelsim_score", 20},
		{"funnelsim_history", 10},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			limiters := NewToolLimiters()
			for i := 0; i < tt.burst; i++ {
				if err := CheckLimit(limiters, tt.tool); err != nil {
					t.Fatalf("request %d: unexpected error %v", i+1, err)
				}
			}

			err := CheckLimit(limiters, tt.tool)
			var limitErr *LimitError
			if !errors.As(err, &limitErr) {
				t.Fatalf("CheckLimit() error = %v, want *LimitError", err)
			}
			if limitErr.Tool != tt.tool || limitErr.RetryAfter <= 0 {
				t.Errorf("LimitError = %+v", limitErr)
			}
		})
	}
}

func TestCheckLimit_UnknownTool(t *testing.T) {
	limiters := NewToolLimiters()
	for i := 0; i < 100; i++ {
		if err := CheckLimit(limiters, "unknown_tool"); err != nil {
			t.Fatalf("unknown tool should never be limited: %v", err)
		}
	}
}
