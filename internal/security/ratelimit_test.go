package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{MediationsPerMin: 5})

	for i := range 5 {
		if err := rl.AllowMediation("shell.exec"); err != nil {
			t.Fatalf("AllowMediation(%d) returned error: %v", i, err)
		}
	}

	// 6th should be denied.
	if err := rl.AllowMediation("shell.exec"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{MediationsPerMin: 2})
	rl.now = func() time.Time { return now }

	// Fill the bucket.
	_ = rl.AllowMediation("http.get")
	_ = rl.AllowMediation("http.get")

	// Should be denied.
	if err := rl.AllowMediation("http.get"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	// Advance past the window.
	now = now.Add(61 * time.Second)

	// Should be allowed again.
	if err := rl.AllowMediation("http.get"); err != nil {
		t.Fatalf("expected allow after window, got %v", err)
	}
}

func TestRateLimiter_PerToolBuckets(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{MediationsPerMin: 1})

	if err := rl.AllowMediation("fs.read"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rl.AllowMediation("fs.read"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit for fs.read")
	}

	// A different tool has its own bucket.
	if err := rl.AllowMediation("fs.write"); err != nil {
		t.Fatalf("fs.write should have its own budget, got %v", err)
	}
}

func TestRateLimiter_PerToolOverride(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{
		MediationsPerMin: 100,
		PerTool:          map[string]int{"shell.exec": 2},
	})

	_ = rl.AllowMediation("shell.exec")
	_ = rl.AllowMediation("shell.exec")
	if err := rl.AllowMediation("shell.exec"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected override limit of 2 for shell.exec")
	}
}

func TestRateLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})

	// Zero limit means unlimited.
	for range 500 {
		if err := rl.AllowMediation("anything"); err != nil {
			t.Fatalf("expected nil with no configured limit, got %v", err)
		}
	}
	if err := rl.AllowResolution("operator"); err != nil {
		t.Fatalf("expected nil with no configured limit, got %v", err)
	}
}

func TestRateLimiter_Resolutions(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{ResolutionsPerMin: 3})

	for range 3 {
		if err := rl.AllowResolution("alice"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := rl.AllowResolution("alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit for alice")
	}
	if err := rl.AllowResolution("bob"); err != nil {
		t.Fatalf("bob should have a separate budget, got %v", err)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{MediationsPerMin: 1000})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rl.AllowMediation("shell.exec")
		}()
	}
	wg.Wait()
}
