package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.APIDelay != 200*time.Millisecond {
		t.Errorf("APIDelay = %v, want 200ms", cfg.APIDelay)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
}

func TestNewPacer_NilConfig(t *testing.T) {
	p := NewPacer(nil)

	if p.Delay() != 200*time.Millisecond {
		t.Errorf("Delay() = %v, want 200ms", p.Delay())
	}
}

func TestNewPacer_NonPositiveDelay(t *testing.T) {
	p := NewPacer(&Config{APIDelay: 0, BackoffMultiplier: 2, MaxDelay: time.Second})

	if p.Delay() != 200*time.Millisecond {
		t.Errorf("Delay() = %v, want default 200ms", p.Delay())
	}
}

func TestPacer_FirstWaitIsImmediate(t *testing.T) {
	p := NewPacer(&Config{APIDelay: 10 * time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second})

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first Wait() took %v, want < 100ms", elapsed)
	}
}

func TestPacer_WaitCancelled(t *testing.T) {
	p := NewPacer(&Config{APIDelay: time.Second, BackoffMultiplier: 2, MaxDelay: 30 * time.Second})
	_ = p.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx); err == nil {
		t.Error("Wait() with cancelled context should return error")
	}
}

func TestPacer_ThrottledBacksOff(t *testing.T) {
	p := NewPacer(&Config{APIDelay: 100 * time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second})

	d1 := p.Throttled()
	d2 := p.Throttled()
	d3 := p.Throttled()

	if d1 != 200*time.Millisecond {
		t.Errorf("first backoff = %v, want 200ms", d1)
	}
	if d2 <= d1 || d3 <= d2 {
		t.Errorf("backoff not increasing: %v, %v, %v", d1, d2, d3)
	}
}

func TestPacer_ThrottledCapsAtMaxDelay(t *testing.T) {
	p := NewPacer(&Config{APIDelay: 100 * time.Millisecond, BackoffMultiplier: 10, MaxDelay: 500 * time.Millisecond})

	for i := 0; i < 5; i++ {
		p.Throttled()
	}

	if p.Delay() != 500*time.Millisecond {
		t.Errorf("Delay() = %v, want capped 500ms", p.Delay())
	}
}

func TestPacer_SuccessRestoresPace(t *testing.T) {
	p := NewPacer(&Config{APIDelay: 100 * time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second})

	p.Throttled()
	p.Throttled()
	p.Success()

	if p.Delay() != 100*time.Millisecond {
		t.Errorf("Delay() after Success = %v, want 100ms", p.Delay())
	}

	// Backoff starts over after recovery.
	if d := p.Throttled(); d != 200*time.Millisecond {
		t.Errorf("backoff after recovery = %v, want 200ms", d)
	}
}
