package app

import (
	"context"
	"testing"
	"time"
)

type countingPruner struct {
	calls chan struct{}
}

func (p *countingPruner) Prune() int {
	p.calls <- struct{}{}
	return 1
}

func TestScheduler_RunsPruneJob(t *testing.T) {
	pruner := &countingPruner{calls: make(chan struct{}, 4)}
	scheduler := NewScheduler(pruner, "@every 1s")
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer scheduler.Stop()

	select {
	case <-pruner.calls:
	case <-time.After(3 * time.Second):
		t.Fatal("prune job never ran")
	}
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	scheduler := NewScheduler(&countingPruner{calls: make(chan struct{}, 1)}, "not a schedule")
	if err := scheduler.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestLocalPaymentRateLimiter_Prune(t *testing.T) {
	limiter := NewLocalPaymentRateLimiter()
	now := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return now }

	limiter.ConsumeRateLimit(context.Background(), "payments", "idle", 3, time.Minute)
	now = now.Add(50 * time.Second)
	limiter.ConsumeRateLimit(context.Background(), "payments", "active", 3, time.Minute)
	now = now.Add(20 * time.Second)

	if removed := limiter.Prune(); removed != 1 {
		t.Fatalf("expected one idle bucket pruned, got %d", removed)
	}
	if _, ok := limiter.limiters["payments:active"]; !ok {
		t.Fatal("active bucket must survive pruning")
	}
}
