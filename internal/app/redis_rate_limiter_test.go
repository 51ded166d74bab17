package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

type fakeWindow struct {
	count     int64
	expiresAt time.Time
}

// fakeScripter evaluates the payment window script in memory. It reproduces
// the script's semantics rather than interpreting Lua.
type fakeScripter struct {
	mu      sync.Mutex
	now     time.Time
	windows map[string]*fakeWindow
	keys    []string
	err     error
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{now: time.Unix(1700000000, 0), windows: map[string]*fakeWindow{}}
}

func (f *fakeScripter) run(keys []string, args []any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	if len(keys) != 1 || len(args) != 2 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script call keys=%v args=%v", keys, args))
	}
	windowMs, _ := args[0].(int64)
	limit, _ := args[1].(int)
	key := keys[0]
	f.keys = append(f.keys, key)

	w, ok := f.windows[key]
	if !ok || !f.now.Before(w.expiresAt) {
		w = &fakeWindow{}
		f.windows[key] = w
	}
	if w.count <= int64(limit) {
		w.count++
	}
	if w.count == 1 {
		w.expiresAt = f.now.Add(time.Duration(windowMs) * time.Millisecond)
	}
	return redis.NewCmdResult([]any{w.count, w.expiresAt.Sub(f.now).Milliseconds()}, nil)
}

func (f *fakeScripter) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(keys, args)
}

func (f *fakeScripter) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(keys, args)
}

func (f *fakeScripter) EvalRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(keys, args)
}

func (f *fakeScripter) EvalShaRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(keys, args)
}

func (f *fakeScripter) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeScripter) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRedisPaymentRateLimiter_UnderThenOverLimit(t *testing.T) {
	scripter := newFakeScripter()
	limiter := NewRedisPaymentRateLimiter(scripter, "")

	for i := 1; i <= 3; i++ {
		count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "payments", "user:buyer-1", 3, time.Minute)
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
		if count != i || retryAfter != 0 {
			t.Fatalf("request %d: expected count=%d retryAfter=0, got %d/%d", i, i, count, retryAfter)
		}
	}

	scripter.now = scripter.now.Add(15 * time.Second)
	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "payments", "user:buyer-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if count != 4 || retryAfter != 45 {
		t.Fatalf("expected count=4 retryAfter=45, got %d/%d", count, retryAfter)
	}

	// Further hits do not extend the lockout.
	count, _, _ = limiter.ConsumeRateLimit(context.Background(), "payments", "user:buyer-1", 3, time.Minute)
	if count != 4 {
		t.Fatalf("expected count to stay at 4 once over the limit, got %d", count)
	}

	scripter.now = scripter.now.Add(46 * time.Second)
	count, retryAfter, _ = limiter.ConsumeRateLimit(context.Background(), "payments", "user:buyer-1", 3, time.Minute)
	if count != 1 || retryAfter != 0 {
		t.Fatalf("expected a new window after expiry, got %d/%d", count, retryAfter)
	}
}

func TestRedisPaymentRateLimiter_DigestsSubjectInKey(t *testing.T) {
	scripter := newFakeScripter()
	limiter := NewRedisPaymentRateLimiter(scripter, "wishlist:limits:")

	if _, _, err := limiter.ConsumeRateLimit(context.Background(), "payments", "user:buyer-1", 3, time.Minute); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, _, err := limiter.ConsumeRateLimit(context.Background(), "payments", "user:buyer-2", 3, time.Minute); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	if len(scripter.keys) != 2 || scripter.keys[0] == scripter.keys[1] {
		t.Fatalf("expected two distinct keys, got %v", scripter.keys)
	}
	for _, key := range scripter.keys {
		if !strings.HasPrefix(key, "wishlist:limits:payments:") {
			t.Fatalf("unexpected key prefix %q", key)
		}
		if strings.Contains(key, "buyer") {
			t.Fatalf("raw subject leaked into key %q", key)
		}
		if digest := strings.TrimPrefix(key, "wishlist:limits:payments:"); len(digest) != 32 {
			t.Fatalf("expected a 32-char hex digest, got %q", digest)
		}
	}
}

func TestRedisPaymentRateLimiter_SkipsEmptySubject(t *testing.T) {
	scripter := newFakeScripter()
	limiter := NewRedisPaymentRateLimiter(scripter, "")

	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "payments", "  ", 3, time.Minute)
	if err != nil || count != 0 || retryAfter != 0 {
		t.Fatalf("expected a no-op for an empty subject, got %d/%d/%v", count, retryAfter, err)
	}
	if len(scripter.keys) != 0 {
		t.Fatalf("expected no script calls, got %v", scripter.keys)
	}
}

func TestPaymentGate_WithRedisLimiter(t *testing.T) {
	scripter := newFakeScripter()
	gate := NewPaymentGate(NewRedisPaymentRateLimiter(scripter, ""), 2)

	for i := 0; i < 2; i++ {
		if err := gate.Admit(context.Background(), "user:buyer"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	err := gate.Admit(context.Background(), "user:buyer")
	if domain.KindOf(err) != domain.KindRateLimited {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if !strings.Contains(err.Error(), "retry after 60 seconds") {
		t.Fatalf("expected retry-after from the window ttl, got %v", err)
	}

	scripter.err = errors.New("connection refused")
	if err := gate.Admit(context.Background(), "user:buyer"); err != nil {
		t.Fatalf("expected admission while redis is down, got %v", err)
	}
}
