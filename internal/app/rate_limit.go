package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

const paymentRateLimitScope = "payments"

// PaymentRateLimiter counts requests for a subject within a window.
type PaymentRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// LocalPaymentRateLimiter is the in-process limiter used when Redis is not
// configured. Each subject gets its own token bucket.
type LocalPaymentRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*localLimiter
	// maxSubjects caps the number of buckets held at once.
	maxSubjects int
	now         func() time.Time
}

type localLimiter struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

const localLimiterMaxSubjects = 10000

func NewLocalPaymentRateLimiter() *LocalPaymentRateLimiter {
	return &LocalPaymentRateLimiter{
		limiters:    make(map[string]*localLimiter),
		maxSubjects: localLimiterMaxSubjects,
		now:         time.Now,
	}
}

func (l *LocalPaymentRateLimiter) ConsumeRateLimit(
	_ context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (int, int, error) {
	if limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key := strings.TrimSpace(scope) + ":" + strings.TrimSpace(subject)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxSubjects {
			l.evict(now)
		}
		if len(l.limiters) >= l.maxSubjects {
			l.evictOldest()
		}
		entry = &localLimiter{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit), window: window}
		l.limiters[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		retryAfter := int(math.Ceil(delay.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return limit + 1, retryAfter, nil
	}
	used := limit - int(math.Floor(entry.limiter.TokensAt(now)))
	if used < 1 {
		used = 1
	}
	return used, 0, nil
}

// Prune drops buckets idle for longer than their window and returns how many
// were removed. A dropped bucket is indistinguishable from a full one.
func (l *LocalPaymentRateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evict(l.now())
}

func (l *LocalPaymentRateLimiter) evict(now time.Time) int {
	removed := 0
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > entry.window {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// evictOldest drops the least recently seen bucket. It is only reached when
// every bucket is still inside its window.
func (l *LocalPaymentRateLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range l.limiters {
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey, oldest = key, entry.lastSeen
		}
	}
	if oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
}

// PaymentGate admits payment requests per sender credential.
type PaymentGate struct {
	limiter PaymentRateLimiter
	limit   int
	window  time.Duration
}

// NewPaymentGate allows perMinute payment requests per subject.
func NewPaymentGate(limiter PaymentRateLimiter, perMinute int) *PaymentGate {
	return &PaymentGate{limiter: limiter, limit: perMinute, window: time.Minute}
}

// Admit returns a RateLimited PaymentError when subject has exhausted its
// budget. Limiter backend failures are logged and the request is admitted.
func (g *PaymentGate) Admit(ctx context.Context, subject string) error {
	if g == nil || g.limiter == nil || g.limit <= 0 || strings.TrimSpace(subject) == "" {
		return nil
	}
	count, retryAfter, err := g.limiter.ConsumeRateLimit(ctx, paymentRateLimitScope, subject, g.limit, g.window)
	if err != nil {
		log.Printf("level=warn component=rate_limit msg=\"payment rate limiter unavailable; admitting request\" err=%v", err)
		return nil
	}
	if count > g.limit {
		return domain.NewPaymentError(domain.KindRateLimited, fmt.Sprintf("too many payment requests; retry after %d seconds", retryAfter), nil)
	}
	return nil
}
