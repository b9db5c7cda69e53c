package guardx

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryGuard keeps per-(action, key) token buckets in process. Buckets
// refill at Requests/Span and allow the full budget as a burst, which
// behaves like a sliding window for the attack patterns that matter
// (rapid bursts of guesses).
type MemoryGuard struct {
	def     Window
	actions map[string]Window

	limiters    sync.Map // map[string]*bucket
	mu          sync.Mutex
	lastCleanup time.Time
}

type bucket struct {
	limiter *rate.Limiter
	burst   int
}

// NewMemoryGuard builds a guard with a default window plus per-action
// overrides (typically SensitiveActions()).
func NewMemoryGuard(def Window, actions map[string]Window) *MemoryGuard {
	return &MemoryGuard{
		def:         def,
		actions:     actions,
		lastCleanup: time.Now(),
	}
}

// CheckAndRecord consumes one attempt from the (action, key) bucket.
func (g *MemoryGuard) CheckAndRecord(_ context.Context, action, key string) (Decision, error) {
	w := g.window(action)
	b := g.bucket(action+":"+key, w)

	if b.limiter.Allow() {
		return Decision{Allowed: true}, nil
	}

	// Peek at when the next token becomes available without consuming it.
	reservation := b.limiter.Reserve()
	retryAfter := reservation.Delay()
	reservation.Cancel()

	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

func (g *MemoryGuard) window(action string) Window {
	if w, ok := g.actions[action]; ok {
		return w
	}
	return g.def
}

func (g *MemoryGuard) bucket(key string, w Window) *bucket {
	if existing, ok := g.limiters.Load(key); ok {
		return existing.(*bucket)
	}

	perSecond := float64(w.Requests) / w.Span.Seconds()
	fresh := &bucket{
		limiter: rate.NewLimiter(rate.Limit(perSecond), w.Requests),
		burst:   w.Requests,
	}
	actual, _ := g.limiters.LoadOrStore(key, fresh)

	g.maybeCleanup()

	return actual.(*bucket)
}

// maybeCleanup drops buckets that have fully refilled, which means nobody
// has touched them for at least a full window. Keeps the map from growing
// without bound on churny identity keys.
func (g *MemoryGuard) maybeCleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.lastCleanup) < 5*time.Minute {
		return
	}
	g.lastCleanup = time.Now()

	g.limiters.Range(func(key, value any) bool {
		b := value.(*bucket)
		if b.limiter.Tokens() >= float64(b.burst) {
			g.limiters.Delete(key)
		}
		return true
	})
}
