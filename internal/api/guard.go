package api

import (
	"context"
	"sync"
	"time"
)

// guardCleanupInterval is how often expired blocks and stale failures are
// forgotten.
const guardCleanupInterval = 5 * time.Minute

// authGuard blocks client IPs after repeated failed key checks.
//
// A client is blocked for blockFor once it reaches maxFailures consecutive
// failures. A successful check clears its record. Failures older than
// blockFor no longer count.
type authGuard struct {
	mu          sync.Mutex
	attempts    map[string]*failedAttempts
	maxFailures int
	blockFor    time.Duration
	now         func() time.Time
}

type failedAttempts struct {
	count       int
	lastFailure time.Time
	blockedAt   time.Time
}

func (a *failedAttempts) stale(now time.Time, window time.Duration) bool {
	if !a.blockedAt.IsZero() {
		return now.Sub(a.blockedAt) >= window
	}
	return now.Sub(a.lastFailure) >= window
}

func newAuthGuard(maxFailures int, blockFor time.Duration) *authGuard {
	return &authGuard{
		attempts:    make(map[string]*failedAttempts),
		maxFailures: maxFailures,
		blockFor:    blockFor,
		now:         time.Now,
	}
}

// Allow reports whether ip may attempt authentication now. An expired block
// is lifted and the failure count reset.
func (g *authGuard) Allow(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[ip]
	if !ok {
		return true
	}
	if !a.blockedAt.IsZero() {
		if g.now().Sub(a.blockedAt) < g.blockFor {
			return false
		}
		delete(g.attempts, ip)
		return true
	}
	return a.count < g.maxFailures
}

// RecordFailure counts a failed check and reports whether ip is now blocked.
func (g *authGuard) RecordFailure(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	a, ok := g.attempts[ip]
	if !ok || (a.blockedAt.IsZero() && a.stale(now, g.blockFor)) {
		a = &failedAttempts{}
		g.attempts[ip] = a
	}
	a.count++
	a.lastFailure = now
	if a.count >= g.maxFailures && a.blockedAt.IsZero() {
		a.blockedAt = now
		return true
	}
	return false
}

// RecordSuccess clears ip's failures.
func (g *authGuard) RecordSuccess(ip string) {
	g.mu.Lock()
	delete(g.attempts, ip)
	g.mu.Unlock()
}

// Tracked returns the number of IPs with recorded failures.
func (g *authGuard) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.attempts)
}

// Run forgets expired blocks and stale failures periodically until ctx is cancelled.
func (g *authGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(guardCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.cleanup()
		}
	}
}

func (g *authGuard) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for ip, a := range g.attempts {
		if a.stale(now, g.blockFor) {
			delete(g.attempts, ip)
		}
	}
}
