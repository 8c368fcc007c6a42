package server

import (
	"sync"
	"time"
)

// LoginGuard tracks consecutive failed password attempts per account and the
// cooldown that kicks in once the cap is reached. The lockout is a fixed
// cooldown timer, not a ban: it expires on its own after the window and an
// account can cycle through any number of lockouts.
type LoginGuard struct {
	mu        sync.Mutex
	cap       int
	window    time.Duration
	failed    map[string]int
	blockedAt map[string]time.Time
	now       func() time.Time
}

// NewLoginGuard returns a guard locking an account after cap consecutive
// failures, for the given window.
func NewLoginGuard(cap int, window time.Duration) *LoginGuard {
	return &LoginGuard{
		cap:       cap,
		window:    window,
		failed:    make(map[string]int),
		blockedAt: make(map[string]time.Time),
		now:       time.Now,
	}
}

// IsBlocked reports whether the account is inside an active cooldown.
func (g *LoginGuard) IsBlocked(username string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	blockedAt, ok := g.blockedAt[username]
	if !ok {
		return false
	}
	return g.now().Sub(blockedAt) < g.window
}

// RecordFailure counts one failed attempt. When the cap is reached the
// counter resets, the cooldown starts, and blocked is true.
func (g *LoginGuard) RecordFailure(username string) (blocked bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failed[username]++
	if g.failed[username] >= g.cap {
		g.failed[username] = 0
		g.blockedAt[username] = g.now()
		return true
	}
	return false
}

// RecordSuccess resets the account's failure counter.
func (g *LoginGuard) RecordSuccess(username string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failed[username] = 0
}

// PruneExpired drops cooldown entries whose window has passed. Purely a
// memory bound; IsBlocked already treats expired entries as unblocked.
func (g *LoginGuard) PruneExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	now := g.now()
	for username, blockedAt := range g.blockedAt {
		if now.Sub(blockedAt) >= g.window {
			delete(g.blockedAt, username)
			removed++
		}
	}
	return removed
}
