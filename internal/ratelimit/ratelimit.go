// Package ratelimit provides per-user request throttling.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 5 * time.Minute
	staleAfter      = 30 * time.Minute
)

// PerUser hands out one token-bucket limiter per user ID. Limiters for
// idle users are dropped after staleAfter so the map cannot grow
// without bound.
type PerUser struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewPerUser creates a limiter pool allowing perMinute requests per
// user. The bucket starts full, so a new user gets a burst of up to
// perMinute requests before the sustained rate applies.
func NewPerUser(perMinute int) *PerUser {
	if perMinute <= 0 {
		perMinute = 20
	}
	p := &PerUser{
		limit:      rate.Limit(float64(perMinute) / 60.0),
		burst:      perMinute,
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
	go p.cleanupLoop()
	return p
}

// Allow reports whether the user may make a request now. It never
// blocks; a denied request is counted against nothing and the caller
// should tell the user to retry later.
func (p *PerUser) Allow(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	lim, ok := p.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(p.limit, p.burst)
		p.limiters[userID] = lim
	}
	p.lastAccess[userID] = time.Now()
	return lim.Allow()
}

// Close stops the background cleanup goroutine.
func (p *PerUser) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *PerUser) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictStale()
		case <-p.stop:
			return
		}
	}
}

func (p *PerUser) evictStale() {
	cutoff := time.Now().Add(-staleAfter)

	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, last := range p.lastAccess {
		if last.Before(cutoff) {
			delete(p.lastAccess, userID)
			delete(p.limiters, userID)
		}
	}
}
