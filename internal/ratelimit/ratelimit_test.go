package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	p := NewPerUser(20)
	defer p.Close()

	for i := 0; i < 20; i++ {
		if !p.Allow("alice") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if p.Allow("alice") {
		t.Error("request 21 should be denied")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	p := NewPerUser(5)
	defer p.Close()

	for i := 0; i < 5; i++ {
		p.Allow("alice")
	}
	if p.Allow("alice") {
		t.Fatal("alice should be exhausted")
	}
	if !p.Allow("bob") {
		t.Error("bob should have a fresh bucket")
	}
}

func TestEvictStale(t *testing.T) {
	p := NewPerUser(5)
	defer p.Close()

	p.Allow("alice")
	p.mu.Lock()
	p.lastAccess["alice"] = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	p.evictStale()

	p.mu.Lock()
	_, ok := p.limiters["alice"]
	p.mu.Unlock()
	if ok {
		t.Error("stale limiter should be evicted")
	}
}

func TestZeroRateFallsBackToDefault(t *testing.T) {
	p := NewPerUser(0)
	defer p.Close()

	if !p.Allow("alice") {
		t.Error("default rate should allow the first request")
	}
}
