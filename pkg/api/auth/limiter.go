package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Per-client rate limiter pool.
type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	rps   float64
	burst int

	mu            sync.Mutex
	m             map[string]*limiterEntry
	ttl           time.Duration
	cleanupPeriod time.Duration
	// stopCh is set while the cleanup goroutine runs; stopped is final.
	stopCh  chan struct{}
	stopped bool
}

// get limiter for key, create if missing; start cleanup once unless the
// pool was already shut down
func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh == nil && !p.stopped {
		if p.ttl == 0 {
			p.ttl = 10 * time.Minute
		}
		if p.cleanupPeriod == 0 {
			p.cleanupPeriod = time.Minute
		}
		p.stopCh = make(chan struct{})
		go p.cleanupLoop(p.stopCh, p.cleanupPeriod, p.ttl)
	}
	if p.m == nil {
		p.m = make(map[string]*limiterEntry)
	}
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.l
	}
	burst := p.burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(p.rps), burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: time.Now()}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Shutdown stops the cleanup goroutine. Limiters keep working afterwards
// but idle ones are no longer evicted.
func (p *limiterPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.stopCh != nil {
		close(p.stopCh)
	}
}

// cleanupLoop removes limiters unused > TTL.
func (p *limiterPool) cleanupLoop(stop <-chan struct{}, period, ttl time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle(time.Now().Add(-ttl))
		case <-stop:
			return
		}
	}
}

func (p *limiterPool) evictIdle(cutoff time.Time) {
	p.mu.Lock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
	p.mu.Unlock()
}
