package discord

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const cooldownPruneInterval = time.Minute

// Cooldown limits how often each user can run commands. A nil Cooldown or a
// zero interval allows everything.
type Cooldown struct {
	mu        sync.Mutex
	interval  time.Duration
	burst     int
	limiters  map[string]*userLimiter
	lastPrune time.Time
	now       func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCooldown creates a limiter allowing burst commands, refilled one per
// interval.
func NewCooldown(interval time.Duration, burst int) *Cooldown {
	if burst < 1 {
		burst = 1
	}
	return &Cooldown{
		interval: interval,
		burst:    burst,
		limiters: make(map[string]*userLimiter),
		now:      time.Now,
	}
}

// Allow reports whether the user may run a command now.
func (c *Cooldown) Allow(userID string) bool {
	if c == nil || c.interval <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	l, ok := c.limiters[userID]
	if !ok {
		l = &userLimiter{limiter: rate.NewLimiter(rate.Every(c.interval), c.burst)}
		c.limiters[userID] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// pruneLocked forgets users whose bucket has refilled completely.
func (c *Cooldown) pruneLocked(now time.Time) {
	if now.Sub(c.lastPrune) < cooldownPruneInterval {
		return
	}
	c.lastPrune = now

	idle := c.interval * time.Duration(c.burst)
	for id, l := range c.limiters {
		if now.Sub(l.lastSeen) > idle {
			delete(c.limiters, id)
		}
	}
}

func (c *Cooldown) tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}
