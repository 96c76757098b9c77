// Package admission provides per-user admission control for mutating
// operations. It is a fixed-window token counter: each user may consume a
// configured number of tokens per window; further requests are denied with
// the remaining quota and reset time until the window rolls over.
package admission

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a Protect call. When denied, RateLimited
// distinguishes quota exhaustion (retry after ResetIn) from an outright
// block.
type Decision struct {
	Allowed     bool
	RateLimited bool
	Remaining   int
	ResetIn     time.Duration
}

type Controller struct {
	mu     sync.Mutex
	users  map[string]*userQuota
	quota  int
	window time.Duration

	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	// blocked users are denied without consuming quota
	blocked map[string]struct{}
}

type userQuota struct {
	windowStart time.Time
	used        int
}

// Config holds admission controller configuration. Blocklist entries are
// owner ids denied outright, without consuming quota.
type Config struct {
	TokensPerWindow int
	Window          time.Duration
	CleanupInterval time.Duration
	Blocklist       []string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TokensPerWindow: 30,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

func NewController(config Config) *Controller {
	if config.TokensPerWindow <= 0 {
		config = DefaultConfig()
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	c := &Controller{
		users:       make(map[string]*userQuota),
		quota:       config.TokensPerWindow,
		window:      config.Window,
		blocked:     make(map[string]struct{}),
		stopCleanup: make(chan struct{}),
	}
	for _, ownerID := range config.Blocklist {
		c.Block(ownerID)
	}
	go c.startCleanup(config.CleanupInterval)
	return c
}

// Protect consumes requested tokens for ownerID and returns the decision.
func (c *Controller) Protect(_ context.Context, ownerID string, requested int) Decision {
	if requested <= 0 {
		requested = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, isBlocked := c.blocked[ownerID]; isBlocked {
		return Decision{Allowed: false, RateLimited: false}
	}

	now := time.Now()
	q, exists := c.users[ownerID]
	if !exists || now.Sub(q.windowStart) >= c.window {
		q = &userQuota{windowStart: now}
		c.users[ownerID] = q
	}

	if q.used+requested > c.quota {
		resetIn := c.window - now.Sub(q.windowStart)
		return Decision{
			Allowed:     false,
			RateLimited: true,
			Remaining:   c.quota - q.used,
			ResetIn:     resetIn,
		}
	}

	q.used += requested
	return Decision{Allowed: true, Remaining: c.quota - q.used}
}

// Block denies every future request from ownerID.
func (c *Controller) Block(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked[ownerID] = struct{}{}
}

func (c *Controller) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupStaleEntries()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes quota entries whose window expired long ago
func (c *Controller) cleanupStaleEntries() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-2 * c.window)
	for id, q := range c.users {
		if q.windowStart.Before(cutoff) {
			delete(c.users, id)
		}
	}
}

// Stop gracefully shuts down the cleanup goroutine
func (c *Controller) Stop() {
	c.shutdownOnce.Do(func() {
		close(c.stopCleanup)
	})
}
