package store

import (
	"sync"
	"time"

	"app-swap-go/internal/pkg/flows"
)

// CachedProfile is a customer profile with a TTL.
type CachedProfile struct {
	Profile   *flows.CustomerProfile
	Timestamp time.Time
	TTL       time.Duration
}

// IsExpired checks whether the cached profile has expired.
func (c *CachedProfile) IsExpired() bool {
	return time.Since(c.Timestamp) > c.TTL
}

// ProfileCache provides thread-safe caching of identified customer
// profiles keyed by plan id, so rescanning the same plan inside the TTL
// does not re-run the identification flow.
type ProfileCache struct {
	data       map[string]*CachedProfile
	mu         sync.RWMutex
	defaultTTL time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewProfileCache creates a cache with the given default TTL.
func NewProfileCache(defaultTTL time.Duration) *ProfileCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &ProfileCache{
		data:       make(map[string]*CachedProfile),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}
}

// Set stores a profile under its plan id.
func (c *ProfileCache) Set(planID string, profile *flows.CustomerProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[planID] = &CachedProfile{
		Profile:   profile,
		Timestamp: time.Now(),
		TTL:       c.defaultTTL,
	}
}

// Get retrieves a non-expired profile. Expired entries are removed.
func (c *ProfileCache) Get(planID string) (*flows.CustomerProfile, bool) {
	c.mu.RLock()
	entry, ok := c.data[planID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.IsExpired() {
		c.mu.Lock()
		delete(c.data, planID)
		c.mu.Unlock()
		return nil, false
	}
	return entry.Profile, true
}

// Invalidate drops the entry for a plan, typically after a settled swap
// changed the assigned battery.
func (c *ProfileCache) Invalidate(planID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, planID)
}

// StartCleanup launches periodic eviction of expired entries.
func (c *ProfileCache) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the cleanup goroutine.
func (c *ProfileCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *ProfileCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.data {
		if v.IsExpired() {
			delete(c.data, k)
		}
	}
}

// Len reports the number of cached profiles, expired or not.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
