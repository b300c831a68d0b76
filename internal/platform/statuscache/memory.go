package statuscache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the single-process fallback used when Redis is not
// configured. Expired records are evicted lazily on lookup.
type MemoryCache struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryCache constructs an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

// Get returns the entry when present and not expired.
func (c *MemoryCache) Get(_ context.Context, orderID, paymentID string) (Entry, bool, error) {
	key := Key(orderID, paymentID)

	c.mu.RLock()
	record, ok := c.records[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if c.now().After(record.expiresAt) {
		c.mu.Lock()
		if current, stillThere := c.records[key]; stillThere && c.now().After(current.expiresAt) {
			delete(c.records, key)
		}
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	return record.entry, true, nil
}

// Set stores the entry until now+ttl.
func (c *MemoryCache) Set(_ context.Context, orderID, paymentID string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.records[Key(orderID, paymentID)] = memoryRecord{
		entry:     entry,
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}
