package telegram

import (
	"sync"
	"time"
)

type ownerRouteEntry struct {
	ownerID int64
	found   bool
	expires time.Time
}

// ownerRouteCache 索引频道到所属用户的短期缓存，未找到的结果同样缓存
type ownerRouteCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	values map[int64]ownerRouteEntry
	now    func() time.Time
}

func newOwnerRouteCache(ttl time.Duration) *ownerRouteCache {
	if ttl <= 0 {
		return nil
	}
	return &ownerRouteCache{
		ttl:    ttl,
		values: make(map[int64]ownerRouteEntry),
		now:    time.Now,
	}
}

// Get 返回 (ownerID, found, cached)
func (c *ownerRouteCache) Get(chatID int64) (int64, bool, bool) {
	if c == nil {
		return 0, false, false
	}

	c.mu.RLock()
	entry, ok := c.values[chatID]
	c.mu.RUnlock()

	if !ok {
		return 0, false, false
	}

	if c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.values, chatID)
		c.mu.Unlock()
		return 0, false, false
	}

	return entry.ownerID, entry.found, true
}

func (c *ownerRouteCache) Set(chatID, ownerID int64, found bool) {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.values[chatID] = ownerRouteEntry{
		ownerID: ownerID,
		found:   found,
		expires: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}
