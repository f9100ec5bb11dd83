package web

import (
	"sync"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/bot"
)

// statusCache 状态缓存（引擎状态变更时清除）
type statusCache struct {
	mu        sync.RWMutex
	data      *bot.Status
	timestamp time.Time
	ttl       time.Duration
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{ttl: ttl}
}

// get 获取缓存数据
func (c *statusCache) get() (bot.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data != nil && time.Since(c.timestamp) < c.ttl {
		return *c.data, true
	}
	return bot.Status{}, false
}

// set 设置缓存数据
func (c *statusCache) set(data bot.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = &data
	c.timestamp = time.Now()
}

// clear 清除缓存
func (c *statusCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = nil
	c.timestamp = time.Time{}
}
