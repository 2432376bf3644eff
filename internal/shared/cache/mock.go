// Package cache 缓存层内存实现
package cache

import (
	"context"
	"sort"
	"sync"
)

// ============================================================================
// MemoryCache - 进程内 Cache 实现（未配置 Redis 时与测试使用）
// ============================================================================

// MemoryCache 进程内缓存，不支持过期
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]RunStateEntry
}

// NewMemoryCache 创建 MemoryCache 实例
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]RunStateEntry)}
}

// Close 关闭缓存
func (c *MemoryCache) Close() error {
	return nil
}

func (c *MemoryCache) SetRunState(ctx context.Context, entry *RunStateEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.RunID] = *entry
	return nil
}

func (c *MemoryCache) GetRunState(ctx context.Context, runID string) (*RunStateEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[runID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *MemoryCache) DeleteRunState(ctx context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, runID)
	return nil
}

func (c *MemoryCache) ListActiveRuns(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if !e.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// 确保 MemoryCache 实现了 Cache 接口
var _ Cache = (*MemoryCache)(nil)
