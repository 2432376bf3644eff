// Package cache 缓存层抽象接口
//
// 提供临时状态和缓存的存取能力，当前由 Redis 实现。
package cache

import (
	"context"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// RunStateCache run 状态缓存接口
//
// GetRunState 未命中时返回 (nil, nil)。
type RunStateCache interface {
	SetRunState(ctx context.Context, entry *RunStateEntry) error
	GetRunState(ctx context.Context, runID string) (*RunStateEntry, error)
	DeleteRunState(ctx context.Context, runID string) error
	// ListActiveRuns 返回未进入终止状态的 run ID
	ListActiveRuns(ctx context.Context) ([]string, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	RunStateCache
	Close() error
}
