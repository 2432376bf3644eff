// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Storage：持久化存储（SQLite / PostgreSQL / MongoDB）
//   - Cache：run 状态缓存（Redis）
//   - EventBus：run 事件总线（Redis Streams）
package infra

import (
	"labflow-admin/internal/shared/cache"
	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/storage"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储
	Storage storage.PersistentStore

	// Cache run 状态缓存
	Cache cache.Cache

	// EventBus run 事件总线
	EventBus eventbus.EventBus
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			lastErr = err
		}
	}

	if i.EventBus != nil {
		if err := i.EventBus.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// NewMemoryInfrastructure 创建进程内基础设施（用于测试与单机演示）
func NewMemoryInfrastructure() *Infrastructure {
	return &Infrastructure{
		Storage:  storage.NewMemoryStore(),
		Cache:    cache.NewMemoryCache(),
		EventBus: eventbus.NewMemoryBus(),
	}
}
