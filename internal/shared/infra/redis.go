// Package infra Redis 基础设施初始化
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"labflow-admin/internal/shared/cache"
	cacheredis "labflow-admin/internal/shared/cache/redis"
	"labflow-admin/internal/shared/eventbus"
	eventbusredis "labflow-admin/internal/shared/eventbus/redis"
)

// RedisInfra Redis 基础设施
//
// Cache 与 EventBus 共享同一个连接，关闭由 RedisInfra 统一负责。
type RedisInfra struct {
	cacheStore    *cacheredis.Store
	eventBusStore *eventbusredis.Store

	client *redis.Client
}

// NewRedisInfra 从 URL 创建 Redis 基础设施
func NewRedisInfra(redisURL string, runStateTTL time.Duration) (*RedisInfra, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", opts.Addr)

	return &RedisInfra{
		client:        client,
		cacheStore:    cacheredis.NewStoreFromClient(client, cacheredis.WithTTL(runStateTTL)),
		eventBusStore: eventbusredis.NewStoreFromClient(client),
	}, nil
}

// Cache 返回缓存组件接口
//
// 返回值的 Close 为空操作，连接由 RedisInfra.Close 关闭。
func (r *RedisInfra) Cache() cache.Cache {
	return sharedCache{r.cacheStore}
}

// EventBus 返回事件总线组件接口
func (r *RedisInfra) EventBus() eventbus.EventBus {
	return sharedEventBus{r.eventBusStore}
}

// Client 返回底层 Redis 客户端
func (r *RedisInfra) Client() *redis.Client {
	return r.client
}

// Close 关闭 Redis 连接
func (r *RedisInfra) Close() error {
	return r.client.Close()
}

type sharedCache struct{ *cacheredis.Store }

func (sharedCache) Close() error { return nil }

type sharedEventBus struct{ *eventbusredis.Store }

func (sharedEventBus) Close() error { return nil }
