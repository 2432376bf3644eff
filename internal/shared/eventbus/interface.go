// Package eventbus 事件总线抽象接口
//
// 提供事件的发布/订阅能力，当前由 Redis Streams 实现。
package eventbus

import (
	"context"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// RunStateBus run 事件总线接口
type RunStateBus interface {
	PublishRunState(ctx context.Context, event *RunStateEvent) error
	// GetRunStateEvents 返回 fromID（不含）之后的事件，fromID 为空时从头读取
	GetRunStateEvents(ctx context.Context, fromID string, count int64) ([]*RunStateEvent, error)
	// SubscribeRunStates 订阅新事件，ctx 取消后通道关闭
	SubscribeRunStates(ctx context.Context) (<-chan *RunStateEvent, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// EventBus 事件总线组合接口
type EventBus interface {
	RunStateBus
	Close() error
}
