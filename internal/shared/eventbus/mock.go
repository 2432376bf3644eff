// Package eventbus 事件总线内存实现
package eventbus

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// MemoryBus - 进程内 EventBus 实现（未配置 Redis 时与测试使用）
// ============================================================================

// MemoryBus 进程内事件总线，保留最近 MaxStreamLength 条事件
type MemoryBus struct {
	mu     sync.Mutex
	seq    uint64
	events []*RunStateEvent
	subs   map[chan *RunStateEvent]struct{}
	closed bool
}

// NewMemoryBus 创建 MemoryBus 实例
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[chan *RunStateEvent]struct{})}
}

// Close 关闭事件总线，所有订阅通道随之关闭
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
	return nil
}

// PublishRunState 发布事件
//
// 订阅者通道已满时丢弃该订阅者的这条事件。
func (b *MemoryBus) PublishRunState(ctx context.Context, event *RunStateEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("event bus closed")
	}

	b.seq++
	e := *event
	e.ID = strconv.FormatUint(b.seq, 10) + "-0"
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	event.ID = e.ID

	b.events = append(b.events, &e)
	if len(b.events) > MaxStreamLength {
		b.events = b.events[len(b.events)-MaxStreamLength:]
	}

	for ch := range b.subs {
		c := e
		select {
		case ch <- &c:
		default:
			log.Printf("[Memory/EventBus] Subscriber full, dropped event %s run=%s", e.ID, e.RunID)
		}
	}
	return nil
}

func (b *MemoryBus) GetRunStateEvents(ctx context.Context, fromID string, count int64) ([]*RunStateEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := parseSeq(fromID)
	var out []*RunStateEvent
	for _, e := range b.events {
		if parseSeq(e.ID) <= from {
			continue
		}
		c := *e
		out = append(out, &c)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (b *MemoryBus) SubscribeRunStates(ctx context.Context) (<-chan *RunStateEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus closed")
	}

	ch := make(chan *RunStateEvent, subscriberBuffer)
	b.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func parseSeq(id string) uint64 {
	if id == "" {
		return 0
	}
	n, _ := strconv.ParseUint(strings.SplitN(id, "-", 2)[0], 10, 64)
	return n
}

// 确保 MemoryBus 实现了 EventBus 接口
var _ EventBus = (*MemoryBus)(nil)
